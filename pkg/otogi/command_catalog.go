package otogi

import "context"

// ServiceCommandCatalog is the service registry key for command discovery.
const ServiceCommandCatalog = "otogi.command_catalog"

// RegisteredCommand is one claimed command and the module that owns it.
type RegisteredCommand struct {
	ModuleName string
	Command    CommandSpec
}

// CommandCatalog lists the commands claimed by registered modules.
//
// Implementations must be safe for concurrent use and return copies.
type CommandCatalog interface {
	ListCommands(ctx context.Context) ([]RegisteredCommand, error)
}
