package kernel

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"

	"ex-snipe/pkg/otogi"
)

// commandCatalog publishes the command table through the service registry.
type commandCatalog struct {
	commands *commandTable
}

// ListCommands returns every claimed command ordered by label then module.
func (c *commandCatalog) ListCommands(ctx context.Context) ([]otogi.RegisteredCommand, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("list commands: %w", err)
	}
	if c == nil || c.commands == nil {
		return nil, fmt.Errorf("list commands: nil catalog")
	}

	commands := c.commands.list()
	slices.SortFunc(commands, func(left, right otogi.RegisteredCommand) int {
		return cmp.Or(
			strings.Compare(left.Command.Label(), right.Command.Label()),
			strings.Compare(left.ModuleName, right.ModuleName),
		)
	})

	return commands, nil
}

func (t *commandTable) list() []otogi.RegisteredCommand {
	t.mu.RLock()
	defer t.mu.RUnlock()

	commands := make([]otogi.RegisteredCommand, 0, len(t.entries))
	for _, registration := range t.entries {
		commands = append(commands, otogi.RegisteredCommand{
			ModuleName: registration.moduleName,
			Command:    registration.spec,
		})
	}

	return commands
}

var _ otogi.CommandCatalog = (*commandCatalog)(nil)
