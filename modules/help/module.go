package help

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"ex-snipe/pkg/otogi"
)

const (
	helpCommandName = "help"
	serviceLogger   = "logger"
)

// Module answers /help with the kernel command catalog, grouped by the
// module that owns each command. `/help <command>` narrows the reply to one
// command.
type Module struct {
	logger         *slog.Logger
	dispatcher     otogi.SinkDispatcher
	commandCatalog otogi.CommandCatalog
}

func New() *Module {
	return &Module{logger: slog.Default()}
}

func (m *Module) Name() string {
	return "help"
}

func (m *Module) Spec() otogi.ModuleSpec {
	return otogi.ModuleSpec{
		Handlers: []otogi.ModuleHandler{
			{
				Capability: otogi.Capability{
					Name:        "help-command-handler",
					Description: "renders the command catalog for /help",
					Interest: otogi.InterestSet{
						Kinds:          []otogi.EventKind{otogi.EventKindCommandReceived},
						RequireCommand: true,
						CommandNames:   []string{helpCommandName},
						RequireArticle: true,
					},
					RequiredServices: []string{
						otogi.ServiceSinkDispatcher,
						otogi.ServiceCommandCatalog,
					},
				},
				Subscription: otogi.NewDefaultSubscriptionSpec("help-commands"),
				Handler:      m.handleCommand,
			},
		},
		Commands: []otogi.CommandSpec{
			{
				Prefix:      otogi.CommandPrefixOrdinary,
				Name:        helpCommandName,
				Description: "list commands, or describe one",
				Usage:       "[command]",
				MaxArgs:     1,
			},
		},
	}
}

func (m *Module) OnRegister(_ context.Context, runtime otogi.ModuleRuntime) error {
	services := runtime.Services()

	logger, found, err := otogi.ResolveOptional[*slog.Logger](services, serviceLogger)
	if err != nil {
		return fmt.Errorf("help resolve logger: %w", err)
	}
	if found {
		m.logger = logger
	}

	m.dispatcher, err = otogi.ResolveAs[otogi.SinkDispatcher](services, otogi.ServiceSinkDispatcher)
	if err != nil {
		return fmt.Errorf("help resolve outbound dispatcher: %w", err)
	}
	m.commandCatalog, err = otogi.ResolveAs[otogi.CommandCatalog](services, otogi.ServiceCommandCatalog)
	if err != nil {
		return fmt.Errorf("help resolve command catalog: %w", err)
	}

	return nil
}

func (m *Module) OnStart(context.Context) error {
	return nil
}

func (m *Module) OnShutdown(context.Context) error {
	return nil
}

func (m *Module) handleCommand(ctx context.Context, event *otogi.Event) error {
	if event == nil || event.Kind != otogi.EventKindCommandReceived {
		return nil
	}
	if event.Command == nil || event.Article == nil || event.Command.Name != helpCommandName {
		return nil
	}
	if m.dispatcher == nil || m.commandCatalog == nil {
		return fmt.Errorf("help handle command: module not registered")
	}

	commands, err := m.commandCatalog.ListCommands(ctx)
	if err != nil {
		return fmt.Errorf("help list commands: %w", err)
	}

	var body string
	if query := strings.TrimSpace(event.Command.Value); query != "" {
		body = renderCommand(commands, query)
	} else {
		body = renderCatalog(commands)
	}

	target, err := otogi.OutboundTargetFromEvent(event)
	if err != nil {
		return fmt.Errorf("help derive outbound target: %w", err)
	}
	if _, err := m.dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             body,
		ReplyToMessageID: event.Article.ID,
	}); err != nil {
		return fmt.Errorf("help send reply: %w", err)
	}
	m.logger.DebugContext(ctx, "help sent", "conversation", event.Conversation.ID, "query", event.Command.Value)

	return nil
}

// renderCatalog lists commands under their module, modules and commands
// each in label order.
func renderCatalog(commands []otogi.RegisteredCommand) string {
	if len(commands) == 0 {
		return "No commands are registered."
	}

	sorted := slices.Clone(commands)
	slices.SortFunc(sorted, func(left, right otogi.RegisteredCommand) int {
		return cmp.Or(
			strings.Compare(moduleLabel(left), moduleLabel(right)),
			strings.Compare(left.Command.Label(), right.Command.Label()),
		)
	})

	var builder strings.Builder
	builder.WriteString("Available commands:")
	current := ""
	for _, command := range sorted {
		if module := moduleLabel(command); module != current {
			current = module
			fmt.Fprintf(&builder, "\n\n%s", module)
		}
		fmt.Fprintf(&builder, "\n  %s", command.Command.Synopsis())
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			fmt.Fprintf(&builder, ": %s", description)
		}
	}

	return builder.String()
}

// renderCommand describes every command whose label or bare name equals
// query. The same name may exist under both prefixes.
func renderCommand(commands []otogi.RegisteredCommand, query string) string {
	query = strings.ToLower(query)

	var blocks []string
	for _, command := range commands {
		label := command.Command.Label()
		if query != label && query != strings.TrimPrefix(label, string(command.Command.Prefix)) {
			continue
		}

		lines := []string{label, "usage: " + command.Command.Synopsis()}
		if description := strings.TrimSpace(command.Command.Description); description != "" {
			lines = append(lines, description)
		}
		lines = append(lines, fmt.Sprintf("(%s)", moduleLabel(command)))
		blocks = append(blocks, strings.Join(lines, "\n"))
	}
	if len(blocks) == 0 {
		return fmt.Sprintf("No command named %q. Send /help for the full list.", query)
	}
	slices.Sort(blocks)

	return strings.Join(blocks, "\n\n")
}

func moduleLabel(command otogi.RegisteredCommand) string {
	return cmp.Or(strings.TrimSpace(command.ModuleName), "unknown")
}

var (
	_ otogi.Module          = (*Module)(nil)
	_ otogi.ModuleRegistrar = (*Module)(nil)
)
