package kernel

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"ex-snipe/pkg/otogi"
)

type commandRegistration struct {
	moduleName string
	spec       otogi.CommandSpec
}

// commandTable maps prefix+name to the module that owns the command.
type commandTable struct {
	mu      sync.RWMutex
	entries map[string]commandRegistration
}

func newCommandTable() *commandTable {
	return &commandTable{entries: make(map[string]commandRegistration)}
}

// claim registers every command of one module or none of them.
func (t *commandTable) claim(moduleName string, commands []otogi.CommandSpec) error {
	if len(commands) == 0 {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for _, command := range commands {
		key := command.Label()
		if existing, exists := t.entries[key]; exists {
			return fmt.Errorf("register command %s: already registered by module %s", key, existing.moduleName)
		}
	}
	for _, command := range commands {
		command.Name = strings.TrimPrefix(command.Label(), string(command.Prefix))
		t.entries[command.Label()] = commandRegistration{
			moduleName: moduleName,
			spec:       command,
		}
	}

	return nil
}

func (t *commandTable) release(moduleName string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for key, registration := range t.entries {
		if registration.moduleName == moduleName {
			delete(t.entries, key)
		}
	}
}

func (t *commandTable) lookup(prefix otogi.CommandPrefix, name string) (otogi.CommandSpec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	registration, exists := t.entries[otogi.CommandSpec{Prefix: prefix, Name: name}.Label()]

	return registration.spec, exists
}

func (k *Kernel) newDriverDispatcher() otogi.EventDispatcher {
	return &commandDerivingDispatcher{
		base:     k.bus,
		commands: k.commands,
		services: k.services,
		report:   k.cfg.bus.onAsyncError,
	}
}

// commandDerivingDispatcher publishes driver events and, for articles that
// invoke a registered command, a derived command event right after.
type commandDerivingDispatcher struct {
	base     otogi.EventDispatcher
	commands *commandTable
	services otogi.ServiceRegistry
	report   func(context.Context, string, error)
}

// Publish forwards one source event and derives at most one command event.
// Binding errors are answered in the source conversation and never fail the
// publish.
func (d *commandDerivingDispatcher) Publish(ctx context.Context, event *otogi.Event) error {
	if event == nil {
		return fmt.Errorf("publish: nil event")
	}
	if err := d.base.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish source event %s: %w", event.Kind, err)
	}
	if event.Kind != otogi.EventKindArticleCreated || event.Article == nil {
		return nil
	}

	candidate, matched, parseErr := otogi.ParseCommandCandidate(event.Article.Text)
	if !matched {
		return nil
	}
	spec, registered := d.commands.lookup(candidate.Prefix, candidate.Name)
	if !registered {
		return nil
	}
	if parseErr != nil {
		d.replyUsage(ctx, event, spec, parseErr)
		return nil
	}
	invocation, err := otogi.BindCommand(candidate, spec, event)
	if err != nil {
		d.replyUsage(ctx, event, spec, err)
		return nil
	}

	if err := d.base.Publish(ctx, derivedCommandEvent(event, invocation, spec.Prefix)); err != nil {
		return fmt.Errorf("publish derived command %s: %w", invocation.Name, err)
	}

	return nil
}

func (d *commandDerivingDispatcher) replyUsage(
	ctx context.Context,
	source *otogi.Event,
	spec otogi.CommandSpec,
	cause error,
) {
	dispatcher, err := otogi.ResolveAs[otogi.SinkDispatcher](d.services, otogi.ServiceSinkDispatcher)
	if err != nil {
		d.reportError(ctx, "command usage reply", err)
		return
	}
	target, err := otogi.OutboundTargetFromEvent(source)
	if err != nil {
		d.reportError(ctx, "command usage reply", err)
		return
	}

	if _, err := dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:           target,
		Text:             fmt.Sprintf("%s\nusage: %s", cause, spec.Synopsis()),
		ReplyToMessageID: source.Article.ID,
	}); err != nil {
		d.reportError(ctx, "command usage reply", err)
	}
}

func (d *commandDerivingDispatcher) reportError(ctx context.Context, scope string, err error) {
	if d.report != nil {
		d.report(ctx, scope, err)
	}
}

func derivedCommandEvent(
	source *otogi.Event,
	invocation otogi.CommandInvocation,
	prefix otogi.CommandPrefix,
) *otogi.Event {
	kind := otogi.EventKindCommandReceived
	suffix := "#command"
	if prefix == otogi.CommandPrefixSystem {
		kind = otogi.EventKindSystemCommandReceived
		suffix = "#system-command"
	}

	article := *source.Article
	article.Entities = slices.Clone(source.Article.Entities)
	article.Media = slices.Clone(source.Article.Media)
	invocation.Args = slices.Clone(invocation.Args)


	return &otogi.Event{
		ID:           source.ID + suffix,
		Kind:         kind,
		OccurredAt:   source.OccurredAt,
		Source:       source.Source,
		Platform:     source.Platform,
		TenantID:     source.TenantID,
		Conversation: source.Conversation,
		Actor:        source.Actor,
		Article:      &article,
		Command:      &invocation,
		Metadata:     maps.Clone(source.Metadata),
	}
}
