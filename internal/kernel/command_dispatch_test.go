package kernel

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"ex-snipe/pkg/otogi"
)

func TestCommandDerivingDispatcherPublish(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		event         *otogi.Event
		wantKinds     []otogi.EventKind
		wantCommand   string
		wantArgs      []string
		wantUsageText string
	}{
		{
			name:        "ordinary command derives command event",
			event:       newSourceCreatedEvent("evt-1", "msg-1", "/snipe"),
			wantKinds:   []otogi.EventKind{otogi.EventKindArticleCreated, otogi.EventKindCommandReceived},
			wantCommand: "snipe",
		},
		{
			name:        "system command derives system command event with args",
			event:       newSourceCreatedEvent("evt-2", "msg-2", "~snipe-config max_age 30s"),
			wantKinds:   []otogi.EventKind{otogi.EventKindArticleCreated, otogi.EventKindSystemCommandReceived},
			wantCommand: "snipe-config",
			wantArgs:    []string{"max_age", "30s"},
		},
		{
			name:        "mention suffix still binds",
			event:       newSourceCreatedEvent("evt-3", "msg-3", "/SNIPE@otogi_bot"),
			wantKinds:   []otogi.EventKind{otogi.EventKindArticleCreated, otogi.EventKindCommandReceived},
			wantCommand: "snipe",
		},
		{
			name:      "unregistered command publishes source only",
			event:     newSourceCreatedEvent("evt-4", "msg-4", "/unknown"),
			wantKinds: []otogi.EventKind{otogi.EventKindArticleCreated},
		},
		{
			name:      "plain text publishes source only",
			event:     newSourceCreatedEvent("evt-5", "msg-5", "snipe"),
			wantKinds: []otogi.EventKind{otogi.EventKindArticleCreated},
		},
		{
			name:          "too many arguments replies with usage",
			event:         newSourceCreatedEvent("evt-6", "msg-6", "/snipe now please"),
			wantKinds:     []otogi.EventKind{otogi.EventKindArticleCreated},
			wantUsageText: "usage: /snipe",
		},
	}

	for _, testCase := range tests {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			bus := newTestBus(8, nil)
			t.Cleanup(func() {
				_ = bus.Close(context.Background())
			})
			received := make(chan *otogi.Event, 4)
			if _, err := bus.Subscribe(
				context.Background(),
				otogi.InterestSet{},
				otogi.SubscriptionSpec{Name: "all-events", Buffer: 4, Workers: 1},
				func(_ context.Context, event *otogi.Event) error {
					received <- event
					return nil
				},
			); err != nil {
				t.Fatalf("subscribe failed: %v", err)
			}

			commands := newCommandTable()
			if err := commands.claim("snipe", []otogi.CommandSpec{
				{Prefix: otogi.CommandPrefixOrdinary, Name: "snipe", MaxArgs: 1},
				{Prefix: otogi.CommandPrefixSystem, Name: "snipe-config", Usage: "[key [value]]", MaxArgs: 2},
			}); err != nil {
				t.Fatalf("claim commands failed: %v", err)
			}
			replies := &replyCaptureDispatcher{}
			services := NewServiceRegistry()
			if err := services.Register(otogi.ServiceSinkDispatcher, replies); err != nil {
				t.Fatalf("register dispatcher failed: %v", err)
			}

			dispatcher := &commandDerivingDispatcher{base: bus, commands: commands, services: services}
			if err := dispatcher.Publish(context.Background(), testCase.event); err != nil {
				t.Fatalf("publish failed: %v", err)
			}

			for index, wantKind := range testCase.wantKinds {
				event := waitEvent(t, received)
				if event.Kind != wantKind {
					t.Fatalf("event[%d] kind = %s, want %s", index, event.Kind, wantKind)
				}
				if event.Command == nil {
					continue
				}
				if event.Command.Name != testCase.wantCommand {
					t.Fatalf("command name = %q, want %q", event.Command.Name, testCase.wantCommand)
				}
				if strings.Join(event.Command.Args, " ") != strings.Join(testCase.wantArgs, " ") {
					t.Fatalf("command args = %v, want %v", event.Command.Args, testCase.wantArgs)
				}
				if event.Command.SourceEventID != testCase.event.ID {
					t.Fatalf("source event id = %q, want %q", event.Command.SourceEventID, testCase.event.ID)
				}
				if event.Source != testCase.event.Source {
					t.Fatalf("source = %+v, want %+v", event.Source, testCase.event.Source)
				}
			}
			select {
			case event := <-received:
				t.Fatalf("unexpected extra event %s", event.Kind)
			case <-time.After(100 * time.Millisecond):
			}

			request, calls := replies.last()
			if testCase.wantUsageText == "" {
				if calls != 0 {
					t.Fatalf("reply calls = %d, want 0", calls)
				}
				return
			}
			if calls != 1 {
				t.Fatalf("reply calls = %d, want 1", calls)
			}
			if !strings.Contains(request.Text, testCase.wantUsageText) {
				t.Fatalf("reply text = %q, want substring %q", request.Text, testCase.wantUsageText)
			}
			if request.ReplyToMessageID != testCase.event.Article.ID {
				t.Fatalf("reply to = %q, want %q", request.ReplyToMessageID, testCase.event.Article.ID)
			}
		})
	}
}

func TestCommandDerivingDispatcherIgnoresEditedCommands(t *testing.T) {
	t.Parallel()

	bus := newTestBus(8, nil)
	t.Cleanup(func() {
		_ = bus.Close(context.Background())
	})
	commandEvents := make(chan *otogi.Event, 1)
	if _, err := bus.Subscribe(
		context.Background(),
		otogi.InterestSet{Kinds: []otogi.EventKind{otogi.EventKindCommandReceived}},
		otogi.SubscriptionSpec{Name: "commands", Buffer: 2, Workers: 1},
		func(_ context.Context, event *otogi.Event) error {
			commandEvents <- event
			return nil
		},
	); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	commands := newCommandTable()
	if err := commands.claim("snipe", []otogi.CommandSpec{{Prefix: otogi.CommandPrefixOrdinary, Name: "snipe"}}); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	dispatcher := &commandDerivingDispatcher{base: bus, commands: commands, services: NewServiceRegistry()}

	changedAt := time.Unix(20, 0).UTC()
	edited := &otogi.Event{
		ID:           "evt-edit",
		Kind:         otogi.EventKindArticleEdited,
		OccurredAt:   changedAt,
		Platform:     otogi.PlatformTelegram,
		Conversation: otogi.Conversation{ID: "chat-1", Type: otogi.ConversationTypeGroup},
		Mutation: &otogi.ArticleMutation{
			Type:            otogi.MutationTypeEdit,
			TargetArticleID: "msg-1",
			ChangedAt:       &changedAt,
			After:           &otogi.ArticleSnapshot{Text: "/snipe"},
		},
	}
	if err := dispatcher.Publish(context.Background(), edited); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case event := <-commandEvents:
		t.Fatalf("unexpected derived command event: %+v", event)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestCommandTableClaim(t *testing.T) {
	t.Parallel()

	commands := newCommandTable()
	if err := commands.claim("snipe", []otogi.CommandSpec{{Prefix: otogi.CommandPrefixOrdinary, Name: "Snipe"}}); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	err := commands.claim("other", []otogi.CommandSpec{
		{Prefix: otogi.CommandPrefixOrdinary, Name: "fresh"},
		{Prefix: otogi.CommandPrefixOrdinary, Name: "snipe"},
	})
	if err == nil || !strings.Contains(err.Error(), "already registered by module snipe") {
		t.Fatalf("claim error = %v, want conflict", err)
	}
	if _, exists := commands.lookup(otogi.CommandPrefixOrdinary, "fresh"); exists {
		t.Fatal("partial claim leaked command fresh")
	}
	if _, exists := commands.lookup(otogi.CommandPrefixSystem, "snipe"); exists {
		t.Fatal("prefix must be part of the command key")
	}

	commands.release("snipe")
	if _, exists := commands.lookup(otogi.CommandPrefixOrdinary, "snipe"); exists {
		t.Fatal("release kept command snipe")
	}
}

func TestKernelPublishesCommandCatalog(t *testing.T) {
	t.Parallel()

	kernelRuntime := New()
	catalog, err := otogi.ResolveAs[otogi.CommandCatalog](kernelRuntime.Services(), otogi.ServiceCommandCatalog)
	if err != nil {
		t.Fatalf("resolve catalog: %v", err)
	}

	if err := kernelRuntime.commands.claim("snipe", []otogi.CommandSpec{
		{Prefix: otogi.CommandPrefixSystem, Name: "snipe-config"},
		{Prefix: otogi.CommandPrefixOrdinary, Name: "snipe"},
	}); err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := kernelRuntime.commands.claim("help", []otogi.CommandSpec{
		{Prefix: otogi.CommandPrefixOrdinary, Name: "help"},
	}); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	commands, err := catalog.ListCommands(context.Background())
	if err != nil {
		t.Fatalf("ListCommands failed: %v", err)
	}
	got := make([]string, 0, len(commands))
	for _, command := range commands {
		got = append(got, command.ModuleName+":"+string(command.Command.Prefix)+command.Command.Name)
	}
	want := "help:/help,snipe:/snipe,snipe:~snipe-config"
	if strings.Join(got, ",") != want {
		t.Fatalf("commands = %v, want %s", got, want)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := catalog.ListCommands(ctx); err == nil {
		t.Fatal("expected canceled context error")
	}
}

func waitEvent(t *testing.T, events <-chan *otogi.Event) *otogi.Event {
	t.Helper()

	select {
	case event := <-events:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func newSourceCreatedEvent(id string, messageID string, text string) *otogi.Event {
	return &otogi.Event{
		ID:         id,
		Kind:       otogi.EventKindArticleCreated,
		OccurredAt: time.Unix(10, 0).UTC(),
		Source:     otogi.EventSource{Platform: otogi.PlatformTelegram, ID: "tg-main"},
		Platform:   otogi.PlatformTelegram,
		Conversation: otogi.Conversation{
			ID:   "chat-1",
			Type: otogi.ConversationTypeGroup,
		},
		Actor: otogi.Actor{ID: "actor-1"},
		Article: &otogi.Article{
			ID:   messageID,
			Text: text,
		},
	}
}

type replyCaptureDispatcher struct {
	mu       sync.Mutex
	calls    int
	requests []otogi.SendMessageRequest
}

func (d *replyCaptureDispatcher) SendMessage(
	_ context.Context,
	request otogi.SendMessageRequest,
) (*otogi.OutboundMessage, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	d.requests = append(d.requests, request)

	return &otogi.OutboundMessage{ID: "out-1", Target: request.Target}, nil
}

func (*replyCaptureDispatcher) DeleteMessage(context.Context, otogi.DeleteMessageRequest) error {
	return nil
}

func (*replyCaptureDispatcher) SetReaction(context.Context, otogi.SetReactionRequest) error {
	return nil
}

func (d *replyCaptureDispatcher) last() (otogi.SendMessageRequest, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.requests) == 0 {
		return otogi.SendMessageRequest{}, d.calls
	}

	return d.requests[len(d.requests)-1], d.calls
}
