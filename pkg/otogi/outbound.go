package otogi

import (
	"context"
	"fmt"
)

// ServiceSinkDispatcher is the service registry key of the SinkDispatcher.
const ServiceSinkDispatcher = "otogi.sink_dispatcher"

// SinkDispatcher performs platform-neutral writes. Every request is validated
// before it reaches a driver; driver failures come back as *OutboundError.
type SinkDispatcher interface {
	SendMessage(ctx context.Context, request SendMessageRequest) (*OutboundMessage, error)
	DeleteMessage(ctx context.Context, request DeleteMessageRequest) error
	SetReaction(ctx context.Context, request SetReactionRequest) error
}

// EventSink names one outbound-capable driver instance.
type EventSink struct {
	Platform Platform
	// ID is the driver name from configuration, e.g. "tg-main".
	ID string
}

// OutboundTarget is a conversation plus the sink that reaches it. A nil Sink
// lets the dispatcher choose when only one sink is configured.
type OutboundTarget struct {
	Conversation Conversation
	Sink         *EventSink
}

func (t OutboundTarget) Validate() error {
	switch {
	case t.Conversation.ID == "":
		return fmt.Errorf("%w: missing conversation id", ErrInvalidOutboundRequest)
	case t.Conversation.Type == "":
		return fmt.Errorf("%w: missing conversation type", ErrInvalidOutboundRequest)
	case t.Sink != nil && *t.Sink == (EventSink{}):
		return fmt.Errorf("%w: missing sink identity", ErrInvalidOutboundRequest)
	}

	return nil
}

// OutboundTargetFromEvent answers back into the conversation and driver an
// event came from.
func OutboundTargetFromEvent(event *Event) (OutboundTarget, error) {
	if event == nil {
		return OutboundTarget{}, fmt.Errorf("%w: nil event", ErrInvalidOutboundRequest)
	}

	target := OutboundTarget{Conversation: event.Conversation}
	sink := EventSink{Platform: event.Source.Platform, ID: event.Source.ID}
	if sink.Platform == "" {
		sink.Platform = event.Platform
	}
	if sink != (EventSink{}) {
		target.Sink = &sink
	}
	if err := target.Validate(); err != nil {
		return OutboundTarget{}, fmt.Errorf("derive target from event %s: %w", event.Kind, err)
	}

	return target, nil
}

// OutboundMessage is a message the dispatcher delivered.
type OutboundMessage struct {
	// ID is the platform message ID.
	ID     string
	Target OutboundTarget
}

// OutboundPersona renders a message under another author's name, the way a
// webhook does.
type OutboundPersona struct {
	DisplayName string
}

type SendMessageRequest struct {
	Target   OutboundTarget
	Text     string
	Entities []TextEntity
	// ReplyToMessageID threads the message under an existing one.
	ReplyToMessageID string
	// Persona overrides the sender. Platforms that cannot impersonate fail
	// with an unsupported-kind error.
	Persona            *OutboundPersona
	DisableLinkPreview bool
	// DisableMentions keeps mention entities from notifying their users.
	DisableMentions bool
}

func (r SendMessageRequest) Validate() error {
	if err := r.Target.Validate(); err != nil {
		return fmt.Errorf("validate send message target: %w", err)
	}
	if r.Text == "" {
		return fmt.Errorf("%w: missing message text", ErrInvalidOutboundRequest)
	}
	if err := ValidateTextEntities(r.Text, r.Entities); err != nil {
		return fmt.Errorf("%w: validate send message entities: %w", ErrInvalidOutboundRequest, err)
	}
	if r.Persona != nil && r.Persona.DisplayName == "" {
		return fmt.Errorf("%w: persona requires display name", ErrInvalidOutboundRequest)
	}

	return nil
}

type DeleteMessageRequest struct {
	Target    OutboundTarget
	MessageID string
	// Revoke deletes for every participant, not just the bot.
	Revoke bool
}

func (r DeleteMessageRequest) Validate() error {
	return validateExistingMessage("delete message", r.Target, r.MessageID)
}

// SetReactionRequest adds or removes the bot's own reaction. Emoji may be
// empty only when removing.
type SetReactionRequest struct {
	Target    OutboundTarget
	MessageID string
	Emoji     string
	Action    ReactionAction
}

func (r SetReactionRequest) Validate() error {
	if err := validateExistingMessage("set reaction", r.Target, r.MessageID); err != nil {
		return err
	}

	switch r.Action {
	case ReactionActionAdd:
		if r.Emoji == "" {
			return fmt.Errorf("%w: missing reaction emoji", ErrInvalidOutboundRequest)
		}
	case ReactionActionRemove:
	default:
		return fmt.Errorf("%w: unsupported reaction action %q", ErrInvalidOutboundRequest, r.Action)
	}

	return nil
}

func validateExistingMessage(operation string, target OutboundTarget, messageID string) error {
	if err := target.Validate(); err != nil {
		return fmt.Errorf("validate %s target: %w", operation, err)
	}
	if messageID == "" {
		return fmt.Errorf("%w: missing message id", ErrInvalidOutboundRequest)
	}

	return nil
}
