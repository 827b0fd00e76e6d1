package telegram

import (
	"context"
	"fmt"
	"time"

	"ex-snipe/pkg/otogi"
)

const (
	// DriverType is the `type` value that selects this driver in configuration.
	DriverType = "telegram"
	// DriverPlatform is the platform stamped on every event this driver emits.
	DriverPlatform = otogi.PlatformTelegram
)

// UpdateType classifies an Update before it is decoded into an otogi event.
type UpdateType string

const (
	UpdateTypeMessage        UpdateType = "message"
	UpdateTypeEdit           UpdateType = "edit"
	UpdateTypeDelete         UpdateType = "delete"
	UpdateTypeReactionAdd    UpdateType = "reaction_add"
	UpdateTypeReactionRemove UpdateType = "reaction_remove"
)

// Update is the driver-internal form of one Telegram change. Exactly one of
// the payload pointers is set, chosen by Type.
type Update struct {
	ID         string
	Type       UpdateType
	OccurredAt time.Time
	Chat       ChatRef
	Actor      ActorRef

	Message  *MessagePayload
	Edit     *EditPayload
	Delete   *DeletePayload
	Reaction *ReactionPayload

	Metadata map[string]string
}

type ChatRef struct {
	ID    string
	Title string
	Type  otogi.ConversationType
}

type ActorRef struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

type MessagePayload struct {
	ID        string
	ThreadID  string
	ReplyToID string
	Text      string
	Entities  []otogi.TextEntity
	Media     []MediaPayload
	// ViaBot marks inline-bot messages posted from the author's account.
	ViaBot bool
}

type MediaPayload struct {
	ID        string
	Type      otogi.MediaType
	MIMEType  string
	FileName  string
	SizeBytes int64
	Caption   string
}

// EditPayload holds the message as it reads after the edit. Telegram does
// not send the previous text.
type EditPayload struct {
	MessageID string
	ChangedAt time.Time
	After     *SnapshotPayload
	Reason    string
}

type SnapshotPayload struct {
	Text     string
	Entities []otogi.TextEntity
	Media    []MediaPayload
}

type DeletePayload struct {
	MessageID string
	Reason    string
}

type ReactionPayload struct {
	MessageID string
	Emoji     string
}

// UpdateHandler receives updates from an UpdateSource. A returned error
// stops the source.
type UpdateHandler func(ctx context.Context, update Update) error

// UpdateSource produces Telegram updates until ctx ends or the session fails.
type UpdateSource interface {
	Consume(ctx context.Context, handler UpdateHandler) error
}

// ChannelSource replays updates from a channel. It is used to drive the
// decoder without a live session.
type ChannelSource struct {
	Updates <-chan Update
}

func (s ChannelSource) Consume(ctx context.Context, handler UpdateHandler) error {
	if handler == nil {
		return fmt.Errorf("consume channel updates: nil handler")
	}

	for {
		var update Update
		var open bool
		select {
		case <-ctx.Done():
			return nil
		case update, open = <-s.Updates:
		}
		if !open {
			return nil
		}
		if err := handler(ctx, update); err != nil {
			return fmt.Errorf("consume channel update %s: %w", update.Type, err)
		}
	}
}
