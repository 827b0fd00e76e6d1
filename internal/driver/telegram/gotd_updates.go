package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/gotd/td/tg"
)

const defaultGotdUpdateBuffer = 1024

// GotdUpdateChannel is the gotd UpdateHandler of a session. It flattens
// update containers into single-message envelopes and queues them for the
// userbot source.
type GotdUpdateChannel struct {
	queue     chan any
	reactions *reactionTracker
}

var _ GotdRawUpdateStream = (*GotdUpdateChannel)(nil)

// NewGotdUpdateChannel creates a channel that holds up to buffer envelopes.
func NewGotdUpdateChannel(buffer int) (*GotdUpdateChannel, error) {
	if buffer <= 0 {
		buffer = defaultGotdUpdateBuffer
	}

	return &GotdUpdateChannel{
		queue:     make(chan any, buffer),
		reactions: newReactionTracker(defaultReactionTrackerCapacity),
	}, nil
}

// Updates returns the queue. Envelopes handled before the first call stay
// buffered.
func (c *GotdUpdateChannel) Updates(ctx context.Context) (<-chan any, error) {
	if ctx == nil {
		return nil, fmt.Errorf("gotd update channel: nil context")
	}

	return c.queue, nil
}

// Handle implements gotd's telegram.UpdateHandler. It blocks while the queue
// is full, which applies backpressure to the session.
func (c *GotdUpdateChannel) Handle(ctx context.Context, updates tg.UpdatesClass) error {
	envelopes, err := flattenGotdUpdates(updates)
	if err != nil {
		return fmt.Errorf("handle gotd updates: %w", err)
	}

	for _, envelope := range envelopes {
		for _, item := range c.expandReactionSnapshot(envelope) {
			select {
			case <-ctx.Done():
				return fmt.Errorf("handle gotd updates: %w", ctx.Err())
			case c.queue <- item:
			}
		}
	}

	return nil
}

// expandReactionSnapshot turns a user account's reaction snapshot into one
// envelope per changed emoji. Other envelopes pass through.
func (c *GotdUpdateChannel) expandReactionSnapshot(envelope gotdUpdateEnvelope) []gotdUpdateEnvelope {
	snapshot, ok := envelope.update.(*tg.UpdateMessageReactions)
	if !ok || envelope.reaction != nil {
		return []gotdUpdateEnvelope{envelope}
	}

	return envelope.withDeltas(c.reactions.Diff(snapshot))
}

func (e gotdUpdateEnvelope) withDeltas(deltas []gotdReactionDelta) []gotdUpdateEnvelope {
	out := make([]gotdUpdateEnvelope, len(deltas))
	for index := range deltas {
		out[index] = e
		out[index].reaction = &deltas[index]
	}

	return out
}

func flattenGotdUpdates(updates tg.UpdatesClass) ([]gotdUpdateEnvelope, error) {
	switch typed := updates.(type) {
	case nil:
		return nil, fmt.Errorf("flatten gotd updates: nil container")
	case *tg.Updates:
		return gotdContainer{
			occurredAt: unixTime(typed.Date),
			entities:   newGotdEntities(typed.Users, typed.Chats),
		}.flatten(typed.Updates), nil
	case *tg.UpdatesCombined:
		return gotdContainer{
			occurredAt: unixTime(typed.Date),
			entities:   newGotdEntities(typed.Users, typed.Chats),
		}.flatten(typed.Updates), nil
	case *tg.UpdateShort:
		return gotdContainer{occurredAt: unixTime(typed.Date)}.flatten([]tg.UpdateClass{typed.Update}), nil
	case *tg.UpdateShortMessage:
		return expandShortMessage(typed, &tg.PeerUser{UserID: typed.UserID}, typed.UserID), nil
	case *tg.UpdateShortChatMessage:
		return expandShortMessage(typed, &tg.PeerChat{ChatID: typed.ChatID}, typed.FromID), nil
	case *tg.UpdatesTooLong:
		// The session's gap recovery refetches the difference.
		return nil, nil
	default:
		return nil, fmt.Errorf("flatten gotd updates: unsupported container %s", updates.TypeName())
	}
}

// gotdContainer is the context shared by every update in one container.
type gotdContainer struct {
	occurredAt time.Time
	entities   gotdEntities
}

func (c gotdContainer) envelope(update tg.UpdateClass) gotdUpdateEnvelope {
	return gotdUpdateEnvelope{
		update:     update,
		occurredAt: c.occurredAt,
		entities:   c.entities,
		className:  update.TypeName(),
	}
}

// flatten splits multi-message deletes into one envelope per message and
// bot reaction updates into one envelope per changed emoji.
func (c gotdContainer) flatten(updates []tg.UpdateClass) []gotdUpdateEnvelope {
	out := make([]gotdUpdateEnvelope, 0, len(updates))
	for _, update := range updates {
		switch typed := update.(type) {
		case nil:
		case *tg.UpdateDeleteMessages:
			for _, id := range typed.Messages {
				single := *typed
				single.Messages = []int{id}
				out = append(out, c.envelope(&single))
			}
		case *tg.UpdateDeleteChannelMessages:
			for _, id := range typed.Messages {
				single := *typed
				single.Messages = []int{id}
				out = append(out, c.envelope(&single))
			}
		case *tg.UpdateBotMessageReaction:
			out = append(out, c.envelope(typed).withDeltas(botReactionDeltas(typed))...)
		default:
			out = append(out, c.envelope(update))
		}
	}

	return out
}

func botReactionDeltas(update *tg.UpdateBotMessageReaction) []gotdReactionDelta {
	added, removed := diffReactionSets(update.OldReactions, update.NewReactions)
	deltas := make([]gotdReactionDelta, 0, len(added)+len(removed))
	for _, change := range []struct {
		action UpdateType
		emojis []string
	}{
		{action: UpdateTypeReactionAdd, emojis: added},
		{action: UpdateTypeReactionRemove, emojis: removed},
	} {
		for _, emoji := range change.emojis {
			deltas = append(deltas, gotdReactionDelta{
				action:    change.action,
				messageID: update.MsgID,
				emoji:     emoji,
				actor:     update.Actor,
				peer:      update.Peer,
			})
		}
	}

	return deltas
}

// gotdShortMessage is the field set shared by the compact message
// containers Telegram uses for private and basic group chats.
type gotdShortMessage interface {
	TypeName() string
	GetID() int
	GetDate() int
	GetMessage() string
	GetPts() int
	GetPtsCount() int
	GetReplyTo() (tg.MessageReplyHeaderClass, bool)
	GetEntities() ([]tg.MessageEntityClass, bool)
}

// expandShortMessage rebuilds the full message a compact container stands
// for so the mapper only handles one message shape.
func expandShortMessage(short gotdShortMessage, peer tg.PeerClass, fromID int64) []gotdUpdateEnvelope {
	message := &tg.Message{
		ID:      short.GetID(),
		PeerID:  peer,
		Date:    short.GetDate(),
		Message: short.GetMessage(),
	}
	message.SetFromID(&tg.PeerUser{UserID: fromID})
	if replyTo, ok := short.GetReplyTo(); ok {
		message.SetReplyTo(replyTo)
	}
	if entities, ok := short.GetEntities(); ok {
		message.SetEntities(entities)
	}

	return []gotdUpdateEnvelope{{
		update: &tg.UpdateNewMessage{
			Message:  message,
			Pts:      short.GetPts(),
			PtsCount: short.GetPtsCount(),
		},
		occurredAt: unixTime(short.GetDate()),
		className:  short.TypeName(),
	}}
}
