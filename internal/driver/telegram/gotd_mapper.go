package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/tg"
)

const (
	// Telegram reports private and basic group deletes without the chat.
	gotdUnknownConversationID = "unknown"
	gotdUnknownActorID        = "unknown"
)

// DefaultGotdUpdateMapper turns flattened gotd envelopes into Updates and
// records the peers it sees for outbound replies.
type DefaultGotdUpdateMapper struct {
	peers *PeerCache
	now   func() time.Time
}

var _ GotdUpdateMapper = DefaultGotdUpdateMapper{}

type GotdUpdateMapperOption func(*DefaultGotdUpdateMapper)

// WithPeerCache makes the mapper remember the input peer of every chat it
// maps.
func WithPeerCache(cache *PeerCache) GotdUpdateMapperOption {
	return func(mapper *DefaultGotdUpdateMapper) {
		if cache != nil {
			mapper.peers = cache
		}
	}
}

func NewDefaultGotdUpdateMapper(options ...GotdUpdateMapperOption) DefaultGotdUpdateMapper {
	mapper := DefaultGotdUpdateMapper{now: time.Now}
	for _, option := range options {
		option(&mapper)
	}

	return mapper
}

// Map accepts gotdUpdateEnvelope values and bare tg.UpdateClass values. It
// reports accepted=false for updates that have no event form.
func (m DefaultGotdUpdateMapper) Map(ctx context.Context, raw any) (Update, bool, error) {
	if err := ctx.Err(); err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}

	envelope, err := m.envelopeOf(raw)
	if err != nil {
		return Update{}, false, fmt.Errorf("map gotd update: %w", err)
	}
	m.peers.rememberEntities(envelope.entities)

	if envelope.reaction != nil {
		return m.mapReaction(envelope)
	}
	switch update := envelope.update.(type) {
	case *tg.UpdateNewMessage:
		return m.mapMessage(update.Message, envelope)
	case *tg.UpdateNewChannelMessage:
		return m.mapMessage(update.Message, envelope)
	case *tg.UpdateEditMessage:
		return m.mapEdit(update.Message, envelope)
	case *tg.UpdateEditChannelMessage:
		return m.mapEdit(update.Message, envelope)
	case *tg.UpdateDeleteMessages:
		return m.mapDelete(envelope, ChatRef{ID: gotdUnknownConversationID, Type: otogi.ConversationTypePrivate}, update.Messages)
	case *tg.UpdateDeleteChannelMessages:
		peer := &tg.PeerChannel{ChannelID: update.ChannelID}
		chat := m.rememberChat(envelope, peer)
		return m.mapDelete(envelope, chat, update.Messages)
	default:
		return Update{}, false, nil
	}
}

func (m DefaultGotdUpdateMapper) envelopeOf(raw any) (gotdUpdateEnvelope, error) {
	switch typed := raw.(type) {
	case gotdUpdateEnvelope:
		return typed, nil
	case *gotdUpdateEnvelope:
		if typed == nil {
			return gotdUpdateEnvelope{}, fmt.Errorf("nil envelope")
		}
		return *typed, nil
	case tg.UpdateClass:
		return gotdContainer{occurredAt: m.currentTime()}.envelope(typed), nil
	default:
		return gotdUpdateEnvelope{}, fmt.Errorf("unsupported raw update %T", raw)
	}
}

// mapMessage skips service messages such as joins and pins.
func (m DefaultGotdUpdateMapper) mapMessage(raw tg.MessageClass, envelope gotdUpdateEnvelope) (Update, bool, error) {
	message, ok := raw.(*tg.Message)
	if !ok {
		return Update{}, false, nil
	}

	chat := m.rememberChat(envelope, message.PeerID)
	payload := &MessagePayload{
		ID:       strconv.Itoa(message.ID),
		Text:     message.Message,
		Entities: mapTextEntities(message.Message, message.Entities),
		Media:    mapMessageMedia(message.Media),
	}
	if viaBotID, ok := message.GetViaBotID(); ok && viaBotID != 0 {
		payload.ViaBot = true
	}
	if header, ok := message.ReplyTo.(*tg.MessageReplyHeader); ok {
		if id, ok := header.GetReplyToMsgID(); ok {
			payload.ReplyToID = strconv.Itoa(id)
		}
		if id, ok := header.GetReplyToTopID(); ok {
			payload.ThreadID = strconv.Itoa(id)
		}
	}

	occurredAt := unixTime(message.Date)
	if occurredAt.IsZero() {
		occurredAt = m.occurredAt(envelope)
	}

	return Update{
		ID:         updateID(UpdateTypeMessage, chat.ID, payload.ID, nanos(occurredAt)),
		Type:       UpdateTypeMessage,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      messageAuthor(message, envelope.entities),
		Message:    payload,
		Metadata:   envelope.metadata(),
	}, true, nil
}

// mapEdit accepts only edits a reader can see. Reaction and view counter
// changes also arrive as edits, but without a fresh edit date or with
// edit_hide set.
func (m DefaultGotdUpdateMapper) mapEdit(raw tg.MessageClass, envelope gotdUpdateEnvelope) (Update, bool, error) {
	message, ok := raw.(*tg.Message)
	if !ok || message.EditHide {
		return Update{}, false, nil
	}
	editDate, ok := message.GetEditDate()
	if !ok || editDate <= 0 {
		return Update{}, false, nil
	}

	chat := m.rememberChat(envelope, message.PeerID)
	changedAt := unixTime(editDate)
	messageID := strconv.Itoa(message.ID)

	return Update{
		ID:         updateID(UpdateTypeEdit, chat.ID, messageID, nanos(changedAt)),
		Type:       UpdateTypeEdit,
		OccurredAt: changedAt,
		Chat:       chat,
		Actor:      messageAuthor(message, envelope.entities),
		Edit: &EditPayload{
			MessageID: messageID,
			ChangedAt: changedAt,
			After: &SnapshotPayload{
				Text:     message.Message,
				Entities: mapTextEntities(message.Message, message.Entities),
				Media:    mapMessageMedia(message.Media),
			},
			Reason: envelope.className,
		},
		Metadata: envelope.metadata(),
	}, true, nil
}

// mapDelete expects the single-message envelopes produced by flattening.
func (m DefaultGotdUpdateMapper) mapDelete(envelope gotdUpdateEnvelope, chat ChatRef, messages []int) (Update, bool, error) {
	if len(messages) == 0 {
		return Update{}, false, nil
	}

	occurredAt := m.occurredAt(envelope)
	messageID := strconv.Itoa(messages[0])

	return Update{
		ID:         updateID(UpdateTypeDelete, chat.ID, messageID, nanos(occurredAt)),
		Type:       UpdateTypeDelete,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      ActorRef{ID: gotdUnknownActorID},
		Delete:     &DeletePayload{MessageID: messageID, Reason: envelope.className},
		Metadata:   envelope.metadata(),
	}, true, nil
}

func (m DefaultGotdUpdateMapper) mapReaction(envelope gotdUpdateEnvelope) (Update, bool, error) {
	delta := envelope.reaction
	if delta.emoji == "" {
		return Update{}, false, nil
	}

	chat := m.rememberChat(envelope, delta.peer)
	actor := envelope.entities.actor(delta.actor)
	occurredAt := m.occurredAt(envelope)
	messageID := strconv.Itoa(delta.messageID)

	return Update{
		ID:         updateID(delta.action, chat.ID, messageID, actor.ID, delta.emoji, nanos(occurredAt)),
		Type:       delta.action,
		OccurredAt: occurredAt,
		Chat:       chat,
		Actor:      actor,
		Reaction:   &ReactionPayload{MessageID: messageID, Emoji: delta.emoji},
		Metadata:   envelope.metadata(),
	}, true, nil
}

// rememberChat resolves the chat a peer names and records how to reach it.
func (m DefaultGotdUpdateMapper) rememberChat(envelope gotdUpdateEnvelope, peer tg.PeerClass) ChatRef {
	chat := envelope.entities.chat(peer)
	m.peers.Remember(chat, envelope.entities.inputPeer(peer))

	return chat
}

func (m DefaultGotdUpdateMapper) occurredAt(envelope gotdUpdateEnvelope) time.Time {
	if !envelope.occurredAt.IsZero() {
		return envelope.occurredAt
	}

	return m.currentTime()
}

func (m DefaultGotdUpdateMapper) currentTime() time.Time {
	if m.now == nil {
		return time.Now().UTC()
	}

	return m.now().UTC()
}

// messageAuthor falls back to the chat peer for channel posts, which have no
// sender.
func messageAuthor(message *tg.Message, entities gotdEntities) ActorRef {
	if from, ok := message.GetFromID(); ok {
		if actor := entities.actor(from); actor.ID != gotdUnknownActorID {
			return actor
		}
	}

	return entities.actor(message.PeerID)
}

func (e gotdUpdateEnvelope) metadata() map[string]string {
	if e.className == "" {
		return nil
	}

	return map[string]string{"gotd_update": e.className}
}

func unixTime(seconds int) time.Time {
	if seconds <= 0 {
		return time.Time{}
	}

	return time.Unix(int64(seconds), 0).UTC()
}

func nanos(at time.Time) string {
	if at.IsZero() {
		return ""
	}

	return strconv.FormatInt(at.UnixNano(), 10)
}

// updateID builds "tg:<type>:<chat>:<parts...>", skipping empty parts.
func updateID(updateType UpdateType, chatID string, parts ...string) string {
	values := make([]string, 0, len(parts)+3)
	values = append(values, "tg", string(updateType))
	for _, part := range append([]string{chatID}, parts...) {
		if part != "" {
			values = append(values, part)
		}
	}

	return strings.Join(values, ":")
}
