package telegram

import (
	"context"
	"fmt"
	"time"

	"ex-snipe/pkg/otogi"
)

// Decoder converts Updates into validated otogi events.
type Decoder interface {
	Decode(ctx context.Context, update Update) (*otogi.Event, error)
}

// DefaultDecoder is the stateless Decoder used by the runtime.
type DefaultDecoder struct{}

var _ Decoder = DefaultDecoder{}

func NewDefaultDecoder() DefaultDecoder {
	return DefaultDecoder{}
}

// payloadDecoders fills the kind and payload branch of an event for each
// update type.
var payloadDecoders = map[UpdateType]func(*otogi.Event, Update) error{
	UpdateTypeMessage:        decodeMessage,
	UpdateTypeEdit:           decodeEdit,
	UpdateTypeDelete:         decodeDelete,
	UpdateTypeReactionAdd:    decodeReaction,
	UpdateTypeReactionRemove: decodeReaction,
}

func (DefaultDecoder) Decode(_ context.Context, update Update) (*otogi.Event, error) {
	decode, ok := payloadDecoders[update.Type]
	if !ok {
		return nil, fmt.Errorf("decode update %s: unsupported type", update.Type)
	}

	occurredAt := update.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}
	event := &otogi.Event{
		ID:         update.ID,
		OccurredAt: occurredAt,
		Platform:   DriverPlatform,
		Conversation: otogi.Conversation{
			ID:    update.Chat.ID,
			Type:  update.Chat.Type,
			Title: update.Chat.Title,
		},
		Actor: otogi.Actor{
			ID:          update.Actor.ID,
			Username:    update.Actor.Username,
			DisplayName: update.Actor.DisplayName,
			IsBot:       update.Actor.IsBot,
		},
		Metadata: update.Metadata,
	}
	if err := decode(event, update); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}
	if err := event.Validate(); err != nil {
		return nil, fmt.Errorf("decode update %s: %w", update.Type, err)
	}

	return event, nil
}

func decodeMessage(event *otogi.Event, update Update) error {
	message := update.Message
	if message == nil {
		return fmt.Errorf("missing message payload")
	}

	event.Kind = otogi.EventKindArticleCreated
	event.Article = &otogi.Article{
		ID:               message.ID,
		ReplyToArticleID: message.ReplyToID,
		ThreadID:         message.ThreadID,
		Text:             message.Text,
		Entities:         message.Entities,
		Media:            decodeMedia(message.Media),
		ViaBot:           message.ViaBot,
	}

	return nil
}

// decodeEdit leaves Mutation.Before nil; consumers look the old text up in
// their own cache.
func decodeEdit(event *otogi.Event, update Update) error {
	edit := update.Edit
	if edit == nil {
		return fmt.Errorf("missing edit payload")
	}

	event.Kind = otogi.EventKindArticleEdited
	event.Mutation = &otogi.ArticleMutation{
		Type:            otogi.MutationTypeEdit,
		TargetArticleID: edit.MessageID,
		Reason:          edit.Reason,
	}
	if !edit.ChangedAt.IsZero() {
		changedAt := edit.ChangedAt.UTC()
		event.Mutation.ChangedAt = &changedAt
	}
	if edit.After != nil {
		event.Mutation.After = &otogi.ArticleSnapshot{
			Text:     edit.After.Text,
			Entities: edit.After.Entities,
			Media:    decodeMedia(edit.After.Media),
		}
	}

	return nil
}

func decodeDelete(event *otogi.Event, update Update) error {
	if update.Delete == nil {
		return fmt.Errorf("missing delete payload")
	}

	event.Kind = otogi.EventKindArticleRetracted
	event.Mutation = &otogi.ArticleMutation{
		Type:            otogi.MutationTypeRetraction,
		TargetArticleID: update.Delete.MessageID,
		Reason:          update.Delete.Reason,
	}

	return nil
}

func decodeReaction(event *otogi.Event, update Update) error {
	if update.Reaction == nil {
		return fmt.Errorf("missing reaction payload")
	}

	event.Kind = otogi.EventKindArticleReactionAdded
	action := otogi.ReactionActionAdd
	if update.Type == UpdateTypeReactionRemove {
		event.Kind = otogi.EventKindArticleReactionRemoved
		action = otogi.ReactionActionRemove
	}
	event.Reaction = &otogi.Reaction{
		ArticleID: update.Reaction.MessageID,
		Emoji:     update.Reaction.Emoji,
		Action:    action,
	}

	return nil
}

func decodeMedia(media []MediaPayload) []otogi.MediaAttachment {
	if len(media) == 0 {
		return nil
	}

	out := make([]otogi.MediaAttachment, len(media))
	for index, item := range media {
		out[index] = otogi.MediaAttachment(item)
	}

	return out
}
