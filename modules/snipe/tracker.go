package snipe

import (
	"context"
	"fmt"

	"ex-snipe/modules/memory"
	"ex-snipe/pkg/otogi"
)

const (
	skipDisabled       = "disabled"
	skipUnknownContent = "unknown_content"
	skipUnchanged      = "unchanged"
	skipOwnResponse    = "own_response"
)

// handleArticle keeps the content cache current and appends a change record
// for every edit or deletion whose previous content is known.
func (m *Module) handleArticle(ctx context.Context, event *otogi.Event) error {
	if event == nil {
		return nil
	}

	observation, err := m.cache.Observe(ctx, event)
	if err != nil {
		return fmt.Errorf("snipe observe %s: %w", event.Kind, err)
	}

	switch event.Kind {
	case otogi.EventKindArticleEdited:
		m.trackEdit(ctx, event, observation)
	case otogi.EventKindArticleRetracted:
		m.trackDelete(ctx, event, observation)
	}

	return nil
}

func (m *Module) trackEdit(ctx context.Context, event *otogi.Event, observation memory.Observation) {
	if !m.currentSettings().AllowEditSniping {
		m.metrics.recordSkipped(skipDisabled)
		return
	}
	previous, channel, ok := m.previousContent(ctx, event, observation)
	if !ok {
		return
	}
	if previous.sameBody(event.Mutation.After) {
		m.metrics.recordSkipped(skipUnchanged)
		return
	}

	revised := previous.revise(event.Mutation.After)
	m.record(ctx, channel, ChangeRecord{
		Kind:      ChangeKindEdit,
		Content:   previous,
		Revised:   &revised,
		ChangedAt: m.now(),
	})
}

func (m *Module) trackDelete(ctx context.Context, event *otogi.Event, observation memory.Observation) {
	if !m.currentSettings().AllowDeletionSniping {
		m.metrics.recordSkipped(skipDisabled)
		return
	}
	previous, channel, ok := m.previousContent(ctx, event, observation)
	if !ok {
		return
	}

	m.record(ctx, channel, ChangeRecord{
		Kind:      ChangeKindDelete,
		Content:   previous,
		ChangedAt: m.now(),
	})
}

// previousContent returns the cached pre-change content and the channel it
// lives in. Deletions can arrive without a conversation, so the channel
// comes from the cache rather than the event.
func (m *Module) previousContent(
	ctx context.Context,
	event *otogi.Event,
	observation memory.Observation,
) (Content, Channel, bool) {
	if !observation.Found {
		m.metrics.recordSkipped(skipUnknownContent)
		m.logger.DebugContext(ctx,
			"snipe change without cached content",
			"module", m.Name(),
			"kind", event.Kind,
			"conversation_id", event.Conversation.ID,
			"article_id", event.Mutation.TargetArticleID,
		)
		return Content{}, Channel{}, false
	}

	previous := observation.Previous
	channel := Channel{
		TenantID:       previous.TenantID,
		Platform:       previous.Platform,
		ConversationID: previous.Conversation.ID,
	}
	if m.confirmations.isResponse(channel, previous.Article.ID, m.now()) {
		m.metrics.recordSkipped(skipOwnResponse)
		return Content{}, Channel{}, false
	}

	content := contentFromMemory(previous)
	m.resolveReply(ctx, channel, &content)

	return content, channel, true
}

func (m *Module) resolveReply(ctx context.Context, channel Channel, content *Content) {
	if content.ReplyTo == nil || m.memory == nil {
		return
	}

	replied, found, err := m.memory.Get(ctx, otogi.MemoryLookup{
		TenantID:       channel.TenantID,
		Platform:       channel.Platform,
		ConversationID: channel.ConversationID,
		ArticleID:      content.ReplyTo.ArticleID,
	})
	if err != nil {
		m.logger.DebugContext(ctx,
			"snipe reply lookup failed",
			"module", m.Name(),
			"article_id", content.ReplyTo.ArticleID,
			"error", err,
		)
		return
	}
	if !found {
		return
	}

	content.ReplyTo.Known = true
	content.ReplyTo.Author = replied.Actor
	content.ReplyTo.Text = replied.Article.Text
}

func (m *Module) record(ctx context.Context, channel Channel, record ChangeRecord) {
	m.store.RecordChange(channel, record.Content.ArticleID, record)
	m.metrics.recordAppended(record.Kind)
	m.logger.DebugContext(ctx,
		"snipe change recorded",
		"module", m.Name(),
		"kind", record.Kind,
		"conversation_id", channel.ConversationID,
		"article_id", record.Content.ArticleID,
		"automated", record.Content.Automated,
	)
}
