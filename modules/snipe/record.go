package snipe

import (
	"time"

	"ex-snipe/pkg/otogi"
)

// ChangeKind identifies how a tracked message changed.
type ChangeKind string

const (
	// ChangeKindEdit records the content a message had before an edit.
	ChangeKindEdit ChangeKind = "edit"
	// ChangeKindDelete records the last known content of a deleted message.
	ChangeKindDelete ChangeKind = "delete"
)

// Channel identifies the conversation a tracked message belongs to.
type Channel struct {
	TenantID       string
	Platform       otogi.Platform
	ConversationID string
}

// ChannelFromEvent derives the channel of an inbound event.
func ChannelFromEvent(event *otogi.Event) Channel {
	platform := event.Source.Platform
	if platform == "" {
		platform = event.Platform
	}

	return Channel{
		TenantID:       event.TenantID,
		Platform:       platform,
		ConversationID: event.Conversation.ID,
	}
}

// ReplyReference describes the message a sniped message replied to.
type ReplyReference struct {
	ArticleID string
	// Known is false when only the replied article id is available.
	Known  bool
	Author otogi.Actor
	Text   string
}

// Content is the message snapshot a ChangeRecord refers to.
type Content struct {
	ArticleID    string
	Conversation otogi.Conversation
	Author       otogi.Actor
	Text         string
	Entities     []otogi.TextEntity
	Media        []otogi.MediaAttachment
	ReplyTo      *ReplyReference
	SentAt       time.Time
	// Automated marks content authored by a bot or posted through a bot
	// identity. Such records are tracked but never sniped.
	Automated bool
}

// ChangeRecord is one immutable edit or delete observation.
type ChangeRecord struct {
	Kind    ChangeKind
	Content Content
	// Revised is the post-edit content for edit records.
	Revised   *Content
	ChangedAt time.Time
}

// contentFromMemory snapshots a cached article.
func contentFromMemory(memory otogi.Memory) Content {
	content := Content{
		ArticleID:    memory.Article.ID,
		Conversation: memory.Conversation,
		Author:       memory.Actor,
		Text:         memory.Article.Text,
		Entities:     append([]otogi.TextEntity(nil), memory.Article.Entities...),
		Media:        append([]otogi.MediaAttachment(nil), memory.Article.Media...),
		SentAt:       memory.CreatedAt,
		Automated:    memory.Actor.IsBot || memory.Article.ViaBot,
	}
	if memory.Article.ReplyToArticleID != "" {
		content.ReplyTo = &ReplyReference{ArticleID: memory.Article.ReplyToArticleID}
	}

	return content
}

// revise returns a copy of c carrying the post-edit snapshot.
func (c Content) revise(after *otogi.ArticleSnapshot) Content {
	revised := c
	revised.ReplyTo = nil
	if after == nil {
		return revised
	}
	revised.Text = after.Text
	revised.Entities = append([]otogi.TextEntity(nil), after.Entities...)
	revised.Media = append([]otogi.MediaAttachment(nil), after.Media...)

	return revised
}

// sameBody reports whether the edit left text and media untouched.
func (c Content) sameBody(after *otogi.ArticleSnapshot) bool {
	if after == nil {
		return true
	}
	if c.Text != after.Text || len(c.Media) != len(after.Media) {
		return false
	}
	for index := range c.Media {
		if c.Media[index].ID != after.Media[index].ID {
			return false
		}
	}

	return true
}
