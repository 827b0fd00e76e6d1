package otogi

import (
	"fmt"
	"time"
)

// EventKind names what happened. It also selects which payload of Event is
// populated.
type EventKind string

const (
	EventKindArticleCreated         EventKind = "article.created"
	EventKindArticleEdited          EventKind = "article.edited"
	EventKindArticleRetracted       EventKind = "article.retracted"
	EventKindArticleReactionAdded   EventKind = "article.reaction.added"
	EventKindArticleReactionRemoved EventKind = "article.reaction.removed"
	// EventKindCommandReceived is derived by the kernel from articles
	// starting with "/".
	EventKindCommandReceived EventKind = "command.received"
	// EventKindSystemCommandReceived is derived by the kernel from articles
	// starting with "~".
	EventKindSystemCommandReceived EventKind = "system_command.received"
)

// Platform identifies an upstream chat network.
type Platform string

const PlatformTelegram Platform = "telegram"

type ConversationType string

const (
	ConversationTypePrivate ConversationType = "private"
	ConversationTypeGroup   ConversationType = "group"
	ConversationTypeChannel ConversationType = "channel"
)

// EventSource names the configured driver instance that produced an event,
// for example {telegram, "tg-main"}.
type EventSource struct {
	Platform Platform
	ID       string
}

// Event is the envelope every driver publishes and every module consumes.
// Exactly one of Article, Mutation and Reaction is meaningful for a given
// Kind; command kinds carry Article and Command together.
type Event struct {
	ID         string
	Kind       EventKind
	OccurredAt time.Time
	Source     EventSource
	// Platform is kept for drivers that predate Source. Readers prefer
	// Source.Platform.
	Platform     Platform
	TenantID     string
	Conversation Conversation
	// Actor is the zero value when the platform does not say who acted, as
	// with most deletions.
	Actor Actor

	Article  *Article
	Mutation *ArticleMutation
	Reaction *Reaction
	Command  *CommandInvocation

	Metadata map[string]string
}

type Conversation struct {
	ID    string
	Type  ConversationType
	Title string
}

// Actor is the account behind an event.
type Actor struct {
	ID          string
	Username    string
	DisplayName string
	IsBot       bool
}

// Validate checks the envelope, then the payload its Kind requires.
func (e *Event) Validate() error {
	if e == nil {
		return fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	case e.Kind == "":
		return fmt.Errorf("%w: missing kind", ErrInvalidEvent)
	case e.OccurredAt.IsZero():
		return fmt.Errorf("%w: missing occurred_at", ErrInvalidEvent)
	case e.Conversation.ID == "":
		return fmt.Errorf("%w: missing conversation id", ErrInvalidEvent)
	}

	check, known := payloadChecks[e.Kind]
	if !known {
		return fmt.Errorf("%w: unsupported kind %q", ErrInvalidEvent, e.Kind)
	}
	if err := check(e); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEvent, e.Kind, err)
	}

	return nil
}

var payloadChecks = map[EventKind]func(*Event) error{
	EventKindArticleCreated:         checkArticle,
	EventKindArticleEdited:          checkMutation,
	EventKindArticleRetracted:       checkMutation,
	EventKindArticleReactionAdded:   checkReaction,
	EventKindArticleReactionRemoved: checkReaction,
	EventKindCommandReceived:        checkCommand,
	EventKindSystemCommandReceived:  checkCommand,
}

func checkArticle(e *Event) error {
	if e.Article == nil {
		return fmt.Errorf("missing article payload")
	}
	if e.Article.ID == "" {
		return fmt.Errorf("missing article id")
	}
	if err := ValidateTextEntities(e.Article.Text, e.Article.Entities); err != nil {
		return fmt.Errorf("article entities: %w", err)
	}

	return nil
}

func checkMutation(e *Event) error {
	if e.Mutation == nil {
		return fmt.Errorf("missing mutation payload")
	}
	if e.Mutation.TargetArticleID == "" {
		return fmt.Errorf("missing target article id")
	}
	if err := e.Mutation.Before.validate(); err != nil {
		return fmt.Errorf("before snapshot entities: %w", err)
	}
	if err := e.Mutation.After.validate(); err != nil {
		return fmt.Errorf("after snapshot entities: %w", err)
	}

	return nil
}

func checkReaction(e *Event) error {
	if e.Reaction == nil {
		return fmt.Errorf("missing reaction payload")
	}
	if e.Reaction.ArticleID == "" {
		return fmt.Errorf("missing reaction article id")
	}

	return nil
}

func checkCommand(e *Event) error {
	if err := checkArticle(e); err != nil {
		return err
	}

	return e.Command.Validate()
}
