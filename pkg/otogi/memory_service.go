package otogi

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ServiceMemory is the service registry key under which the last-seen
// article cache is published.
const ServiceMemory = "otogi.memory"

// MemoryService answers "what did this article last look like". Handlers on
// different workers may call it concurrently.
type MemoryService interface {
	// Get returns the snapshot for lookup. A miss is found=false with a nil
	// error.
	Get(ctx context.Context, lookup MemoryLookup) (memory Memory, found bool, err error)
	// GetReplied returns the snapshot of the article event replies to. Events
	// that reply to nothing are a miss, not an error.
	GetReplied(ctx context.Context, event *Event) (memory Memory, found bool, err error)
}

// LookupRole selects which article of an event a MemoryLookup points at.
type LookupRole string

const (
	// LookupRoleArticle addresses event.Article.ID.
	LookupRoleArticle LookupRole = "article"
	// LookupRoleReply addresses event.Article.ReplyToArticleID.
	LookupRoleReply LookupRole = "reply"
	// LookupRoleMutation addresses event.Mutation.TargetArticleID.
	LookupRoleMutation LookupRole = "mutation"
)

// ErrNoLookupTarget reports an event that carries no article for the
// requested role.
var ErrNoLookupTarget = errors.New("no lookup target")

// MemoryLookup is the cache key of one article inside one conversation.
type MemoryLookup struct {
	TenantID       string
	Platform       Platform
	ConversationID string
	ArticleID      string
}

// Validate rejects lookups missing any addressing component. TenantID is
// optional.
func (l MemoryLookup) Validate() error {
	switch {
	case l.Platform == "":
		return fmt.Errorf("validate memory lookup: missing platform")
	case l.ConversationID == "":
		return fmt.Errorf("validate memory lookup: missing conversation id")
	case l.ArticleID == "":
		return fmt.Errorf("validate memory lookup: missing article id")
	}

	return nil
}

// LookupFor builds the lookup for the article that role selects in event.
// The platform comes from event.Source, falling back to event.Platform.
func LookupFor(event *Event, role LookupRole) (MemoryLookup, error) {
	if event == nil {
		return MemoryLookup{}, fmt.Errorf("%s lookup: nil event", role)
	}

	articleID, err := lookupTarget(event, role)
	if err != nil {
		return MemoryLookup{}, fmt.Errorf("%s lookup for %s: %w", role, event.Kind, err)
	}

	platform := event.Source.Platform
	if platform == "" {
		platform = event.Platform
	}
	lookup := MemoryLookup{
		TenantID:       event.TenantID,
		Platform:       platform,
		ConversationID: event.Conversation.ID,
		ArticleID:      articleID,
	}
	if err := lookup.Validate(); err != nil {
		return MemoryLookup{}, fmt.Errorf("%s lookup for %s: %w", role, event.Kind, err)
	}

	return lookup, nil
}

func lookupTarget(event *Event, role LookupRole) (string, error) {
	var id string
	switch role {
	case LookupRoleArticle:
		if event.Article != nil {
			id = event.Article.ID
		}
	case LookupRoleReply:
		if event.Article != nil {
			id = event.Article.ReplyToArticleID
		}
	case LookupRoleMutation:
		if event.Mutation != nil {
			id = event.Mutation.TargetArticleID
		}
	default:
		return "", fmt.Errorf("unknown lookup role %q", role)
	}
	if id == "" {
		return "", ErrNoLookupTarget
	}

	return id, nil
}

// Memory is a point-in-time copy of one article as the cache last saw it.
// Callers own the returned value.
type Memory struct {
	TenantID     string
	Platform     Platform
	Conversation Conversation
	// Actor is the zero value when the author was never observed.
	Actor     Actor
	Article   Article
	CreatedAt time.Time
	UpdatedAt time.Time
}
