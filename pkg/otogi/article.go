package otogi

import "time"

// Article is one chat message in platform-neutral form.
type Article struct {
	ID               string
	ReplyToArticleID string
	// ThreadID is the forum topic, when the platform has them.
	ThreadID string
	Text     string
	Entities []TextEntity
	Media    []MediaAttachment
	// ViaBot marks articles posted by a bot or webhook identity on behalf of
	// the actor.
	ViaBot bool
}

type MediaType string

const (
	MediaTypePhoto    MediaType = "photo"
	MediaTypeVideo    MediaType = "video"
	MediaTypeDocument MediaType = "document"
	MediaTypeAudio    MediaType = "audio"
	MediaTypeSticker  MediaType = "sticker"
)

// MediaAttachment describes an attachment without its bytes. Fields the
// platform does not report are left zero.
type MediaAttachment struct {
	ID        string
	Type      MediaType
	MIMEType  string
	FileName  string
	SizeBytes int64
	Caption   string
}

type MutationType string

const (
	MutationTypeEdit       MutationType = "edit"
	MutationTypeRetraction MutationType = "retraction"
)

// ArticleMutation describes an edit or retraction of TargetArticleID.
//
// Platforms rarely deliver Before. Consumers that need the pre-change
// content resolve it through MemoryService.
type ArticleMutation struct {
	Type            MutationType
	TargetArticleID string
	// ChangedAt is nil when the platform gives no edit timestamp.
	ChangedAt *time.Time
	Before    *ArticleSnapshot
	After     *ArticleSnapshot
	Reason    string
}

// ArticleSnapshot is the content half of an Article.
type ArticleSnapshot struct {
	Text     string
	Entities []TextEntity
	Media    []MediaAttachment
}

func (s *ArticleSnapshot) validate() error {
	if s == nil {
		return nil
	}

	return ValidateTextEntities(s.Text, s.Entities)
}

type ReactionAction string

const (
	ReactionActionAdd    ReactionAction = "add"
	ReactionActionRemove ReactionAction = "remove"
)

// Reaction is one emoji added to or removed from ArticleID.
type Reaction struct {
	ArticleID string
	Emoji     string
	Action    ReactionAction
}
