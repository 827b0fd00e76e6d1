package snipe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"ex-snipe/pkg/otogi"
)

const (
	embedContentLimit   = 2000
	webhookContentLimit = 4096
	truncationSuffix    = "..."
	emptyContentText    = "(no text)"
	unknownAuthorName   = "unknown user"
)

// presentation is one consumed snipe ready to be rendered.
type presentation struct {
	target otogi.OutboundTarget
	// commandArticleID is the /snipe message the embed replies to.
	commandArticleID string
	snipe            Snipe
	confirmTimeout   time.Duration
	now              time.Time
}

// errPresentation marks a failed send of a rendered snipe.
var errPresentation = errors.New("snipe: presentation failed")

// presentEmbed replies to the command with a formatted summary.
func presentEmbed(
	ctx context.Context,
	dispatcher otogi.SinkDispatcher,
	p presentation,
) (*otogi.OutboundMessage, error) {
	text, entities := renderEmbed(p)
	message, err := dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:             p.target,
		Text:               text,
		Entities:           entities,
		ReplyToMessageID:   p.commandArticleID,
		DisableLinkPreview: true,
		DisableMentions:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embed: %w", errPresentation, err)
	}

	return message, nil
}

// presentWebhook re-sends the sniped content under the author's persona.
func presentWebhook(
	ctx context.Context,
	dispatcher otogi.SinkDispatcher,
	p presentation,
) (*otogi.OutboundMessage, error) {
	text, entities := renderWebhook(p.snipe)
	message, err := dispatcher.SendMessage(ctx, otogi.SendMessageRequest{
		Target:             p.target,
		Text:               text,
		Entities:           entities,
		Persona:            personaFor(p.snipe.Latest.Content.Author),
		DisableLinkPreview: true,
		DisableMentions:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: webhook: %w", errPresentation, err)
	}

	return message, nil
}

func renderEmbed(p presentation) (string, []otogi.TextEntity) {
	record := p.snipe.Latest
	content := record.Content

	var out richText
	out.write("Sniped message " + string(record.Kind) + " by ")
	writeAuthor(&out, content.Author)
	out.write(" from " + relativeTime(record.ChangedAt, p.now))
	if reply := content.ReplyTo; reply != nil && reply.Known {
		out.write(" in reply to ")
		writeAuthor(&out, reply.Author)
	}

	out.write("\n\n")
	out.writeStyled("Message content", otogi.TextEntity{Type: otogi.TextEntityTypeBold})
	out.write("\n")
	writeBody(&out, content.Text, content.Entities, embedContentLimit)

	if record.Kind == ChangeKindEdit && record.Revised != nil {
		out.write("\n\n")
		out.writeStyled("Edited to", otogi.TextEntity{Type: otogi.TextEntityTypeBold})
		out.write("\n")
		writeBody(&out, record.Revised.Text, record.Revised.Entities, embedContentLimit)
	}

	if reply := content.ReplyTo; reply != nil && reply.Known {
		out.write("\n\n")
		out.writeStyled("Replying to", otogi.TextEntity{Type: otogi.TextEntityTypeBold})
		out.write("\n")
		writeBody(&out, reply.Text, nil, embedContentLimit)
	}

	if summary := mediaSummary(content.Media); summary != "" {
		out.write("\n\n" + summary)
	}

	out.write("\n\n")
	out.writeStyled(
		fmt.Sprintf("React with %s or reply /unsnipe within %s to delete this.", deleteEmoji, p.confirmTimeout),
		otogi.TextEntity{Type: otogi.TextEntityTypeItalic},
	)

	return out.result()
}

func renderWebhook(snipe Snipe) (string, []otogi.TextEntity) {
	content := snipe.Latest.Content

	var out richText
	if reply := content.ReplyTo; reply != nil && reply.Known {
		preview, _ := truncateWithDots(reply.Text, nil, webhookContentLimit)
		if preview == "" {
			preview = emptyContentText
		}
		quote := "Replying to message by " + displayName(reply.Author) + "\n" + preview
		out.writeStyled(quote, otogi.TextEntity{Type: otogi.TextEntityTypeBlockquote})
		out.write("\n")
	}

	// Sinks reject text over 4096 characters, so the body is capped too.
	body, bodyEntities := truncateWithDots(content.Text, content.Entities, webhookContentLimit)
	switch {
	case body != "":
		out.writeWithEntities(body, bodyEntities)
	case len(content.Media) > 0:
		out.write(mediaSummary(content.Media))
	default:
		out.write(emptyContentText)
	}

	return out.result()
}

func personaFor(author otogi.Actor) *otogi.OutboundPersona {
	return &otogi.OutboundPersona{DisplayName: displayName(author)}
}

func writeAuthor(out *richText, author otogi.Actor) {
	switch {
	case author.Username != "":
		out.writeStyled("@"+author.Username, otogi.TextEntity{Type: otogi.TextEntityTypeMention})
	case author.ID != "":
		out.writeStyled(displayName(author), otogi.TextEntity{
			Type:          otogi.TextEntityTypeMentionName,
			MentionUserID: author.ID,
		})
	default:
		out.write(unknownAuthorName)
	}
}

func writeBody(out *richText, text string, entities []otogi.TextEntity, limit int) {
	body, kept := truncateWithDots(text, entities, limit)
	if body == "" {
		out.write(emptyContentText)
		return
	}
	out.writeWithEntities(body, kept)
}

func displayName(actor otogi.Actor) string {
	switch {
	case strings.TrimSpace(actor.DisplayName) != "":
		return strings.TrimSpace(actor.DisplayName)
	case actor.Username != "":
		return actor.Username
	default:
		return unknownAuthorName
	}
}

func mediaSummary(media []otogi.MediaAttachment) string {
	if len(media) == 0 {
		return ""
	}

	parts := make([]string, 0, len(media))
	for _, attachment := range media {
		part := string(attachment.Type)
		if part == "" {
			part = "attachment"
		}
		if attachment.FileName != "" {
			part += " (" + attachment.FileName + ")"
		}
		parts = append(parts, part)
	}

	return "Attachments: " + strings.Join(parts, ", ")
}

// truncateWithDots cuts text to at most limit code points, ending in "..."
// when cut. Entities that no longer fit are dropped.
func truncateWithDots(text string, entities []otogi.TextEntity, limit int) (string, []otogi.TextEntity) {
	length := utf8.RuneCountInString(text)
	if length <= limit {
		return text, append([]otogi.TextEntity(nil), entities...)
	}

	keep := limit - utf8.RuneCountInString(truncationSuffix)
	if keep < 0 {
		keep = 0
	}
	runes := []rune(text)
	kept := make([]otogi.TextEntity, 0, len(entities))
	for _, entity := range entities {
		if entity.Offset+entity.Length <= keep {
			kept = append(kept, entity)
		}
	}

	return string(runes[:keep]) + truncationSuffix, kept
}

// relativeTime renders then relative to now, like "5 seconds ago".
func relativeTime(then time.Time, now time.Time) string {
	elapsed := now.Sub(then)
	if elapsed < time.Second {
		return "just now"
	}

	var (
		count int
		unit  string
	)
	switch {
	case elapsed < time.Minute:
		count, unit = int(elapsed/time.Second), "second"
	case elapsed < time.Hour:
		count, unit = int(elapsed/time.Minute), "minute"
	case elapsed < 24*time.Hour:
		count, unit = int(elapsed/time.Hour), "hour"
	default:
		count, unit = int(elapsed/(24*time.Hour)), "day"
	}
	if count != 1 {
		unit += "s"
	}

	return fmt.Sprintf("%d %s ago", count, unit)
}

// richText accumulates text and entity ranges measured in code points.
type richText struct {
	builder  strings.Builder
	length   int
	entities []otogi.TextEntity
}

func (r *richText) write(text string) {
	r.builder.WriteString(text)
	r.length += utf8.RuneCountInString(text)
}

func (r *richText) writeStyled(text string, entity otogi.TextEntity) {
	entity.Offset = r.length
	entity.Length = utf8.RuneCountInString(text)
	if entity.Length > 0 {
		r.entities = append(r.entities, entity)
	}
	r.write(text)
}

// writeWithEntities appends text whose entities are relative to its start.
func (r *richText) writeWithEntities(text string, entities []otogi.TextEntity) {
	for _, entity := range entities {
		entity.Offset += r.length
		r.entities = append(r.entities, entity)
	}
	r.write(text)
}

func (r *richText) result() (string, []otogi.TextEntity) {
	return r.builder.String(), r.entities
}
