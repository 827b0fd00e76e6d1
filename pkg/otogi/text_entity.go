package otogi

import (
	"fmt"
	"unicode/utf8"
)

// TextEntityType identifies a formatted range class.
type TextEntityType string

const (
	TextEntityTypeBold        TextEntityType = "bold"
	TextEntityTypeItalic      TextEntityType = "italic"
	TextEntityTypeUnderline   TextEntityType = "underline"
	TextEntityTypeStrike      TextEntityType = "strike"
	TextEntityTypeSpoiler     TextEntityType = "spoiler"
	TextEntityTypeCode        TextEntityType = "code"
	TextEntityTypePre         TextEntityType = "pre"
	TextEntityTypeBlockquote  TextEntityType = "blockquote"
	TextEntityTypeURL         TextEntityType = "url"
	TextEntityTypeTextURL     TextEntityType = "text_url"
	TextEntityTypeMention     TextEntityType = "mention"
	TextEntityTypeMentionName TextEntityType = "mention_name"
	TextEntityTypeHashtag     TextEntityType = "hashtag"
	TextEntityTypeCustomEmoji TextEntityType = "custom_emoji"
	TextEntityTypeBotCommand  TextEntityType = "bot_command"
	TextEntityTypeEmail       TextEntityType = "email"
	TextEntityTypeUnknown     TextEntityType = "unknown"
)

// TextEntity marks a formatted range of an article's text.
//
// Offset and Length count Unicode code points. Drivers convert to their
// platform's unit, UTF-16 code units on Telegram.
type TextEntity struct {
	Type   TextEntityType
	Offset int
	Length int
	// URL, Language, MentionUserID and CustomEmojiID are set only for the
	// entity types that need them.
	URL           string
	Language      string
	MentionUserID string
	CustomEmojiID string
	// Collapsed marks an expandable blockquote.
	Collapsed bool
}

// requiredEntityField maps types that carry a payload to an accessor for it.
var requiredEntityField = map[TextEntityType]struct {
	name  string
	value func(TextEntity) string
}{
	TextEntityTypeTextURL:     {"url", func(e TextEntity) string { return e.URL }},
	TextEntityTypeMentionName: {"mention user id", func(e TextEntity) string { return e.MentionUserID }},
	TextEntityTypeCustomEmoji: {"custom emoji id", func(e TextEntity) string { return e.CustomEmojiID }},
}

// ValidateTextEntities checks that every entity has a type, lies inside
// text and carries the field its type requires.
func ValidateTextEntities(text string, entities []TextEntity) error {
	if len(entities) == 0 {
		return nil
	}

	runes := utf8.RuneCountInString(text)
	for index, entity := range entities {
		end := entity.Offset + entity.Length
		switch {
		case entity.Type == "":
			return fmt.Errorf("entity[%d]: missing type", index)
		case entity.Offset < 0:
			return fmt.Errorf("entity[%d]: negative offset %d", index, entity.Offset)
		case entity.Length <= 0:
			return fmt.Errorf("entity[%d]: non-positive length %d", index, entity.Length)
		case end > runes:
			return fmt.Errorf("entity[%d]: range [%d,%d) exceeds text length %d", index, entity.Offset, end, runes)
		}

		if field, ok := requiredEntityField[entity.Type]; ok && field.value(entity) == "" {
			return fmt.Errorf("entity[%d]: %s requires %s", index, entity.Type, field.name)
		}
	}

	return nil
}
