package telegram

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf16"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/tg"
)

// codeUnitIndex maps code point positions of one text to UTF-16 code unit
// positions. Telegram measures entities in code units; otogi in code points.
type codeUnitIndex []int

func newCodeUnitIndex(text string) codeUnitIndex {
	index := make(codeUnitIndex, 1, len(text)+1)
	units := 0
	for _, r := range text {
		width := utf16.RuneLen(r)
		if width < 1 {
			width = 1
		}
		units += width
		index = append(index, units)
	}

	return index
}

// runes reports how many code points the indexed text holds.
func (c codeUnitIndex) runes() int {
	return len(c) - 1
}

// point converts a code unit position back to a code point position. It
// fails when units falls inside a surrogate pair or past the text.
func (c codeUnitIndex) point(units int) (int, bool) {
	position, found := slices.BinarySearch(c, units)
	return position, found
}

// mapTextEntities converts Telegram entities into neutral ones. Entities
// that do not land on code point boundaries are dropped.
func mapTextEntities(text string, entities []tg.MessageEntityClass) []otogi.TextEntity {
	if len(entities) == 0 {
		return nil
	}

	index := newCodeUnitIndex(text)
	var out []otogi.TextEntity
	for _, entity := range entities {
		if entity == nil {
			continue
		}
		start, okStart := index.point(entity.GetOffset())
		end, okEnd := index.point(entity.GetOffset() + entity.GetLength())
		if !okStart || !okEnd || end <= start {
			continue
		}

		mapped := describeTelegramEntity(entity)
		mapped.Offset = start
		mapped.Length = end - start
		out = append(out, mapped)
	}

	return out
}

// describeTelegramEntity fills everything but the range.
func describeTelegramEntity(entity tg.MessageEntityClass) otogi.TextEntity {
	switch typed := entity.(type) {
	case *tg.MessageEntityBold:
		return otogi.TextEntity{Type: otogi.TextEntityTypeBold}
	case *tg.MessageEntityItalic:
		return otogi.TextEntity{Type: otogi.TextEntityTypeItalic}
	case *tg.MessageEntityUnderline:
		return otogi.TextEntity{Type: otogi.TextEntityTypeUnderline}
	case *tg.MessageEntityStrike:
		return otogi.TextEntity{Type: otogi.TextEntityTypeStrike}
	case *tg.MessageEntitySpoiler:
		return otogi.TextEntity{Type: otogi.TextEntityTypeSpoiler}
	case *tg.MessageEntityCode:
		return otogi.TextEntity{Type: otogi.TextEntityTypeCode}
	case *tg.MessageEntityPre:
		return otogi.TextEntity{Type: otogi.TextEntityTypePre, Language: typed.Language}
	case *tg.MessageEntityBlockquote:
		return otogi.TextEntity{Type: otogi.TextEntityTypeBlockquote, Collapsed: typed.Collapsed}
	case *tg.MessageEntityURL:
		return otogi.TextEntity{Type: otogi.TextEntityTypeURL}
	case *tg.MessageEntityTextURL:
		return otogi.TextEntity{Type: otogi.TextEntityTypeTextURL, URL: typed.URL}
	case *tg.MessageEntityMention:
		return otogi.TextEntity{Type: otogi.TextEntityTypeMention}
	case *tg.MessageEntityMentionName:
		return otogi.TextEntity{
			Type:          otogi.TextEntityTypeMentionName,
			MentionUserID: strconv.FormatInt(typed.UserID, 10),
		}
	case *tg.MessageEntityHashtag:
		return otogi.TextEntity{Type: otogi.TextEntityTypeHashtag}
	case *tg.MessageEntityCustomEmoji:
		return otogi.TextEntity{
			Type:          otogi.TextEntityTypeCustomEmoji,
			CustomEmojiID: strconv.FormatInt(typed.DocumentID, 10),
		}
	case *tg.MessageEntityBotCommand:
		return otogi.TextEntity{Type: otogi.TextEntityTypeBotCommand}
	case *tg.MessageEntityEmail:
		return otogi.TextEntity{Type: otogi.TextEntityTypeEmail}
	default:
		return otogi.TextEntity{Type: otogi.TextEntityTypeUnknown}
	}
}

type entityBuilder func(offset, length int, entity otogi.TextEntity) (tg.MessageEntityClass, error)

// outboundEntityBuilders covers every neutral entity type Telegram can send.
var outboundEntityBuilders = map[otogi.TextEntityType]entityBuilder{
	otogi.TextEntityTypeBold: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityBold{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeItalic: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityItalic{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeUnderline: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityUnderline{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeStrike: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityStrike{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeSpoiler: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntitySpoiler{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeCode: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityCode{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypePre: func(offset, length int, entity otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityPre{Offset: offset, Length: length, Language: entity.Language}, nil
	},
	otogi.TextEntityTypeBlockquote: func(offset, length int, entity otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityBlockquote{Offset: offset, Length: length, Collapsed: entity.Collapsed}, nil
	},
	otogi.TextEntityTypeURL: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityURL{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeTextURL: func(offset, length int, entity otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityTextURL{Offset: offset, Length: length, URL: entity.URL}, nil
	},
	otogi.TextEntityTypeMention: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityMention{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeMentionName: func(offset, length int, entity otogi.TextEntity) (tg.MessageEntityClass, error) {
		userID, err := parseEntityID("mention user", entity.MentionUserID)
		if err != nil {
			return nil, err
		}
		// Access hash 0 resolves for users the account has already met.
		return &tg.InputMessageEntityMentionName{Offset: offset, Length: length, UserID: &tg.InputUser{UserID: userID}}, nil
	},
	otogi.TextEntityTypeHashtag: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityHashtag{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeCustomEmoji: func(offset, length int, entity otogi.TextEntity) (tg.MessageEntityClass, error) {
		documentID, err := parseEntityID("custom emoji", entity.CustomEmojiID)
		if err != nil {
			return nil, err
		}
		return &tg.MessageEntityCustomEmoji{Offset: offset, Length: length, DocumentID: documentID}, nil
	},
	otogi.TextEntityTypeBotCommand: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityBotCommand{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeEmail: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityEmail{Offset: offset, Length: length}, nil
	},
	otogi.TextEntityTypeUnknown: func(offset, length int, _ otogi.TextEntity) (tg.MessageEntityClass, error) {
		return &tg.MessageEntityUnknown{Offset: offset, Length: length}, nil
	},
}

func mapOutboundTextEntities(text string, entities []otogi.TextEntity) ([]tg.MessageEntityClass, error) {
	if len(entities) == 0 {
		return nil, nil
	}

	index := newCodeUnitIndex(text)
	out := make([]tg.MessageEntityClass, 0, len(entities))
	for position, entity := range entities {
		start, end := entity.Offset, entity.Offset+entity.Length
		if start < 0 || end < start || end > index.runes() {
			return nil, fmt.Errorf("entity[%d]: range [%d,%d) outside %d code points",
				position, start, end, index.runes())
		}
		build, ok := outboundEntityBuilders[entity.Type]
		if !ok {
			return nil, fmt.Errorf("entity[%d]: %w: type %q", position, otogi.ErrOutboundUnsupported, entity.Type)
		}

		mapped, err := build(index[start], index[end]-index[start], entity)
		if err != nil {
			return nil, fmt.Errorf("entity[%d]: %w", position, err)
		}
		out = append(out, mapped)
	}

	return out, nil
}

func parseEntityID(field, raw string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %s id %q", otogi.ErrInvalidOutboundRequest, field, raw)
	}

	return id, nil
}
