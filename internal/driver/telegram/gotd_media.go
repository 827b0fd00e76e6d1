package telegram

import (
	"strconv"
	"strings"

	"ex-snipe/pkg/otogi"

	"github.com/gotd/td/tg"
)

// mapMessageMedia describes the attachment of a message. Telegram messages
// carry at most one; web previews, polls and locations are not attachments.
func mapMessageMedia(media tg.MessageMediaClass) []MediaPayload {
	var payload MediaPayload
	switch typed := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := typed.GetPhoto()
		if !ok {
			return nil
		}
		id := photo.GetID()
		if id == 0 {
			return nil
		}
		payload = MediaPayload{ID: strconv.FormatInt(id, 10), Type: otogi.MediaTypePhoto}
	case *tg.MessageMediaDocument:
		raw, ok := typed.GetDocument()
		if !ok {
			return nil
		}
		document, ok := raw.(*tg.Document)
		if !ok {
			return nil
		}
		payload = describeDocument(document)
	default:
		return nil
	}

	return []MediaPayload{payload}
}

func describeDocument(document *tg.Document) MediaPayload {
	payload := MediaPayload{
		ID:        strconv.FormatInt(document.ID, 10),
		MIMEType:  document.MimeType,
		SizeBytes: document.Size,
	}

	for _, attribute := range document.Attributes {
		switch typed := attribute.(type) {
		case *tg.DocumentAttributeFilename:
			payload.FileName = typed.FileName
		case *tg.DocumentAttributeSticker:
			payload.Type = otogi.MediaTypeSticker
		case *tg.DocumentAttributeAudio:
			if payload.Type == "" {
				payload.Type = otogi.MediaTypeAudio
			}
		case *tg.DocumentAttributeVideo:
			if payload.Type == "" {
				payload.Type = otogi.MediaTypeVideo
			}
		}
	}
	if payload.Type == "" {
		payload.Type = mediaTypeFromMIME(document.MimeType)
	}

	return payload
}

func mediaTypeFromMIME(mimeType string) otogi.MediaType {
	major, _, _ := strings.Cut(mimeType, "/")
	switch major {
	case "image":
		return otogi.MediaTypePhoto
	case "video":
		return otogi.MediaTypeVideo
	case "audio":
		return otogi.MediaTypeAudio
	default:
		return otogi.MediaTypeDocument
	}
}
