package memory

import "ex-snipe/pkg/otogi"

func cloneMemory(memory otogi.Memory) otogi.Memory {
	cloned := memory
	cloned.Article = cloneArticle(memory.Article)

	return cloned
}

func cloneArticle(article otogi.Article) otogi.Article {
	cloned := article
	cloned.Entities = cloneEntities(article.Entities)
	cloned.Media = cloneMediaAttachments(article.Media)

	return cloned
}

func cloneEntities(entities []otogi.TextEntity) []otogi.TextEntity {
	if len(entities) == 0 {
		return nil
	}

	return append([]otogi.TextEntity(nil), entities...)
}

func cloneMediaAttachments(media []otogi.MediaAttachment) []otogi.MediaAttachment {
	if len(media) == 0 {
		return nil
	}

	return append([]otogi.MediaAttachment(nil), media...)
}
