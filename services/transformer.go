package services

import (
	"fmt"
	"unicode/utf8"

	"github.com/sreyakumar/metadata-embeddings/models"
)

// Transformer turns one source record into chunks ready for embedding.
type Transformer struct {
	splitter *JSONSplitter
}

// NewTransformer creates a Transformer with the given token budget.
func NewTransformer(tokenLimit int) *Transformer {
	return &Transformer{splitter: NewJSONSplitter(tokenLimit)}
}

// TokenLimit returns the chunk budget.
func (t *Transformer) TokenLimit() int {
	return t.splitter.MaxChunkSize()
}

// Transform splits the record's embeddable sections and wraps every
// fragment with the record's metadata. Fragments that are still over the
// budget come back separately and must not be embedded. A record without
// embeddable sections yields no chunks.
func (t *Transformer) Transform(doc models.SourceDocument) (chunks []models.Chunk, oversized []models.Chunk, err error) {
	partition := Classify(doc)

	toEmbed := make(map[string]interface{}, len(partition.EmbedFields))
	for name := range partition.EmbedFields {
		toEmbed[name] = doc.Fields[name]
	}

	metadata := make(map[string]interface{}, len(partition.MetadataFields))
	for name := range partition.MetadataFields {
		switch name {
		case models.OriginalIDKey:
			if doc.ID != nil {
				metadata[name] = doc.ID
			} else {
				metadata[name] = doc.Fields["_id"]
			}
		case models.SubjectIDKey:
			metadata[name] = subjectID(doc.Fields)
		case models.ModalityKey:
			metadata[name] = modality(doc.Fields)
		default:
			metadata[name] = doc.Fields[name]
		}
	}

	if len(toEmbed) == 0 {
		return nil, nil, nil
	}

	fragments, err := t.splitter.Split(toEmbed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to split document %v: %w", doc.ID, err)
	}

	for _, fragment := range fragments {
		chunk := models.Chunk{PageContent: fragment, Metadata: metadata}
		if utf8.RuneCountInString(fragment) <= t.TokenLimit() {
			chunks = append(chunks, chunk)
		} else {
			oversized = append(oversized, chunk)
		}
	}

	return chunks, oversized, nil
}
