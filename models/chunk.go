package models

// Chunk is a bounded-size fragment of a document's embeddable fields plus
// the metadata copied from the rest of the document. Every chunk cut from
// the same document shares the same Metadata map.
type Chunk struct {
	PageContent string                 `json:"page_content"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// OriginalID returns the source _id the chunk was cut from.
func (c Chunk) OriginalID() interface{} {
	return c.Metadata[OriginalIDKey]
}

// Metadata keys every chunk carries.
const (
	OriginalIDKey = "original_id"
	SubjectIDKey  = "subject_id"
	ModalityKey   = "modality"

	// MissingValue is stored when a derived metadata value cannot be found.
	MissingValue = "null"
)

// Keys used for chunk records in the vector collection. They match the
// layout DocumentDB vector search clients expect.
const (
	TextKey      = "textContent"
	EmbeddingKey = "vectorContent"
	ChunkIDKey   = "chunk_id"
)

// SearchResult is one hit returned by a similarity query.
type SearchResult struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score,omitempty"`
}
