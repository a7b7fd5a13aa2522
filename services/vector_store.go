package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sreyakumar/metadata-embeddings/internal/ai"
	"github.com/sreyakumar/metadata-embeddings/internal/logger"
	"github.com/sreyakumar/metadata-embeddings/internal/telemetry"
	"github.com/sreyakumar/metadata-embeddings/models"
)

// Server error codes returned when an index with the same name exists
// with different options.
const (
	codeIndexOptionsConflict  = 85
	codeIndexKeySpecsConflict = 86
)

// DocumentDBVectorStore stores embedded chunks in a DocumentDB collection
// and builds its HNSW vector index.
type DocumentDBVectorStore struct {
	collection *mongo.Collection
	embedder   ai.Embedder
	indexName  string
	similarity string
	batchSize  int32
	metrics    *telemetry.Metrics
}

func NewDocumentDBVectorStore(collection *mongo.Collection, embedder ai.Embedder, indexName, similarity string, metrics *telemetry.Metrics) *DocumentDBVectorStore {
	return &DocumentDBVectorStore{
		collection: collection,
		embedder:   embedder,
		indexName:  indexName,
		similarity: similarity,
		batchSize:  1000,
		metrics:    metrics,
	}
}

// IngestedIDs streams the distinct original_id values. A $group pipeline
// is used instead of distinct so the result is not bound by the 16MB
// single-reply limit.
func (s *DocumentDBVectorStore) IngestedIDs(ctx context.Context) (map[string]struct{}, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.D{{Key: "_id", Value: "$" + models.OriginalIDKey}}}},
	}
	opts := options.Aggregate().SetAllowDiskUse(true).SetBatchSize(s.batchSize)

	cursor, err := s.collection.Aggregate(ctx, pipeline, opts)
	s.metrics.RecordDatabaseOperation(ctx, "aggregate", s.collection.Name(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read ingested ids: %w", err)
	}
	defer cursor.Close(ctx)

	ids := make(map[string]struct{})
	for cursor.Next(ctx) {
		raw, err := cursor.Current.LookupErr("_id")
		if err != nil {
			continue
		}
		id, err := models.RawID(raw)
		if err != nil {
			logger.Warn("Skipping undecodable original_id", "error", err)
			continue
		}
		key := models.IDKey(id)
		if key == "" {
			continue
		}
		ids[key] = struct{}{}
	}
	return ids, cursor.Err()
}

// AddChunks embeds the chunk texts and inserts one record per chunk.
func (s *DocumentDBVectorStore) AddChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.PageContent
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed batch: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	docs := make([]interface{}, len(chunks))
	for i, c := range chunks {
		record, err := chunkRecord(c)
		if err != nil {
			return err
		}
		record = append(record,
			bson.E{Key: models.ChunkIDKey, Value: uuid.NewString()},
			bson.E{Key: models.TextKey, Value: c.PageContent},
			bson.E{Key: models.EmbeddingKey, Value: vectors[i]},
		)
		docs[i] = record
	}

	_, err = s.collection.InsertMany(ctx, docs)
	s.metrics.RecordDatabaseOperation(ctx, "insert_many", s.collection.Name(), err == nil)
	if err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

// DeleteChunks removes every chunk cut from the given source records.
func (s *DocumentDBVectorStore) DeleteChunks(ctx context.Context, originalIDs []interface{}) (int64, error) {
	if len(originalIDs) == 0 {
		return 0, nil
	}

	filter := bson.D{{Key: models.OriginalIDKey, Value: bson.D{{Key: "$in", Value: originalIDs}}}}
	res, err := s.collection.DeleteMany(ctx, filter)
	s.metrics.RecordDatabaseOperation(ctx, "delete_many", s.collection.Name(), err == nil)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return res.DeletedCount, nil
}

// CreateIndex builds the HNSW vector index over the embedding field. An
// existing index with the same name but other options is dropped and rebuilt.
func (s *DocumentDBVectorStore) CreateIndex(ctx context.Context, dimensions int, similarity string) error {
	if similarity == "" {
		similarity = s.similarity
	}

	err := s.runCreateIndex(ctx, dimensions, similarity)
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && (cmdErr.Code == codeIndexOptionsConflict || cmdErr.Code == codeIndexKeySpecsConflict) {
		logger.Warn("Vector index exists with different options, rebuilding", "index", s.indexName)
		if _, dropErr := s.collection.Indexes().DropOne(ctx, s.indexName); dropErr != nil {
			return fmt.Errorf("failed to drop index %s: %w", s.indexName, dropErr)
		}
		err = s.runCreateIndex(ctx, dimensions, similarity)
	}
	s.metrics.RecordDatabaseOperation(ctx, "create_index", s.collection.Name(), err == nil)
	if err != nil {
		return fmt.Errorf("failed to create vector index %s: %w", s.indexName, err)
	}
	return nil
}

func (s *DocumentDBVectorStore) runCreateIndex(ctx context.Context, dimensions int, similarity string) error {
	cmd := bson.D{
		{Key: "createIndexes", Value: s.collection.Name()},
		{Key: "indexes", Value: bson.A{
			bson.D{
				{Key: "name", Value: s.indexName},
				{Key: "key", Value: bson.D{{Key: models.EmbeddingKey, Value: "vector"}}},
				{Key: "vectorOptions", Value: bson.D{
					{Key: "type", Value: "hnsw"},
					{Key: "similarity", Value: similarity},
					{Key: "dimensions", Value: dimensions},
					{Key: "m", Value: 16},
					{Key: "efConstruction", Value: 64},
				}},
			},
		}},
	}
	return s.collection.Database().RunCommand(ctx, cmd).Err()
}

// SimilaritySearch returns the k chunks nearest to the query text.
func (s *DocumentDBVectorStore) SimilaritySearch(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		k = 4
	}

	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	pipeline := mongo.Pipeline{
		{{Key: "$search", Value: bson.D{
			{Key: "vectorSearch", Value: bson.D{
				{Key: "vector", Value: vector},
				{Key: "path", Value: models.EmbeddingKey},
				{Key: "similarity", Value: s.similarity},
				{Key: "k", Value: k},
				{Key: "efSearch", Value: 40},
			}},
		}}},
		{{Key: "$project", Value: bson.D{{Key: models.EmbeddingKey, Value: 0}}}},
	}

	cursor, err := s.collection.Aggregate(ctx, pipeline)
	s.metrics.RecordDatabaseOperation(ctx, "vector_search", s.collection.Name(), err == nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	defer cursor.Close(ctx)

	var results []models.SearchResult
	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode search hit: %w", err)
		}
		results = append(results, models.SearchResult{Chunk: chunkFromRecord(doc)})
	}
	return results, cursor.Err()
}

// chunkRecord flattens the chunk metadata into a BSON document. Metadata
// values are in relaxed Extended JSON form and are converted back to their
// BSON types; original_id keeps its native value.
func chunkRecord(c models.Chunk) (bson.D, error) {
	rest := make(map[string]interface{}, len(c.Metadata))
	for k, v := range c.Metadata {
		if k != models.OriginalIDKey {
			rest[k] = v
		}
	}

	data, err := json.Marshal(rest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode chunk metadata: %w", err)
	}

	var record bson.D
	if err := bson.UnmarshalExtJSON(data, false, &record); err != nil {
		return nil, fmt.Errorf("failed to convert chunk metadata: %w", err)
	}

	sort.SliceStable(record, func(i, j int) bool { return record[i].Key < record[j].Key })
	return append(bson.D{{Key: models.OriginalIDKey, Value: c.OriginalID()}}, record...), nil
}

func chunkFromRecord(doc bson.M) models.Chunk {
	text, _ := doc[models.TextKey].(string)
	metadata := make(map[string]interface{}, len(doc))
	for k, v := range doc {
		switch k {
		case "_id", models.TextKey, models.EmbeddingKey, models.ChunkIDKey:
		default:
			metadata[k] = v
		}
	}
	return models.Chunk{PageContent: text, Metadata: metadata}
}

// OversizedStore parks fragments over the token limit in a side
// collection so they can be inspected without being embedded.
type OversizedStore struct {
	collection *mongo.Collection
	tokenLimit int
}

func NewOversizedStore(collection *mongo.Collection, tokenLimit int) *OversizedStore {
	return &OversizedStore{collection: collection, tokenLimit: tokenLimit}
}

// ParkOversized inserts the fragments with their metadata and size.
func (s *OversizedStore) ParkOversized(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	docs := make([]interface{}, len(chunks))
	for i, c := range chunks {
		record, err := chunkRecord(c)
		if err != nil {
			return err
		}
		record = append(record,
			bson.E{Key: models.TextKey, Value: c.PageContent},
			bson.E{Key: "size", Value: utf8.RuneCountInString(c.PageContent)},
			bson.E{Key: "token_limit", Value: s.tokenLimit},
		)
		docs[i] = record
	}

	_, err := s.collection.InsertMany(ctx, docs)
	if err != nil {
		return fmt.Errorf("failed to park oversized fragments: %w", err)
	}
	return nil
}
