package services

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sreyakumar/metadata-embeddings/models"
)

// MongoSourceStore reads metadata records from the curated assets collection.
type MongoSourceStore struct {
	collection *mongo.Collection
	batchSize  int32
}

func NewMongoSourceStore(collection *mongo.Collection, batchSize int) *MongoSourceStore {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &MongoSourceStore{collection: collection, batchSize: int32(batchSize)}
}

// ForEachID streams every _id using an _id-only projection.
func (s *MongoSourceStore) ForEachID(ctx context.Context, fn func(id interface{}) error) error {
	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetBatchSize(s.batchSize)

	cursor, err := s.collection.Find(ctx, bson.D{}, opts)
	if err != nil {
		return fmt.Errorf("failed to query source ids: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		raw, err := cursor.Current.LookupErr("_id")
		if err != nil {
			continue
		}
		id, err := models.RawID(raw)
		if err != nil {
			return err
		}
		if err := fn(id); err != nil {
			return err
		}
	}
	return cursor.Err()
}

// FetchDocuments loads full records for ids in _id order.
func (s *MongoSourceStore) FetchDocuments(ctx context.Context, ids []interface{}, fn func(doc models.SourceDocument, decodeErr error) error) error {
	if len(ids) == 0 {
		return nil
	}

	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}}
	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: 1}}).
		SetBatchSize(s.batchSize)

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("failed to fetch source documents: %w", err)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		doc, decodeErr := models.SourceDocumentFromBSON(cursor.Current)
		if decodeErr != nil {
			if raw, err := cursor.Current.LookupErr("_id"); err == nil {
				doc.ID, _ = models.RawID(raw)
			}
		}
		if err := fn(doc, decodeErr); err != nil {
			return err
		}
	}
	return cursor.Err()
}
