package models

import (
	"bytes"
	"encoding/json"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SourceDocument is one metadata record read from the source collection.
// ID keeps the native BSON _id so it can be matched against the destination;
// Fields is the relaxed Extended JSON view used for chunking.
type SourceDocument struct {
	ID     interface{}
	Fields map[string]interface{}
}

// NewSourceDocument builds a SourceDocument from an already JSON-shaped map.
func NewSourceDocument(fields map[string]interface{}) SourceDocument {
	return SourceDocument{ID: fields["_id"], Fields: fields}
}

// SourceDocumentFromBSON converts a raw Mongo document to its relaxed
// Extended JSON form: ObjectIDs and dates become {"$oid": ...} / {"$date": ...}
// objects, everything else stays plain JSON. Numbers are kept as json.Number
// so large integers survive re-serialization.
func SourceDocumentFromBSON(raw bson.Raw) (SourceDocument, error) {
	ext, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return SourceDocument{}, fmt.Errorf("failed to convert document to extended json: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(ext))
	dec.UseNumber()

	var fields map[string]interface{}
	if err := dec.Decode(&fields); err != nil {
		return SourceDocument{}, fmt.Errorf("failed to decode extended json: %w", err)
	}

	idValue, err := raw.LookupErr("_id")
	if err != nil {
		return SourceDocument{}, fmt.Errorf("document has no _id: %w", err)
	}

	id, err := RawID(idValue)
	if err != nil {
		return SourceDocument{}, err
	}

	return SourceDocument{ID: id, Fields: fields}, nil
}

// RawID decodes a raw BSON _id into its native Go value (primitive.ObjectID,
// string, int32, ...).
func RawID(v bson.RawValue) (interface{}, error) {
	var id interface{}
	if err := v.Unmarshal(&id); err != nil {
		return nil, fmt.Errorf("failed to decode _id: %w", err)
	}
	return id, nil
}

// Name returns the record's name field, or "" when it is missing or not a string.
func (d SourceDocument) Name() string {
	name, _ := d.Fields["name"].(string)
	return name
}

// IDKey returns a comparable key for a source _id. Source _ids and
// destination original_ids must go through the same function.
func IDKey(id interface{}) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return "s:" + v
	case primitive.ObjectID:
		return "o:" + v.Hex()
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}
