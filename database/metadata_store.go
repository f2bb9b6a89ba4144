// Package database is the document store holding file metadata, pending
// requests, folder labels and favorites.
package database

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

var ErrDocumentNotFound = errors.New("document not found")

const (
	CollectionFiles        = "files"
	CollectionRequests     = "requests"
	CollectionFolderLabels = "folderLabels"
	CollectionFavorites    = "favorites"
	CollectionUsers        = "users"
)

// Document is a stored document with its id split from the body.
type Document struct {
	ID   string
	Data bson.M
}

// FieldFilter matches documents whose (possibly dotted) Field equals Value.
type FieldFilter struct {
	Field string
	Value interface{}
}

type ChangeType string

const (
	ChangeAdded    ChangeType = "added"
	ChangeModified ChangeType = "modified"
	ChangeRemoved  ChangeType = "removed"
)

type Change struct {
	Type     ChangeType
	Document Document
}

// Snapshot is one delivery to a collection subscriber.
type Snapshot struct {
	Collection string
	Changes    []Change
}

type deleteField struct{}

// DeleteField, used as a value in UpdateDocument, removes the field.
var DeleteField = deleteField{}

type MetadataStore interface {
	// CreateDocument stores data under a generated id and returns the id.
	CreateDocument(ctx context.Context, collection string, data interface{}) (string, error)
	GetDocument(ctx context.Context, collection, id string) (*Document, error)
	// SetDocument writes data under id. With merge, top-level fields are
	// merged into an existing document; without it the document is replaced.
	SetDocument(ctx context.Context, collection, id string, data interface{}, merge bool) error
	// UpdateDocument patches fields addressed by dotted paths. It fails with
	// ErrDocumentNotFound when the document does not exist.
	UpdateDocument(ctx context.Context, collection, id string, fields map[string]interface{}) error
	// DeleteDocument succeeds when the document is already absent.
	DeleteDocument(ctx context.Context, collection, id string) error
	// QueryEquals returns documents matching every filter. No filters
	// matches all documents; limit <= 0 means unbounded.
	QueryEquals(ctx context.Context, collection string, filters []FieldFilter, limit int) ([]Document, error)
	// SubscribeCollection delivers an initial snapshot with every document
	// as added, then one snapshot per change, until ctx ends or the returned
	// function is called.
	SubscribeCollection(ctx context.Context, collection string, fn func(Snapshot)) (func(), error)
}

// Encode converts a model into the generic document form.
func Encode(v interface{}) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from a document body.
func Decode(doc bson.M, v interface{}) error {
	raw, err := bson.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := bson.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

// encodeValue normalizes a single field value the same way Encode does for
// whole documents, so stored and queried values compare equal.
func encodeValue(v interface{}) (interface{}, error) {
	doc, err := Encode(bson.M{"v": v})
	if err != nil {
		return nil, err
	}
	return doc["v"], nil
}
