package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"receiptmanager/utils"
)

type MongoStore struct {
	db *mongo.Database
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{db: db}
}

// EnsureIndexes creates the indexes the services query by.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	fileIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "fullPath", Value: 1}}},
		{Keys: bson.D{{Key: "parentPath", Value: 1}}},
	}
	if _, err := s.db.Collection(CollectionFiles).Indexes().CreateMany(ctx, fileIndexes); err != nil {
		return fmt.Errorf("failed to create file indexes: %w", err)
	}

	requestIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "requestedAt", Value: -1}}},
	}
	if _, err := s.db.Collection(CollectionRequests).Indexes().CreateMany(ctx, requestIndexes); err != nil {
		return fmt.Errorf("failed to create request indexes: %w", err)
	}

	favoriteIndexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "userId", Value: 1}}},
	}
	if _, err := s.db.Collection(CollectionFavorites).Indexes().CreateMany(ctx, favoriteIndexes); err != nil {
		return fmt.Errorf("failed to create favorite indexes: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateDocument(ctx context.Context, collection string, data interface{}) (string, error) {
	doc, err := Encode(data)
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	doc["_id"] = id

	if _, err := s.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to insert into %s: %w", collection, err)
	}
	return id, nil
}

func (s *MongoStore) GetDocument(ctx context.Context, collection, id string) (*Document, error) {
	var doc bson.M
	err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return nil, fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s/%s: %w", collection, id, err)
	}
	return toDocument(doc), nil
}

func (s *MongoStore) SetDocument(ctx context.Context, collection, id string, data interface{}, merge bool) error {
	doc, err := Encode(data)
	if err != nil {
		return err
	}
	delete(doc, "_id")
	coll := s.db.Collection(collection)

	if merge {
		_, err = coll.UpdateByID(ctx, id, bson.M{"$set": doc}, options.Update().SetUpsert(true))
	} else {
		_, err = coll.ReplaceOne(ctx, bson.M{"_id": id}, doc, options.Replace().SetUpsert(true))
	}
	if err != nil {
		return fmt.Errorf("failed to write %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *MongoStore) UpdateDocument(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	set := bson.M{}
	unset := bson.M{}
	for path, value := range fields {
		if value == DeleteField {
			unset[path] = ""
			continue
		}
		set[path] = value
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	if len(update) == 0 {
		_, err := s.GetDocument(ctx, collection, id)
		return err
	}

	result, err := s.db.Collection(collection).UpdateByID(ctx, id, update)
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if result.MatchedCount == 0 {
		return fmt.Errorf("%s/%s: %w", collection, id, ErrDocumentNotFound)
	}
	return nil
}

func (s *MongoStore) DeleteDocument(ctx context.Context, collection, id string) error {
	if _, err := s.db.Collection(collection).DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

func (s *MongoStore) QueryEquals(ctx context.Context, collection string, filters []FieldFilter, limit int) ([]Document, error) {
	filter := bson.D{}
	for _, f := range filters {
		filter = append(filter, bson.E{Key: f.Field, Value: f.Value})
	}

	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cursor, err := s.db.Collection(collection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}
	defer cursor.Close(ctx)

	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(raw))
	for _, doc := range raw {
		docs = append(docs, *toDocument(doc))
	}
	return docs, nil
}

type changeEvent struct {
	OperationType string `bson:"operationType"`
	FullDocument  bson.M `bson:"fullDocument"`
	DocumentKey   struct {
		ID string `bson:"_id"`
	} `bson:"documentKey"`
}

// SubscribeCollection is backed by a change stream, which requires the
// server to run as a replica set.
func (s *MongoStore) SubscribeCollection(ctx context.Context, collection string, fn func(Snapshot)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	coll := s.db.Collection(collection)

	stream, err := coll.Watch(ctx, mongo.Pipeline{}, options.ChangeStream().SetFullDocument(options.UpdateLookup))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to watch %s: %w", collection, err)
	}

	initial, err := s.QueryEquals(ctx, collection, nil, 0)
	if err != nil {
		stream.Close(context.Background())
		cancel()
		return nil, err
	}

	go func() {
		defer stream.Close(context.Background())

		snap := Snapshot{Collection: collection}
		for _, doc := range initial {
			snap.Changes = append(snap.Changes, Change{Type: ChangeAdded, Document: doc})
		}
		fn(snap)

		for stream.Next(ctx) {
			var event changeEvent
			if err := stream.Decode(&event); err != nil {
				utils.LogError("Failed to decode change event", err)
				continue
			}

			change := Change{Document: Document{ID: event.DocumentKey.ID, Data: bson.M{}}}
			switch event.OperationType {
			case "insert":
				change.Type = ChangeAdded
			case "update", "replace":
				change.Type = ChangeModified
			case "delete":
				change.Type = ChangeRemoved
			default:
				continue
			}
			if event.FullDocument != nil {
				change.Document = *toDocument(event.FullDocument)
			}
			fn(Snapshot{Collection: collection, Changes: []Change{change}})
		}
		if err := stream.Err(); err != nil && !errors.Is(err, context.Canceled) {
			utils.LogError("Change stream for "+collection+" stopped", err)
		}
	}()

	return cancel, nil
}

func toDocument(doc bson.M) *Document {
	id, _ := doc["_id"].(string)
	delete(doc, "_id")
	return &Document{ID: id, Data: doc}
}
