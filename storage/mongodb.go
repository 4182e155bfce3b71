package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ephemhq/ephem/models"
)

const mongoOpTimeout = 10 * time.Second

// MongoStore implements ResourceStore using MongoDB. All kinds share one
// resources collection with a unique compound index on (kind, slug); file
// payloads live in a separate payloads collection.
type MongoStore struct {
	client    *mongo.Client
	database  *mongo.Database
	resources *mongo.Collection
	payloads  *mongo.Collection
}

// NewMongoStore creates a new MongoDB storage backend.
func NewMongoStore(url, dbName string) (*MongoStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	database := client.Database(dbName)
	store := &MongoStore{
		client:    client,
		database:  database,
		resources: database.Collection("resources"),
		payloads:  database.Collection("payloads"),
	}

	if err := store.createIndexes(); err != nil {
		return nil, err
	}
	return store, nil
}

func (m *MongoStore) createIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// The unique index is what makes Create collision-safe: a duplicate
	// (kind, slug) insert fails instead of overwriting. No TTL index on
	// expires_at; the sweeper owns deletion so payloads are removed
	// together with their records.
	slugIndex := mongo.IndexModel{
		Keys:    bson.D{{Key: "kind", Value: 1}, {Key: "slug", Value: 1}},
		Options: options.Index().SetUnique(true),
	}
	expiresIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "expires_at", Value: 1}},
	}
	createdIndex := mongo.IndexModel{
		Keys: bson.D{{Key: "created_at", Value: -1}},
	}

	_, err := m.resources.Indexes().CreateMany(ctx, []mongo.IndexModel{
		slugIndex, expiresIndex, createdIndex,
	})
	return err
}

// Create inserts a new resource. A duplicate key error from the unique
// (kind, slug) index maps to ErrSlugTaken.
func (m *MongoStore) Create(ctx context.Context, res *models.Resource) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := m.resources.InsertOne(ctx, res)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrSlugTaken
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Get retrieves a resource by kind and slug.
func (m *MongoStore) Get(ctx context.Context, kind models.Kind, slug string) (*models.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var res models.Resource
	err := m.resources.FindOne(ctx, bson.M{"kind": kind, "slug": slug}).Decode(&res)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return &res, nil
}

// Exists reports whether a record exists for the kind and slug.
func (m *MongoStore) Exists(ctx context.Context, kind models.Kind, slug string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	count, err := m.resources.CountDocuments(ctx, bson.M{"kind": kind, "slug": slug}, options.Count().SetLimit(1))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return count > 0, nil
}

// Delete removes a resource record.
func (m *MongoStore) Delete(ctx context.Context, kind models.Kind, slug string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := m.resources.DeleteOne(ctx, bson.M{"kind": kind, "slug": slug})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// IncrementUsage performs the conditional increment as one FindOneAndUpdate:
// the ceiling filter and the $inc are a single server-side operation, so two
// concurrent calls can never both pass the check and overshoot.
func (m *MongoStore) IncrementUsage(ctx context.Context, kind models.Kind, slug string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	filter := bson.M{
		"kind": kind,
		"slug": slug,
		"$or": bson.A{
			bson.M{"usage_ceiling": bson.M{"$exists": false}},
			bson.M{"usage_ceiling": bson.M{"$lte": 0}},
			bson.M{"$expr": bson.M{"$lt": bson.A{"$usage_count", "$usage_ceiling"}}},
		},
	}
	update := bson.M{"$inc": bson.M{"usage_count": 1}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var res models.Resource
	err := m.resources.FindOneAndUpdate(ctx, filter, update, opts).Decode(&res)
	if err == nil {
		return res.UsageCount, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	// No match: either the record is gone or the ceiling filter excluded it.
	if _, getErr := m.Get(ctx, kind, slug); getErr != nil {
		return 0, getErr
	}
	return 0, ErrCeilingReached
}

func deadFilter(kind models.Kind, now time.Time) bson.M {
	return bson.M{
		"kind": kind,
		"$or": bson.A{
			bson.M{"expires_at": bson.M{"$lte": now}},
			bson.M{
				"usage_ceiling": bson.M{"$gt": 0},
				"$expr":         bson.M{"$gte": bson.A{"$usage_count", "$usage_ceiling"}},
			},
		},
	}
}

// FindDead returns up to limit expired or exhausted records of the kind.
func (m *MongoStore) FindDead(ctx context.Context, kind models.Kind, now time.Time, limit int) ([]*models.Resource, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	cursor, err := m.resources.Find(ctx, deadFilter(kind, now), options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer cursor.Close(ctx)

	var dead []*models.Resource
	if err := cursor.All(ctx, &dead); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return dead, nil
}

func (m *MongoStore) deleteMany(ctx context.Context, filter bson.M) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	result, err := m.resources.DeleteMany(ctx, filter)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result.DeletedCount, nil
}

// DeleteExpired bulk-deletes records whose expiry is at or before now.
// Records without expires_at never match.
func (m *MongoStore) DeleteExpired(ctx context.Context, kind models.Kind, now time.Time) (int64, error) {
	return m.deleteMany(ctx, bson.M{"kind": kind, "expires_at": bson.M{"$lte": now}})
}

// DeleteExhausted bulk-deletes records that have reached their ceiling.
func (m *MongoStore) DeleteExhausted(ctx context.Context, kind models.Kind) (int64, error) {
	return m.deleteMany(ctx, bson.M{
		"kind":          kind,
		"usage_ceiling": bson.M{"$gt": 0},
		"$expr":         bson.M{"$gte": bson.A{"$usage_count", "$usage_ceiling"}},
	})
}

// DeleteIdle bulk-deletes never-used records created before the given time.
func (m *MongoStore) DeleteIdle(ctx context.Context, kind models.Kind, before time.Time) (int64, error) {
	return m.deleteMany(ctx, bson.M{
		"kind":        kind,
		"usage_count": 0,
		"created_at":  bson.M{"$lt": before},
	})
}

func payloadID(kind models.Kind, slug string) string {
	return string(kind) + "/" + slug
}

// StorePayload saves out-of-band content in the payloads collection.
func (m *MongoStore) StorePayload(ctx context.Context, kind models.Kind, slug string, content []byte) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := m.payloads.ReplaceOne(ctx,
		bson.M{"_id": payloadID(kind, slug)},
		bson.M{"_id": payloadID(kind, slug), "content": content},
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// GetPayload retrieves out-of-band content.
func (m *MongoStore) GetPayload(ctx context.Context, kind models.Kind, slug string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	var doc struct {
		Content []byte `bson:"content"`
	}
	err := m.payloads.FindOne(ctx, bson.M{"_id": payloadID(kind, slug)}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return doc.Content, nil
}

// DeletePayload removes out-of-band content. Idempotent.
func (m *MongoStore) DeletePayload(ctx context.Context, kind models.Kind, slug string) error {
	ctx, cancel := context.WithTimeout(ctx, mongoOpTimeout)
	defer cancel()

	_, err := m.payloads.DeleteOne(ctx, bson.M{"_id": payloadID(kind, slug)})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Close closes the MongoDB connection.
func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), mongoOpTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
