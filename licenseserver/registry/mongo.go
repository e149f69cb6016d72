package registry

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

const defaultMongoCollection = "isul_activations"

// validCollectionName matches safe MongoDB collection names.
var validCollectionName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// MongoOption configures a MongoRegistry.
type MongoOption func(*MongoRegistry)

// WithCollectionName sets the MongoDB collection name. Default: "isul_activations".
func WithCollectionName(name string) MongoOption {
	return func(r *MongoRegistry) {
		r.collectionName = name
	}
}

// MongoRegistry implements Registry using MongoDB.
type MongoRegistry struct {
	collection     *mongo.Collection
	collectionName string
	client         *mongo.Client // set when the registry owns the connection
}

// NewMongoRegistry creates a MongoDB-backed activation registry.
// It creates the necessary indexes on initialization.
func NewMongoRegistry(ctx context.Context, db *mongo.Database, opts ...MongoOption) (*MongoRegistry, error) {
	r := &MongoRegistry{
		collectionName: defaultMongoCollection,
	}
	for _, opt := range opts {
		opt(r)
	}
	if !validCollectionName.MatchString(r.collectionName) {
		return nil, fmt.Errorf("invalid collection name %q: must match [a-zA-Z_][a-zA-Z0-9_]*", r.collectionName)
	}
	r.collection = db.Collection(r.collectionName)

	if err := r.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("create indexes: %w", err)
	}
	return r, nil
}

// OpenMongo connects to uri and returns a registry on database that
// disconnects on Close.
func OpenMongo(ctx context.Context, uri, database string, opts ...MongoOption) (*MongoRegistry, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	r, err := NewMongoRegistry(ctx, client.Database(database), opts...)
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	r.client = client
	return r, nil
}

func (r *MongoRegistry) ensureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "license_key", Value: 1},
				{Key: "fingerprint", Value: 1},
			},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "license_key", Value: 1},
				{Key: "last_seen_at", Value: 1},
			},
		},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

func (r *MongoRegistry) Register(ctx context.Context, a Activation) (*Activation, error) {
	now := time.Now()
	filter := bson.M{"license_key": a.LicenseKey, "fingerprint": a.Fingerprint}
	update := bson.M{
		"$set": bson.M{
			"product_id":   a.ProductID,
			"hostname":     a.Hostname,
			"os":           a.OS,
			"last_seen_at": now,
		},
		"$setOnInsert": bson.M{
			"_id":          a.ID,
			"activated_at": now,
		},
	}

	// FindOneAndUpdate with ReturnDocument=After gives us the actual DB values,
	// ensuring the ID and activated_at are kept for existing activations.
	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)
	var result Activation
	err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&result)
	if err != nil {
		return nil, fmt.Errorf("register activation: %w", err)
	}
	return &result, nil
}

func (r *MongoRegistry) Get(ctx context.Context, id string) (*Activation, error) {
	var a Activation
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&a)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activation: %w", err)
	}
	return &a, nil
}

func (r *MongoRegistry) Deregister(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deregister activation: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRegistry) Count(ctx context.Context, licenseKey string) (int, error) {
	count, err := r.collection.CountDocuments(ctx, bson.M{"license_key": licenseKey})
	if err != nil {
		return 0, fmt.Errorf("count activations: %w", err)
	}
	return int(count), nil
}

func (r *MongoRegistry) List(ctx context.Context, licenseKey string) ([]Activation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "activated_at", Value: 1}})
	cursor, err := r.collection.Find(ctx, bson.M{"license_key": licenseKey}, opts)
	if err != nil {
		return nil, fmt.Errorf("list activations: %w", err)
	}
	var out []Activation
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("decode activations: %w", err)
	}
	return out, nil
}

func (r *MongoRegistry) Ping(ctx context.Context, id string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"last_seen_at": time.Now()}},
	)
	if err != nil {
		return fmt.Errorf("ping activation: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoRegistry) Prune(ctx context.Context, licenseKey string, olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	result, err := r.collection.DeleteMany(ctx, bson.M{
		"license_key":  licenseKey,
		"last_seen_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, fmt.Errorf("prune activations: %w", err)
	}
	return int(result.DeletedCount), nil
}

func (r *MongoRegistry) Close(ctx context.Context) error {
	if r.client != nil {
		return r.client.Disconnect(ctx)
	}
	return nil // the caller manages the mongo.Database lifecycle
}
