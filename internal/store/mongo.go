package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/basekick-labs/docbench/pkg/models"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoBackend is a single MongoDB collection.
type MongoBackend struct {
	client     *mongo.Client
	collection *mongo.Collection
	logger     zerolog.Logger
}

// NewMongoBackend connects to uri and opens database.collection.
func NewMongoBackend(ctx context.Context, uri, database, collection string, logger zerolog.Logger) (*MongoBackend, error) {
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	b := &MongoBackend{
		client:     client,
		collection: client.Database(database).Collection(collection),
		logger:     logger.With().Str("component", "mongo-backend").Logger(),
	}

	b.logger.Info().
		Str("database", database).
		Str("collection", collection).
		Msg("Mongo backend initialized")

	return b, nil
}

func (b *MongoBackend) EnsureIndexes(ctx context.Context) error {
	_, err := b.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "data.id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "data.notUnique", Value: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

func (b *MongoBackend) Insert(ctx context.Context, rec *models.Record) error {
	if _, err := b.collection.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %w", ErrDuplicate, err)
		}
		return err
	}
	return nil
}

func (b *MongoBackend) FindOne(ctx context.Context, q models.Query) (*models.Record, error) {
	filter := bson.D{}
	if q.ID != "" {
		filter = append(filter, bson.E{Key: "data.id", Value: q.ID})
	}
	if q.NotUnique != "" {
		filter = append(filter, bson.E{Key: "data.notUnique", Value: q.NotUnique})
	}
	if len(filter) == 0 {
		return nil, models.ErrMissingKey
	}

	opts := options.FindOne().SetProjection(bson.D{{Key: "_id", Value: 0}})

	var rec models.Record
	err := b.collection.FindOne(ctx, filter, opts).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *MongoBackend) Count(ctx context.Context) (uint64, error) {
	n, err := b.collection.CountDocuments(ctx, bson.D{})
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (b *MongoBackend) DeleteAll(ctx context.Context) error {
	_, err := b.collection.DeleteMany(ctx, bson.D{})
	return err
}

func (b *MongoBackend) Type() string { return "mongo" }

func (b *MongoBackend) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return b.client.Disconnect(ctx)
}
