package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/IshaanNene/webstalk/internal/types"
)

// MongoStorage writes items to a MongoDB collection.
type MongoStorage struct {
	client     *mongo.Client
	collection *mongo.Collection
	mu         sync.Mutex
	count      int
	logger     *slog.Logger
}

// NewMongoStorage creates a new MongoDB storage backend.
func NewMongoStorage(uri, database, collection string, logger *slog.Logger) (*MongoStorage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	coll := client.Database(database).Collection(collection)
	idxCtx, idxCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer idxCancel()
	if _, err := coll.Indexes().CreateOne(idxCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "_checksum", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return nil, fmt.Errorf("mongodb index: %w", err)
	}

	return &MongoStorage{
		client:     client,
		collection: coll,
		logger:     logger.With("component", "mongo_storage"),
	}, nil
}

func (s *MongoStorage) Name() string { return "mongodb" }

// Store upserts each item keyed by its content checksum, computing one
// when the item doesn't already carry one. Checkpoint resume re-enqueues
// and re-scrapes pages the crawl had already stored results for; an
// upsert keeps re-delivery idempotent instead of duplicating documents.
func (s *MongoStorage) Store(items []*types.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	models := make([]mongo.WriteModel, len(items))
	for i, item := range items {
		if item.Checksum == "" {
			item.Checksum = itemChecksum(item)
		}

		doc := make(map[string]any, len(item.Fields)+4)
		doc["_checksum"] = item.Checksum
		doc["_source_url"] = item.URL
		doc["_timestamp"] = item.Timestamp
		doc["_spider"] = item.SpiderName
		for k, v := range item.Fields {
			doc[k] = v
		}

		models[i] = mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_checksum": item.Checksum}).
			SetUpdate(bson.M{"$set": doc}).
			SetUpsert(true)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	result, err := s.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return fmt.Errorf("mongodb bulk upsert: %w", err)
	}

	s.count += len(items)
	s.logger.Debug("items stored in mongodb", "count", len(items), "inserted", result.UpsertedCount, "modified", result.ModifiedCount, "total", s.count)
	return nil
}

// itemChecksum derives a stable content hash from an item's source URL and
// field values, sorting field names first so map iteration order never
// changes the result.
func itemChecksum(item *types.Item) string {
	keys := item.Keys()
	sort.Strings(keys)

	h := sha256.New()
	h.Write([]byte(item.URL))
	for _, k := range keys {
		h.Write([]byte{0})
		h.Write([]byte(k))
		h.Write([]byte{0})
		fmt.Fprintf(h, "%v", item.Fields[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *MongoStorage) Close() error {
	s.logger.Info("mongodb storage closing", "total_items", s.count)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// --- Multi-Storage Fan-Out ---

// MultiStorage writes items to multiple backends simultaneously.
type MultiStorage struct {
	backends []Storage
	logger   *slog.Logger
}

// NewMultiStorage creates a storage that fans out to multiple backends.
func NewMultiStorage(backends []Storage, logger *slog.Logger) *MultiStorage {
	return &MultiStorage{
		backends: backends,
		logger:   logger.With("component", "multi_storage"),
	}
}

func (s *MultiStorage) Name() string { return "multi" }

func (s *MultiStorage) Store(items []*types.Item) error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Store(items); err != nil {
			s.logger.Error("backend store failed", "backend", backend.Name(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *MultiStorage) Close() error {
	var firstErr error
	for _, backend := range s.backends {
		if err := backend.Close(); err != nil {
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
