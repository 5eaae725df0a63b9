// Package mongodb provides a Store backend on MongoDB for deployments
// that already run Mongo instead of Redis. Expiry uses a TTL index on the
// expires_at field; Mongo's reaper runs roughly once a minute, so reads
// re-check expiry themselves.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/v2/mongo/otelmongo"

	"github.com/agile6/mcp-auth-gateway/kv"
)

const kvCollection = "gateway_kv"

type entry struct {
	Key       string     `bson:"_id"`
	Value     []byte     `bson:"value"`
	ExpiresAt *time.Time `bson:"expires_at,omitempty"`
}

// Store implements kv.Store on a single Mongo collection keyed by _id.
type Store struct {
	coll *mongo.Collection
}

// Connect dials Mongo, verifies the connection with a ping and ensures the
// TTL index. The returned client must be disconnected by the caller on
// shutdown.
func Connect(ctx context.Context, uri, dbName string) (*mongo.Client, *Store, error) {
	clientOptions := options.Client().ApplyURI(uri)
	clientOptions.SetConnectTimeout(10 * time.Second)
	clientOptions.SetMonitor(otelmongo.NewMonitor())

	client, err := mongo.Connect(clientOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, fmt.Errorf("mongo ping: %w", err)
	}

	store := &Store{coll: client.Database(dbName).Collection(kvCollection)}
	if err := store.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, nil, err
	}
	return client, store, nil
}

// NewStore wraps an existing database handle; used by tests.
func NewStore(db *mongo.Database) *Store {
	return &Store{coll: db.Collection(kvCollection)}
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("mongo ttl index: %w", err)
	}
	return nil
}

func expired(e *entry) bool {
	return e.ExpiresAt != nil && time.Now().After(*e.ExpiresAt)
}

// Get implements kv.Store.Get.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	var e entry
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, kv.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongo get %q: %w", key, err)
	}
	if expired(&e) {
		// Not yet reaped by the TTL monitor.
		return nil, kv.ErrNotFound
	}
	return e.Value, nil
}

// Put implements kv.Store.Put.
func (s *Store) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{Key: key, Value: value}
	if ttl > 0 {
		exp := time.Now().Add(ttl)
		e.ExpiresAt = &exp
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": key}, e, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("mongo put %q: %w", key, err)
	}
	return nil
}

// Delete implements kv.Store.Delete.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.coll.DeleteOne(ctx, bson.M{"_id": key}); err != nil {
		return fmt.Errorf("mongo delete %q: %w", key, err)
	}
	return nil
}

// ListByPrefix implements kv.Store.ListByPrefix with an anchored regex so
// the _id index is used.
func (s *Store) ListByPrefix(ctx context.Context, prefix string) (map[string][]byte, error) {
	filter := bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}}
	cur, err := s.coll.Find(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("mongo list %q: %w", prefix, err)
	}
	defer cur.Close(ctx)

	out := make(map[string][]byte)
	for cur.Next(ctx) {
		var e entry
		if err := cur.Decode(&e); err != nil {
			return nil, fmt.Errorf("mongo decode %q: %w", prefix, err)
		}
		if expired(&e) {
			continue
		}
		out[e.Key] = e.Value
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo cursor %q: %w", prefix, err)
	}
	return out, nil
}

var _ kv.Store = (*Store)(nil)
