package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ajitpratap0/cityscope/internal/models"
)

// MongoStore implements Store on a MongoDB collection. The client is
// created on first use, reused by every later call and released by Close.
type MongoStore struct {
	uri      string
	database string
	collName string
	logger   *slog.Logger

	mu     sync.Mutex
	client *mongo.Client
	coll   *mongo.Collection
	closed bool
}

// NewMongoStore returns a store that connects lazily to uri.
func NewMongoStore(uri, database, collection string, logger *slog.Logger) *MongoStore {
	return &MongoStore{
		uri:      uri,
		database: database,
		collName: collection,
		logger:   logger,
	}
}

// collection returns the memoised collection handle, connecting on first use.
func (s *MongoStore) collection(ctx context.Context) (*mongo.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("mongo store is closed")
	}
	if s.coll != nil {
		return s.coll, nil
	}

	cctx, cancel := withTimeout(ctx, connectTimeout)
	defer cancel()
	client, err := mongo.Connect(cctx, options.Client().ApplyURI(s.uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to MongoDB: %w", err)
	}
	if err := client.Ping(cctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("verifying MongoDB connection: %w", err)
	}

	s.client = client
	s.coll = client.Database(s.database).Collection(s.collName)
	s.logger.Info("created new database connection", "database", s.database, "collection", s.collName)
	return s.coll, nil
}

func (s *MongoStore) List(ctx context.Context) ([]models.City, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, readTimeout)
	defer cancel()

	cur, err := coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("listing cities: %w", err)
	}
	cities := []models.City{}
	if err := cur.All(ctx, &cities); err != nil {
		return nil, fmt.Errorf("decoding cities: %w", err)
	}
	for i := range cities {
		cities[i].Status = cities[i].Status.Normalize()
	}
	return cities, nil
}

func (s *MongoStore) Get(ctx context.Context, id string) (*models.City, error) {
	coll, err := s.collection(ctx)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, readTimeout)
	defer cancel()

	var c models.City
	if err := coll.FindOne(ctx, bson.M{"_id": id}).Decode(&c); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("getting city %s: %w", id, err)
	}
	c.Status = c.Status.Normalize()
	return &c, nil
}

func (s *MongoStore) Create(ctx context.Context, city models.City) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, writeTimeout)
	defer cancel()

	city.Status = city.Status.Normalize()
	if _, err := coll.InsertOne(ctx, city); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrConflict, city.ID)
		}
		return fmt.Errorf("inserting city %s: %w", city.ID, err)
	}
	s.logger.Debug("inserted city", "id", city.ID)
	return nil
}

func (s *MongoStore) Delete(ctx context.Context, id string) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := coll.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("deleting city %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.logger.Debug("deleted city", "id", id)
	return nil
}

func (s *MongoStore) MarkPending(ctx context.Context, id string) error {
	return s.updateOne(ctx, id, bson.M{
		"$set":   bson.M{"status": models.StatusPending},
		"$unset": bson.M{"error": ""},
	})
}

func (s *MongoStore) SetReady(ctx context.Context, id string, content models.CityContent, at time.Time) error {
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{
			"status":        models.StatusReady,
			"content":       content,
			"lastRefreshed": at,
		},
		"$unset": bson.M{"error": ""},
	})
}

func (s *MongoStore) SetError(ctx context.Context, id string, msg string) error {
	return s.updateOne(ctx, id, bson.M{
		"$set": bson.M{"status": models.StatusError, "error": msg},
	})
}

func (s *MongoStore) UpdateContent(ctx context.Context, id string, prev *time.Time, content models.CityContent, at time.Time) error {
	filter := bson.M{"_id": id, "lastRefreshed": nil}
	if prev != nil {
		filter["lastRefreshed"] = *prev
	}
	err := s.updateWhere(ctx, id, filter, bson.M{
		"$set": bson.M{"content": content, "lastRefreshed": at},
	})
	if !errors.Is(err, ErrNotFound) {
		return err
	}
	if _, getErr := s.Get(ctx, id); getErr != nil {
		return getErr
	}
	return fmt.Errorf("%w: %s", ErrStale, id)
}

func (s *MongoStore) updateOne(ctx context.Context, id string, update bson.M) error {
	return s.updateWhere(ctx, id, bson.M{"_id": id}, update)
}

func (s *MongoStore) updateWhere(ctx context.Context, id string, filter, update bson.M) error {
	coll, err := s.collection(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, writeTimeout)
	defer cancel()

	res, err := coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("updating city %s: %w", id, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close disconnects the client if one was created. Later calls fail.
func (s *MongoStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.client == nil {
		return nil
	}
	ctx, cancel := withTimeout(context.Background(), connectTimeout)
	defer cancel()
	err := s.client.Disconnect(ctx)
	s.client, s.coll = nil, nil
	if err != nil {
		return fmt.Errorf("disconnecting from MongoDB: %w", err)
	}
	return nil
}
