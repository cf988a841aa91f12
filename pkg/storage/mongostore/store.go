// Package mongostore is a MongoDB backed CredentialStore.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/storage"
)

const usersCollection = "users"

// Config holds MongoDB connection settings.
type Config struct {
	URI         string
	Database    string
	MinPoolSize uint64
	MaxPoolSize uint64
	Timeout     time.Duration
}

// DefaultConfig returns defaults for a local MongoDB.
func DefaultConfig() Config {
	return Config{
		URI:         "mongodb://localhost:27017",
		Database:    "facelogin",
		MinPoolSize: 2,
		MaxPoolSize: 10,
		Timeout:     15 * time.Second,
	}
}

// Store keeps one document per user in the users collection, with a
// unique index on username.
type Store struct {
	client *mongo.Client
	users  *mongo.Collection
	now    func() time.Time
}

var _ storage.CredentialStore = (*Store)(nil)

// New connects to MongoDB and ensures indexes exist.
func New(cfg Config) (*Store, error) {
	if cfg.URI == "" {
		return nil, errors.New("mongo uri missing")
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	clientOpts := options.Client().ApplyURI(cfg.URI)
	clientOpts.SetMinPoolSize(cfg.MinPoolSize)
	clientOpts.SetMaxPoolSize(cfg.MaxPoolSize)

	client, err := mongo.Connect(ctx, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageAccess, err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageAccess, err)
	}

	s := &Store{
		client: client,
		users:  client.Database(cfg.Database).Collection(usersCollection),
		now:    time.Now,
	}
	if err := s.setUpIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	logging.Info("connected to mongodb successfully")
	return s, nil
}

func (s *Store) setUpIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateMany(ctx, []mongo.IndexModel{{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	}})
	if err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	n, err := s.users.CountDocuments(ctx, bson.M{"username": username}, options.Count().SetLimit(1))
	if err != nil {
		return false, accessErr(err)
	}
	return n > 0, nil
}

func (s *Store) Create(ctx context.Context, username, passwordHash string) (storage.Identity, error) {
	rec := storage.NewPendingRecord(username, passwordHash, s.now())

	if _, err := s.users.InsertOne(ctx, rec); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return "", storage.ErrDuplicateUsername
		}
		return "", accessErr(err)
	}

	logging.Debugf("Created pending record %s for: %s", rec.ID, username)
	return rec.ID, nil
}

func (s *Store) AttachReference(ctx context.Context, id storage.Identity, ref storage.Reference) error {
	if err := ref.Embedding.Validate(); err != nil {
		return err
	}

	res, err := s.users.UpdateOne(ctx,
		bson.M{"_id": id, "state": storage.StatePending},
		bson.M{"$set": bson.M{
			"reference_handle": ref.Handle,
			"embedding":        ref.Embedding,
			"encoder_version":  ref.EncoderVersion,
			"state":            storage.StateActive,
			"updated_at":       s.now(),
		}},
	)
	if err != nil {
		return accessErr(err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	n, err := s.users.CountDocuments(ctx, bson.M{"_id": id})
	if err != nil {
		return accessErr(err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return storage.ErrAlreadyFinalized
}

func (s *Store) Delete(ctx context.Context, id storage.Identity) error {
	res, err := s.users.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return accessErr(err)
	}
	if res.DeletedCount == 0 {
		return storage.ErrNotFound
	}
	logging.Debugf("Deleted record %s", id)
	return nil
}

func (s *Store) Lookup(ctx context.Context, username string) (*storage.Record, error) {
	var rec storage.Record
	err := s.users.FindOne(ctx, bson.M{"username": username, "state": storage.StateActive}).Decode(&rec)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, storage.ErrNotFound
		}
		return nil, accessErr(err)
	}
	return &rec, nil
}

func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	cur, err := s.users.Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "username", Value: 1}}))
	if err != nil {
		return nil, accessErr(err)
	}

	var out []storage.Record
	if err := cur.All(ctx, &out); err != nil {
		return nil, accessErr(err)
	}
	return out, nil
}

func accessErr(err error) error {
	return fmt.Errorf("%w: %v", storage.ErrStorageAccess, err)
}
