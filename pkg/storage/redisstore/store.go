// Package redisstore is a Redis backed CredentialStore.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/storage"
)

// maxTxRetries bounds optimistic transaction retries in AttachReference.
const maxTxRetries = 8

// createScript reserves the username index and writes the pending record
// in one step. Returns 0 when the username is taken.
var createScript = redis.NewScript(`
if redis.call("SETNX", KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call("SET", KEYS[2], ARGV[2])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
  redis.call("PEXPIRE", KEYS[1], ttl)
  redis.call("PEXPIRE", KEYS[2], ttl)
end
return 1
`)

// deleteScript removes a record and its index entry, leaving the index
// alone if it already points at another identity.
var deleteScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
if redis.call("GET", KEYS[2]) == ARGV[1] then
  redis.call("DEL", KEYS[2])
end
return 1
`)

// Store is a Redis-backed implementation of storage.CredentialStore.
type Store struct {
	client *redis.Client
	cfg    Config
	now    func() time.Time
}

var _ storage.CredentialStore = (*Store)(nil)

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", storage.ErrStorageAccess, err)
	}

	logging.Infof("Connected to redis at %s", opts.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *redis.Client, cfg Config) *Store {
	return &Store{
		client: client,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) Exists(ctx context.Context, username string) (bool, error) {
	n, err := s.client.Exists(ctx, usernameIndexKey(username)).Result()
	if err != nil {
		return false, accessErr(err)
	}
	return n > 0, nil
}

func (s *Store) Create(ctx context.Context, username, passwordHash string) (storage.Identity, error) {
	rec := storage.NewPendingRecord(username, passwordHash, s.now())
	data, err := json.Marshal(rec)
	if err != nil {
		return "", err
	}

	keys := []string{usernameIndexKey(username), userKey(rec.ID)}
	ok, err := createScript.Run(ctx, s.client, keys, string(rec.ID), data, s.cfg.PendingTTL.Milliseconds()).Int()
	if err != nil {
		return "", accessErr(err)
	}
	if ok == 0 {
		return "", storage.ErrDuplicateUsername
	}

	logging.Debugf("Created pending record %s for: %s", rec.ID, username)
	return rec.ID, nil
}

func (s *Store) AttachReference(ctx context.Context, id storage.Identity, ref storage.Reference) error {
	key := userKey(id)

	attach := func(tx *redis.Tx) error {
		rec, err := getRecord(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := rec.Finalize(ref, s.now()); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.Persist(ctx, usernameIndexKey(rec.Username))
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, attach, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !isDomainErr(err) {
			return accessErr(err)
		}
		return err
	}
	return fmt.Errorf("%w: attach reference for %s kept conflicting", storage.ErrStorageAccess, id)
}

func (s *Store) Delete(ctx context.Context, id storage.Identity) error {
	key := userKey(id)
	rec, err := getRecord(ctx, s.client, key)
	if err != nil {
		if isDomainErr(err) {
			return err
		}
		return accessErr(err)
	}

	keys := []string{key, usernameIndexKey(rec.Username)}
	if err := deleteScript.Run(ctx, s.client, keys, string(id)).Err(); err != nil {
		return accessErr(err)
	}

	logging.Debugf("Deleted record %s for: %s", id, rec.Username)
	return nil
}

func (s *Store) Lookup(ctx context.Context, username string) (*storage.Record, error) {
	id, err := s.client.Get(ctx, usernameIndexKey(username)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, accessErr(err)
	}

	rec, err := getRecord(ctx, s.client, userKey(storage.Identity(id)))
	if err != nil {
		if isDomainErr(err) {
			return nil, err
		}
		return nil, accessErr(err)
	}
	if rec.State != storage.StateActive {
		return nil, storage.ErrNotFound
	}
	return rec, nil
}

func (s *Store) List(ctx context.Context) ([]storage.Record, error) {
	var out []storage.Record

	iter := s.client.Scan(ctx, 0, userKeyPattern(), 100).Iterator()
	for iter.Next(ctx) {
		rec, err := getRecord(ctx, s.client, iter.Val())
		if errors.Is(err, storage.ErrNotFound) {
			// expired or deleted between SCAN and GET
			continue
		}
		if err != nil {
			return nil, accessErr(err)
		}
		out = append(out, *rec)
	}
	if err := iter.Err(); err != nil {
		return nil, accessErr(err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func getRecord(ctx context.Context, c redis.Cmdable, key string) (*storage.Record, error) {
	data, err := c.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var rec storage.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("corrupt record at %s: %w", key, err)
	}
	return &rec, nil
}

func isDomainErr(err error) bool {
	return errors.Is(err, storage.ErrNotFound) ||
		errors.Is(err, storage.ErrAlreadyFinalized) ||
		errors.Is(err, recognition.ErrDimensionMismatch)
}

func accessErr(err error) error {
	return fmt.Errorf("%w: %v", storage.ErrStorageAccess, err)
}
