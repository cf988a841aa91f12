package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// MemoryStore is an in-process CredentialStore, used for single-node
// deployments and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	records    map[Identity]*Record
	byUsername map[string]Identity
	now        func() time.Time
}

var _ CredentialStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:    make(map[Identity]*Record),
		byUsername: make(map[string]Identity),
		now:        time.Now,
	}
}

func (s *MemoryStore) Exists(_ context.Context, username string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byUsername[username]
	return ok, nil
}

func (s *MemoryStore) Create(_ context.Context, username, passwordHash string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byUsername[username]; ok {
		return "", ErrDuplicateUsername
	}

	rec := NewPendingRecord(username, passwordHash, s.now())
	s.records[rec.ID] = &rec
	s.byUsername[username] = rec.ID

	logging.Debugf("Created pending record %s for: %s", rec.ID, username)
	return rec.ID, nil
}

func (s *MemoryStore) AttachReference(_ context.Context, id Identity, ref Reference) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}

	updated := *rec
	if err := updated.Finalize(ref, s.now()); err != nil {
		return err
	}
	s.records[id] = &updated
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return ErrNotFound
	}

	delete(s.records, id)
	if s.byUsername[rec.Username] == id {
		delete(s.byUsername, rec.Username)
	}

	logging.Debugf("Deleted record %s for: %s", id, rec.Username)
	return nil
}

func (s *MemoryStore) Lookup(_ context.Context, username string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byUsername[username]
	if !ok {
		return nil, ErrNotFound
	}
	rec := s.records[id]
	if rec == nil || rec.State != StateActive {
		return nil, ErrNotFound
	}

	out := *rec
	return &out, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
