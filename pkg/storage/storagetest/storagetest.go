// Package storagetest holds behavior tests shared by every CredentialStore.
package storagetest

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/storage"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.CredentialStore

// TestEmbedding returns a valid embedding whose first value is v.
func TestEmbedding(v float32) recognition.Embedding {
	e := make(recognition.Embedding, recognition.Dimension)
	e[0] = v
	return e
}

// Run exercises the CredentialStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	ctx := context.Background()

	t.Run("CreateThenLookupHidesPending", func(t *testing.T) {
		s := newStore(t)

		id, err := s.Create(ctx, "alice", "hash")
		require.NoError(t, err)
		require.NotEmpty(t, id)

		exists, err := s.Exists(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, exists, "pending usernames are taken")

		_, err = s.Lookup(ctx, "alice")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("AttachReferenceActivates", func(t *testing.T) {
		s := newStore(t)

		id, err := s.Create(ctx, "alice", "hash")
		require.NoError(t, err)

		require.NoError(t, s.AttachReference(ctx, id, storage.Reference{
			Handle:         "references/" + string(id) + ".jpg",
			Embedding:      TestEmbedding(0.5),
			EncoderVersion: "v1",
		}))

		rec, err := s.Lookup(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, id, rec.ID)
		assert.Equal(t, "alice", rec.Username)
		assert.Equal(t, "hash", rec.PasswordHash)
		assert.Equal(t, storage.StateActive, rec.State)
		assert.Equal(t, "v1", rec.EncoderVersion)
		assert.Equal(t, "references/"+string(id)+".jpg", rec.ReferenceHandle)
		require.Len(t, rec.Embedding, recognition.Dimension)
		assert.Equal(t, float32(0.5), rec.Embedding[0])
	})

	t.Run("AttachReferenceTwiceFails", func(t *testing.T) {
		s := newStore(t)

		id, err := s.Create(ctx, "alice", "hash")
		require.NoError(t, err)
		ref := storage.Reference{Handle: "h", Embedding: TestEmbedding(1)}
		require.NoError(t, s.AttachReference(ctx, id, ref))

		err = s.AttachReference(ctx, id, storage.Reference{Handle: "other", Embedding: TestEmbedding(2)})
		assert.ErrorIs(t, err, storage.ErrAlreadyFinalized)

		rec, err := s.Lookup(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "h", rec.ReferenceHandle)
	})

	t.Run("AttachReferenceRejectsBadEmbedding", func(t *testing.T) {
		s := newStore(t)

		id, err := s.Create(ctx, "alice", "hash")
		require.NoError(t, err)

		err = s.AttachReference(ctx, id, storage.Reference{Handle: "h", Embedding: recognition.Embedding{1, 2}})
		assert.ErrorIs(t, err, recognition.ErrDimensionMismatch)

		_, err = s.Lookup(ctx, "alice")
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("AttachReferenceUnknownIdentity", func(t *testing.T) {
		s := newStore(t)
		err := s.AttachReference(ctx, storage.NewIdentity(), storage.Reference{Embedding: TestEmbedding(1)})
		assert.ErrorIs(t, err, storage.ErrNotFound)
	})

	t.Run("DuplicateUsername", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Create(ctx, "alice", "hash")
		require.NoError(t, err)

		_, err = s.Create(ctx, "alice", "other")
		assert.ErrorIs(t, err, storage.ErrDuplicateUsername)

		_, err = s.Create(ctx, "Alice", "other")
		assert.NoError(t, err, "usernames are case-sensitive")
	})

	t.Run("DeleteFreesUsername", func(t *testing.T) {
		s := newStore(t)

		id, err := s.Create(ctx, "alice", "hash")
		require.NoError(t, err)
		require.NoError(t, s.Delete(ctx, id))

		exists, err := s.Exists(ctx, "alice")
		require.NoError(t, err)
		assert.False(t, exists)

		assert.ErrorIs(t, s.Delete(ctx, id), storage.ErrNotFound)

		_, err = s.Create(ctx, "alice", "hash")
		assert.NoError(t, err)
	})

	t.Run("ConcurrentCreateHasOneWinner", func(t *testing.T) {
		s := newStore(t)

		const workers = 16
		var wg sync.WaitGroup
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Create(ctx, "bob", "hash")
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)

		var ok, dup int
		for err := range errs {
			switch {
			case err == nil:
				ok++
			case assert.ErrorIs(t, err, storage.ErrDuplicateUsername):
				dup++
			}
		}
		assert.Equal(t, 1, ok)
		assert.Equal(t, workers-1, dup)
	})

	t.Run("ListOrderedByUsername", func(t *testing.T) {
		s := newStore(t)

		for _, name := range []string{"charlie", "alice", "bob"} {
			_, err := s.Create(ctx, name, "hash")
			require.NoError(t, err)
		}

		recs, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, recs, 3)
		assert.Equal(t, "alice", recs[0].Username)
		assert.Equal(t, "bob", recs[1].Username)
		assert.Equal(t, "charlie", recs[2].Username)
	})
}
