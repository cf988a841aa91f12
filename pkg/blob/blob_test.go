package blob

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newMemStore(t *testing.T, encrypt bool) *Store {
	t.Helper()
	s, err := Open(context.Background(), "mem://", Options{Encrypt: encrypt, Secret: "test-secret"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPutGet(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		s := newMemStore(t, encrypt)
		ctx := context.Background()
		data := []byte("jpeg bytes")

		key, err := s.PutReference(ctx, "id-1", data)
		if err != nil {
			t.Fatalf("PutReference failed: %v", err)
		}
		if key != "references/id-1.jpg" {
			t.Errorf("unexpected key %q", key)
		}

		got, err := s.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("encrypt=%v: got %q, want %q", encrypt, got, data)
		}
	}
}

func TestEncryptedAtRest(t *testing.T) {
	s := newMemStore(t, true)
	ctx := context.Background()
	data := []byte("plain image data")

	if err := s.Put(ctx, "k", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	raw, err := s.bucket.ReadAll(ctx, "k")
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if bytes.Contains(raw, data) {
		t.Error("stored blob contains plaintext")
	}
	if len(raw) != len(data)+NonceSize+16 {
		t.Errorf("unexpected ciphertext length %d", len(raw))
	}
}

func TestGet_WrongKey(t *testing.T) {
	ctx := context.Background()
	s := newMemStore(t, true)
	if err := s.Put(ctx, "k", []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	other := NewWithBucket(s.bucket, Options{Encrypt: true, Secret: "other-secret"})
	if _, err := other.Get(ctx, "k"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt, got %v", err)
	}

	if err := s.bucket.WriteAll(ctx, "short", []byte("x"), nil); err != nil {
		t.Fatalf("WriteAll failed: %v", err)
	}
	if _, err := s.Get(ctx, "short"); !errors.Is(err, ErrDecrypt) {
		t.Errorf("expected ErrDecrypt for truncated blob, got %v", err)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newMemStore(t, false)
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestExistsAndDelete(t *testing.T) {
	s := newMemStore(t, false)
	ctx := context.Background()

	key, err := s.PutReference(ctx, "id-1", []byte("x"))
	if err != nil {
		t.Fatalf("PutReference failed: %v", err)
	}

	ok, err := s.Exists(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v; want true", ok, err)
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	ok, _ = s.Exists(ctx, key)
	if ok {
		t.Error("blob still exists after Delete")
	}

	if err := s.Delete(ctx, key); err != nil {
		t.Errorf("deleting a missing blob should succeed, got %v", err)
	}
}

func TestPutEphemeral_UniqueKeys(t *testing.T) {
	s := newMemStore(t, false)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		key, err := s.PutEphemeral(ctx, "id-1", []byte("x"))
		if err != nil {
			t.Fatalf("PutEphemeral failed: %v", err)
		}
		if !strings.HasPrefix(key, "ephemeral/id-1-") {
			t.Errorf("unexpected key %q", key)
		}
		if key == ReferenceKey("id-1") || seen[key] {
			t.Fatalf("key collision: %s", key)
		}
		seen[key] = true
	}
}

func TestSweepEphemeral(t *testing.T) {
	s := newMemStore(t, false)
	ctx := context.Background()

	ref, _ := s.PutReference(ctx, "id-1", []byte("ref"))
	if _, err := s.PutEphemeral(ctx, "id-1", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutEphemeral(ctx, "id-2", []byte("b")); err != nil {
		t.Fatal(err)
	}

	n, err := s.SweepEphemeral(ctx, time.Hour)
	if err != nil {
		t.Fatalf("SweepEphemeral failed: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh images swept: %d", n)
	}

	n, err = s.SweepEphemeral(ctx, -time.Second)
	if err != nil {
		t.Fatalf("SweepEphemeral failed: %v", err)
	}
	if n != 2 {
		t.Errorf("swept %d, want 2", n)
	}

	if ok, _ := s.Exists(ctx, ref); !ok {
		t.Error("reference image must survive a sweep")
	}
}

func TestOpen_FileBucket(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := Open(ctx, "file://"+dir, Options{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()

	key, err := s.PutReference(ctx, "id-1", []byte("jpeg"))
	if err != nil {
		t.Fatalf("PutReference failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "references", "id-1.jpg")); err != nil {
		t.Errorf("reference file not on disk: %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil || string(got) != "jpeg" {
		t.Errorf("Get = %q, %v", got, err)
	}
}

func TestOpen_BadScheme(t *testing.T) {
	if _, err := Open(context.Background(), "nope://x", Options{}); err == nil {
		t.Error("expected error for unknown scheme")
	}
}

func TestDeriveKey(t *testing.T) {
	a := deriveKey("one")
	b := deriveKey("one")
	c := deriveKey("two")
	if a != b {
		t.Error("deriveKey not deterministic")
	}
	if a == c {
		t.Error("different secrets produced the same key")
	}
	if deriveKey("") == a {
		t.Error("machine key equals a secret key")
	}
}
