// Package blob stores reference and login images in a gocloud.dev bucket.
// Images are encrypted at rest using NaCl secretbox when enabled.
package blob

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	gcblob "gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/memblob"
	"gocloud.dev/gcerrors"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

const (
	// NonceSize is the size of the nonce used for encryption
	NonceSize = 24
	// KeySize is the size of the encryption key
	KeySize = 32

	referencePrefix = "references/"
	ephemeralPrefix = "ephemeral/"
)

var (
	// ErrNotFound is returned when no blob exists under the key.
	ErrNotFound = errors.New("blob not found")
	// ErrDecrypt is returned when a blob fails authentication.
	ErrDecrypt = errors.New("failed to decrypt blob")
)

// Options configures a Store.
type Options struct {
	Encrypt bool
	// Secret seeds the encryption key. Empty derives it from machine identity.
	Secret string
}

// Store is the blob area holding reference and ephemeral images.
type Store struct {
	bucket  *gcblob.Bucket
	encrypt bool
	key     [KeySize]byte
}

// Open opens the bucket behind url (file:// or mem://).
func Open(ctx context.Context, url string, opts Options) (*Store, error) {
	bucket, err := gcblob.OpenBucket(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open blob bucket %s: %w", url, err)
	}
	logging.Debugf("Opened blob bucket: %s", url)
	return NewWithBucket(bucket, opts), nil
}

// NewWithBucket wraps an already opened bucket.
func NewWithBucket(bucket *gcblob.Bucket, opts Options) *Store {
	s := &Store{bucket: bucket, encrypt: opts.Encrypt}
	if opts.Encrypt {
		s.key = deriveKey(opts.Secret)
	}
	return s
}

// Close closes the bucket.
func (s *Store) Close() error {
	return s.bucket.Close()
}

// ReferenceKey returns the key of the reference image for an identity.
func ReferenceKey(identity string) string {
	return referencePrefix + identity + ".jpg"
}

// PutReference writes the reference image for identity and returns its key.
// The key is returned even when the write fails so a partial write can be
// cleaned up.
func (s *Store) PutReference(ctx context.Context, identity string, data []byte) (string, error) {
	key := ReferenceKey(identity)
	return key, s.Put(ctx, key, data)
}

// PutEphemeral writes a login image under a fresh name and returns its key.
// Concurrent logins for the same identity never share a key. Like
// PutReference, the key is returned even when the write fails.
func (s *Store) PutEphemeral(ctx context.Context, identity string, data []byte) (string, error) {
	key := fmt.Sprintf("%s%s-%s.jpg", ephemeralPrefix, identity, uuid.NewString())
	return key, s.Put(ctx, key, data)
}

// Put writes data under key, replacing any existing blob.
func (s *Store) Put(ctx context.Context, key string, data []byte) error {
	payload := data
	contentType := "image/jpeg"
	if s.encrypt {
		var err error
		if payload, err = s.seal(data); err != nil {
			return err
		}
		contentType = "application/octet-stream"
	}

	err := s.bucket.WriteAll(ctx, key, payload, &gcblob.WriterOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	return nil
}

// Get reads the blob under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	payload, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob %s: %w", key, err)
	}
	if !s.encrypt {
		return payload, nil
	}
	return s.open(payload)
}

// Exists reports whether a blob exists under key.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	ok, err := s.bucket.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to stat blob %s: %w", key, err)
	}
	return ok, nil
}

// Delete removes the blob under key. Deleting a missing blob is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.bucket.Delete(ctx, key)
	if err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("failed to delete blob %s: %w", key, err)
	}
	return nil
}

// SweepEphemeral deletes ephemeral images older than maxAge, left behind
// by a crashed process. Returns the number removed.
func (s *Store) SweepEphemeral(ctx context.Context, maxAge time.Duration) (int, error) {
	cutoff := time.Now().Add(-maxAge)
	iter := s.bucket.List(&gcblob.ListOptions{Prefix: ephemeralPrefix})

	removed := 0
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return removed, fmt.Errorf("failed to list ephemeral blobs: %w", err)
		}
		if obj.IsDir || obj.ModTime.After(cutoff) {
			continue
		}
		if err := s.Delete(ctx, obj.Key); err != nil {
			return removed, err
		}
		removed++
	}

	if removed > 0 {
		logging.Infof("Swept %d stale ephemeral images", removed)
	}
	return removed, nil
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &s.key), nil
}

func (s *Store) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+secretbox.Overhead {
		return nil, ErrDecrypt
	}

	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])

	plaintext, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &s.key)
	if !ok {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// deriveKey hashes secret into a key. Without a secret, the key is tied to
// this machine and user, so blobs do not move between hosts.
func deriveKey(secret string) [KeySize]byte {
	var identity strings.Builder

	if secret != "" {
		identity.WriteString(secret)
	} else {
		if machineID, err := os.ReadFile("/etc/machine-id"); err == nil {
			identity.Write(machineID)
		}
		if hostname, err := os.Hostname(); err == nil {
			identity.WriteString(hostname)
		}
		fmt.Fprintf(&identity, "%d", os.Getuid())
	}
	identity.WriteString("facelogin-v1-salt")

	return sha256.Sum256([]byte(identity.String()))
}
