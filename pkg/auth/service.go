// Package auth implements the registration and login workflows that tie
// together the credential store, the blob area and the face pipeline.
package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/normalizer"
	"github.com/MrCodeEU/facelogin/pkg/password"
	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/storage"
)

// DefaultMaxConcurrent bounds workflows running decode and encode at once.
const DefaultMaxConcurrent = 4

// Normalizer turns uploaded bytes into a canonical image.
type Normalizer interface {
	Normalize(raw []byte) (*normalizer.Image, error)
}

// Encoder turns a normalized image into an embedding.
type Encoder interface {
	Encode(img *normalizer.Image) (recognition.Embedding, error)
	Version() string
}

// BlobStore holds reference and ephemeral images.
type BlobStore interface {
	PutReference(ctx context.Context, identity string, data []byte) (string, error)
	PutEphemeral(ctx context.Context, identity string, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Options wires the collaborators of a Service.
type Options struct {
	Store         storage.CredentialStore
	Hasher        password.Hasher
	Normalizer    Normalizer
	Encoder       Encoder
	Matcher       *recognition.Matcher
	Blobs         BlobStore
	MaxConcurrent int
}

// Service runs the authentication workflows. It is safe for concurrent use.
type Service struct {
	store   storage.CredentialStore
	hasher  password.Hasher
	norm    Normalizer
	enc     Encoder
	matcher *recognition.Matcher
	blobs   BlobStore

	slots     chan struct{}
	dummyHash string
	log       *logrus.Entry
}

// NewService validates opts and builds a Service.
func NewService(opts Options) (*Service, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("auth: credential store is required")
	case opts.Hasher == nil:
		return nil, errors.New("auth: password hasher is required")
	case opts.Normalizer == nil:
		return nil, errors.New("auth: normalizer is required")
	case opts.Encoder == nil:
		return nil, errors.New("auth: encoder is required")
	case opts.Blobs == nil:
		return nil, errors.New("auth: blob store is required")
	}

	matcher := opts.Matcher
	if matcher == nil {
		matcher = recognition.NewMatcher(recognition.DefaultMatchThreshold)
	}
	limit := opts.MaxConcurrent
	if limit <= 0 {
		limit = DefaultMaxConcurrent
	}

	// Verified against unknown usernames so they cost the same as a wrong password.
	dummy, err := opts.Hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	return &Service{
		store:     opts.Store,
		hasher:    opts.Hasher,
		norm:      opts.Normalizer,
		enc:       opts.Encoder,
		matcher:   matcher,
		blobs:     opts.Blobs,
		slots:     make(chan struct{}, limit),
		dummyHash: dummy,
		log:       logging.Component("auth"),
	}, nil
}

// Threshold returns the match threshold in use.
func (s *Service) Threshold() float64 {
	return s.matcher.Threshold()
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release() {
	<-s.slots
}

// encodeStored encodes the image persisted under key, so registration,
// login and re-derivation all read the same bytes the blob area holds.
func (s *Service) encodeStored(ctx context.Context, key string) (recognition.Embedding, error) {
	data, err := s.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	emb, err := s.enc.Encode(&normalizer.Image{Data: data})
	if err != nil {
		return nil, err
	}
	if err := emb.Validate(); err != nil {
		return nil, err
	}
	return emb, nil
}

// cleanupContext keeps cleanup running after the request context ends.
func cleanupContext(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// logFatal reports errors that point at a misconfigured pipeline.
func (s *Service) logFatal(op string, err error) {
	if KindOf(err) == KindDimensionMismatch {
		s.log.WithFields(logrus.Fields{"op": op}).WithError(err).
			Error("embedding dimension mismatch: encoder configuration is inconsistent")
	}
}
