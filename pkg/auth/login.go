package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/storage"
)

// LoginResult is returned by a successful login.
type LoginResult struct {
	Success  bool
	Identity storage.Identity
	Distance float64
}

// Login checks the password, then compares the submitted photo with the
// user's reference face. Nothing in the store changes, and the login image
// is removed before returning.
func (s *Service) Login(ctx context.Context, username, pwd string, image []byte) (*LoginResult, error) {
	const op = "login"

	if username == "" || pwd == "" || len(image) == 0 {
		return nil, wrap(op, ErrInvalidInput)
	}

	if err := s.acquire(ctx); err != nil {
		return nil, wrap(op, err)
	}
	defer s.release()

	rec, err := s.authenticate(ctx, username, pwd)
	if err != nil {
		return nil, wrap(op, err)
	}
	log := s.log.WithFields(logrus.Fields{"username": username, "identity": rec.ID})

	reference, err := s.reference(ctx, log, rec)
	if err != nil {
		s.logFatal(op, err)
		return nil, wrap(op, err)
	}

	img, err := s.norm.Normalize(image)
	if err != nil {
		return nil, wrap(op, err)
	}

	key, err := s.blobs.PutEphemeral(ctx, string(rec.ID), img.Data)
	if key != "" {
		defer s.discard(ctx, log, key)
	}
	if err != nil {
		return nil, wrap(op, err)
	}

	candidate, err := s.encodeStored(ctx, key)
	if err != nil {
		s.logFatal(op, err)
		return nil, wrap(op, err)
	}

	result, err := s.matcher.Match(reference, candidate)
	if err != nil {
		s.logFatal(op, err)
		return nil, wrap(op, err)
	}

	log = log.WithFields(logrus.Fields{"distance": result.Distance, "threshold": result.Threshold})
	if !result.Matched {
		log.Info("face did not match")
		return nil, wrap(op, ErrNoMatch)
	}

	log.Info("user logged in")
	return &LoginResult{Success: true, Identity: rec.ID, Distance: result.Distance}, nil
}

// authenticate returns the active record for username if pwd is correct.
// Unknown users still pay for one hash verification.
func (s *Service) authenticate(ctx context.Context, username, pwd string) (*storage.Record, error) {
	rec, err := s.store.Lookup(ctx, username)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.hasher.Verify(s.dummyHash, pwd)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.hasher.Verify(rec.PasswordHash, pwd) {
		return nil, ErrInvalidCredentials
	}
	return rec, nil
}

// reference returns the embedding to compare against. Embeddings made by a
// different encoder version are re-derived from the stored reference image.
func (s *Service) reference(ctx context.Context, log *logrus.Entry, rec *storage.Record) (recognition.Embedding, error) {
	if rec.ReferenceHandle == "" {
		return nil, ErrReferenceMissing
	}
	ok, err := s.blobs.Exists(ctx, rec.ReferenceHandle)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrReferenceMissing
	}

	if rec.EncoderVersion == s.enc.Version() {
		if len(rec.Embedding) == 0 {
			return nil, ErrReferenceMissing
		}
		return rec.Embedding, rec.Embedding.Validate()
	}

	log.WithFields(logrus.Fields{
		"stored_version": rec.EncoderVersion,
		"encoder":        s.enc.Version(),
	}).Info("re-encoding reference from stored image")

	emb, err := s.encodeStored(ctx, rec.ReferenceHandle)
	if err != nil {
		if errors.Is(err, recognition.ErrDimensionMismatch) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrReferenceMissing, err)
	}
	return emb, nil
}

// discard deletes an ephemeral image, logging failures.
func (s *Service) discard(ctx context.Context, log *logrus.Entry, key string) {
	if err := s.blobs.Delete(cleanupContext(ctx), key); err != nil {
		log.WithError(err).WithField("key", key).Warn("failed to delete login image")
	}
}
