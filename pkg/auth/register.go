package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/MrCodeEU/facelogin/pkg/storage"
)

// RegistrationState is a step of the registration state machine.
type RegistrationState string

const (
	StatePending    RegistrationState = "pending"
	StateImageSaved RegistrationState = "image_saved"
	StateEncoded    RegistrationState = "encoded"
	StateRolledBack RegistrationState = "rolled_back"
)

// RegisterResult is returned by a successful registration.
type RegisterResult struct {
	Identity storage.Identity
	State    RegistrationState
}

// Register creates a user from a username, password and reference photo.
// Either the user ends up active with a reference embedding, or nothing of
// the attempt remains in the store or the blob area.
func (s *Service) Register(ctx context.Context, username, pwd string, image []byte) (*RegisterResult, error) {
	const op = "register"

	if username == "" || pwd == "" || len(image) == 0 {
		return nil, wrap(op, ErrInvalidInput)
	}

	if err := s.acquire(ctx); err != nil {
		return nil, wrap(op, err)
	}
	defer s.release()

	log := s.log.WithField("username", username)

	exists, err := s.store.Exists(ctx, username)
	if err != nil {
		return nil, wrap(op, err)
	}
	if exists {
		return nil, wrap(op, storage.ErrDuplicateUsername)
	}

	hash, err := s.hasher.Hash(pwd)
	if err != nil {
		return nil, wrap(op, err)
	}

	id, err := s.store.Create(ctx, username, hash)
	if err != nil {
		return nil, wrap(op, err)
	}
	log = log.WithField("identity", id)
	log.WithField("state", StatePending).Debug("registration started")

	handle, err := s.saveReference(ctx, id, image)
	if err != nil {
		s.rollback(ctx, log, id, handle)
		return nil, wrap(op, err)
	}
	log.WithField("state", StateImageSaved).Debug("reference image saved")

	emb, err := s.encodeStored(ctx, handle)
	if err == nil {
		err = s.store.AttachReference(ctx, id, storage.Reference{
			Handle:         handle,
			Embedding:      emb,
			EncoderVersion: s.enc.Version(),
		})
		if errors.Is(err, storage.ErrNotFound) {
			// The pending record expired or was removed under us.
			err = &Error{Kind: KindInternal, Op: op, Err: fmt.Errorf("pending record lost: %w", err)}
		}
	}
	if err != nil {
		s.logFatal(op, err)
		s.rollback(ctx, log, id, handle)
		return nil, wrap(op, err)
	}

	log.WithField("state", StateEncoded).Info("user registered")
	return &RegisterResult{Identity: id, State: StateEncoded}, nil
}

// saveReference normalizes the upload and writes it as the reference image.
// The handle is returned even on failure once a write was attempted.
func (s *Service) saveReference(ctx context.Context, id storage.Identity, image []byte) (string, error) {
	img, err := s.norm.Normalize(image)
	if err != nil {
		return "", err
	}
	return s.blobs.PutReference(ctx, string(id), img.Data)
}

// rollback removes every trace of a failed registration. Each step is
// attempted; failures are logged and never replace the caller's error.
func (s *Service) rollback(ctx context.Context, log *logrus.Entry, id storage.Identity, handle string) {
	ctx = cleanupContext(ctx)

	if handle != "" {
		if err := s.blobs.Delete(ctx, handle); err != nil {
			log.WithError(err).Warn("rollback: failed to delete reference image")
		}
	}
	if err := s.store.Delete(ctx, id); err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.WithError(err).Warn("rollback: failed to delete credential record")
	}

	log.WithField("state", StateRolledBack).Info("registration rolled back")
}
