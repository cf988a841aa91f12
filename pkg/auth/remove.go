package auth

import (
	"context"

	"github.com/MrCodeEU/facelogin/pkg/storage"
)

// Remove deletes an active user and their reference image without a
// password check. Used by administrative tooling.
func (s *Service) Remove(ctx context.Context, username string) error {
	const op = "remove"

	rec, err := s.store.Lookup(ctx, username)
	if err != nil {
		return wrap(op, err)
	}
	return wrap(op, s.removeRecord(ctx, rec))
}

// Unregister deletes a user after checking their password.
func (s *Service) Unregister(ctx context.Context, username, pwd string) error {
	const op = "unregister"

	rec, err := s.authenticate(ctx, username, pwd)
	if err != nil {
		return wrap(op, err)
	}
	return wrap(op, s.removeRecord(ctx, rec))
}

// List returns every stored record, pending ones included.
func (s *Service) List(ctx context.Context) ([]storage.Record, error) {
	recs, err := s.store.List(ctx)
	return recs, wrap("list", err)
}

func (s *Service) removeRecord(ctx context.Context, rec *storage.Record) error {
	if err := s.store.Delete(ctx, rec.ID); err != nil {
		return err
	}

	log := s.log.WithField("username", rec.Username).WithField("identity", rec.ID)
	if rec.ReferenceHandle != "" {
		if err := s.blobs.Delete(cleanupContext(ctx), rec.ReferenceHandle); err != nil {
			log.WithError(err).Warn("failed to delete reference image")
		}
	}

	log.Info("user removed")
	return nil
}
