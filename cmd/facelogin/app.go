package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrCodeEU/facelogin/pkg/auth"
	"github.com/MrCodeEU/facelogin/pkg/blob"
	"github.com/MrCodeEU/facelogin/pkg/config"
	"github.com/MrCodeEU/facelogin/pkg/logging"
	"github.com/MrCodeEU/facelogin/pkg/normalizer"
	"github.com/MrCodeEU/facelogin/pkg/password"
	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/storage"
	"github.com/MrCodeEU/facelogin/pkg/storage/mongostore"
	"github.com/MrCodeEU/facelogin/pkg/storage/redisstore"
)

// ephemeralMaxAge is how old a leftover login image must be before the
// startup sweep deletes it.
const ephemeralMaxAge = time.Hour

// app holds the wired collaborators behind every command.
type app struct {
	store   storage.CredentialStore
	blobs   *blob.Store
	encoder *recognition.Encoder
	auth    *auth.Service
}

// newApp wires the service from cfg. Models are only loaded when
// loadModels is set, so administrative commands work without them.
func newApp(ctx context.Context, cfg *config.Config, loadModels bool) (*app, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	a := &app{}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	var err error
	if a.store, err = openStore(cfg.Storage); err != nil {
		return nil, err
	}

	a.blobs, err = blob.Open(ctx, blobURL(cfg), blob.Options{
		Encrypt: cfg.Blob.EncryptionEnabled,
		Secret:  cfg.Blob.EncryptionKey,
	})
	if err != nil {
		return nil, err
	}

	norm, err := normalizer.New(normalizer.Config{
		Orientation:  normalizer.Orientation(cfg.Image.Orientation),
		MaxDimension: cfg.Image.MaxDimension,
		JPEGQuality:  cfg.Image.JPEGQuality,
	})
	if err != nil {
		return nil, err
	}

	a.encoder = recognition.NewEncoder(recognition.EncoderConfig{
		ModelPath: cfg.Recognition.ModelPath,
		Detector:  recognition.Detector(cfg.Recognition.Detector),
		Jitters:   cfg.Recognition.Jitters,
	})
	if loadModels {
		if err := a.encoder.LoadModels(); err != nil {
			return nil, fmt.Errorf("%w (run 'facelogin download-models' first)", err)
		}
	}

	hasher, err := password.New(cfg.Password.Algorithm, cfg.Password.BcryptCost)
	if err != nil {
		return nil, err
	}

	a.auth, err = auth.NewService(auth.Options{
		Store:         a.store,
		Hasher:        hasher,
		Normalizer:    norm,
		Encoder:       a.encoder,
		Matcher:       recognition.NewMatcher(cfg.Recognition.Tolerance),
		Blobs:         a.blobs,
		MaxConcurrent: cfg.Auth.MaxConcurrent,
	})
	if err != nil {
		return nil, err
	}

	ok = true
	return a, nil
}

// isMemoryDriver reports whether users live only as long as the process.
func isMemoryDriver(cfg *config.Config) bool {
	return cfg.Storage.Driver == "memory" || cfg.Storage.Driver == ""
}

// blobURL keeps images in memory alongside an in-memory store, so no
// reference image outlives its record.
func blobURL(cfg *config.Config) string {
	if isMemoryDriver(cfg) {
		return "mem://"
	}
	return cfg.Blob.URL
}

// requireDurable rejects the memory store for one-shot commands, whose
// users would vanish when the command exits.
func requireDurable(cfg *config.Config, command string) error {
	if isMemoryDriver(cfg) {
		return fmt.Errorf("'%s' needs a persistent store: storage.driver is %q, set it to redis or mongo",
			command, cfg.Storage.Driver)
	}
	return nil
}

func openStore(cfg config.StorageConfig) (storage.CredentialStore, error) {
	log := logging.Component("storage")

	switch cfg.Driver {
	case "redis":
		rc := redisstore.DefaultConfig()
		rc.URL = cfg.RedisURL
		if cfg.RedisPoolSize > 0 {
			rc.PoolSize = cfg.RedisPoolSize
		}
		s, err := redisstore.New(rc)
		if err != nil {
			return nil, err
		}
		log.WithField("url", rc.URL).Info("using redis credential store")
		return s, nil
	case "mongo":
		mc := mongostore.DefaultConfig()
		mc.URI = cfg.MongoURI
		mc.Database = cfg.MongoDatabase
		s, err := mongostore.New(mc)
		if err != nil {
			return nil, err
		}
		log.WithField("database", mc.Database).Info("using mongo credential store")
		return s, nil
	case "memory", "":
		log.Warn("using in-memory credential store and blob area; users are lost on restart")
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// Close releases everything newApp opened. It is safe on a partial app.
func (a *app) Close() error {
	var errs []error
	if a.encoder != nil {
		errs = append(errs, a.encoder.Close())
	}
	if a.blobs != nil {
		errs = append(errs, a.blobs.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
