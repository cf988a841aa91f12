// Package password hashes and verifies user passwords.
package password

import (
	"errors"
	"fmt"
	"strings"

	"github.com/matthewhartstonge/argon2"
	"golang.org/x/crypto/bcrypt"

	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// Algorithm names accepted by New.
const (
	AlgorithmBcrypt   = "bcrypt"
	AlgorithmArgon2id = "argon2id"
)

// MaxLength is the longest password in bytes. bcrypt ignores input past it.
const MaxLength = 72

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password must not be empty")

// ErrTooLong is returned when hashing a password longer than MaxLength bytes.
var ErrTooLong = fmt.Errorf("password must be at most %d bytes", MaxLength)

// Hasher hashes new passwords and verifies stored hashes.
type Hasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
}

// New returns a Hasher for the named algorithm. Every Hasher verifies
// hashes produced by any supported algorithm, so switching algorithms
// does not lock out existing users.
func New(algorithm string, bcryptCost int) (Hasher, error) {
	switch algorithm {
	case AlgorithmBcrypt, "":
		if bcryptCost == 0 {
			bcryptCost = bcrypt.DefaultCost
		}
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
		}
		return bcryptHasher{cost: bcryptCost}, nil
	case AlgorithmArgon2id:
		return argonHasher{}, nil
	default:
		return nil, fmt.Errorf("unknown password algorithm %q", algorithm)
	}
}

type bcryptHasher struct {
	cost int
}

func (h bcryptHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxLength {
		return "", ErrTooLong
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

func (h bcryptHasher) Verify(hash, password string) bool {
	return Verify(hash, password)
}

type argonHasher struct{}

func (argonHasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	if len(password) > MaxLength {
		return "", ErrTooLong
	}
	config := argon2.DefaultConfig()
	raw, err := config.Hash([]byte(password), nil)
	if err != nil {
		return "", fmt.Errorf("argon2: %w", err)
	}
	return string(raw.Encode()), nil
}

func (argonHasher) Verify(hash, password string) bool {
	return Verify(hash, password)
}

// Verify checks a password against a bcrypt or argon2 encoded hash.
func Verify(hash, password string) bool {
	if strings.HasPrefix(hash, "$argon2") {
		raw, err := argon2.Decode([]byte(hash))
		if err != nil {
			logging.Component("password").WithError(err).Warn("could not decode argon2 hash")
			return false
		}
		ok, err := raw.Verify([]byte(password))
		if err != nil {
			return false
		}
		return ok
	}

	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
