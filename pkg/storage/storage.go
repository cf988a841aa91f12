// Package storage defines the credential store: the durable mapping from
// username to password hash and reference face data.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/MrCodeEU/facelogin/pkg/recognition"
)

// Identity is the opaque, immutable identifier of a user.
type Identity string

// State tracks whether a record finished registration.
type State string

const (
	// StatePending records exist only while a registration is in flight.
	StatePending State = "pending"
	// StateActive records have a confirmed reference face.
	StateActive State = "active"
)

// Record is a stored credential.
type Record struct {
	ID              Identity              `json:"id" bson:"_id"`
	Username        string                `json:"username" bson:"username"`
	PasswordHash    string                `json:"password_hash" bson:"password_hash"`
	ReferenceHandle string                `json:"reference_handle,omitempty" bson:"reference_handle,omitempty"`
	Embedding       recognition.Embedding `json:"embedding,omitempty" bson:"embedding,omitempty"`
	EncoderVersion  string                `json:"encoder_version,omitempty" bson:"encoder_version,omitempty"`
	State           State                 `json:"state" bson:"state"`
	CreatedAt       time.Time             `json:"created_at" bson:"created_at"`
	UpdatedAt       time.Time             `json:"updated_at" bson:"updated_at"`
}

// Reference is the face data attached when a registration completes.
type Reference struct {
	Handle         string
	Embedding      recognition.Embedding
	EncoderVersion string
}

// ErrDuplicateUsername is returned when the username is already taken,
// including by a registration that has not finished yet.
var ErrDuplicateUsername = errors.New("username already registered")

// ErrNotFound is returned when no active record matches.
var ErrNotFound = errors.New("user not found")

// ErrAlreadyFinalized is returned when attaching a reference to an active record.
var ErrAlreadyFinalized = errors.New("registration already finalized")

// ErrStorageAccess is returned when the backend cannot be reached.
var ErrStorageAccess = errors.New("failed to access storage")

// CredentialStore is implemented by every storage backend.
//
// Writes for one username are serialized: of two concurrent Create calls
// for the same username exactly one succeeds. Lookup never returns a
// pending record.
type CredentialStore interface {
	// Exists reports whether the username is taken, pending or active.
	Exists(ctx context.Context, username string) (bool, error)
	// Create reserves the username with a pending record.
	Create(ctx context.Context, username, passwordHash string) (Identity, error)
	// AttachReference finalizes a pending record.
	AttachReference(ctx context.Context, id Identity, ref Reference) error
	// Delete removes a record and frees its username.
	Delete(ctx context.Context, id Identity) error
	// Lookup returns the active record for a username.
	Lookup(ctx context.Context, username string) (*Record, error)
	// List returns all records ordered by username.
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// NewIdentity returns a fresh random identity.
func NewIdentity() Identity {
	return Identity(uuid.NewString())
}

// NewPendingRecord builds the record written by Create.
func NewPendingRecord(username, passwordHash string, now time.Time) Record {
	return Record{
		ID:           NewIdentity(),
		Username:     username,
		PasswordHash: passwordHash,
		State:        StatePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Finalize applies a reference to a pending record.
func (r *Record) Finalize(ref Reference, now time.Time) error {
	if r.State != StatePending {
		return ErrAlreadyFinalized
	}
	if err := ref.Embedding.Validate(); err != nil {
		return err
	}
	r.ReferenceHandle = ref.Handle
	r.Embedding = ref.Embedding
	r.EncoderVersion = ref.EncoderVersion
	r.State = StateActive
	r.UpdatedAt = now
	return nil
}
