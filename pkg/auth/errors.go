package auth

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/facelogin/pkg/normalizer"
	"github.com/MrCodeEU/facelogin/pkg/password"
	"github.com/MrCodeEU/facelogin/pkg/recognition"
	"github.com/MrCodeEU/facelogin/pkg/storage"
)

// ErrorKind classifies workflow failures.
type ErrorKind string

const (
	KindDecode             ErrorKind = "DECODE_ERROR"
	KindNoFace             ErrorKind = "NO_FACE"
	KindEncoding           ErrorKind = "ENCODING_ERROR"
	KindDimensionMismatch  ErrorKind = "DIMENSION_MISMATCH"
	KindDuplicateUsername  ErrorKind = "DUPLICATE_USERNAME"
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindReferenceMissing   ErrorKind = "REFERENCE_MISSING"
	KindNoMatch            ErrorKind = "FACE_MISMATCH"
	KindInvalidInput       ErrorKind = "INVALID_INPUT"
	KindNotFound           ErrorKind = "USER_NOT_FOUND"
	KindInternal           ErrorKind = "INTERNAL"
)

// ErrInvalidCredentials is returned for an unknown username or a wrong
// password. The two cases are deliberately indistinguishable.
var ErrInvalidCredentials = errors.New("invalid username or password")

// ErrReferenceMissing is returned when an active user has no usable reference face.
var ErrReferenceMissing = errors.New("reference face data missing")

// ErrNoMatch is returned when the submitted face does not match the reference.
var ErrNoMatch = errors.New("face does not match")

// ErrInvalidInput is returned for an empty username, password or image.
var ErrInvalidInput = errors.New("username, password and image are required")

// User-facing messages per kind.
var errorMessages = map[ErrorKind]string{
	KindDecode:             "The uploaded file is not a readable image",
	KindNoFace:             "No face detected. Please retake the photo",
	KindEncoding:           "Face could not be processed. Please retake the photo",
	KindDimensionMismatch:  "Internal recognition error",
	KindDuplicateUsername:  "Username already registered",
	KindInvalidCredentials: "Invalid username or password",
	KindReferenceMissing:   "No face data enrolled for this user",
	KindNoMatch:            "Face not recognized",
	KindInvalidInput:       "Username, password or image is missing or invalid",
	KindNotFound:           "User not found",
	KindInternal:           "Internal error",
}

// Message returns a user-facing message for a kind.
func Message(kind ErrorKind) string {
	if msg, ok := errorMessages[kind]; ok {
		return msg
	}
	return errorMessages[KindInternal]
}

// Error is a classified workflow error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of err, classifying unwrapped errors on the fly.
// A nil error has no kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return classify(err)
}

func classify(err error) ErrorKind {
	switch {
	case errors.Is(err, normalizer.ErrDecode):
		return KindDecode
	case errors.Is(err, recognition.ErrNoFaceDetected):
		return KindNoFace
	case errors.Is(err, recognition.ErrDimensionMismatch):
		return KindDimensionMismatch
	case errors.Is(err, recognition.ErrEncoding), errors.Is(err, recognition.ErrModelNotLoaded):
		return KindEncoding
	case errors.Is(err, storage.ErrDuplicateUsername):
		return KindDuplicateUsername
	case errors.Is(err, storage.ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidCredentials):
		return KindInvalidCredentials
	case errors.Is(err, ErrReferenceMissing):
		return KindReferenceMissing
	case errors.Is(err, ErrNoMatch):
		return KindNoMatch
	case errors.Is(err, ErrInvalidInput), errors.Is(err, password.ErrEmptyPassword),
		errors.Is(err, password.ErrTooLong):
		return KindInvalidInput
	default:
		return KindInternal
	}
}

// wrap tags err with op and its kind. Already classified errors pass through.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: classify(err), Op: op, Err: err}
}
