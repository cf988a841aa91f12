// Package request parses and validates multipart API requests.
package request

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// ErrTooLarge is returned when the body exceeds the upload limit.
var ErrTooLarge = errors.New("request body too large")

// Credentials is the username and password of a request.
type Credentials struct {
	Username string `validate:"required,max=64,username"`
	Password string `validate:"required,max=72"`
}

// FaceRequest is a register or login form: credentials plus a photo.
type FaceRequest struct {
	Credentials
	Image []byte `validate:"required,min=1"`
}

var validate = validator.New()

func init() {
	_ = validate.RegisterValidation("username", validateUsername)
}

// validateUsername rejects whitespace, control characters and path separators.
func validateUsername(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	for _, r := range name {
		if unicode.IsSpace(r) || unicode.IsControl(r) || r == '/' || r == '\\' {
			return false
		}
	}
	return true
}

// ParseFace reads username, password and image from a multipart form.
// The body is capped at maxBytes.
func ParseFace(w http.ResponseWriter, r *http.Request, maxBytes int64) (*FaceRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, formError(err)
	}

	req := &FaceRequest{Credentials: Credentials{
		Username: r.FormValue("username"),
		Password: r.FormValue("password"),
	}}

	file, _, err := r.FormFile("image")
	if err != nil && !errors.Is(err, http.ErrMissingFile) {
		return nil, formError(err)
	}
	if file != nil {
		defer file.Close()
		if req.Image, err = readAll(file, maxBytes); err != nil {
			return nil, err
		}
	}

	if err := Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// ParseCredentials reads username from the route and password from a
// multipart body. DELETE bodies are only read when multipart encoded.
func ParseCredentials(w http.ResponseWriter, r *http.Request, username string, maxBytes int64) (*Credentials, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	if err := r.ParseMultipartForm(maxBytes); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return nil, formError(err)
	}

	req := &Credentials{Username: username, Password: r.FormValue("password")}
	if err := Validate(req); err != nil {
		return nil, err
	}
	return req, nil
}

// Validate checks struct tags and returns a readable error.
func Validate(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return errors.New(strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return field + " is required"
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	case "username":
		return field + " must not contain whitespace or slashes"
	default:
		return field + " is invalid"
	}
}

func readAll(f multipart.File, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(f, maxBytes+1))
	if err != nil {
		return nil, formError(err)
	}
	if int64(len(data)) > maxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

func formError(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large") {
		return ErrTooLarge
	}
	return fmt.Errorf("invalid form: %w", err)
}
