// Package handler implements the HTTP endpoints.
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MrCodeEU/facelogin/pkg/api/apierr"
	"github.com/MrCodeEU/facelogin/pkg/api/request"
	"github.com/MrCodeEU/facelogin/pkg/api/response"
	"github.com/MrCodeEU/facelogin/pkg/auth"
)

// AuthService is the part of auth.Service the handlers use.
type AuthService interface {
	Register(ctx context.Context, username, password string, image []byte) (*auth.RegisterResult, error)
	Login(ctx context.Context, username, password string, image []byte) (*auth.LoginResult, error)
	Unregister(ctx context.Context, username, password string) error
}

// UserHandler handles registration, login and account removal.
type UserHandler struct {
	auth     AuthService
	maxBytes int64
}

// NewUserHandler creates a new user handler
func NewUserHandler(svc AuthService, maxUploadBytes int64) *UserHandler {
	return &UserHandler{auth: svc, maxBytes: maxUploadBytes}
}

// Register handles POST /api/v1/register
func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	req, err := request.ParseFace(w, r, h.maxBytes)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	res, err := h.auth.Register(r.Context(), req.Username, req.Password, req.Image)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusCreated, response.RegisterResponseFromResult(res))
}

// Login handles POST /api/v1/login
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	req, err := request.ParseFace(w, r, h.maxBytes)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	res, err := h.auth.Login(r.Context(), req.Username, req.Password, req.Image)
	if err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.JSON(w, http.StatusOK, response.LoginResponseFromResult(res))
}

// Delete handles DELETE /api/v1/users/{username}
func (h *UserHandler) Delete(w http.ResponseWriter, r *http.Request) {
	req, err := request.ParseCredentials(w, r, mux.Vars(r)["username"], h.maxBytes)
	if err != nil {
		writeRequestError(w, err)
		return
	}

	if err := h.auth.Unregister(r.Context(), req.Username, req.Password); err != nil {
		apierr.WriteError(w, err)
		return
	}

	response.NoContent(w)
}

// Health handles GET /api/v1/health
func Health(w http.ResponseWriter, _ *http.Request) {
	response.JSON(w, http.StatusOK, response.Health{Status: "ok"})
}

func writeRequestError(w http.ResponseWriter, err error) {
	if errors.Is(err, request.ErrTooLarge) {
		apierr.WriteError(w, apierr.NewPayloadTooLargeError())
		return
	}
	apierr.WriteError(w, apierr.NewInvalidRequestError(err.Error()))
}
