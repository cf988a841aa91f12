// Package api exposes the authentication workflows over HTTP.
package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/MrCodeEU/facelogin/pkg/api/handler"
	"github.com/MrCodeEU/facelogin/pkg/api/middleware"
	"github.com/MrCodeEU/facelogin/pkg/logging"
)

// DefaultMaxUploadBytes caps multipart bodies when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// RouterConfig holds configuration for the API router
type RouterConfig struct {
	AuthService    handler.AuthService
	MaxUploadBytes int64
}

// NewRouter creates a new API router with all routes configured
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}

	r := mux.NewRouter()
	log := logging.Component("http")

	users := handler.NewUserHandler(cfg.AuthService, cfg.MaxUploadBytes)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Logging(log))
	api.Use(middleware.Recovery(log))

	api.HandleFunc("/register", users.Register).Methods(http.MethodPost)
	api.HandleFunc("/login", users.Login).Methods(http.MethodPost)
	api.HandleFunc("/users/{username}", users.Delete).Methods(http.MethodDelete)
	api.HandleFunc("/health", handler.Health).Methods(http.MethodGet)

	return r
}
