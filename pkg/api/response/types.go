// Package response holds API response bodies.
package response

import "github.com/MrCodeEU/facelogin/pkg/auth"

// Messages returned on success.
const (
	MessageRegistered = "User registered successfully"
	MessageLoggedIn   = "Login successful"
)

// RegisterResponse is the response for POST /api/v1/register
type RegisterResponse struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// RegisterResponseFromResult converts an auth.RegisterResult
func RegisterResponseFromResult(r *auth.RegisterResult) RegisterResponse {
	return RegisterResponse{
		UserID:  string(r.Identity),
		Message: MessageRegistered,
	}
}

// LoginResponse is the response for POST /api/v1/login
type LoginResponse struct {
	Success  bool    `json:"success"`
	UserID   string  `json:"user_id"`
	Message  string  `json:"message"`
	Distance float64 `json:"distance"`
}

// LoginResponseFromResult converts an auth.LoginResult
func LoginResponseFromResult(r *auth.LoginResult) LoginResponse {
	return LoginResponse{
		Success:  r.Success,
		UserID:   string(r.Identity),
		Message:  MessageLoggedIn,
		Distance: r.Distance,
	}
}

// Health is the response for GET /api/v1/health
type Health struct {
	Status string `json:"status"`
}
