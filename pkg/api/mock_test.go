package api_test

import (
	"context"

	"github.com/MrCodeEU/facelogin/pkg/auth"
)

// MockAuthService implements handler.AuthService for testing
type MockAuthService struct {
	RegisterFunc   func(ctx context.Context, username, password string, image []byte) (*auth.RegisterResult, error)
	LoginFunc      func(ctx context.Context, username, password string, image []byte) (*auth.LoginResult, error)
	UnregisterFunc func(ctx context.Context, username, password string) error
}

func (m *MockAuthService) Register(ctx context.Context, username, password string, image []byte) (*auth.RegisterResult, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(ctx, username, password, image)
	}
	return &auth.RegisterResult{Identity: "id-1", State: auth.StateEncoded}, nil
}

func (m *MockAuthService) Login(ctx context.Context, username, password string, image []byte) (*auth.LoginResult, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(ctx, username, password, image)
	}
	return &auth.LoginResult{Success: true, Identity: "id-1", Distance: 0.25}, nil
}

func (m *MockAuthService) Unregister(ctx context.Context, username, password string) error {
	if m.UnregisterFunc != nil {
		return m.UnregisterFunc(ctx, username, password)
	}
	return nil
}
