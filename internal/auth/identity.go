// Package auth resolves the signed-in user behind a connection and keeps the
// per-user notices that survive a forced sign-out.
package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/scythe504/planning-poker-backend/internal"
)

// Identity is the authenticated user. UID is stable across sessions and is
// the participant id inside rooms.
type Identity struct {
	UID         string `json:"uid"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Label is the name shown to other participants.
func (i Identity) Label() string {
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	if email := strings.TrimSpace(i.Email); email != "" {
		return email
	}
	return internal.DefaultDisplayName
}

type Provider interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

var (
	ErrMissingToken          = errors.New("missing token")
	ErrInvalidToken          = errors.New("invalid token")
	ErrExpiredToken          = errors.New("token expired")
	ErrInvalidSigningAlg     = errors.New("unexpected signing algorithm")
	ErrUnauthorizedDomain    = errors.New("unauthorized domain")
	ErrProviderNotConfigured = errors.New("identity provider not configured")
	ErrPopupClosed           = errors.New("sign-in popup closed by user")
	ErrCancelledPopup        = errors.New("sign-in popup request cancelled")
	ErrNetworkRequestFailed  = errors.New("network request failed")
)

// UserMessage turns a sign-in failure into text for the user. Cancellations
// the user caused themselves yield "".
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrPopupClosed), errors.Is(err, ErrCancelledPopup):
		return ""
	case errors.Is(err, ErrUnauthorizedDomain):
		return "This domain is not authorized for sign-in."
	case errors.Is(err, ErrProviderNotConfigured):
		return "The sign-in provider is not configured."
	case errors.Is(err, ErrNetworkRequestFailed):
		return "Connection error. Check your internet connection."
	case errors.Is(err, ErrExpiredToken):
		return "Your session has expired. Please sign in again."
	case errors.Is(err, ErrMissingToken), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidSigningAlg):
		return "You need to sign in to continue."
	default:
		return "Error: " + err.Error()
	}
}
