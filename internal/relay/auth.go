// Package relay validates the authentication handshake that every new
// connection must complete before it is registered.
package relay

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Authentication rejection reasons. The dispatcher maps these onto the
// error envelope returned to the client and onto the auth failure metrics.
var (
	ErrAuthTimeout        = errors.New("no auth frame received before the deadline")
	ErrMalformedAuth      = errors.New("first frame is not a valid auth envelope")
	ErrMissingCredentials = errors.New("auth frame is missing user_id or token")
	ErrInvalidToken       = errors.New("token rejected")
)

// TokenValidator decides whether a token is acceptable for a user. It runs
// inside the handshake, so implementations should be fast or enforce their
// own deadlines.
type TokenValidator func(userID, token string) error

// AllowNonEmptyToken accepts any non-empty token. It is a placeholder for a
// real validator (JWT or similar), not a security guarantee, and is the
// default when no validator is configured.
func AllowNonEmptyToken(userID, token string) error {
	return nil
}

// Authenticator validates the first frame of a connection and yields the
// identity it authenticates as.
type Authenticator struct {
	validate TokenValidator
}

// NewAuthenticator creates an Authenticator using the given token
// validator, or AllowNonEmptyToken when validate is nil.
func NewAuthenticator(validate TokenValidator) *Authenticator {
	if validate == nil {
		validate = AllowNonEmptyToken
	}
	return &Authenticator{validate: validate}
}

// Authenticate parses the raw first frame and returns the authenticated
// identity. It consumes exactly one frame and has no other side effects.
func (a *Authenticator) Authenticate(raw []byte) (string, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedAuth, err)
	}
	if env.Type != TypeAuth || env.Data == nil {
		return "", ErrMalformedAuth
	}

	userID := env.StringField("user_id")
	token := env.StringField("token")
	if userID == "" || token == "" {
		return "", ErrMissingCredentials
	}

	if err := a.validate(userID, token); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	return userID, nil
}

// rejectionReason maps an authentication error onto the stable reason string
// used in error envelopes and metrics labels.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, ErrAuthTimeout):
		return "timeout"
	case errors.Is(err, ErrMissingCredentials):
		return "missing_fields"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	default:
		return "malformed"
	}
}
