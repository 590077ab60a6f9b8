package relay

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func authFrame(userID, token string) []byte {
	return []byte(`{"type":"auth","data":{"user_id":"` + userID + `","token":"` + token + `"}}`)
}

func TestAuthenticateAcceptsValidFrame(t *testing.T) {
	auth := NewAuthenticator(nil)

	identity, err := auth.Authenticate(authFrame("alice", "demo-token"))
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestAuthenticateRejectsMalformedJSON(t *testing.T) {
	auth := NewAuthenticator(nil)

	_, err := auth.Authenticate([]byte("{not json"))
	assert.ErrorIs(t, err, ErrMalformedAuth)
}

func TestAuthenticateRejectsWrongType(t *testing.T) {
	auth := NewAuthenticator(nil)

	_, err := auth.Authenticate([]byte(`{"type":"ping","data":{}}`))
	assert.ErrorIs(t, err, ErrMalformedAuth)
}

func TestAuthenticateRejectsMissingCredentials(t *testing.T) {
	auth := NewAuthenticator(nil)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty user_id", authFrame("", "demo-token")},
		{"empty token", authFrame("alice", "")},
		{"no credentials at all", []byte(`{"type":"auth","data":{}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := auth.Authenticate(tt.frame)
			assert.ErrorIs(t, err, ErrMissingCredentials)
		})
	}
}

func TestAuthenticateUsesPluggableValidator(t *testing.T) {
	rejected := errors.New("token expired")
	auth := NewAuthenticator(func(userID, token string) error {
		if token != "good" {
			return rejected
		}
		return nil
	})

	_, err := auth.Authenticate(authFrame("alice", "bad"))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.ErrorIs(t, err, rejected)

	identity, err := auth.Authenticate(authFrame("alice", "good"))
	require.NoError(t, err)
	assert.Equal(t, "alice", identity)
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "timeout", rejectionReason(ErrAuthTimeout))
	assert.Equal(t, "missing_fields", rejectionReason(ErrMissingCredentials))
	assert.Equal(t, "invalid_token", rejectionReason(ErrInvalidToken))
	assert.Equal(t, "malformed", rejectionReason(ErrMalformedAuth))
	assert.Equal(t, "malformed", rejectionReason(errors.New("anything else")))
}
