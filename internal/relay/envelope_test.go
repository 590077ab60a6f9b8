package relay

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelopePopulatesProducerFields(t *testing.T) {
	env := NewEnvelope(TypePong, map[string]any{"k": "v"})

	assert.Equal(t, TypePong, env.Type)
	assert.Equal(t, "v", env.Data["k"])

	_, err := uuid.Parse(env.MessageID)
	require.NoError(t, err, "message_id should be a UUID")

	_, err = time.Parse(time.RFC3339, env.Timestamp)
	require.NoError(t, err, "timestamp should be RFC3339")
}

func TestNewEnvelopeNilDataBecomesEmptyMap(t *testing.T) {
	env := NewEnvelope(TypePing, nil)
	require.NotNil(t, env.Data)
	assert.True(t, env.Valid())
}

func TestNewEnvelopeFromSetsSender(t *testing.T) {
	env := NewEnvelopeFrom(TypeUserOnline, map[string]any{"user_id": "alice"}, SystemSender)
	assert.Equal(t, SystemSender, env.Sender)
}

func TestEnvelopeValid(t *testing.T) {
	tests := []struct {
		name string
		env  *Envelope
		want bool
	}{
		{"nil envelope", nil, false},
		{"missing type", &Envelope{Data: map[string]any{}}, false},
		{"missing data", &Envelope{Type: TypePing}, false},
		{"type and data present", &Envelope{Type: TypePing, Data: map[string]any{}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.env.Valid())
		})
	}
}

func TestEnvelopeStringField(t *testing.T) {
	env := &Envelope{Type: TypeSendMessage, Data: map[string]any{
		"target_user": "bob",
		"count":       3,
	}}

	assert.Equal(t, "bob", env.StringField("target_user"))
	assert.Empty(t, env.StringField("count"), "non-string values read as empty")
	assert.Empty(t, env.StringField("absent"))
	assert.Empty(t, (&Envelope{}).StringField("anything"))
}
