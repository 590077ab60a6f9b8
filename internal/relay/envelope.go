// Package relay defines the wire-level envelope that every frame exchanged
// with the relay conforms to, plus helpers for constructing and validating
// envelopes.
package relay

import (
	"time"

	"github.com/google/uuid"
)

// Recognized envelope types. The dispatcher ignores any inbound type not
// listed here.
const (
	TypeAuth                  = "auth"
	TypeConnectionEstablished = "connection_established"
	TypeError                 = "error"
	TypeSendMessage           = "send_message"
	TypeNewMessage            = "new_message"
	TypeMessageReceipt        = "message_receipt"
	TypeSubscribe             = "subscribe"
	TypeUnsubscribe           = "unsubscribe"
	TypeGetOnlineUsers        = "get_online_users"
	TypeOnlineUsers           = "online_users"
	TypeUserOnline            = "user_online"
	TypeUserOffline           = "user_offline"
	TypePing                  = "ping"
	TypePong                  = "pong"
)

// SystemSender is the sender identity stamped on server-originated
// presence envelopes.
const SystemSender = "system"

// Envelope is the JSON frame exchanged over a relay connection. Type and
// Data are mandatory on every accepted frame; Sender is set on relayed
// messages and presence events.
type Envelope struct {
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp,omitempty"`
	MessageID string         `json:"message_id,omitempty"`
	Sender    string         `json:"sender,omitempty"`
}

// NewEnvelope creates a server-originated envelope with a fresh message ID
// and the current timestamp. A nil data map is replaced with an empty one so
// the envelope always validates.
func NewEnvelope(msgType string, data map[string]any) *Envelope {
	if data == nil {
		data = map[string]any{}
	}
	return &Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		MessageID: uuid.NewString(),
	}
}

// NewEnvelopeFrom creates an envelope attributed to the given sender.
func NewEnvelopeFrom(msgType string, data map[string]any, sender string) *Envelope {
	env := NewEnvelope(msgType, data)
	env.Sender = sender
	return env
}

// Valid reports whether the envelope carries the fields every accepted frame
// must have. Invalid envelopes are dropped by the dispatcher, never answered.
func (e *Envelope) Valid() bool {
	return e != nil && e.Type != "" && e.Data != nil
}

// StringField returns the named data field if it is a non-empty string, or
// "" otherwise.
func (e *Envelope) StringField(key string) string {
	if e.Data == nil {
		return ""
	}
	value, _ := e.Data[key].(string)
	return value
}
