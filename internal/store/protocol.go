package store

import (
	"encoding/json"
	"time"
)

// ProtocolVersion is the live-subscription protocol spoken by `nexus serve`.
// Clients accept any server with the same major version.
const ProtocolVersion = "v1.1.0"

// MessageType defines the type of a live-subscription message.
type MessageType string

const (
	// MessageTypeWelcome is sent by the server once per connection.
	MessageTypeWelcome MessageType = "welcome"

	// MessageTypeSubscribe asks the server to start streaming a collection.
	MessageTypeSubscribe MessageType = "subscribe"

	// MessageTypeUnsubscribe stops a collection stream.
	MessageTypeUnsubscribe MessageType = "unsubscribe"

	// MessageTypeSnapshot carries the full document set of a collection.
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeError reports a rejected request.
	MessageTypeError MessageType = "error"
)

// Message is the envelope of every WebSocket frame.
type Message struct {
	Type       MessageType     `json:"type"`
	Timestamp  time.Time       `json:"timestamp"`
	Collection string          `json:"collection,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// WelcomeData is the payload of a welcome message.
type WelcomeData struct {
	Protocol string `json:"protocol"`
}

// SnapshotData is the payload of a snapshot message.
type SnapshotData struct {
	Documents []Document `json:"documents"`
}

// ErrorData is the payload of an error message.
type ErrorData struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Health is the /health response body.
type Health struct {
	Status      string         `json:"status"`
	Clients     int            `json:"clients"`
	Protocol    string         `json:"protocol"`
	Collections map[string]int `json:"collections,omitempty"`
}

// VersionResponse is the body returned by document writes.
type VersionResponse struct {
	Version int64 `json:"version"`
}

// PatchRequest is the body of a field-level update.
type PatchRequest struct {
	Fields map[string]json.RawMessage `json:"fields"`
}
