package dispatch

import (
	"time"

	"github.com/google/uuid"
)

// Wire envelopes exchanged on a device's bidirectional stream. The encoding
// is JSON but the types are transport-agnostic: the same envelopes travel
// over the hub's WebSocket endpoint and the agent's dialer.

// Message type discriminators.
const (
	// TypeNotification marks a device-originated event for group fan-out.
	TypeNotification = "notification"

	// TypeCommandResponse marks a device's reply to a previously
	// delivered command, routed back to a single client connection.
	TypeCommandResponse = "command_response"

	// TypeCommand marks a hub-originated command to the device.
	TypeCommand = "command"
)

// DeviceMessage is the device-to-hub envelope: a tagged union of
// notification and command response.
type DeviceMessage struct {
	Type            string           `json:"type"`
	Notification    *Notification    `json:"notification,omitempty"`
	CommandResponse *CommandResponse `json:"command_response,omitempty"`
}

// Notification is a device-originated event (alarm, status detail, log line)
// fanned out to every client watching the device's group.
type Notification struct {
	DeviceID  string         `json:"device_id"`
	Event     string         `json:"event"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// CommandResponse is a device's reply to a command, addressed to the client
// connection that submitted it.
type CommandResponse struct {
	DeviceID     string `json:"device_id"`
	ConnectionID string `json:"connection_id"`
	Text         string `json:"text"`
}

// ServerMessage is the hub-to-device envelope. Currently the only variant
// is a command.
type ServerMessage struct {
	Type    string   `json:"type"`
	Command *Command `json:"command,omitempty"`
}

// Command is an instruction for a field device.
type Command struct {
	ID       string         `json:"id"`
	DeviceID string         `json:"device_id"`
	Name     string         `json:"name"`
	Params   map[string]any `json:"params,omitempty"`

	// ConnectionID identifies the submitting client connection so the
	// device can address its response. Empty for hub-internal commands.
	ConnectionID string `json:"connection_id,omitempty"`

	// IssuedAt is stamped when the message thunk runs, i.e. at send time,
	// not at enqueue time.
	IssuedAt time.Time `json:"issued_at"`
}

// NewCommandID returns a fresh command identifier.
func NewCommandID() string {
	return "cmd-" + uuid.NewString()[:8]
}

// MessageFunc produces an outbound message lazily at send time. Deferring
// construction until the pump dequeues the entry lets payloads carry
// time-sensitive data (such as time spent queued) without staleness.
type MessageFunc func() (ServerMessage, error)
