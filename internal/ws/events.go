// Package ws implements the real-time gateway: the connection registry,
// per-connection pumps, heartbeat supervision and event fan-out.
package ws

import "encoding/json"

// OpCode identifies the kind of a gateway frame.
type OpCode int

const (
	OpDispatch OpCode = iota
	OpHeartbeat
	OpHeartbeatAck
	OpMessageCreate
	OpMessageUpdate
	OpMessageDelete
	OpReactionAdd
	OpReactionRemove
	OpPresenceUpdate
	OpChannelCreate
	OpChannelUpdate
	OpChannelDelete
	OpMultipleChannelUpdate
)

// CloseAuthFailure is sent when the handshake carries no valid access token.
const CloseAuthFailure = 4001

// Event is an outbound gateway frame.
type Event struct {
	Op OpCode `json:"op"`
	D  any    `json:"d"`
}

// inbound is the envelope of a client frame. Payloads of client frames are
// currently ignored: clients publish through the REST surface, the socket
// only carries heartbeat acks upstream.
type inbound struct {
	Op OpCode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// PresencePayload announces a user going online or offline.
type PresencePayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// HeartbeatPayload carries the server clock of a heartbeat probe.
type HeartbeatPayload struct {
	TS int64 `json:"ts"`
}

// ErrorPayload is sent before closing a socket that failed authentication.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
