// Package gateway manages per-client logical sessions over WebSocket:
// identity handshake, heartbeat supervision, message buffering, and
// resume with in-order replay of missed messages.
package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/coder/websocket"
	"github.com/skyblockd/skyblockd/internal/domain"
)

// Op tags a protocol message. Every message is a closed, tagged variant
// validated at the boundary before any field access.
type Op string

const (
	// Inbound.
	OpIdentify        Op = "identify"
	OpHeartbeat       Op = "heartbeat"
	OpRequestAuctions Op = "request_auctions"

	// Outbound.
	OpMetadata      Op = "metadata"
	OpSessionCreate Op = "session_create"
	OpAuctions      Op = "auctions"
)

// Close codes for terminal protocol violations. The logical session's
// survival is governed separately by the detach/removal rule.
const (
	CloseInvalidMessage  websocket.StatusCode = 4000
	CloseHeartbeatFailed websocket.StatusCode = 4001
	CloseInvalidIdentify websocket.StatusCode = 4002
	CloseResumeFailed    websocket.StatusCode = 4003
)

// Envelope is the wire form of every protocol message.
type Envelope struct {
	Op   Op              `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// IdentifyPayload starts a fresh session handshake.
type IdentifyPayload struct {
	UUID     string `json:"uuid"`
	Username string `json:"username"`
	APIKey   string `json:"api_key"`
}

// RequestAuctionsPayload is the single domain query the protocol serves.
type RequestAuctionsPayload struct {
	Query    string `json:"query,omitempty"`
	Category string `json:"category,omitempty"`
	Rarity   string `json:"rarity,omitempty"`
	Type     string `json:"type,omitempty"`
	Order    string `json:"order,omitempty"`
	Start    int    `json:"start,omitempty"`
	Amount   int    `json:"amount,omitempty"`
}

// MetadataPayload advertises connection parameters; sent first on every
// physical connection.
type MetadataPayload struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// SessionCreatePayload confirms a registered session. Seq is the sequence
// number of this message itself.
type SessionCreatePayload struct {
	SessionID string `json:"session_id"`
	Seq       int    `json:"seq"`
}

// AuctionsPayload carries query results.
type AuctionsPayload struct {
	Auctions []domain.APIAuction `json:"auctions"`
}

var inboundOps = map[Op]bool{
	OpIdentify:        true,
	OpHeartbeat:       true,
	OpRequestAuctions: true,
}

// decodeEnvelope validates a raw frame into a recognized inbound message.
func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if !inboundOps[env.Op] {
		return Envelope{}, fmt.Errorf("unrecognized op %q", env.Op)
	}
	return env, nil
}

// encodeMessage builds an outbound frame.
func encodeMessage(op Op, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", op, err)
	}
	frame, err := json.Marshal(Envelope{Op: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", op, err)
	}
	return frame, nil
}
