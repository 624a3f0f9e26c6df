// Package v1 defines the gatehouse session protocol v1 wire contract.
//
// It is shared between the server and clients and has no dependencies outside
// the standard library.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is embedded into every envelope.
const Version = "v1"

// Subprotocol is the WebSocket subprotocol clients must request.
const Subprotocol = "gatehouse.session.v1"

// Type constants (wire-stable).
const (
	// TypeSessionReady is the first frame of an accepted session (server -> client).
	TypeSessionReady = "session.ready"

	// TypeHello starts the application handshake (client -> server).
	TypeHello = "hello"
	// TypeHelloAck acknowledges hello (server -> client).
	TypeHelloAck = "hello.ack"

	// TypeWhoAmI asks which identity the connection is bound to (client -> server).
	TypeWhoAmI = "whoami"
	// TypeIdentity answers whoami (server -> client).
	TypeIdentity = "identity"

	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs structural validation of an inbound envelope.
// Only client -> server types are accepted.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	switch strings.TrimSpace(e.Type) {
	case "":
		return errors.New("missing field: type")
	case TypeHello, TypeWhoAmI:
		return nil
	default:
		return fmt.Errorf("unknown type: %q", e.Type)
	}
}
