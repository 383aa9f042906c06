// Package wire defines the JSON frame schemas exchanged between a room
// client and a room server (§6.1). Every frame is a tagged envelope:
// Type selects which typed frame struct the raw bytes decode into.
package wire

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/roomsync/collab/internal/crdt"
)

// FrameType is the `type` discriminator carried by every frame.
type FrameType string

const (
	TypeJoin           FrameType = "join"
	TypeRoomState      FrameType = "room-state"
	TypeStorageSync    FrameType = "storage-sync"
	TypeOp             FrameType = "op"
	TypePresenceUpdate FrameType = "presence-update"
	TypeCursorUpdate   FrameType = "cursor-update"
	TypeMessage        FrameType = "message"
	TypeHeartbeat      FrameType = "heartbeat"
	TypeError          FrameType = "error"
)

var validate = validator.New()

// Frame is the envelope every wire message is unmarshaled into first; Type
// selects which typed payload to decode next via Decode.
type Frame struct {
	Type FrameType       `json:"type" validate:"required"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON captures the raw bytes alongside Type so a second decode
// pass can pull out the type-specific fields without re-reading the socket.
func (f *Frame) UnmarshalJSON(b []byte) error {
	var probe struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(b, &probe); err != nil {
		return err
	}
	f.Type = probe.Type
	f.Raw = append(json.RawMessage(nil), b...)
	return nil
}

// Peer describes one connected participant, as carried in room-state.
type Peer struct {
	UserID      string    `json:"userId" validate:"required"`
	DisplayName string    `json:"displayName,omitempty"`
	Color       string    `json:"color"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// Join is the C→S handshake frame (§6.1, §4.7).
type Join struct {
	Type          FrameType           `json:"type" validate:"required,eq=join"`
	RoomID        string              `json:"roomId" validate:"required"`
	UserID        string              `json:"userId" validate:"required"`
	DisplayName   string              `json:"displayName,omitempty"`
	Color         string              `json:"color,omitempty"`
	InitialStorage *crdt.SerializedCrdt `json:"initialStorage,omitempty"`
}

// RoomState is the S→C authoritative peer list (§4.7, §4.8).
type RoomState struct {
	Type  FrameType `json:"type" validate:"required,eq=room-state"`
	Peers []Peer    `json:"peers"`
}

// StorageSync carries the initial or replacement storage tree (§4.4, §4.7).
type StorageSync struct {
	Type     FrameType          `json:"type" validate:"required,eq=storage-sync"`
	Snapshot crdt.SerializedCrdt `json:"snapshot"`
	Clock    uint64             `json:"clock"`
}

// OpFrame relays a batch of CRDT ops in either direction (§4.3, §4.7, §4.8).
type OpFrame struct {
	Type FrameType  `json:"type" validate:"required,eq=op"`
	Ops  []crdt.Op  `json:"ops" validate:"required,min=1"`
}

// PresenceUpdate carries one user's changed presence fields (§4.7).
type PresenceUpdate struct {
	Type   FrameType              `json:"type" validate:"required,eq=presence-update"`
	UserID string                 `json:"userId" validate:"required"`
	Fields map[string]interface{} `json:"fields"`
}

// CursorUpdate is the dedicated high-frequency pointer-position frame (§4.7).
type CursorUpdate struct {
	Type   FrameType              `json:"type" validate:"required,eq=cursor-update"`
	UserID string                 `json:"userId" validate:"required"`
	X      float64                `json:"x"`
	Y      float64                `json:"y"`
	Meta   map[string]interface{} `json:"meta,omitempty"`
}

// Message is an opaque application-typed broadcast (§4.7).
type Message struct {
	Type    FrameType   `json:"type" validate:"required,eq=message"`
	Payload interface{} `json:"payload"`
}

// Heartbeat is the C→S keepalive; it carries no fields and expects no reply.
type Heartbeat struct {
	Type FrameType `json:"type" validate:"required,eq=heartbeat"`
}

// ErrorFrame is a soft-error notification (§7's "Propagation policy": the
// runtime recovers internally and only surfaces what the application needs).
type ErrorFrame struct {
	Type    FrameType `json:"type" validate:"required,eq=error"`
	Code    string    `json:"code"`
	Message string    `json:"message"`
}

// Decode unmarshals f's raw bytes into v (one of the typed frame structs
// above) and validates it. Callers dispatch on f.Type to pick v's concrete
// type before calling Decode.
func (f Frame) Decode(v interface{}) error {
	if err := json.Unmarshal(f.Raw, v); err != nil {
		return fmt.Errorf("wire: decode %s frame: %w", f.Type, err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("wire: invalid %s frame: %w", f.Type, err)
	}
	return nil
}

// Encode marshals a typed frame struct back to wire bytes.
func Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
