package crdt

import "encoding/json"

// NodeKind discriminates the three live CRDT shapes over the wire.
type NodeKind string

const (
	KindObject NodeKind = "LiveObject"
	KindMap    NodeKind = "LiveMap"
	KindList   NodeKind = "LiveList"
)

// Node is the shared behavior of Object, Map, and List. It deliberately
// avoids a common base struct with virtual dispatch: each concrete type
// embeds an attachment and implements this interface directly.
type Node interface {
	// Kind reports which of the three shapes this node is.
	Kind() NodeKind

	// attach wires the node into a document at path, under parent (nil for
	// the root). Called exactly once per attachment.
	attach(doc *Document, parent Node, path []string)

	// detach clears the document/parent link. Subscribers survive.
	detach()

	// Path returns the node's current path from the root.
	Path() []string

	// Serialize produces the wire envelope for this node (and its subtree).
	Serialize() SerializedCrdt

	// subscribers returns the node's shallow subscriber set for transfer
	// during snapshot rehydration.
	subscribers() *subscriberSet
}

// SerializedCrdt is the wire/storage envelope described in the protocol:
// a tagged object for LiveObject/LiveMap/LiveList, or a raw scalar.
type SerializedCrdt struct {
	Type  NodeKind                   `json:"type,omitempty"`
	Data  map[string]SerializedCrdt  `json:"data,omitempty"`
	Items []SerializedListItem       `json:"items,omitempty"`
	Scalar json.RawMessage           `json:"-"`
}

// SerializedListItem is one entry of a serialized LiveList.
type SerializedListItem struct {
	Position string         `json:"position"`
	Value    SerializedCrdt `json:"value"`
}

// MarshalJSON emits either the tagged envelope or the raw scalar, matching
// the wire format's untagged scalar case.
func (s SerializedCrdt) MarshalJSON() ([]byte, error) {
	if s.Type == "" {
		if s.Scalar == nil {
			return []byte("null"), nil
		}
		return s.Scalar, nil
	}
	type envelope struct {
		Type  NodeKind                  `json:"type"`
		Data  map[string]SerializedCrdt `json:"data,omitempty"`
		Items []SerializedListItem      `json:"items,omitempty"`
	}
	return json.Marshal(envelope{Type: s.Type, Data: s.Data, Items: s.Items})
}

// UnmarshalJSON accepts either the tagged envelope or a bare scalar.
func (s *SerializedCrdt) UnmarshalJSON(b []byte) error {
	var probe struct {
		Type NodeKind `json:"type"`
	}
	if err := json.Unmarshal(b, &probe); err == nil && probe.Type != "" {
		var envelope struct {
			Type  NodeKind                  `json:"type"`
			Data  map[string]SerializedCrdt `json:"data,omitempty"`
			Items []SerializedListItem      `json:"items,omitempty"`
		}
		if err := json.Unmarshal(b, &envelope); err != nil {
			return err
		}
		s.Type = envelope.Type
		s.Data = envelope.Data
		s.Items = envelope.Items
		s.Scalar = nil
		return nil
	}
	s.Type = ""
	s.Data = nil
	s.Items = nil
	s.Scalar = append(json.RawMessage(nil), b...)
	return nil
}

// ScalarValue wraps a plain JSON-marshalable Go value as a leaf SerializedCrdt.
func ScalarValue(v interface{}) SerializedCrdt {
	raw, err := json.Marshal(v)
	if err != nil {
		raw = []byte("null")
	}
	return SerializedCrdt{Scalar: raw}
}

// registerEntry is a (value, clock) pair stored for one Object/Map field.
// origin is kept alongside the clock solely to break equal-clock ties
// deterministically across replicas (see entryLoses in register.go).
type registerEntry struct {
	clock  uint64
	origin string
	value  interface{} // either a scalar (interface{} from json.Unmarshal) or a Node
}

func entryNode(e registerEntry) (Node, bool) {
	return asNode(e.value)
}

func asNode(v interface{}) (Node, bool) {
	n, ok := v.(Node)
	return n, ok
}
