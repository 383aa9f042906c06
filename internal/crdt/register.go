package crdt

import "encoding/json"

// registerCore is the field-map behavior shared by Object and Map (§3.1:
// "identical semantics to Object but with dynamic key space"). It is
// embedded by value, not inherited through an interface hierarchy — each
// concrete node type forwards to it explicitly.
type registerCore struct {
	attachment
	fields map[string]registerEntry
}

func newRegisterCore() registerCore {
	return registerCore{attachment: newAttachment(), fields: make(map[string]registerEntry)}
}

func (r *registerCore) get(key string) (interface{}, bool) {
	e, ok := r.fields[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

func (r *registerCore) keys() []string {
	out := make([]string, 0, len(r.fields))
	for k := range r.fields {
		out = append(out, k)
	}
	return out
}

func (r *registerCore) childNode(key string) (Node, bool) {
	e, ok := r.fields[key]
	if !ok {
		return nil, false
	}
	return entryNode(e)
}

func (r *registerCore) serializeFields() map[string]SerializedCrdt {
	out := make(map[string]SerializedCrdt, len(r.fields))
	for k, e := range r.fields {
		if child, ok := entryNode(e); ok {
			out[k] = child.Serialize()
		} else {
			out[k] = ScalarValue(e.value)
		}
	}
	return out
}

// localSet performs a local `set(key, value)` per §4.3: capture inverse,
// tick the clock, attach a nested CRDT if value is one, mutate, emit,
// schedule notification. Object and Map share this implementation; both
// emit OpSet.
func (r *registerCore) localSet(self Node, key string, value interface{}) {
	doc := r.doc
	prior, existed := r.fields[key]

	if doc != nil && doc.history != nil && !doc.history.paused {
		var inv Op
		if existed {
			inv = Op{Kind: OpSet, Path: r.Path(), Key: key, Value: serializeEntryValue(prior), Clock: prior.clock}
		} else {
			// Undoing a field's first write removes it entirely.
			inv = Op{Kind: OpDelete, Path: r.Path(), Key: key}
		}
		doc.history.record(Inverse{Op: inv, Existed: existed})
	}

	var clock uint64
	var origin string
	if doc != nil {
		clock = doc.tick()
		origin = doc.origin
		attachValue(doc, self, childPath(r.Path(), key), value)
	}
	r.fields[key] = registerEntry{clock: clock, origin: origin, value: value}

	if doc != nil {
		doc.emit(Op{Kind: OpSet, Path: r.Path(), Key: key, Value: serializeEntryValue(registerEntry{value: value}), Clock: clock, Origin: origin})
		doc.markChanged(self)
	}
}

// localDelete performs a local `delete(key)`.
func (r *registerCore) localDelete(self Node, key string) {
	doc := r.doc
	prior, existed := r.fields[key]
	if !existed {
		return
	}

	if doc != nil && doc.history != nil && !doc.history.paused {
		inv := Op{Kind: OpSet, Path: r.Path(), Key: key, Value: serializeEntryValue(prior), Clock: prior.clock}
		doc.history.record(Inverse{Op: inv, Existed: true})
	}

	if child, ok := entryNode(prior); ok {
		child.detach()
	}
	delete(r.fields, key)

	if doc != nil {
		clock := doc.tick()
		doc.emit(Op{Kind: OpDelete, Path: r.Path(), Key: key, Clock: clock, Origin: doc.origin})
		doc.markChanged(self)
	}
}

// applyRemoteSet applies an incoming `set` op under LWW-with-origin-
// tiebreak rules (§3.2, §9). Returns whether the op changed local state.
func (r *registerCore) applyRemoteSet(doc *Document, self Node, op Op) bool {
	prior, existed := r.fields[op.Key]
	if existed && !entryLoses(prior, op.Clock, op.Origin) {
		return false
	}
	var value interface{}
	if op.Value.Type != "" {
		value = materialize(doc, self, childPath(r.Path(), op.Key), op.Value)
	} else {
		value = unmarshalScalar(op.Value.Scalar)
	}
	if existed {
		if child, ok := entryNode(prior); ok {
			child.detach()
		}
	}
	r.fields[op.Key] = registerEntry{clock: op.Clock, origin: op.Origin, value: value}
	return true
}

// applyRemoteDelete applies an incoming `delete` op under the same
// LWW-with-origin-tiebreak rules.
func (r *registerCore) applyRemoteDelete(op Op) bool {
	prior, existed := r.fields[op.Key]
	if !existed || !entryLoses(prior, op.Clock, op.Origin) {
		return false
	}
	if child, ok := entryNode(prior); ok {
		child.detach()
	}
	delete(r.fields, op.Key)
	return true
}

// entryLoses reports whether the stored entry must yield to an incoming
// (clock, origin) pair.
func entryLoses(stored registerEntry, clock uint64, origin string) bool {
	if clock != stored.clock {
		return clock > stored.clock
	}
	return origin > stored.origin
}

func serializeEntryValue(e registerEntry) SerializedCrdt {
	if child, ok := entryNode(e); ok {
		return child.Serialize()
	}
	return ScalarValue(e.value)
}

func unmarshalScalar(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	_ = json.Unmarshal(raw, &v)
	return v
}
