package crdt

// Object maps field names to (value, clock) pairs. It is used for the
// document root and for fixed-shape nested records.
type Object struct {
	registerCore
}

// NewObject creates a detached Object (clock 0 on all fields, per §3.3).
func NewObject() *Object {
	return &Object{registerCore: newRegisterCore()}
}

func (o *Object) Kind() NodeKind { return KindObject }

func (o *Object) attach(doc *Document, parent Node, path []string) {
	o.attachment.attach(doc, parent, path)
}

func (o *Object) detach() { o.attachment.detach() }

// Get returns the current value of a field: a scalar, a nested Node, or
// (nil, false) if unset.
func (o *Object) Get(key string) (interface{}, bool) { return o.get(key) }

// Keys returns the object's current field names in no particular order.
func (o *Object) Keys() []string { return o.keys() }

// Set installs value at key, per §4.3's local-op sequence.
func (o *Object) Set(key string, value interface{}) { o.localSet(o, key, value) }

// Update applies a bulk partial set, one field at a time (each field gets
// its own clock tick and its own inverse entry, per the op-level design).
func (o *Object) Update(partial map[string]interface{}) {
	for k, v := range partial {
		o.localSet(o, k, v)
	}
}

// Delete removes key.
func (o *Object) Delete(key string) { o.localDelete(o, key) }

func (o *Object) applyRemote(doc *Document, op Op) bool {
	switch op.Kind {
	case OpSet:
		return o.applyRemoteSet(doc, o, op)
	case OpDelete:
		return o.applyRemoteDelete(op)
	default:
		return false
	}
}

func (o *Object) Serialize() SerializedCrdt {
	return SerializedCrdt{Type: KindObject, Data: o.serializeFields()}
}
