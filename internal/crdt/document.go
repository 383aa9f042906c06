// Package crdt implements the storage model: a Lamport-clocked tree of
// Object/Map/List nodes converging under last-writer-wins and
// fractional-index rules.
//
// Document is confined to a single goroutine by design (§5: "single-
// threaded cooperative per endpoint"). Callers — the room client and room
// server event loops — are responsible for calling into a given Document
// from one goroutine at a time; Document itself holds no internal lock.
package crdt

import (
	"strings"
)

// Document owns the root, the clock, the (optional) history manager, and
// the subscription table (§4.4).
type Document struct {
	clock  *Clock
	origin string
	root   *Object

	history *History

	batchDepth int
	changed    map[string]Node

	deepSubs      map[int]*deepSub
	nextDeepSubID int

	outbound chan Op

	onSubscriberPanic func(any)
}

type deepSub struct {
	target Node
	cb     Callback
}

// NewDocument creates an empty document with a fresh, attached root
// Object and a clock starting at zero. origin identifies this replica for
// the equal-clock tiebreak (§9); pass a stable per-connection or per-room-
// instance ID.
func NewDocument(origin string) *Document {
	d := &Document{
		clock:    NewClock(),
		origin:   origin,
		changed:  make(map[string]Node),
		deepSubs: make(map[int]*deepSub),
		outbound: make(chan Op, 256),
	}
	d.root = NewObject()
	d.root.attach(d, nil, nil)
	return d
}

// Root returns the document's root Object.
func (d *Document) Root() *Object { return d.root }

// Origin returns this document's replica identifier, used as the op
// Origin on every locally emitted op.
func (d *Document) Origin() string { return d.origin }

// Clock returns the document's Lamport clock.
func (d *Document) Clock() *Clock { return d.clock }

// Outbound is the channel that local ops are emitted on, for a transport
// layer to relay. Never closed by the document.
func (d *Document) Outbound() <-chan Op { return d.outbound }

// AttachHistory wires an undo/redo manager to this document. Must be
// called before any mutations whose inverses should be recorded.
func (d *Document) AttachHistory(h *History) {
	d.history = h
	h.doc = d
}

// History returns the attached history manager, or nil.
func (d *Document) History() *History { return d.history }

// OnSubscriberPanic registers a hook invoked when a subscriber callback
// panics (§5: "a callback that throws MUST NOT corrupt document state").
func (d *Document) OnSubscriberPanic(fn func(any)) { d.onSubscriberPanic = fn }

func (d *Document) tick() uint64 { return d.clock.Tick() }

func (d *Document) emit(op Op) {
	// Dropping here would silently diverge replicas, so this blocks if the
	// transport layer falls behind rather than losing the op. Callers run
	// inside the single room goroutine and are expected to keep the
	// channel drained.
	d.outbound <- op
}

func pathKey(path []string) string { return strings.Join(path, "\x00") }

func (d *Document) markChanged(n Node) {
	d.changed[pathKey(n.Path())] = n
	if d.batchDepth == 0 {
		d.flush()
	}
}

// Batch groups mutations performed inside fn so subscribers fire once at
// the end, per §4.7's batch API and §4.4's notification batching.
func (d *Document) Batch(fn func()) {
	d.batchDepth++
	fn()
	d.batchDepth--
	if d.batchDepth == 0 {
		d.flush()
	}
}

func (d *Document) flush() {
	if len(d.changed) == 0 {
		return
	}
	changed := d.changed
	d.changed = make(map[string]Node)

	for _, n := range changed {
		n.subscribers().fire(n, d.onSubscriberPanic)
	}
	for _, ds := range d.deepSubs {
		for _, n := range changed {
			if isDescendantOrSelf(n.Path(), ds.target.Path()) {
				callSafely(ds.cb, ds.target, d.onSubscriberPanic)
				break
			}
		}
	}
}

func isDescendantOrSelf(changedPath, targetPath []string) bool {
	if len(changedPath) < len(targetPath) {
		return false
	}
	for i, seg := range targetPath {
		if changedPath[i] != seg {
			return false
		}
	}
	return true
}

// Subscribe registers a shallow callback on n: it fires on any local or
// remote mutation of n itself.
func (d *Document) Subscribe(n Node, cb Callback) Unsubscribe {
	return n.subscribers().add(cb)
}

// SubscribeDeep registers a callback that fires when n or any descendant
// of n changes. Re-targeted across applySnapshot (§4.4).
func (d *Document) SubscribeDeep(n Node, cb Callback) Unsubscribe {
	id := d.nextDeepSubID
	d.nextDeepSubID++
	d.deepSubs[id] = &deepSub{target: n, cb: cb}
	return func() { delete(d.deepSubs, id) }
}

// resolveContainer walks path from root through nested CRDT children,
// used to route incoming ops (§4.4 "path routing").
func (d *Document) resolveContainer(path []string) (Node, bool) {
	var cur Node = d.root
	for _, seg := range path {
		child, ok := containerChild(cur, seg)
		if !ok {
			return nil, false
		}
		cur = child
	}
	return cur, true
}

func containerChild(n Node, seg string) (Node, bool) {
	switch t := n.(type) {
	case *Object:
		return t.childNode(seg)
	case *Map:
		return t.childNode(seg)
	case *List:
		return t.childNodeAt(seg)
	default:
		return nil, false
	}
}

// materialize builds a live, attached value (scalar or nested Node) from a
// SerializedCrdt envelope.
func materialize(doc *Document, parent Node, path []string, s SerializedCrdt) interface{} {
	switch s.Type {
	case KindObject:
		o := NewObject()
		o.attach(doc, parent, path)
		for k, v := range s.Data {
			o.fields[k] = registerEntry{value: materialize(doc, o, childPath(path, k), v)}
		}
		return o
	case KindMap:
		m := NewMap()
		m.attach(doc, parent, path)
		for k, v := range s.Data {
			m.fields[k] = registerEntry{value: materialize(doc, m, childPath(path, k), v)}
		}
		return m
	case KindList:
		l := NewList()
		l.attach(doc, parent, path)
		for _, item := range s.Items {
			l.items = append(l.items, listItem{
				position: item.Position,
				value:    materialize(doc, l, childPath(path, item.Position), item.Value),
			})
		}
		return l
	default:
		return unmarshalScalar(s.Scalar)
	}
}

// ApplyResult summarizes the outcome of routing a batch of remote ops.
type ApplyResult struct {
	Applied int
	// Dropped counts ops whose path resolved to no container (§4.4: a
	// missing parent along the path, tolerated for out-of-order delivery).
	// Ops that reach their container but are rejected there (stale clock,
	// duplicate position, an op kind the node does not handle) are not
	// counted here; they appear only as false in AppliedMask. Callers that want
	// the stricter "error frame" policy from §9's open question can treat
	// Dropped > 0 as a signal to ask the sender for a fresh snapshot.
	Dropped int
	// AppliedMask parallels the ops slice passed to ApplyOps: AppliedMask[i]
	// reports whether ops[i] actually changed local state. Callers that
	// re-broadcast the batch (§4.8: "dropped, not re-broadcast") use this to
	// filter out the ops that didn't apply before relaying.
	AppliedMask []bool
}

// ApplyOps routes incoming remote ops to their target nodes under LWW and
// position rules (§4.4).
func (d *Document) ApplyOps(ops []Op) ApplyResult {
	result := ApplyResult{AppliedMask: make([]bool, len(ops))}
	d.batchDepth++
	for i, op := range ops {
		d.clock.Merge(op.Clock)
		container, ok := d.resolveContainer(op.Path)
		if !ok {
			// Parent hasn't arrived yet; tolerated per §4.4 — dropped
			// silently, a later list-insert/set will re-materialize the
			// subtree.
			result.Dropped++
			continue
		}
		var applied bool
		switch t := container.(type) {
		case *Object:
			applied = t.applyRemote(d, op)
		case *Map:
			applied = t.applyRemote(d, op)
		case *List:
			applied = t.applyRemote(d, op)
		}
		if applied {
			result.Applied++
			result.AppliedMask[i] = true
			d.markChangedNoFlush(container)
		}
	}
	d.batchDepth--
	if d.batchDepth == 0 {
		d.flush()
	}
	return result
}

func (d *Document) markChangedNoFlush(n Node) {
	d.changed[pathKey(n.Path())] = n
}

// ApplyLocalOps re-stamps stale-clocked ops (undo/redo inverses, or
// buffered ops replayed after reconnect) with a fresh clock, applies them
// as local mutations (batched), and forwards them to the network. History
// recording is paused for the duration (§4.4).
func (d *Document) ApplyLocalOps(ops []Op) []Op {
	wasPaused := true
	if d.history != nil {
		wasPaused = d.history.paused
		d.history.paused = true
	}
	defer func() {
		if d.history != nil {
			d.history.paused = wasPaused
		}
	}()

	restamped := make([]Op, 0, len(ops))
	d.batchDepth++
	for _, op := range ops {
		op.Clock = d.tick()
		restamped = append(restamped, op)
		container, ok := d.resolveContainer(op.Path)
		if !ok {
			continue
		}
		var changed bool
		switch t := container.(type) {
		case *Object:
			changed = t.applyRemote(d, op)
		case *Map:
			changed = t.applyRemote(d, op)
		case *List:
			changed = t.applyRemote(d, op)
		}
		if changed {
			d.markChangedNoFlush(container)
		}
		d.emit(op)
	}
	d.batchDepth--
	if d.batchDepth == 0 {
		d.flush()
	}
	return restamped
}

// ApplySnapshot replaces the entire tree from a serialized envelope
// without invalidating existing subscribers (§4.4). History is cleared,
// since old inverses may refer to nodes that no longer exist.
func (d *Document) ApplySnapshot(snapshot SerializedCrdt, clock uint64) {
	oldNodes := make(map[string]Node)
	collectNodes(d.root, oldNodes)

	newRootValue := materialize(d, nil, nil, snapshot)
	newRoot, ok := newRootValue.(*Object)
	if !ok {
		newRoot = NewObject()
		newRoot.attach(d, nil, nil)
	}

	newNodes := make(map[string]Node)
	collectNodes(newRoot, newNodes)

	transferred := make(map[string]Node)
	for key, oldNode := range oldNodes {
		newNode, ok := newNodes[key]
		if !ok {
			continue
		}
		if !oldNode.subscribers().empty() {
			oldNode.subscribers().transferTo(newNode.subscribers())
			transferred[key] = newNode
		}
	}

	for _, ds := range d.deepSubs {
		key := pathKey(ds.target.Path())
		if newTarget, ok := newNodes[key]; ok {
			ds.target = newTarget
		}
	}

	d.root = newRoot
	d.clock.Merge(clock)
	if d.history != nil {
		d.history.clear()
	}

	for _, ds := range d.deepSubs {
		callSafely(ds.cb, ds.target, d.onSubscriberPanic)
	}
	for _, n := range transferred {
		n.subscribers().fire(n, d.onSubscriberPanic)
	}
}

func collectNodes(n Node, into map[string]Node) {
	if n == nil {
		return
	}
	into[pathKey(n.Path())] = n
	switch t := n.(type) {
	case *Object:
		for _, key := range t.keys() {
			if child, ok := t.childNode(key); ok {
				collectNodes(child, into)
			}
		}
	case *Map:
		for _, key := range t.keys() {
			if child, ok := t.childNode(key); ok {
				collectNodes(child, into)
			}
		}
	case *List:
		for i := 0; i < t.Len(); i++ {
			if child, ok := t.childNodeAt(t.items[i].position); ok {
				collectNodes(child, into)
			}
		}
	}
}
