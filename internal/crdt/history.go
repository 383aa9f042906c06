package crdt

import "time"

// historyGroup is an atomic group of inverse ops representing one
// user-visible action (§4.5).
type historyGroup struct {
	ops       []Inverse
	lastWrite time.Time
	key       string // path+field/position the group is coalescing around
}

// History implements the undo/redo manager: two capped stacks of atomic
// inverse-op groups, with coalescing and pause/resume.
type History struct {
	doc *Document

	undo []historyGroup
	redo []historyGroup

	paused bool

	coalesceWindow time.Duration
	cap            int

	now func() time.Time

	// capturing, when non-nil, redirects record() into this slice instead
	// of the normal stack/coalescing logic — used while Undo/Redo replay a
	// group, so the freshly captured inverses land exactly where the
	// replay decides (the opposite stack) rather than wiping the stack
	// record() would otherwise clear for an ordinary new edit.
	capturing *[]Inverse
}

// NewHistory creates a history manager. coalesceWindow and cap default to
// the spec's typical values (500ms, 64 groups) when zero.
func NewHistory(coalesceWindow time.Duration, cap_ int) *History {
	if coalesceWindow <= 0 {
		coalesceWindow = 500 * time.Millisecond
	}
	if cap_ <= 0 {
		cap_ = 64
	}
	return &History{
		coalesceWindow: coalesceWindow,
		cap:            cap_,
		now:            time.Now,
	}
}

// Pause suspends inverse recording (used while replaying or applying
// remote ops, so their inverses don't pollute history).
func (h *History) Pause() { h.paused = true }

// Resume re-enables inverse recording.
func (h *History) Resume() { h.paused = false }

// record appends inv to the current group, coalescing with the previous
// entry when it targets the same field/position within the coalesce
// window, per §4.5.
func (h *History) record(inv Inverse) {
	if h.paused {
		return
	}
	if h.capturing != nil {
		*h.capturing = append(*h.capturing, inv)
		return
	}
	key := groupKey(inv.Op)
	now := h.now()

	if n := len(h.undo); n > 0 {
		g := &h.undo[n-1]
		if g.key == key && now.Sub(g.lastWrite) <= h.coalesceWindow {
			g.ops = append(g.ops, inv)
			g.lastWrite = now
			h.redo = nil
			return
		}
	}

	h.undo = append(h.undo, historyGroup{ops: []Inverse{inv}, lastWrite: now, key: key})
	if len(h.undo) > h.cap {
		h.undo = h.undo[len(h.undo)-h.cap:]
	}
	h.redo = nil
}

func groupKey(op Op) string {
	base := pathKey(op.Path)
	switch op.Kind {
	case OpSet, OpDelete:
		return base + "\x00" + op.Key
	case OpListInsert, OpListDelete:
		return base + "\x00" + op.Position
	case OpListMove:
		return base + "\x00" + op.ToPosition
	default:
		return base
	}
}

// clear drops both stacks, e.g. when a snapshot rehydrates the tree
// (§4.4: old inverses may refer to nodes that no longer exist).
func (h *History) clear() {
	h.undo = nil
	h.redo = nil
}

// CanUndo reports whether there is a group to undo.
func (h *History) CanUndo() bool { return len(h.undo) > 0 }

// CanRedo reports whether there is a group to redo.
func (h *History) CanRedo() bool { return len(h.redo) > 0 }

// Undo pops the top undo group, replays its ops against the live document in
// reverse (the group's last-recorded inverse undoes the most recent of the
// coalesced writes, so it must apply first — §4.5), and pushes the inverses
// freshly captured from that replay onto redo.
func (h *History) Undo() {
	if len(h.undo) == 0 || h.doc == nil {
		return
	}
	g := h.undo[len(h.undo)-1]
	h.undo = h.undo[:len(h.undo)-1]

	captured := h.replayGroup(g)
	if len(captured) == 0 {
		return
	}
	h.redo = append(h.redo, historyGroup{ops: captured, lastWrite: h.now(), key: g.key})
	if len(h.redo) > h.cap {
		h.redo = h.redo[len(h.redo)-h.cap:]
	}
}

// Redo is the symmetric counterpart of Undo.
func (h *History) Redo() {
	if len(h.redo) == 0 || h.doc == nil {
		return
	}
	g := h.redo[len(h.redo)-1]
	h.redo = h.redo[:len(h.redo)-1]

	captured := h.replayGroup(g)
	if len(captured) == 0 {
		return
	}
	h.undo = append(h.undo, historyGroup{ops: captured, lastWrite: h.now(), key: g.key})
	if len(h.undo) > h.cap {
		h.undo = h.undo[len(h.undo)-h.cap:]
	}
}

// replayGroup applies g's ops to the document in reverse order through the
// normal local-mutation entry points (Object/Map.Set/Delete,
// List.localInsert/localDelete/localMove), so each op gets its own fresh
// clock tick, is forwarded on the outbound channel, and — since recording
// isn't paused — has its own genuine inverse captured against whatever the
// document holds at that moment. That capture is redirected into a plain
// slice rather than the normal stack, so replaying one group never clears
// the opposite stack the way an ordinary new edit would.
func (h *History) replayGroup(g historyGroup) []Inverse {
	var captured []Inverse
	h.capturing = &captured
	for i := len(g.ops) - 1; i >= 0; i-- {
		h.replayOp(g.ops[i].Op)
	}
	h.capturing = nil
	return captured
}

func (h *History) replayOp(op Op) {
	doc := h.doc
	container, ok := doc.resolveContainer(op.Path)
	if !ok {
		return
	}
	switch op.Kind {
	case OpSet:
		value := materialize(doc, container, childPath(op.Path, op.Key), op.Value)
		switch t := container.(type) {
		case *Object:
			t.Set(op.Key, value)
		case *Map:
			t.Set(op.Key, value)
		}
	case OpDelete:
		switch t := container.(type) {
		case *Object:
			t.Delete(op.Key)
		case *Map:
			t.Delete(op.Key)
		}
	case OpListInsert:
		if l, ok := container.(*List); ok {
			value := materialize(doc, l, childPath(op.Path, op.Position), op.Value)
			l.localInsert(op.Position, value)
		}
	case OpListDelete:
		if l, ok := container.(*List); ok {
			l.localDelete(op.Position)
		}
	case OpListMove:
		if l, ok := container.(*List); ok {
			l.localMove(op.FromPosition, op.ToPosition)
		}
	}
}
