package crdt

import (
	"sort"
)

type listItem struct {
	position string
	clock    uint64
	value    interface{}
}

// List is an ordered sequence of (position, value, clock) triples. Order
// is defined entirely by lexicographic comparison of position strings
// (§3.1); the backing slice is kept sorted so iteration is a direct scan.
type List struct {
	attachment
	items []listItem
}

// NewList creates a detached List.
func NewList() *List {
	return &List{attachment: newAttachment()}
}

func (l *List) Kind() NodeKind { return KindList }

func (l *List) attach(doc *Document, parent Node, path []string) {
	l.attachment.attach(doc, parent, path)
}

func (l *List) detach() { l.attachment.detach() }

// Len returns the number of live items.
func (l *List) Len() int { return len(l.items) }

// At returns the value at index i (in sorted-position order).
func (l *List) At(i int) (interface{}, bool) {
	if i < 0 || i >= len(l.items) {
		return nil, false
	}
	return l.items[i].value, true
}

// Values returns a snapshot slice of values in order.
func (l *List) Values() []interface{} {
	out := make([]interface{}, len(l.items))
	for i, it := range l.items {
		out[i] = it.value
	}
	return out
}

func (l *List) childNodeAt(position string) (Node, bool) {
	i := l.indexOfPosition(position)
	if i < 0 {
		return nil, false
	}
	return asNode(l.items[i].value)
}

func (l *List) indexOfPosition(position string) int {
	i := sort.Search(len(l.items), func(i int) bool { return l.items[i].position >= position })
	if i < len(l.items) && l.items[i].position == position {
		return i
	}
	return -1
}

// insertSorted inserts it keeping the slice sorted by position; a
// duplicate position is ignored (§3.2 position uniqueness, idempotent
// insert).
func (l *List) insertSorted(it listItem) bool {
	i := sort.Search(len(l.items), func(i int) bool { return l.items[i].position >= it.position })
	if i < len(l.items) && l.items[i].position == it.position {
		return false
	}
	l.items = append(l.items, listItem{})
	copy(l.items[i+1:], l.items[i:])
	l.items[i] = it
	return true
}

func (l *List) removeByPosition(position string) (listItem, bool) {
	i := l.indexOfPosition(position)
	if i < 0 {
		return listItem{}, false
	}
	it := l.items[i]
	l.items = append(l.items[:i], l.items[i+1:]...)
	return it, true
}

func (l *List) boundsAround(index int) (lo, hi *string) {
	if index > 0 && index-1 < len(l.items) {
		p := l.items[index-1].position
		lo = &p
	}
	if index >= 0 && index < len(l.items) {
		p := l.items[index].position
		hi = &p
	}
	return lo, hi
}

// Push appends value at the end of the list.
func (l *List) Push(value interface{}) {
	l.Insert(len(l.items), value)
}

// Insert places value so it lands at index in the resulting order.
func (l *List) Insert(index int, value interface{}) {
	if index < 0 {
		index = 0
	}
	if index > len(l.items) {
		index = len(l.items)
	}
	lo, hi := l.boundsAround(index)
	position, err := GenerateKeyBetween(lo, hi)
	if err != nil {
		return
	}
	l.localInsert(position, value)
}

func (l *List) localInsert(position string, value interface{}) {
	doc := l.doc

	if doc != nil && doc.history != nil && !doc.history.paused {
		doc.history.record(Inverse{Op: Op{Kind: OpListDelete, Path: l.Path(), Position: position}, Existed: false})
	}

	var clock uint64
	if doc != nil {
		clock = doc.tick()
		attachValue(doc, l, childPath(l.Path(), position), value)
	}
	if !l.insertSorted(listItem{position: position, clock: clock, value: value}) {
		return
	}
	if doc != nil {
		doc.emit(Op{Kind: OpListInsert, Path: l.Path(), Position: position, Value: serializeEntryValue(registerEntry{value: value}), Clock: clock})
		doc.markChanged(l)
	}
}

// Delete removes the item at index.
func (l *List) Delete(index int) {
	if index < 0 || index >= len(l.items) {
		return
	}
	l.localDelete(l.items[index].position)
}

func (l *List) localDelete(position string) {
	doc := l.doc
	it, existed := l.removeByPosition(position)
	if !existed {
		return
	}

	if doc != nil && doc.history != nil && !doc.history.paused {
		doc.history.record(Inverse{
			Op:      Op{Kind: OpListInsert, Path: l.Path(), Position: position, Value: serializeEntryValue(registerEntry{value: it.value}), Clock: it.clock},
			Existed: true,
		})
	}
	if child, ok := asNode(it.value); ok {
		child.detach()
	}
	if doc != nil {
		clock := doc.tick()
		doc.emit(Op{Kind: OpListDelete, Path: l.Path(), Position: position, Clock: clock})
		doc.markChanged(l)
	}
}

// Move relocates the item currently at index `from` so it lands at index
// `to`. Modeled at the semantic level as delete+insert, but emits a single
// list-move op for history fidelity (§3.1).
func (l *List) Move(from, to int) {
	if from < 0 || from >= len(l.items) || to < 0 || to >= len(l.items) || from == to {
		return
	}
	fromPos := l.items[from].position
	target := to
	if to > from {
		target++ // bounds computed against the slice with `from` still present
	}
	lo, hi := l.boundsAround(target)
	newPos, err := GenerateKeyBetween(lo, hi)
	if err != nil {
		return
	}
	l.localMove(fromPos, newPos)
}

func (l *List) localMove(fromPosition, toPosition string) {
	doc := l.doc
	it, existed := l.removeByPosition(fromPosition)
	if !existed {
		return
	}

	if doc != nil && doc.history != nil && !doc.history.paused {
		doc.history.record(Inverse{
			Op:      Op{Kind: OpListMove, Path: l.Path(), FromPosition: toPosition, ToPosition: fromPosition, Clock: it.clock},
			Existed: true,
		})
	}

	var clock uint64
	if doc != nil {
		clock = doc.tick()
	}
	it.position = toPosition
	it.clock = clock
	l.insertSorted(it)

	if doc != nil {
		doc.emit(Op{Kind: OpListMove, Path: l.Path(), FromPosition: fromPosition, ToPosition: toPosition, Clock: clock})
		doc.markChanged(l)
	}
}

func (l *List) applyRemote(doc *Document, op Op) bool {
	switch op.Kind {
	case OpListInsert:
		if l.indexOfPosition(op.Position) >= 0 {
			return false
		}
		value := materialize(doc, l, childPath(l.Path(), op.Position), op.Value)
		return l.insertSorted(listItem{position: op.Position, clock: op.Clock, value: value})

	case OpListDelete:
		it, existed := l.removeByPosition(op.Position)
		if !existed {
			return false
		}
		if child, ok := asNode(it.value); ok {
			child.detach()
		}
		return true

	case OpListMove:
		it, existed := l.removeByPosition(op.FromPosition)
		if !existed {
			return false
		}
		it.position = op.ToPosition
		it.clock = op.Clock
		return l.insertSorted(it)

	default:
		return false
	}
}

func (l *List) Serialize() SerializedCrdt {
	items := make([]SerializedListItem, len(l.items))
	for i, it := range l.items {
		var v SerializedCrdt
		if child, ok := asNode(it.value); ok {
			v = child.Serialize()
		} else {
			v = ScalarValue(it.value)
		}
		items[i] = SerializedListItem{Position: it.position, Value: v}
	}
	return SerializedCrdt{Type: KindList, Items: items}
}
