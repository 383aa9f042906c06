package crdt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObjectSetAndGet(t *testing.T) {
	doc := NewDocument("local")
	doc.Root().Set("counter", float64(1))
	v, ok := doc.Root().Get("counter")
	require.True(t, ok)
	assert.Equal(t, float64(1), v)
}

func TestLWWRejectsStaleClock(t *testing.T) {
	doc := NewDocument("local")
	root := doc.Root()
	root.Set("v", "a1") // local clock 1

	applied := root.applyRemote(doc, Op{Kind: OpSet, Path: nil, Key: "v", Value: ScalarValue("stale"), Clock: 1, Origin: "aaa"})
	assert.False(t, applied, "equal clock with a lower origin must be rejected (origin tiebreak keeps the stored value)")

	v, _ := root.Get("v")
	assert.Equal(t, "a1", v)

	applied = root.applyRemote(doc, Op{Kind: OpSet, Path: nil, Key: "v", Value: ScalarValue("b1"), Clock: 5})
	assert.True(t, applied)
	v, _ = root.Get("v")
	assert.Equal(t, "b1", v)
}

// TestConvergence mirrors §8 property 1 and the end-to-end "conflicting
// set" scenario: two replicas that receive the same ops (regardless of
// arrival order) end up with equal serialized trees.
func TestConvergence(t *testing.T) {
	a := NewDocument("a")
	a.Root().Set("counter", float64(0))
	initOp := <-a.Outbound()

	b := NewDocument("b")
	b.ApplyOps([]Op{initOp})

	// A and B both mutate concurrently, before seeing each other's op.
	a.Root().Set("counter", float64(1))
	opA := <-a.Outbound()

	b.Root().Set("counter", float64(2))
	opB := <-b.Outbound()

	// Each replica now observes the other's op, in whichever order.
	a.ApplyOps([]Op{opB})
	b.ApplyOps([]Op{opA})

	va, _ := a.Root().Get("counter")
	vb, _ := b.Root().Get("counter")
	assert.Equal(t, va, vb, "replicas must converge on the same value")
}

func TestBatchFiresSubscriberOnce(t *testing.T) {
	doc := NewDocument("replica1")
	fired := 0
	doc.Subscribe(doc.Root(), func(n Node) { fired++ })

	doc.Batch(func() {
		doc.Root().Set("a", float64(10))
		doc.Root().Set("b", float64(20))
	})

	assert.Equal(t, 1, fired)
	va, _ := doc.Root().Get("a")
	vb, _ := doc.Root().Get("b")
	assert.Equal(t, float64(10), va)
	assert.Equal(t, float64(20), vb)
}

func TestListOrderingIsLexicographicByPosition(t *testing.T) {
	doc := NewDocument("replica1")
	list := NewList()
	doc.Root().Set("items", list)

	list.Push("a")
	list.Push("c")
	list.Insert(1, "b")

	assert.Equal(t, []interface{}{"a", "b", "c"}, list.Values())
}

func TestListConcurrentInsertAtSameIndexConverges(t *testing.T) {
	docA := NewDocument("a")
	listA := NewList()
	docA.Root().Set("items", listA)
	listA.Push("a")
	listA.Push("c")

	docB := NewDocument("b")
	snap := docA.Root().Serialize()
	docB.ApplySnapshot(snap, docA.Clock().Current())
	listBVal, _ := docB.Root().Get("items")
	listB := listBVal.(*List)

	listA.Insert(1, "b1")
	listB.Insert(1, "b2")

	opsFromA := []Op{{Kind: OpListInsert, Path: []string{"items"}, Position: listA.items[1].position, Value: ScalarValue("b1"), Clock: listA.items[1].clock}}
	opsFromB := []Op{{Kind: OpListInsert, Path: []string{"items"}, Position: listB.items[1].position, Value: ScalarValue("b2"), Clock: listB.items[1].clock}}

	docA.ApplyOps(opsFromB)
	docB.ApplyOps(opsFromA)

	assert.Equal(t, listA.Values(), listB.Values())
	assert.Len(t, listA.Values(), 4)
}

func TestSnapshotRoundTripPreservesSerialization(t *testing.T) {
	doc := NewDocument("replica1")
	doc.Root().Set("x", float64(1))
	list := NewList()
	doc.Root().Set("items", list)
	list.Push("a")
	list.Push("b")

	snap := doc.Root().Serialize()

	doc2 := NewDocument("replica2")
	doc2.ApplySnapshot(snap, doc.Clock().Current())

	assert.ElementsMatch(t, serializedKeys(snap), serializedKeys(doc2.Root().Serialize()))
	assert.Equal(t, snap, doc2.Root().Serialize())
}

func serializedKeys(s SerializedCrdt) []string {
	out := make([]string, 0, len(s.Data))
	for k := range s.Data {
		out = append(out, k)
	}
	return out
}

func TestSubscriptionSurvivesSnapshot(t *testing.T) {
	doc := NewDocument("replica1")
	doc.Root().Set("x", float64(1))

	fired := 0
	doc.Subscribe(doc.Root(), func(n Node) { fired++ })

	snap := doc.Root().Serialize()
	doc.ApplySnapshot(snap, doc.Clock().Current())

	doc.Root().Set("y", float64(2))
	assert.GreaterOrEqual(t, fired, 1)
}

func TestUndoRedoRoundTrip(t *testing.T) {
	doc := NewDocument("replica1")
	history := NewHistory(10*time.Millisecond, 64)
	doc.AttachHistory(history)

	doc.Root().Set("v", "a1")
	before := doc.Root().Serialize()

	history.Undo()
	v, ok := doc.Root().Get("v")
	assert.False(t, ok, "undo of first write removes the field entirely: got %v", v)

	history.Redo()
	after := doc.Root().Serialize()
	assert.Equal(t, before.Data["v"], after.Data["v"])
}

func TestHistoryCoalescesWithinWindow(t *testing.T) {
	doc := NewDocument("replica1")
	history := NewHistory(500*time.Millisecond, 64)
	doc.AttachHistory(history)

	doc.Root().Set("v", "1")
	doc.Root().Set("v", "2")
	doc.Root().Set("v", "3")

	require.Len(t, history.undo, 1, "rapid successive writes to the same field coalesce into one group")

	history.Undo()
	_, ok := doc.Root().Get("v")
	assert.False(t, ok)
}
