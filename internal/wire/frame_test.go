package wire

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roomsync/collab/internal/crdt"
)

func TestFrameDispatchByType(t *testing.T) {
	raw := []byte(`{"type":"join","roomId":"r1","userId":"u1","displayName":"Ada"}`)

	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))
	assert.Equal(t, TypeJoin, f.Type)

	var join Join
	require.NoError(t, f.Decode(&join))
	assert.Equal(t, "r1", join.RoomID)
	assert.Equal(t, "u1", join.UserID)
	assert.Equal(t, "Ada", join.DisplayName)
}

func TestJoinRequiresRoomAndUser(t *testing.T) {
	raw := []byte(`{"type":"join","displayName":"Ada"}`)
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))

	var join Join
	err := f.Decode(&join)
	assert.Error(t, err)
}

func TestOpFrameRoundTrip(t *testing.T) {
	op := OpFrame{
		Type: TypeOp,
		Ops: []crdt.Op{
			{Kind: crdt.OpSet, Path: []string{"a"}, Key: "x", Value: crdt.ScalarValue(float64(1)), Clock: 1, Origin: "u1"},
		},
	}
	b, err := Encode(op)
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(b, &f))
	assert.Equal(t, TypeOp, f.Type)

	var decoded OpFrame
	require.NoError(t, f.Decode(&decoded))
	require.Len(t, decoded.Ops, 1)
	assert.Equal(t, "x", decoded.Ops[0].Key)
}

func TestOpFrameRejectsEmptyOps(t *testing.T) {
	raw := []byte(`{"type":"op","ops":[]}`)
	var f Frame
	require.NoError(t, json.Unmarshal(raw, &f))

	var decoded OpFrame
	assert.Error(t, f.Decode(&decoded))
}

func TestStorageSyncRoundTrip(t *testing.T) {
	snap := crdt.SerializedCrdt{Type: crdt.KindObject, Data: map[string]crdt.SerializedCrdt{
		"x": crdt.ScalarValue(float64(1)),
	}}
	sync := StorageSync{Type: TypeStorageSync, Snapshot: snap, Clock: 4}
	b, err := Encode(sync)
	require.NoError(t, err)

	var f Frame
	require.NoError(t, json.Unmarshal(b, &f))
	var decoded StorageSync
	require.NoError(t, f.Decode(&decoded))
	assert.Equal(t, uint64(4), decoded.Clock)
	assert.Equal(t, crdt.KindObject, decoded.Snapshot.Type)
}
