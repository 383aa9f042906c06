package roomserver

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roomsync/collab/internal/crdt"
	"github.com/roomsync/collab/internal/wire"
)

func newTestServer(t *testing.T) (*httptest.Server, Config) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	s := NewServer(Config{PersistDebounce: 50 * time.Millisecond}, NoopPersister{}, zaptest.NewLogger(t), nil, nil)
	router.GET("/ws/:roomId", s.HandleUpgrade)
	srv := httptest.NewServer(router)
	return srv, s.cfg
}

func dialRoom(t *testing.T, srv *httptest.Server, roomID string) *websocket.Conn {
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + roomID
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	return conn
}

func sendFrame(t *testing.T, conn *websocket.Conn, v interface{}) {
	b, err := wire.Encode(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func readFrameType(t *testing.T, conn *websocket.Conn, timeout time.Duration) wire.FrameType {
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f wire.Frame
	require.NoError(t, jsonUnmarshal(raw, &f))
	return f.Type
}

func jsonUnmarshal(b []byte, f *wire.Frame) error {
	return f.UnmarshalJSON(b)
}

func TestJoinReceivesRoomStateThenStorageSync(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	conn := dialRoom(t, srv, "room1")
	defer conn.Close()

	sendFrame(t, conn, wire.Join{Type: wire.TypeJoin, RoomID: "room1", UserID: "u1", DisplayName: "Ada"})

	first := readFrameType(t, conn, time.Second)
	second := readFrameType(t, conn, time.Second)
	assert.Equal(t, wire.TypeRoomState, first)
	assert.Equal(t, wire.TypeStorageSync, second)
}

func TestOpFromOnePeerRelaysToOther(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	a := dialRoom(t, srv, "room2")
	defer a.Close()
	sendFrame(t, a, wire.Join{Type: wire.TypeJoin, RoomID: "room2", UserID: "u1"})
	readFrameType(t, a, time.Second) // room-state
	readFrameType(t, a, time.Second) // storage-sync

	b := dialRoom(t, srv, "room2")
	defer b.Close()
	sendFrame(t, b, wire.Join{Type: wire.TypeJoin, RoomID: "room2", UserID: "u2"})
	readFrameType(t, b, time.Second) // room-state (just b, or b sees 2 peers)
	readFrameType(t, b, time.Second) // storage-sync

	// a observes the updated room-state from b joining.
	readFrameType(t, a, time.Second)

	op := wire.OpFrame{Type: wire.TypeOp, Ops: []crdt.Op{
		{Kind: crdt.OpSet, Path: nil, Key: "title", Value: crdt.ScalarValue("hi"), Clock: 1, Origin: "u1"},
	}}
	sendFrame(t, a, op)

	b.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := b.ReadMessage()
	require.NoError(t, err)
	var f wire.Frame
	require.NoError(t, f.UnmarshalJSON(raw))
	assert.Equal(t, wire.TypeOp, f.Type)

	var decoded wire.OpFrame
	require.NoError(t, f.Decode(&decoded))
	require.Len(t, decoded.Ops, 1)
	assert.Equal(t, "title", decoded.Ops[0].Key)
}

func TestInitialStorageContractOnFirstJoin(t *testing.T) {
	srv, _ := newTestServer(t)
	defer srv.Close()

	conn := dialRoom(t, srv, "room3")
	defer conn.Close()

	initial := crdt.SerializedCrdt{Type: crdt.KindObject, Data: map[string]crdt.SerializedCrdt{
		"seed": crdt.ScalarValue(true),
	}}
	sendFrame(t, conn, wire.Join{Type: wire.TypeJoin, RoomID: "room3", UserID: "u1", InitialStorage: &initial})

	readFrameType(t, conn, time.Second) // room-state
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f wire.Frame
	require.NoError(t, f.UnmarshalJSON(raw))
	var sync wire.StorageSync
	require.NoError(t, f.Decode(&sync))
	_, ok := sync.Snapshot.Data["seed"]
	assert.True(t, ok)
}
