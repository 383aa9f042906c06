package room

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/roomsync/collab/internal/crdt"
	"github.com/roomsync/collab/internal/transport"
	"github.com/roomsync/collab/internal/wire"
)

// fakeServer accepts a single room-protocol connection and lets the test
// script exactly what room-state/storage-sync frames it sends back, mirroring
// enough of §4.8 to exercise the client's join/hydrate/op path.
type fakeServer struct {
	t    *testing.T
	srv  *httptest.Server
	mu   sync.Mutex
	conn *websocket.Conn
	join chan wire.Join
}

func newFakeServer(t *testing.T) *fakeServer {
	fs := &fakeServer{t: t, join: make(chan wire.Join, 4)}
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		fs.mu.Lock()
		fs.conn = conn
		fs.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var f wire.Frame
			if err := json.Unmarshal(msg, &f); err != nil {
				continue
			}
			if f.Type == wire.TypeJoin {
				var j wire.Join
				require.NoError(t, f.Decode(&j))
				fs.join <- j
			}
		}
	}))
	return fs
}

func (fs *fakeServer) url() string { return "ws" + strings.TrimPrefix(fs.srv.URL, "http") }

func (fs *fakeServer) send(t *testing.T, v interface{}) {
	b, err := wire.Encode(v)
	require.NoError(t, err)
	fs.mu.Lock()
	conn := fs.conn
	fs.mu.Unlock()
	require.Eventually(t, func() bool {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		return fs.conn != nil
	}, time.Second, 5*time.Millisecond)
	fs.mu.Lock()
	conn = fs.conn
	fs.mu.Unlock()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, b))
}

func newTestClient(t *testing.T, fs *fakeServer, userID string) *Client {
	conn := transport.New(transport.Config{URL: fs.url(), OpenTimeout: time.Second, HeartbeatEvery: time.Hour}, zaptest.NewLogger(t))
	c := NewClient(conn, Config{RoomID: "r1", UserID: userID, DisplayName: "Ada", StorageSyncTimeout: time.Second}, zaptest.NewLogger(t))
	c.Start()
	t.Cleanup(c.Close)
	return c
}

func TestJoinHandshakeSendsJoinFrame(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.srv.Close()

	newTestClient(t, fs, "u1")

	select {
	case j := <-fs.join:
		assert.Equal(t, "r1", j.RoomID)
		assert.Equal(t, "u1", j.UserID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for join frame")
	}
}

func TestGetStorageHydratesFromSnapshot(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.srv.Close()

	c := newTestClient(t, fs, "u1")
	<-fs.join

	fs.send(t, wire.RoomState{Type: wire.TypeRoomState, Peers: []wire.Peer{{UserID: "u1"}}})
	snap := crdt.SerializedCrdt{Type: crdt.KindObject, Data: map[string]crdt.SerializedCrdt{
		"title": crdt.ScalarValue("hello"),
	}}
	fs.send(t, wire.StorageSync{Type: wire.TypeStorageSync, Snapshot: snap, Clock: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	doc, err := c.GetStorage(ctx)
	require.NoError(t, err)
	v, ok := doc.Root().Get("title")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestGetStorageTimesOutBeforeSync(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.srv.Close()

	c := newTestClient(t, fs, "u1")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.GetStorage(ctx)
	assert.Error(t, err)
}

func TestOthersExcludesSelf(t *testing.T) {
	fs := newFakeServer(t)
	defer fs.srv.Close()

	c := newTestClient(t, fs, "u1")
	<-fs.join

	var got []wire.Peer
	done := make(chan struct{})
	c.OnOthers(func(peers []wire.Peer) {
		got = peers
		close(done)
	})

	fs.send(t, wire.RoomState{Type: wire.TypeRoomState, Peers: []wire.Peer{
		{UserID: "u1"}, {UserID: "u2"},
	}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for others update")
	}
	require.Len(t, got, 1)
	assert.Equal(t, "u2", got[0].UserID)
}
