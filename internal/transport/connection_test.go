package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func echoServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()
		for {
			mt, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, msg); err != nil {
				return
			}
		}
	}))
}

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http")
}

func TestConnectAndEcho(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	received := make(chan []byte, 1)
	var states []State

	conn := New(Config{URL: wsURL(srv.URL), OpenTimeout: time.Second, HeartbeatEvery: time.Hour}, zaptest.NewLogger(t))
	conn.SetHandlers(func(b []byte) { received <- b }, func(s State) { states = append(states, s) }, nil)
	conn.Connect()
	defer conn.Disconnect()

	require.Eventually(t, func() bool { return conn.State() == StateConnected }, time.Second, 5*time.Millisecond)

	require.True(t, conn.Send([]byte("hello")))

	select {
	case msg := <-received:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for echo")
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	srv := echoServer(t)
	defer srv.Close()

	conn := New(Config{URL: wsURL(srv.URL), OpenTimeout: time.Second, HeartbeatEvery: time.Hour}, zaptest.NewLogger(t))
	conn.SetHandlers(nil, nil, nil)
	conn.Connect()

	require.Eventually(t, func() bool { return conn.State() == StateConnected }, time.Second, 5*time.Millisecond)

	conn.Disconnect()
	conn.Disconnect() // must not panic or block
	assert.Equal(t, StateDisconnected, conn.State())
}

func TestFailedDialExhaustsRetriesAndSurfacesLostConnection(t *testing.T) {
	lost := make(chan struct{}, 1)

	conn := New(Config{
		URL:         "ws://127.0.0.1:1/no-such-port",
		OpenTimeout: 50 * time.Millisecond,
		BackoffBase: 5 * time.Millisecond,
		BackoffMax:  10 * time.Millisecond,
		MaxRetries:  2,
	}, zaptest.NewLogger(t))
	conn.SetHandlers(nil, nil, func() { lost <- struct{}{} })
	conn.Connect()

	select {
	case <-lost:
	case <-time.After(2 * time.Second):
		t.Fatal("expected lost-connection after exhausting retries")
	}
	assert.Equal(t, StateDisconnected, conn.State())
}
