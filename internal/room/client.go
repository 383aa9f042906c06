// Package room implements the client side of the room protocol (§4.7): the
// join handshake, storage hydration, presence/cursor/message relay, and
// disconnect buffering with reconnect replay. A Client runs its own
// single-goroutine event loop so the embedded crdt.Document (which, by
// design, has no internal lock — see internal/crdt) is never touched from
// two goroutines at once, matching §5's single-threaded cooperative model.
package room

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roomsync/collab/internal/crdt"
	"github.com/roomsync/collab/internal/transport"
	"github.com/roomsync/collab/internal/wire"
)

// Config describes how this client should join a room.
type Config struct {
	RoomID             string
	UserID             string
	DisplayName        string
	Color              string
	InitialStorage     *crdt.SerializedCrdt
	StorageSyncTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.StorageSyncTimeout <= 0 {
		c.StorageSyncTimeout = 10 * time.Second
	}
	return c
}

// PresenceEvent is delivered on the presence subscription: one user's
// current field set (self or other).
type PresenceEvent struct {
	UserID string
	Fields map[string]interface{}
}

// Client is the room client described by §4.7.
type Client struct {
	cfg    Config
	conn   *transport.Connection
	logger *zap.Logger

	actions chan func()
	inbound chan []byte
	stateCh chan transport.State
	stopCh  chan struct{}
	stopOnce sync.Once

	// Everything below is owned exclusively by run(); no other goroutine
	// touches it.
	doc            *crdt.Document
	connected      bool
	joinedOnce     bool
	peers          map[string]wire.Peer
	presence       map[string]map[string]interface{}
	selfPresence   map[string]interface{}
	pendingOps     []crdt.Op
	storageReady   chan struct{}
	storageReadyOk sync.Once

	statusSig   *signal[transport.State]
	presenceSig *signal[PresenceEvent]
	othersSig   *signal[[]wire.Peer]
	cursorSig   *signal[wire.CursorUpdate]
	messageSig  *signal[interface{}]
}

// NewClient builds a room client bound to conn. Start must be called to
// begin running it.
func NewClient(conn *transport.Connection, cfg Config, logger *zap.Logger) *Client {
	c := &Client{
		cfg:          cfg.withDefaults(),
		conn:         conn,
		logger:       logger,
		actions:      make(chan func()),
		inbound:      make(chan []byte, 64),
		stateCh:      make(chan transport.State, 8),
		stopCh:       make(chan struct{}),
		peers:        make(map[string]wire.Peer),
		presence:     make(map[string]map[string]interface{}),
		selfPresence: make(map[string]interface{}),
		storageReady: make(chan struct{}),
		statusSig:    newSignal[transport.State](),
		presenceSig:  newSignal[PresenceEvent](),
		othersSig:    newSignal[[]wire.Peer](),
		cursorSig:    newSignal[wire.CursorUpdate](),
		messageSig:   newSignal[interface{}](),
	}
	conn.SetHandlers(c.onWireMessage, c.onStateChange, c.onLostConnection)
	return c
}

// Start launches the event loop and the underlying connection.
func (c *Client) Start() {
	go c.run()
	c.conn.Connect()
}

// Close stops the event loop and disconnects the transport.
func (c *Client) Close() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.conn.Disconnect()
}

func (c *Client) onWireMessage(b []byte) {
	select {
	case c.inbound <- b:
	case <-c.stopCh:
	}
}

func (c *Client) onStateChange(s transport.State) {
	select {
	case c.stateCh <- s:
	case <-c.stopCh:
	}
}

func (c *Client) onLostConnection() {
	c.statusSig.fire(transport.StateDisconnected)
}

func (c *Client) run() {
	for {
		select {
		case <-c.stopCh:
			return
		case raw := <-c.inbound:
			c.handleFrame(raw)
		case s := <-c.stateCh:
			c.handleStateChange(s)
		case fn := <-c.actions:
			fn()
		case op, ok := <-c.docOutbound():
			if ok {
				c.handleLocalOp(op)
			}
		}
	}
}

// docOutbound returns the document's outbound channel, or nil (which
// blocks forever in a select) when no document has been hydrated yet.
func (c *Client) docOutbound() <-chan crdt.Op {
	if c.doc == nil {
		return nil
	}
	return c.doc.Outbound()
}

func (c *Client) handleStateChange(s transport.State) {
	c.connected = s == transport.StateConnected
	c.statusSig.fire(s)
	if s == transport.StateConnected {
		c.sendJoin()
	}
}

func (c *Client) sendJoin() {
	join := wire.Join{
		Type:        wire.TypeJoin,
		RoomID:      c.cfg.RoomID,
		UserID:      c.cfg.UserID,
		DisplayName: c.cfg.DisplayName,
		Color:       c.cfg.Color,
	}
	if !c.joinedOnce {
		join.InitialStorage = c.cfg.InitialStorage
	}
	c.sendFrame(join)
}

func (c *Client) handleLocalOp(op crdt.Op) {
	if !c.connected {
		c.pendingOps = append(c.pendingOps, op)
		return
	}
	c.sendFrame(wire.OpFrame{Type: wire.TypeOp, Ops: []crdt.Op{op}})
}

func (c *Client) handleFrame(raw []byte) {
	var f wire.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		c.logger.Debug("dropping malformed frame", zap.Error(err))
		return
	}

	switch f.Type {
	case wire.TypeRoomState:
		var rs wire.RoomState
		if err := f.Decode(&rs); err != nil {
			c.logger.Debug("dropping invalid room-state frame", zap.Error(err))
			return
		}
		c.applyRoomState(rs)

	case wire.TypeStorageSync:
		var sync wire.StorageSync
		if err := f.Decode(&sync); err != nil {
			c.logger.Debug("dropping invalid storage-sync frame", zap.Error(err))
			return
		}
		c.applyStorageSync(sync)

	case wire.TypeOp:
		var opFrame wire.OpFrame
		if err := f.Decode(&opFrame); err != nil {
			c.logger.Debug("dropping invalid op frame", zap.Error(err))
			return
		}
		if c.doc == nil {
			return
		}
		result := c.doc.ApplyOps(opFrame.Ops)
		if result.Dropped > 0 {
			c.logger.Debug("ops dropped applying remote op frame", zap.Int("dropped", result.Dropped))
		}

	case wire.TypePresenceUpdate:
		var pu wire.PresenceUpdate
		if err := f.Decode(&pu); err != nil {
			c.logger.Debug("dropping invalid presence-update frame", zap.Error(err))
			return
		}
		c.presence[pu.UserID] = pu.Fields
		c.presenceSig.fire(PresenceEvent{UserID: pu.UserID, Fields: pu.Fields})

	case wire.TypeCursorUpdate:
		var cu wire.CursorUpdate
		if err := f.Decode(&cu); err != nil {
			c.logger.Debug("dropping invalid cursor-update frame", zap.Error(err))
			return
		}
		c.cursorSig.fire(cu)

	case wire.TypeMessage:
		var m wire.Message
		if err := f.Decode(&m); err != nil {
			c.logger.Debug("dropping invalid message frame", zap.Error(err))
			return
		}
		c.messageSig.fire(m.Payload)

	case wire.TypeError:
		var ef wire.ErrorFrame
		if err := f.Decode(&ef); err != nil {
			return
		}
		c.logger.Warn("server reported error", zap.String("code", ef.Code), zap.String("message", ef.Message))

	default:
		c.logger.Debug("dropping unknown frame type", zap.String("type", string(f.Type)))
	}
}

func (c *Client) applyRoomState(rs wire.RoomState) {
	c.peers = make(map[string]wire.Peer, len(rs.Peers))
	others := make([]wire.Peer, 0, len(rs.Peers))
	// Presence is rebuilt fully from room-state on every join; there is no
	// presence merge across reconnects (§4.7).
	c.presence = make(map[string]map[string]interface{})
	for _, p := range rs.Peers {
		c.peers[p.UserID] = p
		if p.UserID != c.cfg.UserID {
			others = append(others, p)
		}
	}
	c.othersSig.fire(others)
}

func (c *Client) applyStorageSync(sync wire.StorageSync) {
	if c.doc == nil {
		c.doc = crdt.NewDocument(c.cfg.UserID)
		c.doc.ApplySnapshot(sync.Snapshot, sync.Clock)
		c.joinedOnce = true
		c.storageReadyOk.Do(func() { close(c.storageReady) })
		return
	}

	// Reconnect path: apply the server's authoritative snapshot, then
	// replay whatever accumulated locally while disconnected, re-clocked
	// above the snapshot's max clock (§4.7, §5 ordering guarantees).
	c.doc.ApplySnapshot(sync.Snapshot, sync.Clock)
	if len(c.pendingOps) > 0 {
		c.doc.ApplyLocalOps(c.pendingOps)
		c.pendingOps = nil
	}
}

func (c *Client) sendFrame(v interface{}) {
	b, err := wire.Encode(v)
	if err != nil {
		c.logger.Error("failed to encode outbound frame", zap.Error(err))
		return
	}
	c.conn.Send(b)
}

// do runs fn on the event loop goroutine and blocks the caller until it
// completes (or the client is closed).
func (c *Client) do(fn func()) {
	done := make(chan struct{})
	select {
	case c.actions <- func() { fn(); close(done) }:
	case <-c.stopCh:
		return
	}
	select {
	case <-done:
	case <-c.stopCh:
	}
}

// GetStorage blocks until the first storage-sync arrives (or ctx expires,
// or Config.StorageSyncTimeout elapses), then returns the hydrated document.
func (c *Client) GetStorage(ctx context.Context) (*crdt.Document, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StorageSyncTimeout)
	defer cancel()
	select {
	case <-c.storageReady:
		var doc *crdt.Document
		c.do(func() { doc = c.doc })
		return doc, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("room: storage sync: %w", ctx.Err())
	}
}

// Batch groups storage mutations so subscribers fire once (§4.7).
func (c *Client) Batch(fn func(doc *crdt.Document)) error {
	var batchErr error
	c.do(func() {
		if c.doc == nil {
			batchErr = fmt.Errorf("room: storage not yet hydrated")
			return
		}
		c.doc.Batch(func() { fn(c.doc) })
	})
	return batchErr
}

// SetPresence merges fields into this client's own presence record and
// broadcasts the change.
func (c *Client) SetPresence(fields map[string]interface{}) {
	c.do(func() {
		for k, v := range fields {
			c.selfPresence[k] = v
		}
		c.presenceSig.fire(PresenceEvent{UserID: c.cfg.UserID, Fields: c.selfPresence})
		if c.connected {
			c.sendFrame(wire.PresenceUpdate{Type: wire.TypePresenceUpdate, UserID: c.cfg.UserID, Fields: c.selfPresence})
		}
	})
}

// SendCursor broadcasts a cursor position. Not persisted, not
// history-tracked; applications are expected to throttle calls (§4.7
// recommends 10-60 Hz).
func (c *Client) SendCursor(x, y float64, meta map[string]interface{}) {
	c.do(func() {
		if c.connected {
			c.sendFrame(wire.CursorUpdate{Type: wire.TypeCursorUpdate, UserID: c.cfg.UserID, X: x, Y: y, Meta: meta})
		}
	})
}

// SendMessage broadcasts an arbitrary application payload.
func (c *Client) SendMessage(payload interface{}) {
	c.do(func() {
		if c.connected {
			c.sendFrame(wire.Message{Type: wire.TypeMessage, Payload: payload})
		}
	})
}

// OnStatus subscribes to connection state transitions.
func (c *Client) OnStatus(cb func(transport.State)) Unsubscribe { return c.statusSig.Subscribe(cb) }

// OnPresence subscribes to presence changes, self and others.
func (c *Client) OnPresence(cb func(PresenceEvent)) Unsubscribe { return c.presenceSig.Subscribe(cb) }

// OnOthers subscribes to the authoritative peer list, excluding self.
func (c *Client) OnOthers(cb func([]wire.Peer)) Unsubscribe { return c.othersSig.Subscribe(cb) }

// OnCursor subscribes to other peers' cursor updates.
func (c *Client) OnCursor(cb func(wire.CursorUpdate)) Unsubscribe { return c.cursorSig.Subscribe(cb) }

// OnMessage subscribes to custom application broadcasts.
func (c *Client) OnMessage(cb func(interface{})) Unsubscribe { return c.messageSig.Subscribe(cb) }

// SubscribeStorage forwards directly to the hydrated document's own
// subscribe mechanism, per §4.7's "storage (forwarded to doc's
// subscribe)".
func (c *Client) SubscribeStorage(node crdt.Node, cb crdt.Callback) (crdt.Unsubscribe, error) {
	var unsub crdt.Unsubscribe
	var err error
	c.do(func() {
		if c.doc == nil {
			err = fmt.Errorf("room: storage not yet hydrated")
			return
		}
		unsub = c.doc.Subscribe(node, cb)
	})
	return unsub, err
}
