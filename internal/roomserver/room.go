// Package roomserver implements the authoritative per-room broker of
// §4.8: one in-memory Room instance per room ID, holding the live peer map
// and the server's own replica of the storage document. Like the client
// (internal/room), a Room runs a single event-loop goroutine so its
// crdt.Document is only ever touched from one goroutine, per §5.
package roomserver

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/roomsync/collab/internal/crdt"
	"github.com/roomsync/collab/internal/pubsub"
	"github.com/roomsync/collab/internal/wire"
	"github.com/roomsync/collab/pkg/metrics"
)

// Config carries the room server's timing and throttling knobs (§4.8).
// cmd/server fills PersistDebounce from config.RoomConfig; the others keep
// the defaults below unless set. OpRateLimit/OpBurst size each peer's
// ConnectionLimiter, which throttles both op and cursor-update frames;
// CursorRateLimit and CursorBurst are not read by the server.
type Config struct {
	PersistDebounce time.Duration
	OpRateLimit     float64
	OpBurst         int
	CursorRateLimit float64
	CursorBurst     int
}

func (c Config) withDefaults() Config {
	if c.PersistDebounce <= 0 {
		c.PersistDebounce = 2 * time.Second
	}
	if c.OpRateLimit <= 0 {
		c.OpRateLimit = 200
	}
	if c.OpBurst <= 0 {
		c.OpBurst = 50
	}
	if c.CursorRateLimit <= 0 {
		c.CursorRateLimit = 60
	}
	if c.CursorBurst <= 0 {
		c.CursorBurst = 20
	}
	return c
}

type peerFrame struct {
	p   *peer
	raw []byte
}

// Room is the authoritative broker for one room ID.
type Room struct {
	id        string
	cfg       Config
	logger    *zap.Logger
	persister Persister
	metrics   *metrics.Metrics
	relay     *pubsub.Relay

	register   chan *peer
	unregister chan *peer
	frames     chan peerFrame
	stopCh     chan struct{}

	// remoteFrames delivers frames published by OTHER processes for this
	// room (via relay), nil when relay is nil.
	remoteFrames <-chan []byte
	relaySub     *pubsub.Subscription

	// onEmpty is invoked from the run loop once the last peer leaves and
	// the final snapshot has been persisted, so a server-level registry can
	// evict this instance.
	onEmpty func(roomID string)

	// Owned exclusively by run(): never touched from readPump/writePump.
	doc          *crdt.Document
	hydrated     bool
	peers        map[string]*peer
	paletteIdx   int
	persistTimer *time.Timer
	dirty        bool
}

// New creates a Room and starts its event loop. Peers join by sending
// themselves on register (peer.start). m
// and relay may both be nil: metrics are then skipped, and the room never
// republishes presence/cursor/message frames across processes (the
// single-instance deployment case).
func New(id string, persister Persister, cfg Config, logger *zap.Logger, m *metrics.Metrics, relay *pubsub.Relay, onEmpty func(string)) *Room {
	r := &Room{
		id:         id,
		cfg:        cfg.withDefaults(),
		logger:     logger.With(zap.String("room", id)),
		persister:  persister,
		metrics:    m,
		relay:      relay,
		register:   make(chan *peer),
		unregister: make(chan *peer),
		frames:     make(chan peerFrame, 256),
		stopCh:     make(chan struct{}),
		onEmpty:    onEmpty,
		peers:      make(map[string]*peer),
	}
	if relay != nil {
		sub := relay.Subscribe(context.Background(), id)
		r.relaySub = sub
		r.remoteFrames = sub.C
	}
	go r.run()
	return r
}

// Stop halts the room's event loop without persisting (used by the
// registry when it has already captured a final snapshot).
func (r *Room) Stop() {
	close(r.stopCh)
	if r.relaySub != nil {
		r.relaySub.Close()
	}
}

func (r *Room) run() {
	for {
		select {
		case <-r.stopCh:
			return
		case p := <-r.register:
			r.handleJoin(p)
		case p := <-r.unregister:
			r.handleLeave(p)
		case pf := <-r.frames:
			r.handleFrame(pf.p, pf.raw)
		case raw, ok := <-r.remoteFrames:
			if ok {
				r.relayToLocalPeers(raw)
			}
		case <-r.persistTimerC():
			r.persistNow()
		}
	}
}

// persistTimerC returns the active debounce timer's channel, or nil
// (blocks forever in select) when no persist is scheduled.
func (r *Room) persistTimerC() <-chan time.Time {
	if r.persistTimer == nil {
		return nil
	}
	return r.persistTimer.C
}

func (r *Room) scheduleDebouncedPersist() {
	r.dirty = true
	if r.persistTimer != nil {
		r.persistTimer.Stop()
	}
	r.persistTimer = time.NewTimer(r.cfg.PersistDebounce)
}

func (r *Room) handleJoin(p *peer) {
	if !r.hydrated {
		r.hydrateDoc(p)
	}

	taken := make(map[string]bool, len(r.peers))
	for _, existing := range r.peers {
		taken[existing.color] = true
	}
	if p.color == "" {
		p.color = assignColor(taken, &r.paletteIdx)
	}

	r.peers[p.id] = p
	r.broadcastRoomState()
	r.sendStorageSync(p)
	if r.metrics != nil {
		r.metrics.ConnectionOpened()
	}

	r.logger.Info("peer joined", zap.String("peer", p.id), zap.String("user", p.userID))
}

// hydrateDoc implements the initial-storage contract (§4.8): rehydrate
// from persistence if present, else from the first joiner's
// initialStorage, else start empty. p.pendingInitialStorage is set from
// the join frame before the peer registers with the room (see
// Server.HandleUpgrade).
func (r *Room) hydrateDoc(p *peer) {
	r.doc = crdt.NewDocument("room:" + r.id)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	snapshot, clock, found, err := r.persister.Load(ctx, r.id)
	if err != nil {
		r.logger.Warn("failed to load persisted snapshot", zap.Error(err))
	}
	switch {
	case found:
		r.doc.ApplySnapshot(snapshot, clock)
	case p.pendingInitialStorage != nil:
		r.doc.ApplySnapshot(*p.pendingInitialStorage, 0)
	}
	r.hydrated = true
}

func (r *Room) sendStorageSync(p *peer) {
	sync := wire.StorageSync{
		Type:     wire.TypeStorageSync,
		Snapshot: r.doc.Root().Serialize(),
		Clock:    r.doc.Clock().Current(),
	}
	p.enqueue(mustEncode(r.logger, sync))
}

func (r *Room) broadcastRoomState() {
	peers := make([]wire.Peer, 0, len(r.peers))
	for _, p := range r.peers {
		peers = append(peers, wire.Peer{
			UserID:      p.userID,
			DisplayName: p.displayName,
			Color:       p.color,
			ConnectedAt: p.connectedAt,
		})
	}
	frame := mustEncode(r.logger, wire.RoomState{Type: wire.TypeRoomState, Peers: peers})
	for _, p := range r.peers {
		p.enqueue(frame)
	}
}

func (r *Room) handleLeave(p *peer) {
	if _, ok := r.peers[p.id]; !ok {
		return
	}
	delete(r.peers, p.id)
	close(p.send)
	r.broadcastRoomState()
	if r.metrics != nil {
		r.metrics.ConnectionClosed()
	}
	r.logger.Info("peer left", zap.String("peer", p.id), zap.String("user", p.userID))

	if len(r.peers) == 0 {
		if r.persistTimer != nil {
			r.persistTimer.Stop()
			r.persistTimer = nil
		}
		r.persistNow()
		if r.onEmpty != nil {
			r.onEmpty(r.id)
		}
	}
}

func (r *Room) handleFrame(p *peer, raw []byte) {
	var f wire.Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		r.logger.Debug("malformed frame ignored", zap.String("peer", p.id), zap.Error(err))
		return
	}

	switch f.Type {
	case wire.TypeOp:
		r.handleOp(p, f)
	case wire.TypePresenceUpdate:
		r.relayExceptSender(p, raw)
		r.publishRemote(raw)
	case wire.TypeCursorUpdate:
		if p.limiter != nil && !p.limiter.Allow() {
			return
		}
		r.relayExceptSender(p, raw)
		r.publishRemote(raw)
	case wire.TypeMessage:
		r.relayExceptSender(p, raw)
		r.publishRemote(raw)
	case wire.TypeHeartbeat:
		// keepalive only; no response per §6.1.
	default:
		r.logger.Debug("unknown frame type ignored", zap.String("peer", p.id), zap.String("type", string(f.Type)))
	}
}

func (r *Room) handleOp(p *peer, f wire.Frame) {
	if p.limiter != nil && !p.limiter.Allow() {
		return
	}

	var opFrame wire.OpFrame
	if err := f.Decode(&opFrame); err != nil {
		r.logger.Debug("malformed op frame ignored", zap.String("peer", p.id), zap.Error(err))
		return
	}

	start := time.Now()
	result := r.doc.ApplyOps(opFrame.Ops)
	if result.Dropped > 0 {
		// §4.8's documented policy: dropped ops are NOT re-broadcast, which
		// can diverge the sender's view; tell it to request a fresh
		// snapshot rather than leave it silently out of sync.
		if r.metrics != nil {
			for i := 0; i < result.Dropped; i++ {
				r.metrics.OpDropped()
			}
		}
		p.enqueue(mustEncode(r.logger, wire.ErrorFrame{
			Type:    wire.TypeError,
			Code:    "STORAGE_APPLY_FAILED",
			Message: "some ops could not be applied; request a fresh snapshot",
		}))
	}
	if result.Applied == 0 {
		return
	}

	// §4.8: ops that didn't apply are dropped for this server, not
	// re-broadcast — re-encode only the ops that actually took effect here.
	relayFrame := opFrame
	if result.Applied != len(opFrame.Ops) {
		relayFrame.Ops = make([]crdt.Op, 0, result.Applied)
		for i, op := range opFrame.Ops {
			if result.AppliedMask[i] {
				relayFrame.Ops = append(relayFrame.Ops, op)
			}
		}
	}

	raw, err := wire.Encode(relayFrame)
	if err != nil {
		r.logger.Error("failed to re-encode op frame for relay", zap.Error(err))
		return
	}
	r.relayExceptSender(p, raw)
	r.scheduleDebouncedPersist()
	if r.metrics != nil {
		for _, op := range relayFrame.Ops {
			r.metrics.OpRelayed(string(op.Kind))
		}
		r.metrics.RelayLatency(time.Since(start))
	}
}

func (r *Room) relayExceptSender(sender *peer, raw []byte) {
	for id, p := range r.peers {
		if id == sender.id {
			continue
		}
		p.enqueue(raw)
	}
}

// relayToLocalPeers delivers a frame published by another process to every
// peer this process holds for the room. It never calls publishRemote,
// since re-publishing would echo the frame back across instances forever.
func (r *Room) relayToLocalPeers(raw []byte) {
	for _, p := range r.peers {
		p.enqueue(raw)
	}
}

// publishRemote broadcasts raw to other processes holding peers for this
// room. A no-op when relay is nil (single-instance deployments).
func (r *Room) publishRemote(raw []byte) {
	if r.relay == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.relay.Publish(ctx, r.id, raw); err != nil {
		r.logger.Warn("failed to publish frame to other instances", zap.Error(err))
	}
}

func (r *Room) persistNow() {
	r.persistTimer = nil
	if !r.dirty || r.doc == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snapshot := r.doc.Root().Serialize()
	clock := r.doc.Clock().Current()
	err := r.persister.Save(ctx, r.id, snapshot, clock)
	if r.metrics != nil {
		encoded, _ := wire.Encode(snapshot)
		r.metrics.SnapshotPersisted(len(encoded), err)
	}
	if err != nil {
		r.logger.Error("failed to persist snapshot", zap.Error(err))
		return
	}
	r.dirty = false
}

func mustEncode(logger *zap.Logger, v interface{}) []byte {
	b, err := wire.Encode(v)
	if err != nil {
		logger.Error("failed to encode frame", zap.Error(err))
		return []byte(`{"type":"error","code":"INTERNAL_ERROR","message":"encode failure"}`)
	}
	return b
}
