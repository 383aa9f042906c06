package roomserver

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/roomsync/collab/internal/crdt"
	"github.com/roomsync/collab/internal/middleware"
)

// peer is one live WebSocket connection joined to a Room. Its fields are
// only mutated from the room's run loop; readPump/writePump only touch
// conn and send/frames, mirroring the teacher's Client/Hub split.
type peer struct {
	id          string
	userID      string
	displayName string
	color       string
	connectedAt time.Time

	conn    *websocket.Conn
	send    chan []byte
	limiter *middleware.ConnectionLimiter

	// pendingInitialStorage carries the joiner-supplied initialStorage
	// payload through to the room loop's hydrateDoc, per §4.8's
	// initial-storage contract. Only meaningful on the first-ever join.
	pendingInitialStorage *crdt.SerializedCrdt

	room *Room
}

func newPeer(conn *websocket.Conn, userID, displayName, color string, initialStorage *crdt.SerializedCrdt, room *Room, limiter *middleware.ConnectionLimiter) *peer {
	return &peer{
		id:                    uuid.NewString(),
		userID:                userID,
		displayName:           displayName,
		color:                 color,
		connectedAt:           time.Now(),
		conn:                  conn,
		send:                  make(chan []byte, 256),
		limiter:               limiter,
		pendingInitialStorage: initialStorage,
		room:                  room,
	}
}

func (p *peer) start() {
	p.room.register <- p
	go p.writePump()
	go p.readPump()
}

func (p *peer) readPump() {
	defer func() {
		p.room.unregister <- p
		p.conn.Close()
	}()

	p.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		return nil
	})

	for {
		_, msg, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				p.room.logger.Debug("peer socket error", zap.String("peer", p.id), zap.Error(err))
			}
			return
		}
		p.room.frames <- peerFrame{p: p, raw: msg}
	}
}

func (p *peer) writePump() {
	ticker := time.NewTicker(50 * time.Second)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (p *peer) enqueue(msg []byte) {
	select {
	case p.send <- msg:
	default:
		// Slow consumer: drop rather than block the room loop (§5).
	}
}
