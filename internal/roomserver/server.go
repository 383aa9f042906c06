package roomserver

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apierrors "github.com/roomsync/collab/internal/errors"
	"github.com/roomsync/collab/internal/middleware"
	"github.com/roomsync/collab/internal/pubsub"
	"github.com/roomsync/collab/internal/wire"
	"github.com/roomsync/collab/pkg/metrics"
)

// Server owns the registry of live Room instances — one per room ID, created
// lazily on first join and evicted once its last peer leaves (§4.8).
type Server struct {
	cfg       Config
	persister Persister
	logger    *zap.Logger
	metrics   *metrics.Metrics
	relay     *pubsub.Relay
	upgrader  websocket.Upgrader

	mu    sync.Mutex
	rooms map[string]*Room
}

// NewServer builds a room registry. persister backs every room's debounced
// snapshot persistence. m and relay may both be nil: metrics are then
// skipped, and every Room behaves as if it were the only process serving
// its room (no cross-instance broadcast).
func NewServer(cfg Config, persister Persister, logger *zap.Logger, m *metrics.Metrics, relay *pubsub.Relay) *Server {
	return &Server{
		cfg:       cfg.withDefaults(),
		persister: persister,
		logger:    logger,
		metrics:   m,
		relay:     relay,
		upgrader:  websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096, CheckOrigin: func(*http.Request) bool { return true }},
		rooms:     make(map[string]*Room),
	}
}

func (s *Server) getOrCreateRoom(roomID string) *Room {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		return r
	}
	r := New(roomID, s.persister, s.cfg, s.logger, s.metrics, s.relay, s.evictRoom)
	s.rooms[roomID] = r
	return r
}

func (s *Server) evictRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rooms[roomID]; ok {
		r.Stop()
		delete(s.rooms, roomID)
	}
}

// HandleUpgrade is the gin handler for the `/ws/:roomId` route (§4.8): it
// upgrades the socket, waits for the join handshake, and hands the new
// peer off to the room's event loop.
func (s *Server) HandleUpgrade(c *gin.Context) {
	roomID := c.Param("roomId")
	if roomID == "" {
		apiErr := apierrors.NewRoomNotFoundError("")
		c.JSON(apiErr.HTTPStatus(), apiErr)
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		s.logger.Debug("join handshake read failed", zap.Error(err))
		s.rejectJoin(conn)
		return
	}

	var f wire.Frame
	if err := json.Unmarshal(raw, &f); err != nil || f.Type != wire.TypeJoin {
		s.logger.Debug("first frame was not a join frame", zap.Error(err))
		s.rejectJoin(conn)
		return
	}
	var join wire.Join
	if err := f.Decode(&join); err != nil {
		s.logger.Debug("invalid join frame", zap.Error(err))
		s.rejectJoin(conn)
		return
	}

	userID := join.UserID
	displayName := join.DisplayName
	if verifiedID, ok := middleware.VerifiedUserID(c); ok {
		userID = verifiedID
		if name, ok := middleware.VerifiedDisplayName(c); ok && name != "" {
			displayName = name
		}
	}

	conn.SetReadDeadline(time.Time{})
	room := s.getOrCreateRoom(roomID)
	limiter := middleware.NewConnectionLimiter(s.cfg.OpRateLimit, s.cfg.OpBurst)
	p := newPeer(conn, userID, displayName, join.Color, join.InitialStorage, room, limiter)
	p.start()
}

func (s *Server) rejectJoin(conn *websocket.Conn) {
	if s.metrics != nil {
		s.metrics.JoinRejected()
	}
	conn.Close()
}
