package services

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// StatusEvent is one mint/redeem state transition pushed to connected
// dashboards.
type StatusEvent struct {
	Kind      string    `json:"kind"` // "mint" | "redeem" | "reserve"
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	TxHash    string    `json:"tx_hash,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StatusPusher is the broadcast surface the orchestrators depend on.
type StatusPusher interface {
	Broadcast(event StatusEvent)
}

// StatusPushService fans state transitions out to websocket subscribers.
// Slow or dead connections are dropped rather than blocking publishers.
type StatusPushService struct {
	mu       sync.RWMutex
	conns    map[*websocket.Conn]chan []byte
	upgrader websocket.Upgrader
	logger   *logrus.Logger
}

// NewStatusPushService creates an empty broadcast hub.
func NewStatusPushService(logger *logrus.Logger) *StatusPushService {
	if logger == nil {
		logger = logrus.New()
	}
	return &StatusPushService{
		conns: make(map[*websocket.Conn]chan []byte),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// HandleConnection upgrades an HTTP request and serves the subscriber
// until it disconnects.
func (s *StatusPushService) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	send := make(chan []byte, 32)
	s.mu.Lock()
	s.conns[conn] = send
	s.mu.Unlock()
	s.logger.WithField("remote", conn.RemoteAddr().String()).Info("status subscriber connected")

	go s.writeLoop(conn, send)
	s.readLoop(conn)
}

func (s *StatusPushService) writeLoop(conn *websocket.Conn, send chan []byte) {
	for msg := range send {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.drop(conn)
			return
		}
	}
}

// readLoop drains client frames so pings are answered; subscribers are
// read-only.
func (s *StatusPushService) readLoop(conn *websocket.Conn) {
	defer s.drop(conn)
	conn.SetReadLimit(512)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *StatusPushService) drop(conn *websocket.Conn) {
	s.mu.Lock()
	if send, ok := s.conns[conn]; ok {
		delete(s.conns, conn)
		close(send)
	}
	s.mu.Unlock()
	conn.Close()
}

// Broadcast pushes the event to every subscriber, skipping any whose
// buffer is full.
func (s *StatusPushService) Broadcast(event StatusEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, send := range s.conns {
		select {
		case send <- data:
		default:
		}
	}
}

// SubscriberCount reports connected subscribers.
func (s *StatusPushService) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
