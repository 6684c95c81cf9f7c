package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/anuvruddhi/anuvruddhi/internal/domain"
	"github.com/anuvruddhi/anuvruddhi/internal/logger"
)

const toastWriteTimeout = 10 * time.Second

// ToastMessage is the JSON frame pushed to toast clients.
type ToastMessage struct {
	Type         string                       `json:"type"`
	Title        string                       `json:"title"`
	Body         string                       `json:"body"`
	Notification domain.MilestoneNotification `json:"notification"`
}

type toastClient struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

func newToastClient(conn *websocket.Conn) *toastClient {
	c := &toastClient{
		conn: conn,
		send: make(chan []byte, 16),
	}
	go c.writePump()
	return c
}

func (c *toastClient) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(toastWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// enqueue queues msg for the writer. It reports false only when the buffer
// is full; messages for a closed client are dropped.
func (c *toastClient) enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *toastClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ToastHub pushes milestone notifications to the user's open WebSocket
// sessions. It is a NotificationSink; users with no open session are
// skipped and rely on the inbox.
type ToastHub struct {
	mu      sync.RWMutex
	clients map[string]map[*toastClient]bool
	log     *logger.Logger
}

// NewToastHub creates an empty hub.
func NewToastHub(log *logger.Logger) *ToastHub {
	return &ToastHub{
		clients: make(map[string]map[*toastClient]bool),
		log:     log.With("service", "ToastHub"),
	}
}

func (h *ToastHub) Name() string { return "toast" }

// Notify sends n to every session of n.UserID. A client that cannot keep
// up is disconnected.
func (h *ToastHub) Notify(_ context.Context, n domain.MilestoneNotification) error {
	data, err := json.Marshal(ToastMessage{
		Type:         "milestone",
		Title:        n.Title(),
		Body:         n.Body(),
		Notification: n,
	})
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]*toastClient, 0, len(h.clients[n.UserID]))
	for c := range h.clients[n.UserID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		if !c.enqueue(data) {
			h.log.Warn("toast client too slow, disconnecting", "user_id", n.UserID)
			h.RemoveClient(n.UserID, c)
		}
	}
	return nil
}

// AddClient registers a connection for userID and starts its writer.
func (h *ToastHub) AddClient(userID string, conn *websocket.Conn) *toastClient {
	c := newToastClient(conn)
	h.mu.Lock()
	if h.clients[userID] == nil {
		h.clients[userID] = make(map[*toastClient]bool)
	}
	h.clients[userID][c] = true
	h.mu.Unlock()
	return c
}

// RemoveClient unregisters and closes a connection.
func (h *ToastHub) RemoveClient(userID string, c *toastClient) {
	h.mu.Lock()
	if _, ok := h.clients[userID][c]; ok {
		delete(h.clients[userID], c)
		if len(h.clients[userID]) == 0 {
			delete(h.clients, userID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// ClientCount returns how many sessions userID has open.
func (h *ToastHub) ClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID])
}

// Close disconnects every client.
func (h *ToastHub) Close() {
	h.mu.Lock()
	all := h.clients
	h.clients = make(map[string]map[*toastClient]bool)
	h.mu.Unlock()

	for _, set := range all {
		for c := range set {
			c.close()
		}
	}
}

// handleToasts upgrades to a WebSocket and keeps a milestone watcher
// running for the user while the connection is open.
func (s *Server) handleToasts(w http.ResponseWriter, r *http.Request) {
	userID, err := userParam(r)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return s.originAllowed(r.Header.Get("Origin"))
		},
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("ws upgrade error", "user_id", userID, "error", err)
		return
	}

	// Register the client before the watcher starts so milestones already
	// reached on subscribe reach this session.
	c := s.toasts.AddClient(userID, conn)
	release, err := s.watchers.Acquire(userID)
	if err != nil {
		s.log.Warn("start milestone watcher failed", "user_id", userID, "error", err)
		s.toasts.RemoveClient(userID, c)
		return
	}
	s.log.Debug("toast client connected", "user_id", userID, "remote", r.RemoteAddr)

	go func() {
		defer func() {
			release()
			s.toasts.RemoveClient(userID, c)
			s.log.Debug("toast client disconnected", "user_id", userID, "remote", r.RemoteAddr)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
