// Package push delivers user notifications over websocket connections.
package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	corepush "github.com/kilianp07/fleetiot/core/push"
	"github.com/kilianp07/fleetiot/infra/logger"
)

const (
	defaultWriteTimeout = 5 * time.Second
	pongWait            = 60 * time.Second
	pingPeriod          = pongWait * 9 / 10
)

// UserHeader carries the user id when the query parameter is absent.
const UserHeader = "X-User-ID"

type conn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (c *conn) write(deadline time.Time, msgType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.ws.WriteMessage(msgType, data)
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// Hub tracks websocket connections per user and implements
// corepush.Channel. Authentication happens upstream; the hub trusts the user
// id it is given.
type Hub struct {
	upgrader     websocket.Upgrader
	writeTimeout time.Duration
	log          logger.Logger

	mu    sync.RWMutex
	users map[string]map[*conn]struct{}
}

var _ corepush.Channel = (*Hub)(nil)

// NewHub returns an empty hub. A zero writeTimeout uses the default.
func NewHub(writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		writeTimeout: writeTimeout,
		log:          logger.New("push-hub"),
		users:        make(map[string]map[*conn]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the connection for the user
// named by the "user" query parameter or the X-User-ID header.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user := r.URL.Query().Get("user")
	if user == "" {
		user = r.Header.Get(UserHeader)
	}
	if user == "" {
		http.Error(w, "missing user", http.StatusBadRequest)
		return
	}
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("upgrade for %s: %v", user, err)
		return
	}
	c := &conn{ws: ws, done: make(chan struct{})}
	h.add(user, c)
	h.log.Debugf("user %s connected", user)
	go h.ping(c)
	go h.read(user, c)
}

func (h *Hub) read(user string, c *conn) {
	defer func() {
		h.remove(user, c)
		c.close()
		h.log.Debugf("user %s disconnected", user)
	}()
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) ping(c *conn) {
	t := time.NewTicker(pingPeriod)
	defer t.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-t.C:
			if err := c.write(time.Now().Add(h.writeTimeout), websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (h *Hub) add(user string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[user]
	if !ok {
		set = make(map[*conn]struct{})
		h.users[user] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) remove(user string, c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.users[user]
	delete(set, c)
	if len(set) == 0 {
		delete(h.users, user)
	}
}

// Connected returns the number of open connections of user.
func (h *Hub) Connected(user string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[user])
}

// SendToUser writes the event to every connection of the user. It fails with
// ErrUserNotConnected when the user has none and with the last write error
// when no connection accepted the frame.
func (h *Hub) SendToUser(ctx context.Context, userID, event string, payload any) error {
	data, err := json.Marshal(corepush.Message{Event: event, Payload: payload})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	h.mu.RLock()
	targets := make([]*conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return corepush.ErrUserNotConnected
	}

	deadline := time.Now().Add(h.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	var lastErr error
	delivered := 0
	for _, c := range targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.write(deadline, websocket.TextMessage, data); err != nil {
			lastErr = err
			h.remove(userID, c)
			c.close()
			continue
		}
		delivered++
	}
	if delivered == 0 {
		return errors.Join(corepush.ErrUserNotConnected, lastErr)
	}
	return nil
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	users := h.users
	h.users = make(map[string]map[*conn]struct{})
	h.mu.Unlock()
	for _, set := range users {
		for c := range set {
			c.close()
		}
	}
}
