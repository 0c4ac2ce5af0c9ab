// Package sync fans book and rating events out to websocket and TCP
// subscribers.
package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 2 * time.Second
	// sendQueue is how many events a subscriber may fall behind before it
	// is dropped.
	sendQueue = 256
)

// subscriber owns the only goroutine that writes to its connection, so
// events reach it in the order they were broadcast.
type subscriber struct {
	send  chan []byte
	write func([]byte) error
	close func() error
}

func newSubscriber(write func([]byte) error, closeFn func() error) *subscriber {
	s := &subscriber{send: make(chan []byte, sendQueue), write: write, close: closeFn}
	go s.run()
	return s
}

func (s *subscriber) run() {
	for b := range s.send {
		if err := s.write(b); err != nil {
			// the reader side sees the close and unregisters
			_ = s.close()
			for range s.send {
			}
			return
		}
	}
}

type Hub struct {
	mu        sync.Mutex
	clients   map[net.Conn]*subscriber
	wsClients map[*websocket.Conn]*subscriber
}

type Stats struct {
	TCPClients int `json:"tcp_clients"`
	WSClients  int `json:"ws_clients"`
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[net.Conn]*subscriber),
		wsClients: make(map[*websocket.Conn]*subscriber),
	}
}

func (h *Hub) Add(conn net.Conn) {
	sub := newSubscriber(func(b []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		_, err := conn.Write(b)
		return err
	}, conn.Close)
	h.mu.Lock()
	h.clients[conn] = sub
	h.mu.Unlock()
}

func (h *Hub) Remove(conn net.Conn) {
	h.mu.Lock()
	sub, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()
	if ok {
		close(sub.send)
	}
	_ = conn.Close()
}

func (h *Hub) AddWS(ws *websocket.Conn) {
	sub := newSubscriber(func(b []byte) error {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		return ws.WriteMessage(websocket.TextMessage, b)
	}, ws.Close)
	h.mu.Lock()
	h.wsClients[ws] = sub
	h.mu.Unlock()
}

func (h *Hub) RemoveWS(ws *websocket.Conn) {
	h.mu.Lock()
	sub, ok := h.wsClients[ws]
	delete(h.wsClients, ws)
	h.mu.Unlock()
	if ok {
		close(sub.send)
	}
	_ = ws.Close()
}

// BroadcastJSON queues v as one JSON line for every subscriber. It never
// waits on the network: a subscriber whose queue is full is disconnected.
// A nil hub is a no-op.
func (h *Hub) BroadcastJSON(v any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		slog.Warn("feed: marshal event", "err", err)
		return
	}
	b = append(b, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	for c, sub := range h.clients {
		if !enqueue(sub, b) {
			slog.Warn("feed: dropping slow tcp subscriber", "remote", c.RemoteAddr().String())
			delete(h.clients, c)
		}
	}
	for ws, sub := range h.wsClients {
		if !enqueue(sub, b) {
			slog.Warn("feed: dropping slow websocket subscriber", "remote", ws.RemoteAddr().String())
			delete(h.wsClients, ws)
		}
	}
}

// enqueue hands b to sub, or closes sub when it has fallen too far behind.
// Callers hold h.mu.
func enqueue(sub *subscriber, b []byte) bool {
	select {
	case sub.send <- b:
		return true
	default:
		close(sub.send)
		_ = sub.close()
		return false
	}
}

// Publish broadcasts v. Events published from one goroutine reach every
// subscriber in that order.
func (h *Hub) Publish(v any) {
	h.BroadcastJSON(v)
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Stats{
		TCPClients: len(h.clients),
		WSClients:  len(h.wsClients),
	}
}

func (h *Hub) Welcome(conn net.Conn) {
	stats := h.Stats()
	msg := fmt.Sprintf("{\"type\":\"welcome\",\"transport\":\"tcp\",\"clients\":%d}\n", stats.TCPClients+stats.WSClients)
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, _ = conn.Write([]byte(msg))
}
