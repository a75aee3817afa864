// Package web serves the host's status dashboard: a JSON snapshot endpoint
// and a websocket stream of link state, volume and meter levels.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/avolk/volknob/host"
)

// Dashboard implements host.StatusSink. Every published status is kept as
// the current snapshot and pushed to all connected websocket clients.
type Dashboard struct {
	addr string

	mu     sync.RWMutex
	status host.Status
	conns  map[*websocket.Conn]struct{}

	upgrader websocket.Upgrader
	srv      *http.Server
}

func NewDashboard(addr string) *Dashboard {
	d := &Dashboard{
		addr:  addr,
		conns: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  256,
			WriteBufferSize: 256,
		},
	}
	d.srv = &http.Server{Addr: addr, Handler: d.Routes()}
	return d
}

func (d *Dashboard) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", d.handleStatus)
	r.Get("/ws", d.handleWS)
	return r
}

// Publish stores the snapshot and fans it out to websocket listeners.
// Dead connections are dropped on write failure.
func (d *Dashboard) Publish(s host.Status) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status = s

	data, err := json.Marshal(s)
	if err != nil {
		slog.Warn("Failed to encode status", "error", err.Error())
		return
	}
	for conn := range d.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			slog.Debug("Dropping dashboard client", "error", err.Error())
			conn.Close()
			delete(d.conns, conn)
		}
	}
}

func (d *Dashboard) handleStatus(w http.ResponseWriter, r *http.Request) {
	d.mu.RLock()
	status := d.status
	d.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Warn("Failed to write status response", "error", err.Error())
	}
}

func (d *Dashboard) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err.Error())
		return
	}

	// Send the current snapshot immediately so a fresh page is not blank
	// until the next change. The write happens before the conn is visible
	// to Publish, and under the same lock, so no two goroutines ever write
	// the connection at once.
	d.mu.Lock()
	if data, err := json.Marshal(d.status); err == nil {
		conn.WriteMessage(websocket.TextMessage, data)
	}
	d.conns[conn] = struct{}{}
	d.mu.Unlock()

	// Discard client messages; the socket exists to push. Read errors mean
	// the client went away.
	go func() {
		defer func() {
			d.mu.Lock()
			delete(d.conns, conn)
			d.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// Start serves until Shutdown or listener failure.
func (d *Dashboard) Start() error {
	slog.Info("Starting dashboard", "addr", d.addr)
	if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (d *Dashboard) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	for conn := range d.conns {
		conn.Close()
	}
	d.conns = make(map[*websocket.Conn]struct{})
	d.mu.Unlock()
	return d.srv.Shutdown(ctx)
}
