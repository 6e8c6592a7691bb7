// HTTP and websocket API for the pulse meter daemon
//
// Exposes the live reading and the manual reset operation to network
// clients:
//
//	GET  /api/status - current snapshot plus component diagnostics
//	POST /api/reset  - zero the counter, returns the pre-reset snapshot
//	GET  /api/ws     - websocket; every report record is pushed as a
//	                   notify_report notification, resets arrive as
//	                   notify_reset
//
// Websocket clients may also issue JSON-RPC style requests
// ({"method": "reset"}, {"method": "status"}, {"method": "ping"}).
//
// The server never touches the capture state directly for mutations.
// Reset requests go through an injected ResetFunc so the owning daemon
// can serialize them with the report timer on its event loop.
//
// Copyright (C) 2026  LeituraPulsos Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/caosdp-rs/LeituraPulsos/pkg/log"
	"github.com/caosdp-rs/LeituraPulsos/pkg/pulse"
	"github.com/caosdp-rs/LeituraPulsos/pkg/report"
)

const (
	// Time allowed to write a message to a websocket peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 30 * time.Second

	// Maximum inbound message size; requests are tiny JSON objects
	maxMessageSize = 4096

	// Outbound queue depth per client before messages are dropped
	clientQueueSize = 64
)

// ResetFunc performs a counter reset and returns the pre-reset
// snapshot. The daemon injects an implementation that runs the reset
// on its event loop.
type ResetFunc func() (pulse.Snapshot, error)

// StatusFunc supplies component diagnostics for the status endpoint.
type StatusFunc func() map[string]any

// Config holds API server configuration
type Config struct {
	// Address to listen on (e.g., "127.0.0.1:7125" or ":7125")
	Address string

	// Origins allowed for CORS and websocket upgrades.
	// A single "*" entry allows any origin.
	AllowedOrigins []string

	// Read/write timeouts for plain HTTP requests. Zero values
	// disable the timeouts, which the websocket endpoint requires.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns the default API configuration.
// The default address binds to loopback only.
func DefaultConfig() Config {
	return Config{
		Address:        "127.0.0.1:7125",
		AllowedOrigins: []string{"*"},
	}
}

// Server exposes the meter over HTTP and websocket
type Server struct {
	cfg     Config
	capture *pulse.Capture
	logger  *log.Logger

	resetFunc  ResetFunc
	statusFunc StatusFunc

	mux        *http.ServeMux
	httpServer *http.Server
	upgrader   websocket.Upgrader

	// Websocket client registry
	clientMu sync.RWMutex
	clients  map[int64]*wsClient
	nextID   int64

	running   atomic.Bool
	startTime time.Time
}

// New creates an API server reading from the given capture.
// Reset support is wired separately via SetResetFunc.
func New(cfg Config, capture *pulse.Capture) *Server {
	if cfg.Address == "" {
		cfg.Address = DefaultConfig().Address
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		cfg:     cfg,
		capture: capture,
		logger:  log.GetLogger("api"),
		mux:     http.NewServeMux(),
		clients: make(map[int64]*wsClient),
	}

	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkWSOrigin,
	}

	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/reset", s.handleReset)
	s.mux.HandleFunc("/api/ws", s.handleWebsocket)
	s.mux.HandleFunc("/api/info", s.handleInfo)

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.corsMiddleware(s.mux),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// SetResetFunc installs the reset implementation. Until one is set,
// reset requests are rejected.
func (s *Server) SetResetFunc(fn ResetFunc) {
	s.resetFunc = fn
}

// SetStatusFunc installs the component diagnostics provider
func (s *Server) SetStatusFunc(fn StatusFunc) {
	s.statusFunc = fn
}

// Start starts the API server (blocks until the server stops)
func (s *Server) Start() error {
	s.running.Store(true)
	s.startTime = time.Now()
	s.logger.Info("api server listening on %s", s.cfg.Address)

	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api server error: %w", err)
	}
	return nil
}

// StartAsync starts the API server in a goroutine
func (s *Server) StartAsync() chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown disconnects all websocket clients and stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	s.clientMu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clients = make(map[int64]*wsClient)
	s.clientMu.Unlock()

	for _, c := range clients {
		c.close()
	}

	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns whether the server is running
func (s *Server) IsRunning() bool {
	return s.running.Load()
}

// GetAddress returns the configured listen address
func (s *Server) GetAddress() string {
	return s.cfg.Address
}

// Handler returns the full HTTP handler (CORS included) for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ClientCount returns the number of connected websocket clients
func (s *Server) ClientCount() int {
	s.clientMu.RLock()
	defer s.clientMu.RUnlock()
	return len(s.clients)
}

// GetStatus returns server status for diagnostics
func (s *Server) GetStatus() map[string]any {
	status := map[string]any{
		"address": s.cfg.Address,
		"running": s.running.Load(),
		"clients": s.ClientCount(),
	}
	if s.running.Load() {
		status["uptime"] = time.Since(s.startTime).Seconds()
	}
	return status
}

// BroadcastRecord pushes a report record to every websocket client
// as a notify_report notification. Wired to the reporter's record
// callback by the daemon.
func (s *Server) BroadcastRecord(rec report.Record) {
	s.broadcast(rpcNotification{
		JSONRPC: "2.0",
		Method:  "notify_report",
		Params:  rec,
	})
}

// BroadcastReset announces a completed reset to every websocket
// client. The params carry the pre-reset snapshot plus the trigger
// ("button", "api" or "auto").
func (s *Server) BroadcastReset(prev pulse.Snapshot, trigger string) {
	params := snapshotResult(prev)
	params["trigger"] = trigger
	s.broadcast(rpcNotification{
		JSONRPC: "2.0",
		Method:  "notify_reset",
		Params:  params,
	})
}

func (s *Server) broadcast(msg any) {
	s.clientMu.RLock()
	clients := make([]*wsClient, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientMu.RUnlock()

	for _, c := range clients {
		c.send(msg)
	}
}

// originAllowed reports whether the given Origin header value is
// accepted by the configured allow list
func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

// checkWSOrigin is the upgrader origin check. Requests without an
// Origin header (curl, native clients) are always accepted.
func (s *Server) checkWSOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return s.originAllowed(origin)
}

// corsMiddleware adds CORS headers for allowed origins and answers
// preflight requests
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// snapshotResult converts a snapshot into the wire representation
// shared by the status endpoint, the reset response and the reset
// notification
func snapshotResult(snap pulse.Snapshot) map[string]any {
	return map[string]any{
		"pulses":           snap.TotalCount,
		"last_interval_us": snap.LastIntervalUs,
		"threshold_us":     snap.ThresholdUs,
		"frequency_hz":     snap.InstantFrequencyHz(),
		"period_us":        snap.PeriodUs(),
		"epoch_start":      snap.EpochStart.Format(time.RFC3339Nano),
	}
}

// statusResult builds the full status payload
func (s *Server) statusResult() map[string]any {
	result := snapshotResult(s.capture.Snapshot())
	result["websocket_clients"] = s.ClientCount()
	if s.running.Load() {
		result["uptime"] = time.Since(s.startTime).Seconds()
	}
	if s.statusFunc != nil {
		result["components"] = s.statusFunc()
	}
	return result
}

// handleStatus handles GET /api/status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.statusResult())
}

// handleReset handles POST /api/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.resetFunc == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "reset not available")
		return
	}

	prev, err := s.resetFunc()
	if err != nil {
		s.logger.WithError(err).Error("reset request failed")
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.Info("counter reset via api: %d pulses discarded", prev.TotalCount)
	writeJSON(w, http.StatusOK, snapshotResult(prev))
}

// handleInfo handles GET /api/info
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service":           "pulsemeter",
		"websocket_clients": s.ClientCount(),
		"endpoints": []string{
			"/api/status",
			"/api/reset",
			"/api/ws",
			"/api/info",
		},
	})
}

// writeJSON writes a success response wrapped in a result envelope
func writeJSON(w http.ResponseWriter, code int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result})
}

// writeJSONError writes an error response
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// JSON-RPC style message framing for the websocket endpoint

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      any             `json:"id,omitempty"`
}

type rpcResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
	ID      any       `json:"id,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcNotification struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

// wsClient represents a connected websocket client
type wsClient struct {
	id     int64
	conn   *websocket.Conn
	server *Server
	sendCh chan any
	done   chan struct{}
	mu     sync.Mutex
}

// handleWebsocket handles GET /api/ws
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error response
		s.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	client := &wsClient{
		id:     atomic.AddInt64(&s.nextID, 1),
		conn:   conn,
		server: s,
		sendCh: make(chan any, clientQueueSize),
		done:   make(chan struct{}),
	}

	s.clientMu.Lock()
	s.clients[client.id] = client
	s.clientMu.Unlock()

	s.logger.Info("websocket client %d connected from %s", client.id, r.RemoteAddr)

	go client.writePump()
	client.readPump()
}

func (s *Server) removeClient(id int64) {
	s.clientMu.Lock()
	_, present := s.clients[id]
	delete(s.clients, id)
	s.clientMu.Unlock()

	if present {
		s.logger.Info("websocket client %d disconnected", id)
	}
}

// send queues a message for delivery. Messages to a slow client are
// dropped rather than blocking the caller.
func (c *wsClient) send(msg any) {
	select {
	case c.sendCh <- msg:
	case <-c.done:
	default:
		c.server.logger.Debug("websocket client %d queue full, dropping message", c.id)
	}
}

// close shuts down the client connection. Safe to call more than once.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.done:
		return
	default:
	}
	close(c.done)
	_ = c.conn.Close()
}

// readPump reads client requests until the connection drops
func (c *wsClient) readPump() {
	defer func() {
		c.server.removeClient(c.id)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.server.logger.WithError(err).Debugf("websocket client %d read error", c.id)
			}
			return
		}
		c.server.handleClientMessage(c, data)
	}
}

// writePump delivers queued messages and keeps the connection alive
// with periodic pings
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg := <-c.sendCh:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// handleClientMessage dispatches a websocket request
func (s *Server) handleClientMessage(c *wsClient, data []byte) {
	var req rpcRequest
	if err := json.Unmarshal(data, &req); err != nil {
		c.send(rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32700, Message: "parse error"},
		})
		return
	}

	switch req.Method {
	case "reset":
		s.wsReset(c, req)
	case "status":
		c.send(rpcResponse{JSONRPC: "2.0", Result: s.statusResult(), ID: req.ID})
	case "ping":
		c.send(rpcResponse{JSONRPC: "2.0", Result: "pong", ID: req.ID})
	default:
		c.send(rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)},
			ID:      req.ID,
		})
	}
}

func (s *Server) wsReset(c *wsClient, req rpcRequest) {
	if s.resetFunc == nil {
		c.send(rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32603, Message: "reset not available"},
			ID:      req.ID,
		})
		return
	}

	prev, err := s.resetFunc()
	if err != nil {
		s.logger.WithError(err).Error("websocket reset request failed")
		c.send(rpcResponse{
			JSONRPC: "2.0",
			Error:   &rpcError{Code: -32603, Message: err.Error()},
			ID:      req.ID,
		})
		return
	}

	s.logger.Info("counter reset via websocket client %d: %d pulses discarded", c.id, prev.TotalCount)
	c.send(rpcResponse{JSONRPC: "2.0", Result: snapshotResult(prev), ID: req.ID})
}
