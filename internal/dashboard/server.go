// Package dashboard provides a real-time WebSocket server for watching
// changes being applied.
//
// The dashboard broadcasts change reports and graph statistics to connected
// WebSocket clients, and serves read-only views of the dependency graph.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/sqlwatch/sqlwatch/internal/graph"
)

// MessageType defines the type of dashboard message
type MessageType string

const (
	// MessageTypeChange carries the report of one handled change
	MessageTypeChange MessageType = "change"

	// MessageTypeStats carries graph and outcome statistics
	MessageTypeStats MessageType = "stats"
)

// Message represents a dashboard broadcast message
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// GraphView gives serialized read access to the dependency graph.
type GraphView interface {
	View(fn func(*graph.Graph))
}

// Server manages WebSocket connections and broadcasts dashboard messages
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	graph    GraphView

	// WebSocket client management
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	// Message broadcasting
	broadcast chan Message
	welcome   func() Message

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger logrus.FieldLogger
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on; 0 picks a free port
	Port int

	// Graph backs the /api endpoints; optional
	Graph GraphView

	// Logger for server activity (default: logrus standard logger)
	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Host:   "127.0.0.1",
		Port:   8080,
		Logger: logrus.StandardLogger(),
	}
}

// NewServer creates a new dashboard WebSocket server
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:      net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		graph:     config.Graph,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    config.Logger.WithField("component", "dashboard"),
	}
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Infof("dashboard listening on http://%s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("dashboard server error")
		}
	}()

	return nil
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/entities", s.handleEntities)
	mux.HandleFunc("GET /api/dependents/{name}", s.handleDependents)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()
	s.logger.Debug("dashboard stopped")
	return nil
}

// SetWelcome sets the message sent to each client when it connects.
func (s *Server) SetWelcome(fn func() Message) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.welcome = fn
}

// Broadcast sends a message to all connected clients
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warn("broadcast channel full, dropping message")
	}
}

// broadcastLoop handles message broadcasting to all clients
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				s.logger.WithError(err).Error("failed to marshal message")
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					s.logger.WithError(err).Debug("failed to send to client")
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades HTTP connections to WebSocket
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"localhost:*", "127.0.0.1:*"},
	})
	if err != nil {
		s.logger.WithError(err).Debug("websocket upgrade failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	welcomeFn := s.welcome
	s.clientsMu.Unlock()

	s.logger.Debugf("client connected (total: %d)", clientCount)

	welcome := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	if welcomeFn != nil {
		welcome = welcomeFn()
	}
	if data, err := json.Marshal(welcome); err == nil {
		ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, data)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop keeps the WebSocket connection alive and handles client disconnects
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; !exists {
		s.clientsMu.Unlock()
		return
	}
	delete(s.clients, conn)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Debugf("client disconnected (total: %d)", clientCount)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"clients": s.ClientCount(),
	})
}

// EntityInfo is the API view of one entity.
type EntityInfo struct {
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Path        string   `json:"path"`
	SchemaBound bool     `json:"schema_bound"`
	Dependents  []string `json:"dependents"`
}

func (s *Server) handleEntities(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		http.Error(w, "graph not available", http.StatusServiceUnavailable)
		return
	}

	var out []EntityInfo
	s.graph.View(func(g *graph.Graph) {
		for _, e := range g.Entities() {
			info := EntityInfo{
				Name:        e.Name,
				Kind:        e.Kind.String(),
				Path:        e.Path,
				SchemaBound: e.SchemaBound,
				Dependents:  []string{},
			}
			for _, d := range g.Dependents(e.Name) {
				info.Dependents = append(info.Dependents, d.Name)
			}
			out = append(out, info)
		}
	})
	if out == nil {
		out = []EntityInfo{}
	}
	writeJSON(w, http.StatusOK, out)
}

// DependentsInfo is the API view of a traversal.
type DependentsInfo struct {
	Name       string   `json:"name"`
	Order      string   `json:"order"`
	Dependents []string `json:"dependents"`
	Cycles     []string `json:"cycles,omitempty"`
}

func (s *Server) handleDependents(w http.ResponseWriter, r *http.Request) {
	if s.graph == nil {
		http.Error(w, "graph not available", http.StatusServiceUnavailable)
		return
	}

	name := r.PathValue("name")
	order := graph.DropOrder
	switch strings.ToLower(r.URL.Query().Get("order")) {
	case "", "drop":
	case "create":
		order = graph.CreateOrder
	default:
		http.Error(w, "order must be drop or create", http.StatusBadRequest)
		return
	}

	var (
		info  DependentsInfo
		found bool
	)
	s.graph.View(func(g *graph.Graph) {
		e, ok := g.ByName(name)
		if !ok {
			return
		}
		found = true
		deps, cycles := g.DependentsOf(e.Name, order)
		info = DependentsInfo{Name: e.Name, Order: order.String(), Dependents: []string{}}
		for _, d := range deps {
			info.Dependents = append(info.Dependents, d.Name)
		}
		for _, c := range cycles {
			info.Cycles = append(info.Cycles, c.String())
		}
	})
	if !found {
		http.Error(w, fmt.Sprintf("unknown object %q", name), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>sqlwatch</title>
</head>
<body>
    <h1>sqlwatch</h1>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Objects: <a href="/api/entities">/api/entities</a></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, r.Host)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// GetAddr returns the server's listening address
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected clients
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
