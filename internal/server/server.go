// Package server exposes a store over HTTP and WebSocket for `nexus serve`.
//
// Documents are read and written through a small REST surface under
// /v1/collections. Live snapshots are streamed over /ws: a client sends
// {"type":"subscribe","collection":"projects"} and receives a snapshot
// message with the full document set right away and after every change.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/TrungLeVn/ResearchNexus-sub000/internal/store"
)

// Backend is the store the server exposes.
type Backend interface {
	store.Store
	store.Lister
	Counts(ctx context.Context) (map[string]int, error)
}

// Config holds server configuration
type Config struct {
	// Host to bind (default: all interfaces)
	Host string

	// Port to listen on (default: 8765, 0 picks a free port)
	Port int

	// AllowedOrigins are WebSocket origin patterns accepted besides same-host
	AllowedOrigins []string

	// Collections restricts which collections may be used (empty allows any valid name)
	Collections []string

	// Logger for server activity (default: stderr logger)
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Port:           8765,
		AllowedOrigins: []string{"localhost:*", "127.0.0.1:*"},
		Logger:         log.New(os.Stderr, "[server] ", log.LstdFlags),
	}
}

// Server serves documents and live snapshots from a Backend.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	store    Backend

	collections map[string]bool

	originsMu sync.RWMutex
	origins   []string

	// WebSocket client management
	clients   map[*client]struct{}
	clientsMu sync.RWMutex

	// Lifecycle management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// client is one WebSocket connection and its subscriptions.
type client struct {
	conn *websocket.Conn

	mu   sync.Mutex
	subs map[string]store.Unsubscribe
}

// NewServer creates a server for backend.
func NewServer(backend Backend, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[server] ", log.LstdFlags)
	}

	var collections map[string]bool
	if len(config.Collections) > 0 {
		collections = make(map[string]bool, len(config.Collections))
		for _, c := range config.Collections {
			collections[c] = true
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:        net.JoinHostPort(config.Host, fmt.Sprintf("%d", config.Port)),
		store:       backend,
		collections: collections,
		origins:     append([]string(nil), config.AllowedOrigins...),
		clients:     make(map[*client]struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/collections/{collection}", s.handleList)
	mux.HandleFunc("GET /v1/collections/{collection}/docs/{id}", s.handleGet)
	mux.HandleFunc("PUT /v1/collections/{collection}/docs/{id}", s.handlePut)
	mux.HandleFunc("POST /v1/collections/{collection}/docs/{id}", s.handleCreate)
	mux.HandleFunc("PATCH /v1/collections/{collection}/docs/{id}", s.handlePatch)
	mux.HandleFunc("DELETE /v1/collections/{collection}/docs/{id}", s.handleDelete)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	return mux
}

// Start begins the HTTP server and WebSocket handler
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Store server listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server
func (s *Server) Stop() error {
	s.logger.Println("Stopping store server")

	s.cancel()

	// Close all WebSocket connections
	s.clientsMu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()
	for _, c := range clients {
		s.removeClient(c, websocket.StatusGoingAway, "server shutting down")
	}

	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
	}

	s.wg.Wait()

	s.logger.Println("Store server stopped")
	return nil
}

// SetAllowedOrigins replaces the accepted WebSocket origin patterns.
// New connections use the new list; existing ones are unaffected.
func (s *Server) SetAllowedOrigins(patterns []string) {
	s.originsMu.Lock()
	s.origins = append([]string(nil), patterns...)
	s.originsMu.Unlock()
	s.logger.Printf("Allowed origins: %v", patterns)
}

func (s *Server) allowedOrigins() []string {
	s.originsMu.RLock()
	defer s.originsMu.RUnlock()
	return append([]string(nil), s.origins...)
}

// checkCollection rejects collections outside the configured set.
func (s *Server) checkCollection(name string) error {
	if err := store.ValidateCollection(name); err != nil {
		return err
	}
	if s.collections != nil && !s.collections[name] {
		return fmt.Errorf("%w: unknown collection %q", store.ErrInvalid, name)
	}
	return nil
}

// handleWebSocket upgrades HTTP connections and serves subscriptions
// until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.allowedOrigins(),
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &client{conn: conn, subs: make(map[string]store.Unsubscribe)}

	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.logger.Printf("Client connected (total: %d)", clientCount)

	s.wg.Add(1)
	defer s.wg.Done()
	defer s.removeClient(c, websocket.StatusNormalClosure, "")

	welcome, _ := json.Marshal(store.WelcomeData{Protocol: store.ProtocolVersion})
	if err := s.write(c, store.Message{Type: store.MessageTypeWelcome, Data: welcome}); err != nil {
		return
	}

	s.readLoop(c)
}

// readLoop handles subscribe/unsubscribe requests until the connection drops.
func (s *Server) readLoop(c *client) {
	for {
		var msg store.Message
		if err := wsjson.Read(s.ctx, c.conn, &msg); err != nil {
			return
		}

		switch msg.Type {
		case store.MessageTypeSubscribe:
			if err := s.checkCollection(msg.Collection); err != nil {
				s.sendError(c, msg.Collection, err)
				continue
			}
			s.subscribe(c, msg.Collection)

		case store.MessageTypeUnsubscribe:
			c.mu.Lock()
			unsub := c.subs[msg.Collection]
			delete(c.subs, msg.Collection)
			c.mu.Unlock()
			if unsub != nil {
				unsub()
			}

		default:
			s.sendError(c, msg.Collection, fmt.Errorf("%w: unsupported message type %q", store.ErrInvalid, msg.Type))
		}
	}
}

// subscribe attaches a store subscription that forwards snapshots to c.
// Subscribing twice to one collection replaces the earlier subscription.
func (s *Server) subscribe(c *client, collection string) {
	unsub := s.store.Subscribe(collection, func(snap store.Snapshot) {
		data, err := json.Marshal(store.SnapshotData{Documents: snap.Documents})
		if err != nil {
			s.logger.Printf("Failed to marshal %s snapshot: %v", collection, err)
			return
		}
		msg := store.Message{Type: store.MessageTypeSnapshot, Timestamp: snap.At, Collection: collection, Data: data}
		if err := s.write(c, msg); err != nil {
			s.logger.Printf("Failed to send to client: %v", err)
			// The read loop notices the closed connection and cleans up.
			c.conn.CloseNow()
		}
	})

	c.mu.Lock()
	old := c.subs[collection]
	c.subs[collection] = unsub
	c.mu.Unlock()
	if old != nil {
		old()
	}
}

func (s *Server) sendError(c *client, collection string, err error) {
	code, _ := store.CodeOf(err)
	data, _ := json.Marshal(store.ErrorData{Error: err.Error(), Code: code})
	_ = s.write(c, store.Message{Type: store.MessageTypeError, Collection: collection, Data: data})
}

func (s *Server) write(c *client, msg store.Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	ctx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(ctx, c.conn, msg)
}

// removeClient drops all subscriptions of c and closes its connection.
func (s *Server) removeClient(c *client, code websocket.StatusCode, reason string) {
	s.clientsMu.Lock()
	_, exists := s.clients[c]
	delete(s.clients, c)
	clientCount := len(s.clients)
	s.clientsMu.Unlock()
	if !exists {
		return
	}

	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string]store.Unsubscribe)
	c.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}

	_ = c.conn.Close(code, reason)
	s.logger.Printf("Client disconnected (total: %d)", clientCount)
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Counts(r.Context())
	status := "ok"
	if err != nil {
		status = "degraded"
		s.logger.Printf("Health: failed to count documents: %v", err)
	}
	writeJSON(w, http.StatusOK, store.Health{
		Status:      status,
		Clients:     s.ClientCount(),
		Protocol:    store.ProtocolVersion,
		Collections: counts,
	})
}

// handleRoot returns basic server information
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	_, _ = fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>ResearchNexus Store</title>
</head>
<body>
    <h1>ResearchNexus Store Server</h1>
    <p>Protocol: <code>%s</code></p>
    <p>WebSocket endpoint: <code>ws://%s/ws</code></p>
    <p>Documents: <code>/v1/collections/{collection}/docs/{id}</code></p>
    <p>Health check: <a href="/health">/health</a></p>
</body>
</html>`, store.ProtocolVersion, r.Host)
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
