// Package hub provides the synchronization hub: the single point of mutation
// ordering and event fan-out for all connected clients.
//
// Every mutation request, from any connection, funnels into one apply loop
// that serializes writes against the store and broadcasts the resulting
// canonical event to every registered connection, including the origin.
// Because one goroutine both commits and fans out, the sequence of canonical
// events observed by every connection is identical and matches commit order.
//
// Registration is snapshot-then-subscribe: the connection receives a full
// ordered snapshot and is added to the registry atomically with respect to
// fan-out, so no event is missed and none is duplicated relative to the
// snapshot.
//
// Delivery to each connection goes through a bounded outbound queue drained
// by a dedicated writer goroutine, so a slow consumer cannot stall mutation
// processing for others. A connection whose queue fills up is disconnected;
// on reconnect it re-runs the snapshot protocol.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tasuku-app/tasuku/internal/store"
	"github.com/tasuku-app/tasuku/internal/task"
)

const writeTimeout = 5 * time.Second

// connection is one live client channel. It holds no authoritative state;
// state always round-trips through the store.
type connection struct {
	id       string
	ws       *websocket.Conn
	outbound chan []byte

	closeOnce sync.Once
}

// enqueue attempts a non-blocking send to the connection's outbound queue.
// Returns false when the queue is full.
func (c *connection) enqueue(data []byte) bool {
	select {
	case c.outbound <- data:
		return true
	default:
		return false
	}
}

// mutation is one accepted mutation request awaiting the apply loop.
type mutation struct {
	kind   MessageType
	data   json.RawMessage
	origin string
}

// Server manages WebSocket connections and orders all task mutations.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	store    *store.Store

	// Connection registry. The apply loop holds the write lock across a
	// commit and its fan-out; registration, removal and explicit snapshots
	// also hold the write lock, so a snapshot can never interleave with a
	// commit+broadcast pair.
	clients   map[string]*connection
	clientsMu sync.RWMutex

	// All mutations funnel through this queue into the apply loop.
	mutations chan mutation

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger     *log.Logger
	sendBuffer int
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on, e.g. "127.0.0.1:7432". Use ":0" for a random port.
	Addr string

	// SendBuffer is the per-connection outbound queue size (default: 64).
	// A connection that falls this far behind is disconnected.
	SendBuffer int

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Addr:       "127.0.0.1:7432",
		SendBuffer: 64,
		Logger:     log.Default(),
	}
}

// NewServer creates a new sync hub serving the given store.
//
// The store must be open with its schema initialized, and any legacy
// migration must have completed before the hub starts accepting
// connections.
func NewServer(st *store.Store, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Logger == nil {
		config.Logger = log.Default()
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 64
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:       config.Addr,
		store:      st,
		clients:    make(map[string]*connection),
		mutations:  make(chan mutation, 256),
		ctx:        ctx,
		cancel:     cancel,
		logger:     config.Logger,
		sendBuffer: config.SendBuffer,
	}
}

// Start begins the HTTP server and the apply loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go s.applyLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Sync hub listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.logger.Println("Stopping sync hub")

	s.cancel()

	s.clientsMu.Lock()
	for id, c := range s.clients {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		c.closeOnce.Do(func() { close(c.outbound) })
		delete(s.clients, id)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	s.wg.Wait()

	s.logger.Println("Sync hub stopped")
	return nil
}

// Addr returns the server's listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of registered connections.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

// handleWebSocket upgrades the HTTP connection and registers it.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := &connection{
		id:       uuid.NewString(),
		ws:       ws,
		outbound: make(chan []byte, s.sendBuffer),
	}

	if err := s.register(c); err != nil {
		s.logger.Printf("Failed to register connection %s: %v", c.id, err)
		_ = ws.Close(websocket.StatusInternalError, "snapshot failed")
		return
	}

	go s.writeLoop(c)
	go s.readLoop(c)
}

// register atomically sends the initial snapshot and adds the connection to
// the live set. Holding the write lock across both steps is what guarantees
// snapshot-then-subscribe: no canonical event can be fanned out between the
// snapshot read and the registration.
func (s *Server) register(c *connection) error {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	data, err := s.snapshotMessage()
	if err != nil {
		return err
	}
	c.enqueue(data) // fresh queue, cannot be full

	s.clients[c.id] = c
	s.logger.Printf("Client %s connected (total: %d)", c.id, len(s.clients))
	return nil
}

// unregister removes a connection from the live set. Mutations already
// accepted from it still complete and broadcast.
func (s *Server) unregister(c *connection) {
	s.clientsMu.Lock()
	if _, ok := s.clients[c.id]; ok {
		delete(s.clients, c.id)
		c.closeOnce.Do(func() { close(c.outbound) })
		s.logger.Printf("Client %s disconnected (total: %d)", c.id, len(s.clients))
	}
	s.clientsMu.Unlock()

	_ = c.ws.Close(websocket.StatusNormalClosure, "")
}

// snapshotMessage encodes the current full ordered task list.
func (s *Server) snapshotMessage() ([]byte, error) {
	tasks, err := s.store.List(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	return encodeMessage(MessageTypeSnapshot, tasks)
}

// sendSnapshot sends a fresh snapshot to a single connection, serialized
// against fan-out so the snapshot is consistent with the event stream.
func (s *Server) sendSnapshot(c *connection) {
	s.clientsMu.Lock()
	data, err := s.snapshotMessage()
	if err != nil {
		s.clientsMu.Unlock()
		s.logger.Printf("Snapshot for %s failed: %v", c.id, err)
		s.sendError(c.id, err)
		return
	}
	stalled := !c.enqueue(data)
	s.clientsMu.Unlock()

	if stalled {
		s.logger.Printf("Client %s stalled, disconnecting", c.id)
		s.unregister(c)
	}
}

// readLoop consumes client messages and routes them.
func (s *Server) readLoop(c *connection) {
	defer s.unregister(c)

	for {
		_, data, err := c.ws.Read(s.ctx)
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			s.sendError(c.id, fmt.Errorf("malformed message: %w", err))
			continue
		}

		switch msg.Type {
		case MessageTypeListRequest:
			s.sendSnapshot(c)

		case MessageTypeCreateRequest, MessageTypeUpdateRequest, MessageTypeDeleteRequest:
			select {
			case s.mutations <- mutation{kind: msg.Type, data: msg.Data, origin: c.id}:
			case <-s.ctx.Done():
				return
			}

		default:
			s.sendError(c.id, fmt.Errorf("unknown message type %q", msg.Type))
		}
	}
}

// writeLoop drains the outbound queue to the socket. One writer per
// connection keeps a slow consumer from blocking anyone else.
func (s *Server) writeLoop(c *connection) {
	for data := range c.outbound {
		ctx, cancel := context.WithTimeout(s.ctx, writeTimeout)
		err := c.ws.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			s.unregister(c)
			return
		}
	}
}

// applyLoop is the single consumer of the mutation queue. It commits each
// mutation against the store, then broadcasts the canonical event; the loop
// being singular is what makes commit order and broadcast order the same
// total order for every observer.
func (s *Server) applyLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case m := <-s.mutations:
			s.apply(m)
		}
	}
}

// apply commits one mutation and broadcasts the result. Store failures are
// reported to the origin connection only; other connections see no effect.
//
// The registry write lock is held from before the commit until every
// connection has the event in its queue. Registration and explicit snapshots
// take the same lock, so a connection either snapshots before the commit and
// then receives the event, or snapshots after the fan-out with the mutation
// already folded in; it can never get both.
func (s *Server) apply(m mutation) {
	var stalled []*connection

	s.clientsMu.Lock()
	event, err := s.commit(m)
	if err != nil {
		s.logger.Printf("Mutation %s from %s failed: %v", m.kind, m.origin, err)
		if c, ok := s.clients[m.origin]; ok {
			data, encErr := encodeMessage(MessageTypeError, ErrorData{Message: err.Error()})
			if encErr != nil {
				s.logger.Printf("Failed to encode error event: %v", encErr)
			} else if !c.enqueue(data) {
				stalled = append(stalled, c)
			}
		}
	} else {
		for _, c := range s.clients {
			if !c.enqueue(event) {
				stalled = append(stalled, c)
			}
		}
	}
	s.clientsMu.Unlock()

	for _, c := range stalled {
		s.logger.Printf("Client %s stalled, disconnecting", c.id)
		s.unregister(c)
	}
}

// commit performs the store write for one mutation and returns the encoded
// canonical event.
func (s *Server) commit(m mutation) ([]byte, error) {
	switch m.kind {
	case MessageTypeCreateRequest:
		var req CreateRequestData
		if err := json.Unmarshal(m.data, &req); err != nil {
			return nil, fmt.Errorf("malformed create-request: %w", err)
		}
		created, err := s.store.Create(s.ctx, &task.Task{
			Title:        req.Title,
			Description:  req.Description,
			Completed:    req.Completed,
			Priority:     req.Priority,
			ScheduledFor: req.ScheduledFor,
			OrderIndex:   req.OrderIndex,
		})
		if err != nil {
			return nil, err
		}
		return encodeMessage(MessageTypeItemCreated, created)

	case MessageTypeUpdateRequest:
		var t task.Task
		if err := json.Unmarshal(m.data, &t); err != nil {
			return nil, fmt.Errorf("malformed update-request: %w", err)
		}
		updated, err := s.store.Update(s.ctx, &t)
		if err != nil {
			return nil, err
		}
		return encodeMessage(MessageTypeItemUpdated, updated)

	case MessageTypeDeleteRequest:
		var req DeleteRequestData
		if err := json.Unmarshal(m.data, &req); err != nil {
			return nil, fmt.Errorf("malformed delete-request: %w", err)
		}
		if err := s.store.Delete(s.ctx, req.ID); err != nil {
			return nil, err
		}
		return encodeMessage(MessageTypeItemDeleted, ItemDeletedData{ID: req.ID})

	default:
		return nil, fmt.Errorf("unknown mutation kind %q", m.kind)
	}
}

// sendError delivers an error event to the origin connection only. A no-op
// when the origin already disconnected.
func (s *Server) sendError(originID string, cause error) {
	data, err := encodeMessage(MessageTypeError, ErrorData{Message: cause.Error()})
	if err != nil {
		s.logger.Printf("Failed to encode error event: %v", err)
		return
	}

	s.clientsMu.RLock()
	c, ok := s.clients[originID]
	var stalled bool
	if ok {
		stalled = !c.enqueue(data)
	}
	s.clientsMu.RUnlock()

	if stalled {
		s.logger.Printf("Client %s stalled, disconnecting", originID)
		s.unregister(c)
	}
}

// handleHealth returns hub health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"clients": clientCount,
	})
}
