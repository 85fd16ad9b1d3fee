// Package client implements the wire protocol from the client side.
//
// A client connects, receives the full ordered snapshot, and thereafter
// applies incremental canonical events. There is no sequence-number check:
// the server guarantees the snapshot is taken strictly before the connection
// starts receiving live events, so the stream is gap-free by construction.
// After a transport drop the client reconnects from scratch, discards any
// buffered state, and starts over from a fresh snapshot.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/tasuku-app/tasuku/internal/hub"
	"github.com/tasuku-app/tasuku/internal/task"
)

// Status describes the connection state.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
	StatusError        Status = "error"
)

// Event is one server message delivered to the consumer.
//
// Exactly one payload field is set, depending on Type: Tasks for snapshot,
// Task for item-created/item-updated, ID for item-deleted, Message for
// error. A snapshot event means the consumer must discard all previously
// applied state and start from Tasks.
type Event struct {
	Type    hub.MessageType
	Tasks   []*task.Task
	Task    *task.Task
	ID      string
	Message string
}

// Client is a single connection to the sync hub.
type Client struct {
	url string

	mu        sync.Mutex
	ws        *websocket.Conn
	status    Status
	reconnect int

	events chan Event
}

// New creates a client for the given WebSocket URL (e.g. "ws://host:port/ws").
func New(url string) *Client {
	return &Client{
		url:    url,
		status: StatusDisconnected,
		events: make(chan Event, 64),
	}
}

// Status returns the current connection status.
func (c *Client) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// setStatus updates the connection status under the lock.
func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	c.status = s
	c.mu.Unlock()
}

// ReconnectAttempts returns how many reconnects this client has performed.
func (c *Client) ReconnectAttempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect
}

// Events returns the channel of server messages. The first event after every
// (re)connect is a snapshot.
func (c *Client) Events() <-chan Event {
	return c.events
}

// Connect dials the hub. The snapshot arrives as the first event once Run is
// consuming the connection.
func (c *Client) Connect(ctx context.Context) error {
	c.setStatus(StatusConnecting)

	ws, _, err := websocket.Dial(ctx, c.url, nil)
	if err != nil {
		c.setStatus(StatusError)
		return fmt.Errorf("failed to connect to %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.ws = ws
	c.status = StatusConnected
	c.mu.Unlock()
	return nil
}

// Run reads server messages until ctx is cancelled, reconnecting after
// transport drops. Each successful reconnect increments the attempt counter
// and yields a fresh snapshot event; the consumer is expected to reset its
// state on every snapshot. The events channel is closed when Run returns.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.events)
	defer c.Close()

	for {
		if err := c.readAll(ctx); err != nil && ctx.Err() != nil {
			return nil
		}
		c.setStatus(StatusDisconnected)

		// Reconnect with a short delay; a fresh snapshot replaces any
		// state buffered before the drop.
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(time.Second):
		}

		c.mu.Lock()
		c.reconnect++
		c.mu.Unlock()

		if err := c.Connect(ctx); err != nil {
			continue
		}
	}
}

// readAll consumes messages from the current connection until it fails.
func (c *Client) readAll(ctx context.Context) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return err
		}

		ev, err := decodeEvent(data)
		if err != nil {
			// Unknown or malformed server messages are skipped rather
			// than tearing down the connection.
			continue
		}

		select {
		case c.events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// decodeEvent turns a wire message into an Event.
func decodeEvent(data []byte) (Event, error) {
	var msg hub.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Event{}, fmt.Errorf("malformed server message: %w", err)
	}

	ev := Event{Type: msg.Type}
	switch msg.Type {
	case hub.MessageTypeSnapshot:
		tasks, err := hub.DecodeSnapshot(msg.Data)
		if err != nil {
			return Event{}, err
		}
		ev.Tasks = tasks

	case hub.MessageTypeItemCreated, hub.MessageTypeItemUpdated:
		t, err := hub.DecodeTask(msg.Data)
		if err != nil {
			return Event{}, err
		}
		ev.Task = t

	case hub.MessageTypeItemDeleted:
		var payload hub.ItemDeletedData
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return Event{}, fmt.Errorf("malformed item-deleted: %w", err)
		}
		ev.ID = payload.ID

	case hub.MessageTypeError:
		var payload hub.ErrorData
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return Event{}, fmt.Errorf("malformed error event: %w", err)
		}
		ev.Message = payload.Message

	default:
		return Event{}, fmt.Errorf("unknown message type %q", msg.Type)
	}

	return ev, nil
}

// Create sends a create-request. The result arrives as a broadcast
// item-created event, or an error event on this connection.
func (c *Client) Create(ctx context.Context, req hub.CreateRequestData) error {
	return c.send(ctx, hub.MessageTypeCreateRequest, req)
}

// Update sends an update-request carrying the full task.
func (c *Client) Update(ctx context.Context, t *task.Task) error {
	return c.send(ctx, hub.MessageTypeUpdateRequest, t)
}

// Delete sends a delete-request for the given id.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.send(ctx, hub.MessageTypeDeleteRequest, hub.DeleteRequestData{ID: id})
}

// RequestList asks the hub for a fresh snapshot on this connection.
func (c *Client) RequestList(ctx context.Context) error {
	return c.send(ctx, hub.MessageTypeListRequest, nil)
}

// send marshals and writes one request message.
func (c *Client) send(ctx context.Context, typ hub.MessageType, payload any) error {
	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws == nil {
		return fmt.Errorf("not connected")
	}

	msg := hub.Message{Type: typ, Timestamp: time.Now().UTC()}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s: %w", typ, err)
		}
		msg.Data = data
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", typ, err)
	}

	return ws.Write(ctx, websocket.MessageText, data)
}

// Close tears down the current connection, if any.
func (c *Client) Close() error {
	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.status = StatusDisconnected
	c.mu.Unlock()

	if ws == nil {
		return nil
	}
	return ws.Close(websocket.StatusNormalClosure, "")
}
