package hub

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tasuku-app/tasuku/internal/task"
)

// MessageType defines the type of a protocol message.
type MessageType string

// Client -> server message types.
const (
	// MessageTypeListRequest asks for a fresh snapshot for this connection.
	MessageTypeListRequest MessageType = "list-request"

	// MessageTypeCreateRequest asks the store to create a task.
	MessageTypeCreateRequest MessageType = "create-request"

	// MessageTypeUpdateRequest asks the store to overwrite a task's fields.
	MessageTypeUpdateRequest MessageType = "update-request"

	// MessageTypeDeleteRequest asks the store to remove a task.
	MessageTypeDeleteRequest MessageType = "delete-request"
)

// Server -> client message types.
const (
	// MessageTypeSnapshot carries the full ordered task list, sent once per
	// registration, reconnect, or explicit list-request.
	MessageTypeSnapshot MessageType = "snapshot"

	// MessageTypeItemCreated broadcasts a committed create with the full task.
	MessageTypeItemCreated MessageType = "item-created"

	// MessageTypeItemUpdated broadcasts a committed update with the full task.
	MessageTypeItemUpdated MessageType = "item-updated"

	// MessageTypeItemDeleted broadcasts a committed delete with the id only.
	MessageTypeItemDeleted MessageType = "item-deleted"

	// MessageTypeError reports a failed mutation to the origin connection only.
	MessageTypeError MessageType = "error"
)

// Message is the JSON envelope for every protocol message in both directions.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CreateRequestData carries the client-supplied fields of a create-request.
// Server-assigned fields (id, timestamps) are absent; order_index defaults
// to 0 when omitted.
type CreateRequestData struct {
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Completed    bool       `json:"completed"`
	Priority     int        `json:"priority"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	OrderIndex   int        `json:"order_index"`
}

// DeleteRequestData identifies the task a delete-request removes.
type DeleteRequestData struct {
	ID string `json:"id"`
}

// ItemDeletedData carries the id of a deleted task.
type ItemDeletedData struct {
	ID string `json:"id"`
}

// ErrorData carries the failure message of a rejected mutation.
type ErrorData struct {
	Message string `json:"message"`
}

// newMessage builds a Message with the payload marshaled into Data.
func newMessage(typ MessageType, payload any) (Message, error) {
	msg := Message{
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
		}
		msg.Data = data
	}
	return msg, nil
}

// encodeMessage marshals the full envelope for the wire.
func encodeMessage(typ MessageType, payload any) ([]byte, error) {
	msg, err := newMessage(typ, payload)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s message: %w", typ, err)
	}
	return data, nil
}

// DecodeSnapshot unmarshals a snapshot payload.
func DecodeSnapshot(data json.RawMessage) ([]*task.Task, error) {
	var tasks []*task.Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	return tasks, nil
}

// DecodeTask unmarshals an item-created or item-updated payload.
func DecodeTask(data json.RawMessage) (*task.Task, error) {
	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &t, nil
}
