// Package types - ledger notifications
package types

import (
	"encoding/json"
	"fmt"
)

// EventType is the wire tag of a notification.
type EventType string

const (
	EventTaskCreated   EventType = "TaskCreated"
	EventTaskCompleted EventType = "TaskCompleted"
)

// Event is implemented only by TaskCreated and TaskCompleted. Consumers
// switch on the concrete type.
type Event interface {
	Type() EventType
	isEvent()
}

// TaskCreated is emitted once per successful create_task.
type TaskCreated struct {
	TaskID    ObjectID `json:"task_id"`
	Owner     Address  `json:"owner"`
	Title     string   `json:"title"`
	CreatedAt int64    `json:"created_at"`
}

// TaskCompleted is emitted on every complete_task call, repeats included.
type TaskCompleted struct {
	TaskID      ObjectID `json:"task_id"`
	Owner       Address  `json:"owner"`
	CompletedAt int64    `json:"completed_at"`
}

func (TaskCreated) Type() EventType   { return EventTaskCreated }
func (TaskCompleted) Type() EventType { return EventTaskCompleted }

func (TaskCreated) isEvent()   {}
func (TaskCompleted) isEvent() {}

// Notification is an event as recorded by the ledger: the event itself
// plus its sequence number and the module that emitted it.
type Notification struct {
	Seq       uint64 `json:"seq"`
	PackageID string `json:"package_id"`
	Event     Event  `json:"-"`
}

type notificationWire struct {
	Seq       uint64          `json:"seq"`
	PackageID string          `json:"package_id"`
	Type      EventType       `json:"type"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON encodes the notification as a tagged envelope.
func (n Notification) MarshalJSON() ([]byte, error) {
	if n.Event == nil {
		return nil, fmt.Errorf("notification %d has no event", n.Seq)
	}
	data, err := json.Marshal(n.Event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(notificationWire{
		Seq:       n.Seq,
		PackageID: n.PackageID,
		Type:      n.Event.Type(),
		Data:      data,
	})
}

// UnmarshalJSON decodes a tagged envelope, rejecting unknown types.
func (n *Notification) UnmarshalJSON(b []byte) error {
	var w notificationWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	ev, err := DecodeEvent(w.Type, w.Data)
	if err != nil {
		return err
	}
	n.Seq = w.Seq
	n.PackageID = w.PackageID
	n.Event = ev
	return nil
}

// DecodeEvent builds the concrete event for a wire tag.
func DecodeEvent(t EventType, data []byte) (Event, error) {
	switch t {
	case EventTaskCreated:
		var e TaskCreated
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return e, nil
	case EventTaskCompleted:
		var e TaskCompleted
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode %s: %w", t, err)
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}
}
