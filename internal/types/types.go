// Package types defines the core domain models for tdm. It contains the
// on-ledger entities (TodoList and Task), the records returned by owner
// queries, and the identifiers used to address both. Entities are
// independently owned: a list only refers to its tasks by id.
package types

import (
	"encoding/json"
	"fmt"
)

// Version is the current version of tdm
const Version = "0.1.0"

// BuildTime is set at build time via -ldflags
var BuildTime = "dev"

// Address identifies a principal: "0x" followed by the hex public key.
type Address string

// ObjectID is the globally unique identifier of a ledger entity.
type ObjectID string

// ObjectKind names an entity type as reported by owner queries.
type ObjectKind string

const (
	KindTodoList ObjectKind = "TodoList"
	KindTask     ObjectKind = "Task"
)

// Valid reports whether k is one of the known entity kinds.
func (k ObjectKind) Valid() bool {
	return k == KindTodoList || k == KindTask
}

// TodoList is the per-principal container of task references.
// TaskRefs is append-only: a creation log, not a live view of open tasks.
type TodoList struct {
	ID       ObjectID   `json:"id"`
	Owner    Address    `json:"owner"`
	TaskRefs []ObjectID `json:"task_refs"`
}

// Clone returns a copy that shares no memory with l.
func (l TodoList) Clone() TodoList {
	refs := make([]ObjectID, len(l.TaskRefs))
	copy(refs, l.TaskRefs)
	l.TaskRefs = refs
	return l
}

// Task is a single todo item. Completed only ever moves from false to true.
type Task struct {
	ID          ObjectID `json:"id"`
	Owner       Address  `json:"owner"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Completed   bool     `json:"completed"`
	CreatedAt   int64    `json:"created_at"` // ledger clock, unix milliseconds
}

// TaskInfo is the read-only projection returned by the ledger accessor.
type TaskInfo struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Completed   bool   `json:"completed"`
	CreatedAt   int64  `json:"created_at"`
}

// Info projects t into a TaskInfo.
func (t Task) Info() TaskInfo {
	return TaskInfo{
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		CreatedAt:   t.CreatedAt,
	}
}

// ObjectRecord is one result row of an owner query. Fields holds the
// entity attributes as JSON, matching the TodoList or Task encoding.
type ObjectRecord struct {
	ObjectID ObjectID        `json:"object_id"`
	Type     ObjectKind      `json:"type"`
	Owner    Address         `json:"owner"`
	Fields   json.RawMessage `json:"fields"`
}

// NewListRecord wraps a list as a query record.
func NewListRecord(l TodoList) (ObjectRecord, error) {
	fields, err := json.Marshal(l)
	if err != nil {
		return ObjectRecord{}, err
	}
	return ObjectRecord{ObjectID: l.ID, Type: KindTodoList, Owner: l.Owner, Fields: fields}, nil
}

// NewTaskRecord wraps a task as a query record.
func NewTaskRecord(t Task) (ObjectRecord, error) {
	fields, err := json.Marshal(t)
	if err != nil {
		return ObjectRecord{}, err
	}
	return ObjectRecord{ObjectID: t.ID, Type: KindTask, Owner: t.Owner, Fields: fields}, nil
}

// TodoList decodes the record fields as a list.
func (r ObjectRecord) TodoList() (TodoList, error) {
	if r.Type != KindTodoList {
		return TodoList{}, fmt.Errorf("object %s is a %s, not a %s", r.ObjectID, r.Type, KindTodoList)
	}
	var l TodoList
	if err := json.Unmarshal(r.Fields, &l); err != nil {
		return TodoList{}, fmt.Errorf("decode %s fields: %w", r.ObjectID, err)
	}
	if l.ID == "" {
		l.ID = r.ObjectID
	}
	if l.TaskRefs == nil {
		l.TaskRefs = []ObjectID{}
	}
	return l, nil
}

// Task decodes the record fields as a task.
func (r ObjectRecord) Task() (Task, error) {
	if r.Type != KindTask {
		return Task{}, fmt.Errorf("object %s is a %s, not a %s", r.ObjectID, r.Type, KindTask)
	}
	var t Task
	if err := json.Unmarshal(r.Fields, &t); err != nil {
		return Task{}, fmt.Errorf("decode %s fields: %w", r.ObjectID, err)
	}
	if t.ID == "" {
		t.ID = r.ObjectID
	}
	return t, nil
}
