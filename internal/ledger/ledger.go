// Package ledger is the ledger-side todo module. It owns the TodoList and
// Task entities, applies the three entry operations, and records the
// notifications they emit. Entities live in an arena keyed by ObjectID;
// lists refer to tasks only by id. Every mutation takes the signer as an
// explicit argument and checks it against the stored owner.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"tododapp.mini/tdm/internal/types"
)

var (
	// ErrOwnershipViolation is returned when the signer does not own the target entity.
	ErrOwnershipViolation = errors.New("ownership violation: signer does not own object")
	// ErrObjectNotFound is returned for unknown object ids.
	ErrObjectNotFound = errors.New("object not found")
)

// Persister receives every entity and notification the ledger writes.
type Persister interface {
	SaveList(types.TodoList) error
	SaveTask(types.Task) error
	// SaveTaskInList stores a new task together with its updated list,
	// atomically.
	SaveTaskInList(types.Task, types.TodoList) error
	AppendNotification(types.Notification) error
}

// Snapshot is the full ledger contents, used to restore after restart.
type Snapshot struct {
	Lists         []types.TodoList
	Tasks         []types.Task
	Notifications []types.Notification
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock replaces the ledger clock. The function returns unix milliseconds.
func WithClock(now func() int64) Option {
	return func(l *Ledger) { l.now = now }
}

// WithPersister attaches durable storage.
func WithPersister(p Persister) Option {
	return func(l *Ledger) { l.persist = p }
}

// WithIDGenerator replaces the object id allocator.
func WithIDGenerator(next func() types.ObjectID) Option {
	return func(l *Ledger) { l.newID = next }
}

// Ledger holds the module state for a single deployed package.
type Ledger struct {
	mu        sync.RWMutex
	packageID string
	lists     map[types.ObjectID]*types.TodoList
	tasks     map[types.ObjectID]*types.Task
	events    []types.Notification
	seq       uint64

	now     func() int64
	newID   func() types.ObjectID
	persist Persister
}

// New creates an empty ledger for packageID.
func New(packageID string, opts ...Option) *Ledger {
	l := &Ledger{
		packageID: packageID,
		lists:     make(map[types.ObjectID]*types.TodoList),
		tasks:     make(map[types.ObjectID]*types.Task),
		now:       func() int64 { return time.Now().UnixMilli() },
		newID:     func() types.ObjectID { return types.ObjectID(uuid.New().String()) },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// PackageID returns the id of the module this ledger serves.
func (l *Ledger) PackageID() string {
	return l.packageID
}

// Restore replaces the in-memory arena with a persisted snapshot.
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.lists = make(map[types.ObjectID]*types.TodoList, len(s.Lists))
	for _, list := range s.Lists {
		c := list.Clone()
		l.lists[c.ID] = &c
	}
	l.tasks = make(map[types.ObjectID]*types.Task, len(s.Tasks))
	for _, task := range s.Tasks {
		t := task
		l.tasks[t.ID] = &t
	}
	l.events = append([]types.Notification(nil), s.Notifications...)
	sort.Slice(l.events, func(i, j int) bool { return l.events[i].Seq < l.events[j].Seq })
	l.seq = 0
	if n := len(l.events); n > 0 {
		l.seq = l.events[n-1].Seq
	}
}

// CreateList allocates a new, empty list owned by signer.
func (l *Ledger) CreateList(signer types.Address) (types.TodoList, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := &types.TodoList{
		ID:       l.newID(),
		Owner:    signer,
		TaskRefs: []types.ObjectID{},
	}
	if l.persist != nil {
		if err := l.persist.SaveList(*list); err != nil {
			return types.TodoList{}, fmt.Errorf("persist list: %w", err)
		}
	}
	l.lists[list.ID] = list
	return list.Clone(), nil
}

// CheckCreateTask reports whether signer may add a task to listID.
func (l *Ledger) CheckCreateTask(signer types.Address, listID types.ObjectID) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, err := l.ownedList(signer, listID)
	return err
}

// CreateTask allocates a task owned by signer and appends it to the list.
// Title and description are stored as given; no length checks apply here.
func (l *Ledger) CreateTask(signer types.Address, listID types.ObjectID, title, description []byte) (types.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	list, err := l.ownedList(signer, listID)
	if err != nil {
		return types.Task{}, err
	}

	task := &types.Task{
		ID:          l.newID(),
		Owner:       signer,
		Title:       string(title),
		Description: string(description),
		Completed:   false,
		CreatedAt:   l.now(),
	}
	updated := list.Clone()
	updated.TaskRefs = append(updated.TaskRefs, task.ID)

	if l.persist != nil {
		if err := l.persist.SaveTaskInList(*task, updated); err != nil {
			return types.Task{}, fmt.Errorf("persist task: %w", err)
		}
	}

	l.tasks[task.ID] = task
	l.lists[list.ID] = &updated
	l.emitLocked(types.TaskCreated{
		TaskID:    task.ID,
		Owner:     task.Owner,
		Title:     task.Title,
		CreatedAt: task.CreatedAt,
	})
	return *task, nil
}

// CheckCompleteTask reports whether signer may complete taskID.
func (l *Ledger) CheckCompleteTask(signer types.Address, taskID types.ObjectID) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, err := l.ownedTask(signer, taskID)
	return err
}

// CompleteTask marks the task completed. Completing an already completed
// task succeeds and emits another TaskCompleted.
func (l *Ledger) CompleteTask(signer types.Address, taskID types.ObjectID) (types.Task, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	task, err := l.ownedTask(signer, taskID)
	if err != nil {
		return types.Task{}, err
	}

	updated := *task
	updated.Completed = true
	if l.persist != nil {
		if err := l.persist.SaveTask(updated); err != nil {
			return types.Task{}, fmt.Errorf("persist task: %w", err)
		}
	}
	l.tasks[taskID] = &updated
	l.emitLocked(types.TaskCompleted{
		TaskID:      updated.ID,
		Owner:       updated.Owner,
		CompletedAt: l.now(),
	})
	return updated, nil
}

// GetTaskInfo projects a task without any access check.
func (l *Ledger) GetTaskInfo(taskID types.ObjectID) (types.TaskInfo, error) {
	t, err := l.GetTask(taskID)
	if err != nil {
		return types.TaskInfo{}, err
	}
	return t.Info(), nil
}

func (l *Ledger) ownedList(signer types.Address, id types.ObjectID) (*types.TodoList, error) {
	list, ok := l.lists[id]
	if !ok {
		return nil, fmt.Errorf("todo list %s: %w", id, ErrObjectNotFound)
	}
	if list.Owner != signer {
		return nil, fmt.Errorf("todo list %s: %w", id, ErrOwnershipViolation)
	}
	return list, nil
}

func (l *Ledger) ownedTask(signer types.Address, id types.ObjectID) (*types.Task, error) {
	task, ok := l.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrObjectNotFound)
	}
	if task.Owner != signer {
		return nil, fmt.Errorf("task %s: %w", id, ErrOwnershipViolation)
	}
	return task, nil
}

// emitLocked appends a notification. The entity change has already been
// applied, so a persistence failure here is logged rather than returned.
func (l *Ledger) emitLocked(ev types.Event) {
	l.seq++
	n := types.Notification{Seq: l.seq, PackageID: l.packageID, Event: ev}
	l.events = append(l.events, n)
	if l.persist != nil {
		if err := l.persist.AppendNotification(n); err != nil {
			log.Printf("Warning: failed to persist %s notification %d: %v", ev.Type(), n.Seq, err)
		}
	}
}
