package ledger

import (
	"fmt"
	"sort"

	"tododapp.mini/tdm/internal/types"
)

// GetList returns a copy of the list.
func (l *Ledger) GetList(id types.ObjectID) (types.TodoList, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	list, ok := l.lists[id]
	if !ok {
		return types.TodoList{}, fmt.Errorf("todo list %s: %w", id, ErrObjectNotFound)
	}
	return list.Clone(), nil
}

// GetTask returns a copy of the task.
func (l *Ledger) GetTask(id types.ObjectID) (types.Task, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	task, ok := l.tasks[id]
	if !ok {
		return types.Task{}, fmt.Errorf("task %s: %w", id, ErrObjectNotFound)
	}
	return *task, nil
}

// ListsOwnedBy returns every list owned by owner, ordered by id.
func (l *Ledger) ListsOwnedBy(owner types.Address) []types.TodoList {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []types.TodoList
	for _, list := range l.lists {
		if list.Owner == owner {
			out = append(out, list.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TasksOwnedBy returns every task owned by owner, ordered by id.
func (l *Ledger) TasksOwnedBy(owner types.Address) []types.Task {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []types.Task
	for _, task := range l.tasks {
		if task.Owner == owner {
			out = append(out, *task)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ObjectsOwnedBy answers "objects of type kind owned by owner".
func (l *Ledger) ObjectsOwnedBy(owner types.Address, kind types.ObjectKind) ([]types.ObjectRecord, error) {
	records := []types.ObjectRecord{}
	switch kind {
	case types.KindTodoList:
		for _, list := range l.ListsOwnedBy(owner) {
			rec, err := types.NewListRecord(list)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	case types.KindTask:
		for _, task := range l.TasksOwnedBy(owner) {
			rec, err := types.NewTaskRecord(task)
			if err != nil {
				return nil, err
			}
			records = append(records, rec)
		}
	default:
		return nil, fmt.Errorf("unknown object type %q", kind)
	}
	return records, nil
}

// EventsSince returns up to limit notifications with Seq > cursor.
// A non-positive limit returns everything after the cursor.
func (l *Ledger) EventsSince(cursor uint64, limit int) []types.Notification {
	l.mu.RLock()
	defer l.mu.RUnlock()

	start := sort.Search(len(l.events), func(i int) bool { return l.events[i].Seq > cursor })
	end := len(l.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}
	out := make([]types.Notification, end-start)
	copy(out, l.events[start:end])
	return out
}

// LastSeq returns the sequence number of the newest notification.
func (l *Ledger) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}
