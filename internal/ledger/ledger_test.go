package ledger

import (
	"errors"
	"fmt"
	"testing"

	"tododapp.mini/tdm/internal/types"
)

const (
	alice types.Address = "0xa11ce"
	bob   types.Address = "0xb0b"
)

// newTestLedger returns a ledger with deterministic ids and a settable clock.
func newTestLedger(t *testing.T) (*Ledger, *int64) {
	t.Helper()
	clock := int64(1000)
	n := 0
	l := New("pkg",
		WithClock(func() int64 { return clock }),
		WithIDGenerator(func() types.ObjectID {
			n++
			return types.ObjectID(fmt.Sprintf("obj-%d", n))
		}),
	)
	return l, &clock
}

func TestCreateListOwnedBySigner(t *testing.T) {
	l, _ := newTestLedger(t)

	list, err := l.CreateList(alice)
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	if list.Owner != alice {
		t.Fatalf("expected owner %s, got %s", alice, list.Owner)
	}
	if len(list.TaskRefs) != 0 {
		t.Fatalf("expected empty task refs, got %v", list.TaskRefs)
	}

	// Adding tasks never changes the owner.
	if _, err := l.CreateTask(alice, list.ID, []byte("a"), nil); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	got, err := l.GetList(list.ID)
	if err != nil {
		t.Fatalf("GetList: %v", err)
	}
	if got.Owner != alice {
		t.Fatalf("owner changed to %s", got.Owner)
	}
}

func TestCreateListIsNotIdempotent(t *testing.T) {
	l, _ := newTestLedger(t)
	a, _ := l.CreateList(alice)
	b, _ := l.CreateList(alice)
	if a.ID == b.ID {
		t.Fatal("expected two independent lists")
	}
	if n := len(l.ListsOwnedBy(alice)); n != 2 {
		t.Fatalf("expected 2 lists, got %d", n)
	}
}

func TestCreateTaskAppendsRefAndEmits(t *testing.T) {
	l, _ := newTestLedger(t)
	list, _ := l.CreateList(alice)

	task, err := l.CreateTask(alice, list.ID, []byte("Buy milk"), []byte("2% organic"))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if task.Owner != alice || task.Completed || task.CreatedAt != 1000 {
		t.Fatalf("unexpected task: %+v", task)
	}

	got, _ := l.GetList(list.ID)
	if len(got.TaskRefs) != 1 || got.TaskRefs[0] != task.ID {
		t.Fatalf("expected task ref %s, got %v", task.ID, got.TaskRefs)
	}

	events := l.EventsSince(0, 0)
	if len(events) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(events))
	}
	created, ok := events[0].Event.(types.TaskCreated)
	if !ok {
		t.Fatalf("expected TaskCreated, got %T", events[0].Event)
	}
	if created.TaskID != task.ID || created.Owner != alice || created.Title != "Buy milk" || created.CreatedAt != 1000 {
		t.Errorf("unexpected TaskCreated: %+v", created)
	}
	if events[0].PackageID != "pkg" {
		t.Errorf("expected package id pkg, got %q", events[0].PackageID)
	}
}

func TestCreateTaskRejectsNonOwner(t *testing.T) {
	l, _ := newTestLedger(t)
	list, _ := l.CreateList(alice)

	_, err := l.CreateTask(bob, list.ID, []byte("sneaky"), nil)
	if !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("expected ownership violation, got %v", err)
	}

	if n := len(l.TasksOwnedBy(bob)); n != 0 {
		t.Fatalf("expected no tasks for bob, got %d", n)
	}
	got, _ := l.GetList(list.ID)
	if len(got.TaskRefs) != 0 {
		t.Fatalf("list refs changed: %v", got.TaskRefs)
	}
	if n := len(l.EventsSince(0, 0)); n != 0 {
		t.Fatalf("expected no notifications, got %d", n)
	}
	if err := l.CheckCreateTask(bob, list.ID); !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("CheckCreateTask: expected ownership violation, got %v", err)
	}
}

func TestCreateTaskUnknownList(t *testing.T) {
	l, _ := newTestLedger(t)
	_, err := l.CreateTask(alice, "missing", []byte("x"), nil)
	if !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateTaskAcceptsUnvalidatedText(t *testing.T) {
	l, _ := newTestLedger(t)
	list, _ := l.CreateList(alice)

	long := make([]byte, 4096)
	for i := range long {
		long[i] = 'x'
	}
	task, err := l.CreateTask(alice, list.ID, long, long)
	if err != nil {
		t.Fatalf("CreateTask with long text: %v", err)
	}
	if len(task.Title) != 4096 {
		t.Fatalf("title was altered: len=%d", len(task.Title))
	}
}

func TestCompleteTaskRepeatEmitsAgain(t *testing.T) {
	l, clock := newTestLedger(t)
	list, _ := l.CreateList(alice)
	task, _ := l.CreateTask(alice, list.ID, []byte("t"), nil)
	cursor := l.LastSeq()

	*clock = 2000
	done, err := l.CompleteTask(alice, task.ID)
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if !done.Completed {
		t.Fatal("expected completed task")
	}

	events := l.EventsSince(cursor, 0)
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 TaskCompleted, got %d", len(events))
	}
	ev, ok := events[0].Event.(types.TaskCompleted)
	if !ok || ev.CompletedAt != 2000 {
		t.Fatalf("unexpected event %+v", events[0].Event)
	}

	if _, err := l.CompleteTask(alice, task.ID); err != nil {
		t.Fatalf("second CompleteTask: %v", err)
	}
	got, _ := l.GetTask(task.ID)
	if !got.Completed {
		t.Fatal("task should stay completed")
	}
	if n := len(l.EventsSince(cursor, 0)); n != 2 {
		t.Fatalf("expected 2 TaskCompleted notifications, got %d", n)
	}

	// The list keeps its creation log after completion.
	lst, _ := l.GetList(list.ID)
	if len(lst.TaskRefs) != 1 || lst.TaskRefs[0] != task.ID {
		t.Fatalf("task refs pruned: %v", lst.TaskRefs)
	}
}

func TestCompleteTaskRejectsNonOwner(t *testing.T) {
	l, _ := newTestLedger(t)
	list, _ := l.CreateList(alice)
	task, _ := l.CreateTask(alice, list.ID, []byte("t"), nil)
	cursor := l.LastSeq()

	_, err := l.CompleteTask(bob, task.ID)
	if !errors.Is(err, ErrOwnershipViolation) {
		t.Fatalf("expected ownership violation, got %v", err)
	}
	got, _ := l.GetTask(task.ID)
	if got.Completed {
		t.Fatal("task was completed by a non-owner")
	}
	if n := len(l.EventsSince(cursor, 0)); n != 0 {
		t.Fatalf("expected no notifications, got %d", n)
	}
}

func TestGetTaskInfoHasNoAccessCheck(t *testing.T) {
	l, _ := newTestLedger(t)
	list, _ := l.CreateList(alice)
	task, _ := l.CreateTask(alice, list.ID, []byte("title"), []byte("desc"))

	info, err := l.GetTaskInfo(task.ID)
	if err != nil {
		t.Fatalf("GetTaskInfo: %v", err)
	}
	want := types.TaskInfo{Title: "title", Description: "desc", Completed: false, CreatedAt: 1000}
	if info != want {
		t.Fatalf("got %+v, want %+v", info, want)
	}
	if _, err := l.GetTaskInfo("nope"); !errors.Is(err, ErrObjectNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestObjectsOwnedByFiltersOwner(t *testing.T) {
	l, _ := newTestLedger(t)
	la, _ := l.CreateList(alice)
	lb, _ := l.CreateList(bob)
	l.CreateTask(alice, la.ID, []byte("a1"), nil)
	l.CreateTask(bob, lb.ID, []byte("b1"), nil)

	recs, err := l.ObjectsOwnedBy(alice, types.KindTask)
	if err != nil {
		t.Fatalf("ObjectsOwnedBy: %v", err)
	}
	if len(recs) != 1 || recs[0].Owner != alice {
		t.Fatalf("unexpected records: %+v", recs)
	}

	// Reads are idempotent with no writes in between.
	again, _ := l.ObjectsOwnedBy(alice, types.KindTask)
	if len(again) != len(recs) || again[0].ObjectID != recs[0].ObjectID || string(again[0].Fields) != string(recs[0].Fields) {
		t.Fatalf("repeated query differs: %+v vs %+v", again, recs)
	}

	if _, err := l.ObjectsOwnedBy(alice, "Coin"); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestEventsSinceLimit(t *testing.T) {
	l, _ := newTestLedger(t)
	list, _ := l.CreateList(alice)
	for i := 0; i < 5; i++ {
		l.CreateTask(alice, list.ID, []byte("t"), nil)
	}
	page := l.EventsSince(1, 2)
	if len(page) != 2 || page[0].Seq != 2 || page[1].Seq != 3 {
		t.Fatalf("unexpected page: %+v", page)
	}
}

func TestRestore(t *testing.T) {
	l, _ := newTestLedger(t)
	l.Restore(Snapshot{
		Lists: []types.TodoList{{ID: "l1", Owner: alice, TaskRefs: []types.ObjectID{"t1"}}},
		Tasks: []types.Task{{ID: "t1", Owner: alice, Title: "restored"}},
		Notifications: []types.Notification{
			{Seq: 4, PackageID: "pkg", Event: types.TaskCreated{TaskID: "t1", Owner: alice}},
		},
	})

	if l.LastSeq() != 4 {
		t.Fatalf("expected seq 4, got %d", l.LastSeq())
	}
	if _, err := l.CompleteTask(alice, "t1"); err != nil {
		t.Fatalf("CompleteTask after restore: %v", err)
	}
	if l.LastSeq() != 5 {
		t.Fatalf("expected seq 5 after new event, got %d", l.LastSeq())
	}
}

type failingPersister struct{}

func (failingPersister) SaveList(types.TodoList) error { return nil }
func (failingPersister) SaveTask(types.Task) error     { return nil }
func (failingPersister) SaveTaskInList(types.Task, types.TodoList) error {
	return errors.New("disk full")
}
func (failingPersister) AppendNotification(types.Notification) error { return nil }

func TestCreateTaskLeavesStateUntouchedWhenPersistFails(t *testing.T) {
	l := New("pkg", WithPersister(failingPersister{}))
	list, err := l.CreateList(alice)
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}

	if _, err := l.CreateTask(alice, list.ID, []byte("t"), nil); err == nil {
		t.Fatal("expected persistence error")
	}
	if n := len(l.TasksOwnedBy(alice)); n != 0 {
		t.Fatalf("task kept in memory after failed persist: %d", n)
	}
	got, _ := l.GetList(list.ID)
	if len(got.TaskRefs) != 0 {
		t.Fatalf("list refs changed: %v", got.TaskRefs)
	}
	if l.LastSeq() != 0 {
		t.Fatalf("notification emitted for failed create: seq %d", l.LastSeq())
	}
}
