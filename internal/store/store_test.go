package store

import (
	"os"
	"path/filepath"
	"testing"

	"tododapp.mini/tdm/internal/ledger"
	"tododapp.mini/tdm/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestLedgerWritesThroughAndRestores(t *testing.T) {
	store := newTestStore(t)
	const owner types.Address = "0xa11ce"

	l := ledger.New("pkg", ledger.WithPersister(store))
	list, err := l.CreateList(owner)
	if err != nil {
		t.Fatalf("CreateList: %v", err)
	}
	task, err := l.CreateTask(owner, list.ID, []byte("Buy milk"), []byte("2% organic"))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := l.CompleteTask(owner, task.ID); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Lists) != 1 || len(snap.Lists[0].TaskRefs) != 1 || snap.Lists[0].TaskRefs[0] != task.ID {
		t.Fatalf("unexpected lists: %+v", snap.Lists)
	}
	if len(snap.Tasks) != 1 || !snap.Tasks[0].Completed || snap.Tasks[0].Description != "2% organic" {
		t.Fatalf("unexpected tasks: %+v", snap.Tasks)
	}
	if len(snap.Notifications) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(snap.Notifications))
	}
	if _, ok := snap.Notifications[1].Event.(types.TaskCompleted); !ok {
		t.Fatalf("expected TaskCompleted second, got %T", snap.Notifications[1].Event)
	}

	restored := ledger.New("pkg")
	restored.Restore(snap)
	got, err := restored.GetTask(task.ID)
	if err != nil {
		t.Fatalf("GetTask after restore: %v", err)
	}
	if got.Owner != owner || got.CreatedAt != task.CreatedAt {
		t.Fatalf("restored task differs: %+v", got)
	}
	if restored.LastSeq() != 2 {
		t.Fatalf("expected seq 2, got %d", restored.LastSeq())
	}
}

func TestUpdatesSignalOnWrite(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveList(types.TodoList{ID: "l1", Owner: "0xa", TaskRefs: []types.ObjectID{}}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}
	select {
	case <-store.Updates():
	default:
		t.Fatal("expected an update signal after SaveList")
	}
}

func TestSaveTaskKeepsOwner(t *testing.T) {
	store := newTestStore(t)
	if err := store.SaveTask(types.Task{ID: "t1", Owner: "0xa", CreatedAt: 5}); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}
	if err := store.SaveTask(types.Task{ID: "t1", Owner: "0xb", CreatedAt: 9, Completed: true}); err != nil {
		t.Fatalf("SaveTask update: %v", err)
	}
	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Tasks[0].Owner != "0xa" || snap.Tasks[0].CreatedAt != 5 || !snap.Tasks[0].Completed {
		t.Fatalf("unexpected task after update: %+v", snap.Tasks[0])
	}
}

func TestBackupCurrentCreatesAndPrunesBackups(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer store.Close()

	if err := store.SaveList(types.TodoList{ID: "l1", Owner: "0xa", TaskRefs: []types.ObjectID{}}); err != nil {
		t.Fatalf("SaveList: %v", err)
	}

	backupPath, err := store.BackupCurrent(3)
	if err != nil {
		t.Fatalf("BackupCurrent: %v", err)
	}
	if filepath.Dir(backupPath) != filepath.Join(dir, "backups") {
		t.Fatalf("expected backup in backups directory, got %q", filepath.Dir(backupPath))
	}
	if filepath.Ext(backupPath) != ".db" {
		t.Fatalf("expected .db extension, got %q", filepath.Ext(backupPath))
	}
	if _, err := os.Stat(backupPath); err != nil {
		t.Fatalf("backup file should exist: %v", err)
	}

	for i := 0; i < 5; i++ {
		if _, err := store.BackupCurrent(3); err != nil {
			t.Fatalf("backup iteration %d: %v", i, err)
		}
	}
	if n := len(store.Backups()); n != 3 {
		t.Fatalf("expected 3 backups after pruning, got %d", n)
	}
}

func TestMetaRoundTrip(t *testing.T) {
	store := newTestStore(t)
	v, err := store.Meta("package_id")
	if err != nil || v != "" {
		t.Fatalf("expected empty unset meta, got %q err=%v", v, err)
	}
	if err := store.SetMeta("package_id", "pkg-1"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := store.SetMeta("package_id", "pkg-2"); err != nil {
		t.Fatalf("SetMeta overwrite: %v", err)
	}
	if v, _ := store.Meta("package_id"); v != "pkg-2" {
		t.Errorf("Meta = %q, want pkg-2", v)
	}
}

func TestSaveTaskInListRollsBackOnListFailure(t *testing.T) {
	store := newTestStore(t)
	list := types.TodoList{ID: "l1", Owner: "0xa", TaskRefs: []types.ObjectID{}}
	if err := store.SaveList(list); err != nil {
		t.Fatalf("SaveList: %v", err)
	}
	if _, err := store.db.Exec(`CREATE TRIGGER reject_list_update BEFORE UPDATE ON todo_lists
		BEGIN SELECT RAISE(ABORT, 'list locked'); END`); err != nil {
		t.Fatalf("create trigger: %v", err)
	}

	task := types.Task{ID: "t1", Owner: "0xa", Title: "orphan", CreatedAt: 5}
	list.TaskRefs = append(list.TaskRefs, task.ID)
	if err := store.SaveTaskInList(task, list); err == nil {
		t.Fatal("expected SaveTaskInList to fail")
	}

	snap, err := store.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Tasks) != 0 {
		t.Fatalf("task persisted without its list: %+v", snap.Tasks)
	}
	if len(snap.Lists) != 1 || len(snap.Lists[0].TaskRefs) != 0 {
		t.Fatalf("list changed: %+v", snap.Lists)
	}
}

func TestAppliedTxsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	store, err := NewStore(path)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	for _, h := range []string{"aa", "bb", "aa"} {
		if err := store.SaveAppliedTx(h); err != nil {
			t.Fatalf("SaveAppliedTx(%s): %v", h, err)
		}
	}
	store.Close()

	reopened, err := NewStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	hashes, err := reopened.AppliedTxs()
	if err != nil {
		t.Fatalf("AppliedTxs: %v", err)
	}
	if len(hashes) != 2 {
		t.Fatalf("expected 2 distinct hashes, got %v", hashes)
	}
}
