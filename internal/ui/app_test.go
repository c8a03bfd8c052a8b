package ui

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"tododapp.mini/tdm/internal/client"
	"tododapp.mini/tdm/internal/identity"
	"tododapp.mini/tdm/internal/types"
)

type fakeBackend struct {
	mu      sync.Mutex
	records map[types.ObjectKind][]types.ObjectRecord
	sent    []types.TxType
}

func (f *fakeBackend) BroadcastSignedTransaction(ctx context.Context, stx *types.SignedTransaction, commit bool) (string, error) {
	tx, err := stx.GetTransaction()
	if err != nil {
		return "", err
	}
	f.mu.Lock()
	f.sent = append(f.sent, tx.Type)
	f.mu.Unlock()
	return stx.Hash(), nil
}

func (f *fakeBackend) OwnedObjects(ctx context.Context, owner types.Address, kind types.ObjectKind) ([]types.ObjectRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.records[kind], nil
}

func (f *fakeBackend) sentTypes() []types.TxType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]types.TxType(nil), f.sent...)
}

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "ctrl+s":
		return tea.KeyMsg{Type: tea.KeyCtrlS}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func typeText(a *App, text string) {
	for _, r := range text {
		a.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

// run executes cmd and feeds its message back, as the tea runtime would.
func run(t *testing.T, a *App, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		t.Fatal("expected a command")
	}
	done := make(chan tea.Msg, 1)
	go func() { done <- cmd() }()
	select {
	case msg := <-done:
		a.Update(msg)
	case <-time.After(2 * time.Second):
		t.Fatal("command did not finish")
	}
}

func TestSetupPromptThenConfigure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id, _ := identity.Generate()
	backend := &fakeBackend{}

	unconfigured := client.New(id, backend, backend, client.Options{})
	var configured string
	app := NewApp(ctx, unconfigured, func(pkg string) (*client.Controller, error) {
		configured = pkg
		return client.New(id, backend, backend, client.Options{PackageID: pkg, PollInterval: time.Hour}), nil
	})
	app.Init()

	if !strings.Contains(app.View(), "No deployed package is configured") {
		t.Fatalf("expected setup prompt, got:\n%s", app.View())
	}

	app.Update(keyMsg("enter"))
	if !strings.Contains(app.View(), "A package id is required") {
		t.Errorf("expected required message")
	}

	typeText(app, "pkg-ui")
	app.Update(keyMsg("enter"))
	if configured != "pkg-ui" {
		t.Fatalf("configure called with %q", configured)
	}
	if app.view != ViewTasks {
		t.Fatalf("expected tasks view after configure, got %v", app.view)
	}
}

func TestNewListKeyIgnoredUntilLoaded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id, _ := identity.Generate()
	backend := &fakeBackend{records: map[types.ObjectKind][]types.ObjectRecord{}}
	ctrl := client.New(id, backend, backend, client.Options{PackageID: "pkg", RefreshDelay: time.Hour, PollInterval: time.Hour})
	defer ctrl.Close()

	app := NewApp(ctx, ctrl, nil)
	if !strings.Contains(app.View(), "Loading") {
		t.Fatalf("expected loading view, got:\n%s", app.View())
	}
	if _, cmd := app.Update(keyMsg("n")); cmd != nil {
		t.Fatal("n should do nothing before the first refresh")
	}
	if got := backend.sentTypes(); len(got) != 0 {
		t.Fatalf("nothing should be sent, got %v", got)
	}
}

func TestCreateListAndAddTask(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	id, _ := identity.Generate()
	backend := &fakeBackend{records: map[types.ObjectKind][]types.ObjectRecord{}}
	ctrl := client.New(id, backend, backend, client.Options{PackageID: "pkg", RefreshDelay: time.Hour, PollInterval: time.Hour})
	defer ctrl.Close()

	app := NewApp(ctx, ctrl, nil)
	if err := ctrl.Refresh(ctx); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	app.state = ctrl.Snapshot()
	if !strings.Contains(app.View(), "Press n to create one") {
		t.Fatalf("expected create list hint, got:\n%s", app.View())
	}

	_, cmd := app.Update(keyMsg("n"))
	run(t, app, cmd)
	if got := backend.sentTypes(); len(got) != 1 || got[0] != types.TxCreateTodoList {
		t.Fatalf("expected create_todo_list, got %v", got)
	}
	app.state = ctrl.Snapshot()
	if !strings.Contains(app.View(), "Creating your list") {
		t.Fatalf("expected pending list notice, got:\n%s", app.View())
	}
	if _, cmd := app.Update(keyMsg("n")); cmd != nil {
		t.Fatal("n should do nothing while the list is being created")
	}

	list, _ := types.NewListRecord(types.TodoList{ID: "l1", Owner: id.Address()})
	task, _ := types.NewTaskRecord(types.Task{ID: "t1", Owner: id.Address(), Title: "Existing", CreatedAt: 1})
	backend.mu.Lock()
	backend.records[types.KindTodoList] = []types.ObjectRecord{list}
	backend.records[types.KindTask] = []types.ObjectRecord{task}
	backend.mu.Unlock()
	ctrl.Refresh(ctx)
	app.state = ctrl.Snapshot()

	if !strings.Contains(app.View(), "Existing") {
		t.Fatalf("task not rendered:\n%s", app.View())
	}

	app.Update(keyMsg("a"))
	if app.view != ViewAddTask {
		t.Fatalf("expected add form, got view %v", app.view)
	}
	app.Update(keyMsg("ctrl+s"))
	if !strings.Contains(app.formErr, "title is required") {
		t.Fatalf("expected validation message, got %q", app.formErr)
	}

	typeText(app, "Buy milk")
	_, cmd = app.Update(keyMsg("enter"))
	run(t, app, cmd)
	if app.view != ViewTasks {
		t.Fatalf("form should close after submit, view=%v err=%q", app.view, app.formErr)
	}

	_, cmd = app.Update(keyMsg("c"))
	run(t, app, cmd)
	got := backend.sentTypes()
	if len(got) != 3 || got[1] != types.TxCreateTask || got[2] != types.TxCompleteTask {
		t.Fatalf("unexpected submissions %v", got)
	}
}
