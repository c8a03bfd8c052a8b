// Package client implements the view/controller that sits between a
// front end and a node. It holds the signed-in principal's list and
// tasks, turns user intent into signed transactions, and keeps its view
// eventually consistent through deferred refreshes, push notifications
// or polling.
package client

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tododapp.mini/tdm/internal/logger"
	"tododapp.mini/tdm/internal/types"
)

var (
	// ErrUnconfigured is returned by every operation while no package id is set.
	ErrUnconfigured = errors.New("no deployed package configured")
	// ErrBusy is returned when a write is attempted while another is in flight.
	ErrBusy = errors.New("another write is in progress")
	// ErrListExists is returned by CreateList when the principal already has a list.
	ErrListExists = errors.New("todo list already exists")
	// ErrNoList is returned by CreateTask before a list has been loaded.
	ErrNoList = errors.New("no todo list loaded")
	// ErrNotLoaded is returned by CreateList before the first refresh has
	// completed, when it is not yet known whether a list exists.
	ErrNotLoaded = errors.New("tasks not loaded yet")
)

const (
	DefaultRefreshDelay = 2 * time.Second
	DefaultPollInterval = 5 * time.Second
	queryTimeout        = 10 * time.Second
)

// Principal signs transactions and names the owner used in queries.
type Principal interface {
	types.Signer
	Address() types.Address
}

// Submitter broadcasts signed transactions; commit=false returns once the
// node has acknowledged the transaction.
type Submitter interface {
	BroadcastSignedTransaction(ctx context.Context, signedTx *types.SignedTransaction, commit bool) (string, error)
}

// Querier runs owner queries.
type Querier interface {
	OwnedObjects(ctx context.Context, owner types.Address, kind types.ObjectKind) ([]types.ObjectRecord, error)
}

// Subscriber opens a push feed of notifications for one package.
type Subscriber interface {
	Subscribe(ctx context.Context, packageID string) (<-chan types.Event, error)
}

// EventFeed pages through the ledger's notification log.
type EventFeed interface {
	EventsSince(ctx context.Context, cursor uint64, limit int) ([]types.Notification, uint64, error)
}

// Options configures a Controller.
type Options struct {
	PackageID    string
	RefreshDelay time.Duration
	PollInterval time.Duration
	// Subscriber may be nil, in which case the controller only polls.
	Subscriber Subscriber
	// Events, when set, lets polling skip refreshes while the
	// notification cursor has not moved.
	Events EventFeed
	Logger *logger.Logger
}

// NotifyMode says how the controller learns about ledger changes.
type NotifyMode string

const (
	ModeIdle    NotifyMode = "idle"
	ModePush    NotifyMode = "push"
	ModePolling NotifyMode = "polling"
)

// State is an immutable snapshot of the view.
type State struct {
	Unconfigured bool
	Address      types.Address
	PackageID    string
	List         *types.TodoList
	ListPending  bool
	Tasks        []types.Task
	Loaded       bool
	Busy         bool
	LastRefresh  time.Time
	Mode         NotifyMode
	Notices      []logger.Message
}

// Controller is safe for concurrent use.
type Controller struct {
	opts      Options
	principal Principal
	submit    Submitter
	query     Querier
	log       *logger.Logger

	mu          sync.RWMutex
	list        *types.TodoList
	listPending bool
	tasks       []types.Task
	loaded      bool
	lastRefresh time.Time
	mode        NotifyMode
	appliedGen  uint64

	refreshGen atomic.Uint64

	busy    atomic.Bool
	started atomic.Bool
	changes chan struct{}

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}
	baseCtx  context.Context
	cancel   context.CancelFunc
}

// New creates a controller. A blank PackageID leaves it unconfigured.
func New(principal Principal, submit Submitter, query Querier, opts Options) *Controller {
	if opts.RefreshDelay <= 0 {
		opts.RefreshDelay = DefaultRefreshDelay
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = logger.New(100)
	}
	opts.PackageID = strings.TrimSpace(opts.PackageID)

	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:      opts,
		principal: principal,
		submit:    submit,
		query:     query,
		log:       opts.Logger,
		mode:      ModeIdle,
		changes:   make(chan struct{}, 1),
		timers:    make(map[*time.Timer]struct{}),
		baseCtx:   ctx,
		cancel:    cancel,
	}
	go c.forwardNotices(ctx)
	return c
}

// Configured reports whether a package id is set.
func (c *Controller) Configured() bool {
	return c.opts.PackageID != ""
}

// Logger returns the notice feed.
func (c *Controller) Logger() *logger.Logger {
	return c.log
}

// Changes signals (coalesced) whenever the snapshot may have changed.
func (c *Controller) Changes() <-chan struct{} {
	return c.changes
}

func (c *Controller) notify() {
	select {
	case c.changes <- struct{}{}:
	default:
	}
}

func (c *Controller) forwardNotices(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.log.Updates():
			c.notify()
		}
	}
}

// Snapshot returns a copy of the current view state.
func (c *Controller) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st := State{
		Unconfigured: !c.Configured(),
		PackageID:    c.opts.PackageID,
		ListPending:  c.listPending,
		Loaded:       c.loaded,
		Busy:         c.busy.Load(),
		LastRefresh:  c.lastRefresh,
		Mode:         c.mode,
		Notices:      c.log.Active(),
	}
	if c.principal != nil {
		st.Address = c.principal.Address()
	}
	if c.list != nil {
		l := c.list.Clone()
		st.List = &l
	}
	st.Tasks = make([]types.Task, len(c.tasks))
	copy(st.Tasks, c.tasks)
	return st
}

// DismissNotice hides a user-visible message.
func (c *Controller) DismissNotice(id string) bool {
	return c.log.Dismiss(id)
}

// Refresh reloads the principal's list and tasks. On success the result
// replaces the previous view entirely; on failure the view is untouched
// and a dismissible notice is raised. When refreshes overlap, a result is
// dropped if a refresh started after it has already been applied.
func (c *Controller) Refresh(ctx context.Context) error {
	if !c.Configured() {
		return ErrUnconfigured
	}
	gen := c.refreshGen.Add(1)
	owner := c.principal.Address()

	listRecords, err := c.query.OwnedObjects(ctx, owner, types.KindTodoList)
	if err != nil {
		return c.refreshFailed(err)
	}
	taskRecords, err := c.query.OwnedObjects(ctx, owner, types.KindTask)
	if err != nil {
		return c.refreshFailed(err)
	}

	// one list per principal is expected; extra lists are ignored
	var list *types.TodoList
	if len(listRecords) > 0 {
		l, err := listRecords[0].TodoList()
		if err != nil {
			return c.refreshFailed(err)
		}
		list = &l
	}

	tasks := make([]types.Task, 0, len(taskRecords))
	for _, rec := range taskRecords {
		t, err := rec.Task()
		if err != nil {
			return c.refreshFailed(err)
		}
		tasks = append(tasks, t)
	}
	SortTasks(tasks)

	c.mu.Lock()
	if gen < c.appliedGen {
		c.mu.Unlock()
		return nil
	}
	c.appliedGen = gen
	c.list = list
	if list != nil {
		c.listPending = false
	}
	c.tasks = tasks
	c.loaded = true
	c.lastRefresh = time.Now()
	c.mu.Unlock()

	c.notify()
	return nil
}

func (c *Controller) refreshFailed(err error) error {
	log.Printf("Warning: refresh failed: %v", err)
	c.log.Error(fmt.Sprintf("Could not load tasks: %v", err))
	return fmt.Errorf("refresh: %w", err)
}

// SortTasks orders tasks newest first. Equal timestamps keep their
// relative order.
func SortTasks(tasks []types.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt > tasks[j].CreatedAt
	})
}

// CreateList submits create_todo_list. It refuses until the first refresh
// has completed, and while a list is known or a create is still waiting
// to show up in a refresh.
func (c *Controller) CreateList(ctx context.Context) (string, error) {
	if !c.Configured() {
		return "", ErrUnconfigured
	}
	c.mu.Lock()
	switch {
	case !c.loaded:
		c.mu.Unlock()
		return "", ErrNotLoaded
	case c.list != nil || c.listPending:
		c.mu.Unlock()
		return "", ErrListExists
	}
	c.listPending = true
	c.mu.Unlock()

	hash, err := c.write(ctx, "Create list", types.TxCreateTodoList, nil)
	if err != nil {
		c.mu.Lock()
		c.listPending = false
		c.mu.Unlock()
		c.notify()
	}
	return hash, err
}

// CreateTask validates the input and submits create_task against the
// loaded list.
func (c *Controller) CreateTask(ctx context.Context, title, description string) (string, error) {
	if !c.Configured() {
		return "", ErrUnconfigured
	}
	if err := ValidateTask(title, description); err != nil {
		c.log.Warning(fmt.Sprintf("Task not submitted: %v", err))
		return "", err
	}
	c.mu.RLock()
	var listID types.ObjectID
	if c.list != nil {
		listID = c.list.ID
	}
	c.mu.RUnlock()
	if listID == "" {
		return "", ErrNoList
	}

	payload := types.CreateTaskPayload{
		ListID:      listID,
		Title:       []byte(strings.TrimSpace(title)),
		Description: []byte(description),
	}
	return c.write(ctx, "Create task", types.TxCreateTask, payload)
}

// CompleteTask submits complete_task.
func (c *Controller) CompleteTask(ctx context.Context, taskID types.ObjectID) (string, error) {
	if !c.Configured() {
		return "", ErrUnconfigured
	}
	return c.write(ctx, "Complete task", types.TxCompleteTask, types.CompleteTaskPayload{TaskID: taskID})
}

// write signs and submits one transaction. Only one write runs at a time.
func (c *Controller) write(ctx context.Context, action string, txType types.TxType, payload any) (string, error) {
	if !c.busy.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	c.notify()
	defer func() {
		c.busy.Store(false)
		c.notify()
	}()

	tx, err := types.NewTransaction(txType, c.opts.PackageID, payload)
	if err != nil {
		return "", c.writeFailed(action, err)
	}
	signed, err := tx.Sign(c.principal)
	if err != nil {
		return "", c.writeFailed(action, err)
	}
	hash, err := c.submit.BroadcastSignedTransaction(ctx, signed, false)
	if err != nil {
		return "", c.writeFailed(action, err)
	}

	log.Printf("INFO: %s submitted (tx %s)", action, hash)
	c.log.Info(fmt.Sprintf("%s submitted", action))
	c.scheduleRefresh()
	return hash, nil
}

func (c *Controller) writeFailed(action string, err error) error {
	log.Printf("Warning: %s failed: %v", strings.ToLower(action), err)
	c.log.Error(fmt.Sprintf("%s failed: %v", action, err))
	return err
}

// scheduleRefresh reloads after RefreshDelay, giving the node time to
// include the transaction in a block.
func (c *Controller) scheduleRefresh() {
	c.timersMu.Lock()
	defer c.timersMu.Unlock()
	if c.baseCtx.Err() != nil {
		return
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.opts.RefreshDelay, func() {
		c.timersMu.Lock()
		delete(c.timers, timer)
		c.timersMu.Unlock()
		c.refreshInBackground()
	})
	c.timers[timer] = struct{}{}
}

func (c *Controller) refreshInBackground() {
	if c.baseCtx.Err() != nil {
		return
	}
	ctx, cancel := context.WithTimeout(c.baseCtx, queryTimeout)
	defer cancel()
	// failures are already logged and surfaced as notices
	_ = c.Refresh(ctx)
}

// Close stops pending refreshes and background loops.
func (c *Controller) Close() {
	c.cancel()
	c.timersMu.Lock()
	for t := range c.timers {
		t.Stop()
		delete(c.timers, t)
	}
	c.timersMu.Unlock()
}
