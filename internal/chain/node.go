package chain

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"tododapp.mini/tdm/internal/rpcapi"
)

// DefaultBlockInterval is how often queued transactions are delivered.
const DefaultBlockInterval = 500 * time.Millisecond

// ErrNodeStopped is returned to commit waiters when the node shuts down
// before their transaction is included.
var ErrNodeStopped = errors.New("node stopped")

// TxResult is a delivered transaction together with the block it landed in.
type TxResult = rpcapi.TxResult

type pendingTx struct {
	hash  string
	bytes []byte
}

// Node queues checked transactions and delivers them in blocks. A
// transaction accepted by BroadcastSync is acknowledged immediately but
// its effects only become visible after the next block.
type Node struct {
	app      *App
	bus      *EventBus
	interval time.Duration

	mu      sync.Mutex
	mempool []pendingTx
	queued  map[string]struct{}
	height  int64
	results map[string]TxResult
	waiters map[string][]chan TxResult
	stopped bool

	started  atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewNode creates a node over app. An interval of zero selects
// DefaultBlockInterval.
func NewNode(app *App, bus *EventBus, interval time.Duration) *Node {
	if interval <= 0 {
		interval = DefaultBlockInterval
	}
	if bus == nil {
		bus = NewEventBus()
	}
	return &Node{
		app:      app,
		bus:      bus,
		interval: interval,
		queued:   make(map[string]struct{}),
		results:  make(map[string]TxResult),
		waiters:  make(map[string][]chan TxResult),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// App returns the application the node delivers to.
func (n *Node) App() *App { return n.app }

// Events returns the bus carrying delivered notifications.
func (n *Node) Events() *EventBus { return n.bus }

// Height returns the number of blocks produced so far.
func (n *Node) Height() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.height
}

// Start runs the block producer until ctx is done or Stop is called.
func (n *Node) Start(ctx context.Context) {
	if !n.started.CompareAndSwap(false, true) {
		return
	}
	go n.run(ctx)
}

// Stop halts block production and releases pending commit waiters.
func (n *Node) Stop() {
	n.stopOnce.Do(func() { close(n.stop) })
	if !n.started.Load() {
		n.releaseWaiters()
		return
	}
	<-n.done
}

func (n *Node) run(ctx context.Context) {
	defer close(n.done)
	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	log.Printf("INFO: Block producer started (interval %s)", n.interval)
	for {
		select {
		case <-ctx.Done():
			n.releaseWaiters()
			return
		case <-n.stop:
			n.releaseWaiters()
			return
		case <-ticker.C:
			n.ProduceBlock()
		}
	}
}

// ProduceBlock delivers every queued transaction in arrival order. Empty
// mempools do not advance the height.
func (n *Node) ProduceBlock() int64 {
	n.mu.Lock()
	batch := n.mempool
	n.mempool = nil
	if len(batch) == 0 {
		h := n.height
		n.mu.Unlock()
		return h
	}
	n.height++
	height := n.height
	n.mu.Unlock()

	for _, p := range batch {
		resp := n.app.DeliverTx(p.bytes)
		res := TxResult{Height: height, Response: resp}
		if !resp.IsOK() {
			log.Printf("Warning: tx %s rejected at height %d: %s", p.hash, height, resp.Log)
		}
		for _, ev := range resp.Events {
			n.bus.Publish(ev)
		}

		n.mu.Lock()
		delete(n.queued, p.hash)
		if resp.Code != CodeTypeDuplicateTx {
			n.results[p.hash] = res
		}
		waiters := n.waiters[p.hash]
		delete(n.waiters, p.hash)
		n.mu.Unlock()

		for _, w := range waiters {
			w <- res
		}
	}
	return height
}

// BroadcastSync checks tx and queues it. The returned response carries
// the check result and hash; the caller does not wait for inclusion. A
// transaction already queued or delivered is refused.
func (n *Node) BroadcastSync(tx []byte) Response {
	resp := n.app.CheckTx(tx)
	if !resp.IsOK() {
		return resp
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.enqueueLocked(resp.Hash, tx) {
		return duplicateResponse(resp.Hash)
	}
	return resp
}

// BroadcastCommit checks tx, queues it and waits for its block. It fails
// with ErrNodeStopped once the node has stopped.
func (n *Node) BroadcastCommit(ctx context.Context, tx []byte) (TxResult, error) {
	resp := n.app.CheckTx(tx)
	if !resp.IsOK() {
		return TxResult{Response: resp}, nil
	}

	wait := make(chan TxResult, 1)
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return TxResult{}, ErrNodeStopped
	}
	if !n.enqueueLocked(resp.Hash, tx) {
		n.mu.Unlock()
		return TxResult{Response: duplicateResponse(resp.Hash)}, nil
	}
	n.waiters[resp.Hash] = append(n.waiters[resp.Hash], wait)
	n.mu.Unlock()

	select {
	case res, ok := <-wait:
		if !ok {
			return TxResult{}, ErrNodeStopped
		}
		return res, nil
	case <-ctx.Done():
		return TxResult{}, ctx.Err()
	}
}

// enqueueLocked adds tx to the mempool unless its hash is already queued.
func (n *Node) enqueueLocked(hash string, tx []byte) bool {
	if _, ok := n.queued[hash]; ok {
		return false
	}
	n.queued[hash] = struct{}{}
	n.mempool = append(n.mempool, pendingTx{hash: hash, bytes: tx})
	return true
}

// TxResult looks up a delivered transaction by hash.
func (n *Node) TxResult(hash string) (TxResult, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	res, ok := n.results[hash]
	return res, ok
}

// Pending reports the number of queued transactions.
func (n *Node) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.mempool)
}

func (n *Node) releaseWaiters() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
	for hash, ws := range n.waiters {
		for _, w := range ws {
			close(w)
		}
		delete(n.waiters, hash)
	}
	log.Printf("INFO: Block producer stopped at height %d", n.height)
}
