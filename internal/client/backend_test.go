package client

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"tododapp.mini/tdm/internal/chain"
	"tododapp.mini/tdm/internal/identity"
	"tododapp.mini/tdm/internal/ledger"
	"tododapp.mini/tdm/internal/rpcclient"
	"tododapp.mini/tdm/internal/types"
)

const testPackage = "pkg-client"

// localBackend serves the controller interfaces straight from an
// in-process node, without HTTP.
type localBackend struct {
	node         *chain.Node
	subscribeErr error
}

func newLocalBackend(t *testing.T) *localBackend {
	t.Helper()
	app, err := chain.NewApp(ledger.New(testPackage))
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	n := chain.NewNode(app, nil, 5*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	n.Start(ctx)
	t.Cleanup(func() {
		cancel()
		n.Stop()
	})
	return &localBackend{node: n}
}

func (b *localBackend) BroadcastSignedTransaction(ctx context.Context, stx *types.SignedTransaction, commit bool) (string, error) {
	txBytes, err := json.Marshal(stx)
	if err != nil {
		return "", err
	}
	if commit {
		res, err := b.node.BroadcastCommit(ctx, txBytes)
		if err != nil {
			return "", err
		}
		if !res.IsOK() {
			return "", &rpcclient.TxError{Code: res.Code, Log: res.Log, Hash: res.Hash}
		}
		return res.Hash, nil
	}
	resp := b.node.BroadcastSync(txBytes)
	if !resp.IsOK() {
		return "", &rpcclient.TxError{Code: resp.Code, Log: resp.Log, Hash: resp.Hash}
	}
	return resp.Hash, nil
}

func (b *localBackend) OwnedObjects(ctx context.Context, owner types.Address, kind types.ObjectKind) ([]types.ObjectRecord, error) {
	return b.node.App().Ledger().ObjectsOwnedBy(owner, kind)
}

func (b *localBackend) Subscribe(ctx context.Context, packageID string) (<-chan types.Event, error) {
	if b.subscribeErr != nil {
		return nil, b.subscribeErr
	}
	bus := b.node.Events()
	ch := bus.Subscribe(16)
	out := make(chan types.Event, 16)
	go func() {
		defer close(out)
		defer bus.Unsubscribe(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case n := <-ch:
				select {
				case out <- n.Event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

// commitAs bypasses the controller, as another session of the same
// principal would.
func (b *localBackend) commitAs(t *testing.T, id *identity.Identity, txType types.TxType, payload any) chain.TxResult {
	t.Helper()
	tx, err := types.NewTransaction(txType, testPackage, payload)
	if err != nil {
		t.Fatalf("NewTransaction: %v", err)
	}
	stx, err := tx.Sign(id)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	b2, _ := json.Marshal(stx)
	res, err := b.node.BroadcastCommit(context.Background(), b2)
	if err != nil || !res.IsOK() {
		t.Fatalf("commit %s: %v %+v", txType, err, res)
	}
	return res
}

// countingBackend records every call and returns canned data.
type countingBackend struct {
	mu        sync.Mutex
	submits   int
	queries   int
	subs      int
	records   map[types.ObjectKind][]types.ObjectRecord
	queryErr  error
	submitErr error
	block     chan struct{}
}

func (b *countingBackend) BroadcastSignedTransaction(ctx context.Context, stx *types.SignedTransaction, commit bool) (string, error) {
	b.mu.Lock()
	b.submits++
	block, err := b.block, b.submitErr
	b.mu.Unlock()
	if block != nil {
		<-block
	}
	if err != nil {
		return "", err
	}
	return stx.Hash(), nil
}

func (b *countingBackend) OwnedObjects(ctx context.Context, owner types.Address, kind types.ObjectKind) ([]types.ObjectRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queries++
	if b.queryErr != nil {
		return nil, b.queryErr
	}
	return b.records[kind], nil
}

func (b *countingBackend) Subscribe(ctx context.Context, packageID string) (<-chan types.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs++
	return nil, errors.New("not supported")
}

func (b *countingBackend) calls() (int, int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.submits, b.queries, b.subs
}

func newIdentity(t *testing.T) *identity.Identity {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	return id
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
