// Package chain connects signed transition requests to the ledger module.
// App validates transactions (CheckTx) and applies them (DeliverTx); Node
// batches accepted transactions into blocks and publishes the resulting
// notifications. Signatures, package ids, payload shape and ownership are
// all checked here before the ledger is touched.
package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"tododapp.mini/tdm/internal/ledger"
	"tododapp.mini/tdm/internal/rpcapi"
	"tododapp.mini/tdm/internal/types"
)

const (
	CodeTypeOK                 = rpcapi.CodeOK
	CodeTypeEncodingError      = rpcapi.CodeEncodingError
	CodeTypeAuthError          = rpcapi.CodeAuthError
	CodeTypeInvalidTx          = rpcapi.CodeInvalidTx
	CodeTypeOwnershipViolation = rpcapi.CodeOwnershipViolation
	CodeTypeNotFound           = rpcapi.CodeNotFound
	CodeTypeWrongPackage       = rpcapi.CodeWrongPackage
	CodeTypeDuplicateTx        = rpcapi.CodeDuplicateTx
)

// Response is the outcome of CheckTx or DeliverTx.
type Response = rpcapi.Response

// TxIndex persists the hashes of delivered transactions.
type TxIndex interface {
	AppliedTxs() ([]string, error)
	SaveAppliedTx(hash string) error
}

// AppOption configures an App.
type AppOption func(*App)

// WithTxIndex loads previously delivered hashes from idx and records new
// ones there, so replays stay rejected across restarts.
func WithTxIndex(idx TxIndex) AppOption {
	return func(app *App) { app.index = idx }
}

// App applies transactions to a single ledger module. Each signed
// transaction is delivered at most once.
type App struct {
	mu      sync.Mutex
	ledger  *ledger.Ledger
	schema  *payloadSchemas
	index   TxIndex
	applied map[string]struct{}
}

// NewApp creates an application over l.
func NewApp(l *ledger.Ledger, opts ...AppOption) (*App, error) {
	schemas, err := compilePayloadSchemas()
	if err != nil {
		return nil, err
	}
	app := &App{ledger: l, schema: schemas, applied: make(map[string]struct{})}
	for _, opt := range opts {
		opt(app)
	}
	if app.index != nil {
		hashes, err := app.index.AppliedTxs()
		if err != nil {
			return nil, fmt.Errorf("load applied txs: %w", err)
		}
		for _, h := range hashes {
			app.applied[h] = struct{}{}
		}
	}
	return app, nil
}

// Ledger exposes the underlying module state for queries.
func (app *App) Ledger() *ledger.Ledger {
	return app.ledger
}

// decoded is a verified, parsed transaction.
type decoded struct {
	hash   string
	signer types.Address
	tx     *types.Transaction
}

func (app *App) decode(txBytes []byte) (*decoded, Response) {
	var signedTx types.SignedTransaction
	if err := json.Unmarshal(txBytes, &signedTx); err != nil {
		return nil, Response{Code: CodeTypeEncodingError, Log: "failed to decode signed tx"}
	}
	hash := signedTx.Hash()

	if !signedTx.Verify() {
		return nil, Response{Code: CodeTypeAuthError, Log: "invalid signature", Hash: hash}
	}

	tx, err := signedTx.GetTransaction()
	if err != nil {
		return nil, Response{Code: CodeTypeEncodingError, Log: "failed to decode inner tx", Hash: hash}
	}

	if tx.PackageID != app.ledger.PackageID() {
		return nil, Response{Code: CodeTypeWrongPackage, Log: "transaction targets package " + tx.PackageID, Hash: hash}
	}

	if err := app.schema.validate(tx.Type, tx.Payload); err != nil {
		return nil, Response{Code: CodeTypeInvalidTx, Log: err.Error(), Hash: hash}
	}

	return &decoded{hash: hash, signer: signedTx.Signer(), tx: tx}, Response{Code: CodeTypeOK, Hash: hash}
}

// CheckTx validates a transaction without changing state. Ownership is
// dry-run against the current ledger.
func (app *App) CheckTx(txBytes []byte) Response {
	d, resp := app.decode(txBytes)
	if d == nil {
		return resp
	}
	if app.Applied(d.hash) {
		return duplicateResponse(d.hash)
	}

	var err error
	switch d.tx.Type {
	case types.TxCreateTodoList:
	case types.TxCreateTask:
		var p types.CreateTaskPayload
		if err := json.Unmarshal(d.tx.Payload, &p); err != nil {
			return Response{Code: CodeTypeEncodingError, Log: "failed to decode create_task payload", Hash: d.hash}
		}
		err = app.ledger.CheckCreateTask(d.signer, p.ListID)
	case types.TxCompleteTask:
		var p types.CompleteTaskPayload
		if err := json.Unmarshal(d.tx.Payload, &p); err != nil {
			return Response{Code: CodeTypeEncodingError, Log: "failed to decode complete_task payload", Hash: d.hash}
		}
		err = app.ledger.CheckCompleteTask(d.signer, p.TaskID)
	default:
		return Response{Code: CodeTypeInvalidTx, Log: "unknown transaction type", Hash: d.hash}
	}
	if err != nil {
		return errorResponse(err, d.hash)
	}
	return resp
}

// DeliverTx validates and applies a transaction. A hash that was already
// delivered, successfully or not, is refused with CodeTypeDuplicateTx.
func (app *App) DeliverTx(txBytes []byte) Response {
	d, resp := app.decode(txBytes)
	if d == nil {
		return resp
	}

	app.mu.Lock()
	defer app.mu.Unlock()

	if _, seen := app.applied[d.hash]; seen {
		return duplicateResponse(d.hash)
	}
	resp = app.apply(d, resp)
	app.markApplied(d.hash)
	return resp
}

// Applied reports whether the transaction with hash has been delivered.
func (app *App) Applied(hash string) bool {
	app.mu.Lock()
	defer app.mu.Unlock()
	_, ok := app.applied[hash]
	return ok
}

func (app *App) markApplied(hash string) {
	app.applied[hash] = struct{}{}
	if app.index == nil {
		return
	}
	if err := app.index.SaveAppliedTx(hash); err != nil {
		log.Printf("Warning: failed to record applied tx %s: %v", hash, err)
	}
}

// apply runs a decoded transaction against the ledger. Callers hold app.mu.
func (app *App) apply(d *decoded, resp Response) Response {
	before := app.ledger.LastSeq()

	switch d.tx.Type {
	case types.TxCreateTodoList:
		list, err := app.ledger.CreateList(d.signer)
		if err != nil {
			return errorResponse(err, d.hash)
		}
		resp.Created = []types.ObjectID{list.ID}
		log.Printf("INFO: Created todo list %s for %s", list.ID, d.signer)

	case types.TxCreateTask:
		var p types.CreateTaskPayload
		if err := json.Unmarshal(d.tx.Payload, &p); err != nil {
			return Response{Code: CodeTypeEncodingError, Log: "failed to decode create_task payload", Hash: d.hash}
		}
		task, err := app.ledger.CreateTask(d.signer, p.ListID, p.Title, p.Description)
		if err != nil {
			return errorResponse(err, d.hash)
		}
		resp.Created = []types.ObjectID{task.ID}
		log.Printf("INFO: Created task %s in list %s", task.ID, p.ListID)

	case types.TxCompleteTask:
		var p types.CompleteTaskPayload
		if err := json.Unmarshal(d.tx.Payload, &p); err != nil {
			return Response{Code: CodeTypeEncodingError, Log: "failed to decode complete_task payload", Hash: d.hash}
		}
		if _, err := app.ledger.CompleteTask(d.signer, p.TaskID); err != nil {
			return errorResponse(err, d.hash)
		}
		log.Printf("INFO: Completed task %s", p.TaskID)

	default:
		return Response{Code: CodeTypeInvalidTx, Log: "unknown transaction type", Hash: d.hash}
	}

	resp.Events = app.ledger.EventsSince(before, 0)
	return resp
}

func duplicateResponse(hash string) Response {
	return Response{Code: CodeTypeDuplicateTx, Log: "transaction already delivered", Hash: hash}
}

func errorResponse(err error, hash string) Response {
	code := CodeTypeInvalidTx
	switch {
	case errors.Is(err, ledger.ErrOwnershipViolation):
		code = CodeTypeOwnershipViolation
	case errors.Is(err, ledger.ErrObjectNotFound):
		code = CodeTypeNotFound
	}
	return Response{Code: code, Log: err.Error(), Hash: hash}
}
