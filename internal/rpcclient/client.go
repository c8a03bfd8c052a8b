// Package rpcclient - transaction broadcasting and queries against a node
//
// This file provides the JSON-RPC side of the client transport: it submits
// signed transactions and runs owner and event queries over HTTP.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tododapp.mini/tdm/internal/ledger"
	"tododapp.mini/tdm/internal/rpcapi"
	"tododapp.mini/tdm/internal/types"
)

// DefaultRPCAddr is used when no address is configured.
const DefaultRPCAddr = "http://localhost:26657"

// Client talks to a single node.
type Client struct {
	rpcAddr string
	wsAddr  string
	client  *http.Client
}

// TxError reports a transaction the node refused. Code is the chain
// response code; ownership and lookup failures match the ledger sentinels
// with errors.Is.
type TxError struct {
	Code uint32
	Log  string
	Hash string
}

func (e *TxError) Error() string {
	return fmt.Sprintf("transaction failed with code %d: %s", e.Code, e.Log)
}

func (e *TxError) Is(target error) bool {
	switch target {
	case ledger.ErrOwnershipViolation:
		return e.Code == rpcapi.CodeOwnershipViolation
	case ledger.ErrObjectNotFound:
		return e.Code == rpcapi.CodeNotFound
	}
	return false
}

// NewClient creates a client for the node at rpcAddr. The websocket
// address defaults to the same host with a ws scheme.
//
// Parameters:
//   - rpcAddr: node base address (e.g., "http://localhost:26657")
//   - wsAddr: notification feed (e.g., "ws://localhost:26657/ws/events"), may be empty
func NewClient(rpcAddr, wsAddr string) *Client {
	if rpcAddr == "" {
		rpcAddr = DefaultRPCAddr
	}
	rpcAddr = strings.TrimRight(rpcAddr, "/")
	if wsAddr == "" {
		wsAddr = deriveWSAddr(rpcAddr)
	}

	return &Client{
		rpcAddr: rpcAddr,
		wsAddr:  wsAddr,
		client: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func deriveWSAddr(rpcAddr string) string {
	switch {
	case strings.HasPrefix(rpcAddr, "https://"):
		return "wss://" + strings.TrimPrefix(rpcAddr, "https://") + "/ws/events"
	case strings.HasPrefix(rpcAddr, "http://"):
		return "ws://" + strings.TrimPrefix(rpcAddr, "http://") + "/ws/events"
	}
	return rpcAddr + "/ws/events"
}

// BroadcastTxSync submits a transaction and returns once the node has
// checked and queued it. The effects are not yet visible to queries.
//
// Returns:
//   - txHash: The transaction hash (for later lookup)
//   - error: Any error during broadcast, *TxError when the check failed
func (c *Client) BroadcastTxSync(ctx context.Context, tx []byte) (string, error) {
	var resp rpcapi.Response
	if err := c.call(ctx, "broadcast_tx_sync", rpcapi.TxParams{Tx: tx}, &resp); err != nil {
		return "", err
	}
	if resp.Code != rpcapi.CodeOK {
		return "", &TxError{Code: resp.Code, Log: resp.Log, Hash: resp.Hash}
	}
	return resp.Hash, nil
}

// BroadcastTxCommit submits a transaction and waits for it to be delivered
// in a block.
func (c *Client) BroadcastTxCommit(ctx context.Context, tx []byte) (*rpcapi.TxResult, error) {
	var res rpcapi.TxResult
	if err := c.call(ctx, "broadcast_tx_commit", rpcapi.TxParams{Tx: tx}, &res); err != nil {
		return nil, err
	}
	if res.Code != rpcapi.CodeOK {
		return &res, &TxError{Code: res.Code, Log: res.Log, Hash: res.Hash}
	}
	return &res, nil
}

// BroadcastSignedTransaction marshals signedTx and broadcasts it, waiting
// for the block when commit is set.
func (c *Client) BroadcastSignedTransaction(ctx context.Context, signedTx *types.SignedTransaction, commit bool) (string, error) {
	txBytes, err := json.Marshal(signedTx)
	if err != nil {
		return "", fmt.Errorf("failed to marshal transaction: %w", err)
	}
	if !commit {
		return c.BroadcastTxSync(ctx, txBytes)
	}
	res, err := c.BroadcastTxCommit(ctx, txBytes)
	if err != nil {
		return "", err
	}
	return res.Hash, nil
}

// QueryTx looks up a delivered transaction by hash.
func (c *Client) QueryTx(ctx context.Context, txHash string) (*rpcapi.TxResult, error) {
	var res rpcapi.TxResult
	if err := c.call(ctx, "tx", rpcapi.HashParams{Hash: txHash}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// OwnedObjects returns the objects of one kind owned by owner.
func (c *Client) OwnedObjects(ctx context.Context, owner types.Address, kind types.ObjectKind) ([]types.ObjectRecord, error) {
	var records []types.ObjectRecord
	if err := c.call(ctx, "objects_owned", rpcapi.OwnedParams{Owner: owner, Type: kind}, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// EventsSince pages through notifications after cursor. The returned
// cursor is passed to the next call.
func (c *Client) EventsSince(ctx context.Context, cursor uint64, limit int) ([]types.Notification, uint64, error) {
	var res rpcapi.EventsResult
	if err := c.call(ctx, "events_since", rpcapi.EventsParams{Cursor: cursor, Limit: limit}, &res); err != nil {
		return nil, cursor, err
	}
	return res.Events, res.NextCursor, nil
}

// Status reports the node's chain and package.
func (c *Client) Status(ctx context.Context) (*rpcapi.StatusResult, error) {
	var st rpcapi.StatusResult
	if err := c.call(ctx, "status", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// call performs one JSON-RPC round trip.
func (c *Client) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	reqBody := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
	}
	if params != nil {
		reqBody["params"] = params
	}

	reqBytes, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal RPC request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.rpcAddr+"/rpc", bytes.NewReader(reqBytes))
	if err != nil {
		return fmt.Errorf("failed to build RPC request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send RPC request: %w", err)
	}
	defer resp.Body.Close()

	respBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read RPC response: %w", err)
	}

	var rpcResp struct {
		JSONRPC string           `json:"jsonrpc"`
		Result  json.RawMessage  `json:"result"`
		Error   *rpcapi.RPCError `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &rpcResp); err != nil {
		return fmt.Errorf("failed to parse RPC response: %w (status %d)", err, resp.StatusCode)
	}

	if rpcResp.Error != nil {
		return fmt.Errorf("RPC error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if result == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("failed to decode %s result: %w", method, err)
	}
	return nil
}
