// Package rpcapi holds the wire types shared by the node's JSON-RPC and
// websocket endpoints and the client transport.
package rpcapi

import (
	"encoding/json"

	"tododapp.mini/tdm/internal/types"
)

// Transaction result codes.
const (
	CodeOK                 uint32 = 0
	CodeEncodingError      uint32 = 1
	CodeAuthError          uint32 = 2
	CodeInvalidTx          uint32 = 3
	CodeOwnershipViolation uint32 = 4
	CodeNotFound           uint32 = 5
	CodeWrongPackage       uint32 = 6
	CodeDuplicateTx        uint32 = 7
)

// Response is the outcome of checking or delivering a transaction.
type Response struct {
	Code    uint32               `json:"code"`
	Log     string               `json:"log,omitempty"`
	Hash    string               `json:"hash,omitempty"`
	Created []types.ObjectID     `json:"created,omitempty"`
	Events  []types.Notification `json:"events,omitempty"`
}

// IsOK reports whether the transaction was accepted.
func (r Response) IsOK() bool {
	return r.Code == CodeOK
}

// TxResult is a delivered transaction together with the block it landed in.
type TxResult struct {
	Height int64 `json:"height"`
	Response
}

type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id,omitempty"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string { return e.Message }

// TxParams carries a signed transaction; Tx is base64 on the wire.
type TxParams struct {
	Tx []byte `json:"tx"`
}

type HashParams struct {
	Hash string `json:"hash"`
}

type OwnedParams struct {
	Owner types.Address    `json:"owner"`
	Type  types.ObjectKind `json:"type"`
}

type EventsParams struct {
	Cursor uint64 `json:"cursor"`
	Limit  int    `json:"limit"`
}

// EventsResult is a page of notifications. NextCursor is passed back as
// the cursor of the following call.
type EventsResult struct {
	Events     []types.Notification `json:"events"`
	NextCursor uint64               `json:"next_cursor"`
}

type StatusResult struct {
	ChainID     string `json:"chain_id"`
	PackageID   string `json:"package_id"`
	Height      int64  `json:"height"`
	LastSeq     uint64 `json:"last_seq"`
	PushEnabled bool   `json:"push_enabled"`
	Version     string `json:"version"`
}

// SubscribeRequest is the first frame a client sends on /ws/events.
type SubscribeRequest struct {
	PackageID string `json:"package_id"`
}
