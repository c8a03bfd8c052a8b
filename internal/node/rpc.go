package node

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"tododapp.mini/tdm/internal/rpcapi"
	"tododapp.mini/tdm/internal/types"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeInternalError  = -32603
)

const maxEventsPage = 500

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, rpcapi.JSONRPCResponse{JSONRPC: "2.0",
			Error: &rpcapi.RPCError{Code: codeInvalidRequest, Message: "POST required"}})
		return
	}

	var req rpcapi.JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, rpcapi.JSONRPCResponse{JSONRPC: "2.0",
			Error: &rpcapi.RPCError{Code: codeParseError, Message: "invalid JSON"}})
		return
	}

	result, err := s.dispatch(r.Context(), req.Method, req.Params)
	resp := rpcapi.JSONRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: result}
	if err != nil {
		var rpcErr *rpcapi.RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &rpcapi.RPCError{Code: codeInternalError, Message: err.Error()}
		}
		resp.Result = nil
		resp.Error = rpcErr
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) dispatch(ctx context.Context, method string, params json.RawMessage) (interface{}, error) {
	switch method {
	case "broadcast_tx_sync":
		return s.broadcastTxSync(params)
	case "broadcast_tx_commit":
		return s.broadcastTxCommit(ctx, params)
	case "tx":
		return s.tx(params)
	case "objects_owned":
		return s.objectsOwned(params)
	case "events_since":
		return s.eventsSince(params)
	case "status":
		return s.status(), nil
	default:
		return nil, &rpcapi.RPCError{Code: codeMethodNotFound, Message: "method not supported: " + method}
	}
}

func decodeParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return &rpcapi.RPCError{Code: codeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &rpcapi.RPCError{Code: codeInvalidParams, Message: "invalid params: " + err.Error()}
	}
	return nil
}

// @Method: broadcast_tx_sync
// @Description: Checks a signed transaction and queues it for the next block without waiting
// @Params: {"tx": "<base64 signed transaction>"}
// @Result: {"code": 0, "log": "", "hash": "ab12..."}
func (s *Server) broadcastTxSync(params json.RawMessage) (interface{}, error) {
	var p rpcapi.TxParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	resp := s.node.BroadcastSync(p.Tx)
	return rpcapi.Response{Code: resp.Code, Log: resp.Log, Hash: resp.Hash}, nil
}

// @Method: broadcast_tx_commit
// @Description: Checks a signed transaction and waits until it has been delivered in a block
// @Params: {"tx": "<base64 signed transaction>"}
// @Result: {"height": 3, "code": 0, "hash": "ab12...", "created": ["<object id>"], "events": [...]}
func (s *Server) broadcastTxCommit(ctx context.Context, params json.RawMessage) (interface{}, error) {
	var p rpcapi.TxParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.opts.CommitWait)
	defer cancel()
	res, err := s.node.BroadcastCommit(ctx, p.Tx)
	if err != nil {
		return nil, &rpcapi.RPCError{Code: codeInternalError, Message: "commit: " + err.Error()}
	}
	return res, nil
}

// @Method: tx
// @Description: Looks up a delivered transaction by hash
// @Params: {"hash": "ab12..."}
// @Result: {"height": 3, "code": 0, "hash": "ab12...", "events": [...]}
func (s *Server) tx(params json.RawMessage) (interface{}, error) {
	var p rpcapi.HashParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	res, ok := s.node.TxResult(p.Hash)
	if !ok {
		return nil, &rpcapi.RPCError{Code: codeInvalidParams, Message: "tx not found: " + p.Hash}
	}
	return res, nil
}

// @Method: objects_owned
// @Description: Lists objects of one type (TodoList or Task) owned by an address
// @Params: {"owner": "0x...", "type": "Task"}
// @Result: [{"object_id": "...", "type": "Task", "owner": "0x...", "fields": {...}}]
func (s *Server) objectsOwned(params json.RawMessage) (interface{}, error) {
	var p rpcapi.OwnedParams
	if err := decodeParams(params, &p); err != nil {
		return nil, err
	}
	if p.Owner == "" {
		return nil, &rpcapi.RPCError{Code: codeInvalidParams, Message: "owner required"}
	}
	records, err := s.node.App().Ledger().ObjectsOwnedBy(p.Owner, p.Type)
	if err != nil {
		return nil, &rpcapi.RPCError{Code: codeInvalidParams, Message: err.Error()}
	}
	return records, nil
}

// @Method: events_since
// @Description: Returns notifications with a sequence number above cursor, oldest first
// @Params: {"cursor": 0, "limit": 100}
// @Result: {"events": [{"seq": 1, "package_id": "...", "type": "TaskCreated", "data": {...}}], "next_cursor": 1}
func (s *Server) eventsSince(params json.RawMessage) (interface{}, error) {
	var p rpcapi.EventsParams
	if len(params) > 0 {
		if err := decodeParams(params, &p); err != nil {
			return nil, err
		}
	}
	if p.Limit <= 0 || p.Limit > maxEventsPage {
		p.Limit = maxEventsPage
	}
	events := s.node.App().Ledger().EventsSince(p.Cursor, p.Limit)
	next := p.Cursor
	if len(events) > 0 {
		next = events[len(events)-1].Seq
	}
	if events == nil {
		events = []types.Notification{}
	}
	return rpcapi.EventsResult{Events: events, NextCursor: next}, nil
}

// @Method: status
// @Description: Reports the chain id, deployed package id, height and whether push notifications are served
// @Params: none
// @Result: {"chain_id": "...", "package_id": "...", "height": 3, "last_seq": 5, "push_enabled": true, "version": "0.1.0"}
func (s *Server) status() rpcapi.StatusResult {
	l := s.node.App().Ledger()
	return rpcapi.StatusResult{
		ChainID:     s.opts.ChainID,
		PackageID:   l.PackageID(),
		Height:      s.node.Height(),
		LastSeq:     l.LastSeq(),
		PushEnabled: s.opts.EnablePush,
		Version:     types.Version,
	}
}
