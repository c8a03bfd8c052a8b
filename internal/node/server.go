// Package node exposes a chain.Node over HTTP: a JSON-RPC endpoint for
// broadcasting transactions and querying owned objects, a websocket feed
// of notifications, health and the rendered RPC reference.
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"tododapp.mini/tdm/internal/chain"
	"tododapp.mini/tdm/internal/docs"
)

// Options configures a Server.
type Options struct {
	ChainID    string
	Port       int
	EnablePush bool
	Docs       *docs.Service
	CommitWait time.Duration
}

// Server is the node's HTTP front end.
type Server struct {
	node    *chain.Node
	opts    Options
	started time.Time
	srv     *http.Server
}

// NewServer creates a server for n.
func NewServer(n *chain.Node, opts Options) *Server {
	if opts.CommitWait <= 0 {
		opts.CommitWait = 10 * time.Second
	}
	s := &Server{
		node:    n,
		opts:    opts,
		started: time.Now(),
	}
	s.srv = &http.Server{
		Addr:        fmt.Sprintf(":%d", opts.Port),
		Handler:     s.Handler(),
		ReadTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP routes so tests can mount them.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleRPC)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ws/events", s.handleEventsWS)
	mux.HandleFunc("/docs", s.handleDocs)
	mux.HandleFunc("/docs/", s.handleDocs)
	return mux
}

// Start begins serving in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("INFO: Node RPC listening on %s", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("Warning: node server error: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// @Method: GET /health
// @Description: Liveness and chain height of this node
// @Params: none
// @Result: {"status": "ok", "height": 12, "uptime": "1m0s"}
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"height":  s.node.Height(),
		"pending": s.node.Pending(),
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// @Method: GET /docs
// @Description: Rendered HTML of the node RPC reference; /docs/{name} selects another document
// @Params: none
// @Result: text/html
func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	if s.opts.Docs == nil {
		http.NotFound(w, r)
		return
	}
	name := docs.DefaultDocument
	if rest := r.URL.Path[len("/docs"):]; len(rest) > 1 {
		name = rest[1:]
	}
	html, err := s.opts.Docs.GetDoc(r.Context(), name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(html))
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
