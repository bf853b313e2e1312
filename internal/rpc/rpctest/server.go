// Package rpctest provides an instrumented in-process vehicle endpoint for
// tests.
package rpctest

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/rov-host/internal/rpc"
)

// Handler answers one method. A non-nil error becomes a JSON-RPC error.
type Handler func(params json.RawMessage) (any, error)

// Call is one request received by the server.
type Call struct {
	Method string
	Params json.RawMessage
}

// StreamRecord is one streamed request received by the server.
type StreamRecord struct {
	Method  string
	Header  json.RawMessage
	Payload []byte
}

// Server is a JSON-RPC 2.0 endpoint that records every call.
// Methods without a handler succeed with a null result.
type Server struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]Handler
	calls    []Call
	batches  [][]Call
	streams  []StreamRecord

	failing atomic.Bool
}

// NewServer starts a server; close it with Close.
func NewServer() *Server {
	s := &Server{handlers: make(map[string]Handler)}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

// Handle installs h for method.
func (s *Server) Handle(method string, h Handler) {
	s.mu.Lock()
	s.handlers[method] = h
	s.mu.Unlock()
}

// SetFailing makes every request answer with HTTP 500.
func (s *Server) SetFailing(fail bool) {
	s.failing.Store(fail)
}

// Calls returns every single or batched call received, in order.
func (s *Server) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns how many times method was called.
func (s *Server) Count(method string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Batches returns the batch requests received, in order.
func (s *Server) Batches() [][]Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Call, len(s.batches))
	copy(out, s.batches)
	return out
}

// Streams returns the streamed requests received, in order.
func (s *Server) Streams() []StreamRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]StreamRecord(nil), s.streams...)
}

type request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	ID     uint64          `json:"id"`
}

type response struct {
	JSONRPC string    `json:"jsonrpc"`
	Result  any       `json:"result"`
	Error   *errorObj `json:"error,omitempty"`
	ID      uint64    `json:"id"`
}

type errorObj struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	if s.failing.Load() {
		http.Error(w, "vehicle unavailable", http.StatusInternalServerError)
		return
	}

	if method := r.Header.Get(rpc.MethodHeader); method != "" {
		s.serveStream(w, r, method)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		var reqs []request
		if err := json.Unmarshal(body, &reqs); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		batch := make([]Call, len(reqs))
		resps := make([]response, len(reqs))
		for i, req := range reqs {
			batch[i] = Call{Method: req.Method, Params: req.Params}
			resps[i] = s.dispatch(req)
		}
		s.mu.Lock()
		s.batches = append(s.batches, batch)
		s.mu.Unlock()
		_ = json.NewEncoder(w).Encode(resps)
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(s.dispatch(req))
}

func (s *Server) dispatch(req request) response {
	s.mu.Lock()
	s.calls = append(s.calls, Call{Method: req.Method, Params: req.Params})
	h := s.handlers[req.Method]
	s.mu.Unlock()

	resp := response{JSONRPC: "2.0", ID: req.ID}
	if h == nil {
		return resp
	}
	result, err := h(req.Params)
	if err != nil {
		resp.Error = &errorObj{Code: -32000, Message: err.Error()}
		return resp
	}
	resp.Result = result
	return resp
}

func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, method string) {
	br := bufio.NewReader(r.Body)
	head, err := br.ReadBytes('\n')
	if err != nil {
		http.Error(w, "missing header line", http.StatusBadRequest)
		return
	}
	payload, err := io.ReadAll(br)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.streams = append(s.streams, StreamRecord{
		Method:  method,
		Header:  json.RawMessage(strings.TrimSpace(string(head))),
		Payload: payload,
	})
	h := s.handlers[method]
	s.mu.Unlock()

	resp := response{JSONRPC: "2.0", Result: true}
	if h != nil {
		if _, err := h(json.RawMessage(head)); err != nil {
			resp.Error = &errorObj{Code: -32000, Message: err.Error()}
		}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
