package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/ybbus/jsonrpc/v3"

	"github.com/e7canasta/rov-host/internal/metrics"
)

const (
	// DefaultTimeout bounds a single Call or Batch round trip.
	DefaultTimeout = 2 * time.Second

	// ChunkSize is the payload chunk used by Stream.
	ChunkSize = 1024

	// MethodHeader carries the method name of a streamed request.
	MethodHeader = "X-Rpc-Method"
)

// ErrInvalidEndpoint is returned for endpoints that are not http(s) URLs
// with a host and a valid port.
var ErrInvalidEndpoint = errors.New("rpc: invalid endpoint")

// Options tunes a Client.
type Options struct {
	// Timeout bounds Call and Batch. Zero means DefaultTimeout.
	Timeout time.Duration

	// HTTPClient overrides the transport; nil uses a dedicated client.
	HTTPClient *http.Client
}

// Client speaks JSON-RPC 2.0 over HTTP POST to one vehicle.
//
// A Client is safe for concurrent use; the session serializes its own
// traffic so at most one poll and one batch are in flight.
type Client struct {
	endpoint string
	rpc      jsonrpc.RPCClient
	http     *http.Client
	timeout  time.Duration
	nextID   atomic.Uint64
	logger   *slog.Logger
}

// Request is one call of a batch.
type Request struct {
	Method string
	Params any
}

// wireResponse decodes the acknowledgement of a streamed request, which
// does not go through the JSON-RPC client.
type wireResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *wireError      `json:"error,omitempty"`
	ID      uint64          `json:"id"`
}

type wireError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// ValidateEndpoint parses raw and checks scheme, host and port.
func ValidateEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidEndpoint, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: scheme must be http or https", ErrInvalidEndpoint, raw)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: %q: missing host", ErrInvalidEndpoint, raw)
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n < 1 || n > 65535 {
			return nil, fmt.Errorf("%w: %q: invalid port %q", ErrInvalidEndpoint, raw, p)
		}
	}
	if ip := net.ParseIP(host); ip == nil && !validHostname(host) {
		return nil, fmt.Errorf("%w: %q: invalid host %q", ErrInvalidEndpoint, raw, host)
	}
	return u, nil
}

func validHostname(h string) bool {
	if len(h) > 253 {
		return false
	}
	for _, r := range h {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.':
		default:
			return false
		}
	}
	return true
}

// NewClient validates endpoint and returns a client for it.
func NewClient(endpoint string, opts Options) (*Client, error) {
	u, err := ValidateEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if timeout < 0 {
		return nil, fmt.Errorf("rpc: timeout must be >= 0, got %v", timeout)
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	rc := jsonrpc.NewClientWithOpts(u.String(), &jsonrpc.RPCClientOpts{
		HTTPClient:         hc,
		AllowUnknownFields: true,
	})
	return &Client{
		endpoint: u.String(),
		rpc:      rc,
		http:     hc,
		timeout:  timeout,
		logger:   slog.Default().With("component", "rpc", "endpoint", u.String()),
	}, nil
}

// Endpoint returns the normalized endpoint URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Call invokes method and decodes its result into result (may be nil).
func (c *Client) Call(ctx context.Context, method string, params any, result any) error {
	start := time.Now()
	err := c.call(ctx, method, params, result)
	observe(method, start, err)
	return err
}

func (c *Client) call(ctx context.Context, method string, params any, result any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.rpc.CallRaw(ctx, c.request(method, params))
	if err != nil {
		return fmt.Errorf("rpc: %s: %w", method, err)
	}
	if resp.Error != nil {
		return fromRPCError(method, resp.Error)
	}
	if result != nil && resp.Result != nil {
		if err := resp.GetObject(result); err != nil {
			return fmt.Errorf("rpc: %s: decode result: %w", method, err)
		}
	}
	return nil
}

// Batch sends reqs as one JSON-RPC batch. It fails if the transport fails
// or any call in the batch returns an error. Results are returned in
// request order.
func (c *Client) Batch(ctx context.Context, reqs []Request) ([]json.RawMessage, error) {
	start := time.Now()
	out, err := c.batch(ctx, reqs)
	observe("batch", start, err)
	return out, err
}

func (c *Client) batch(ctx context.Context, reqs []Request) ([]json.RawMessage, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	batch := make(jsonrpc.RPCRequests, len(reqs))
	index := make(map[int]int, len(reqs))
	for i, r := range reqs {
		batch[i] = c.request(r.Method, r.Params)
		index[batch[i].ID] = i
	}

	resps, err := c.rpc.CallBatchRaw(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("rpc: batch: %w", err)
	}
	if len(resps) != len(reqs) {
		return nil, fmt.Errorf("rpc: batch: got %d responses for %d requests", len(resps), len(reqs))
	}

	out := make([]json.RawMessage, len(reqs))
	for _, r := range resps {
		i, ok := index[r.ID]
		if !ok {
			return nil, fmt.Errorf("rpc: batch: unexpected response id %d", r.ID)
		}
		if r.Error != nil {
			return nil, fromRPCError(reqs[i].Method, r.Error)
		}
		raw, err := json.Marshal(r.Result)
		if err != nil {
			return nil, fmt.Errorf("rpc: batch: %s: re-encode result: %w", reqs[i].Method, err)
		}
		out[i] = raw
	}
	return out, nil
}

// request builds a call with a fresh id. Params are sent as given: nil is
// omitted, slices go out positional and structs or maps as objects.
func (c *Client) request(method string, params any) *jsonrpc.RPCRequest {
	return &jsonrpc.RPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      int(c.nextID.Add(1)),
	}
}

// Close releases idle connections.
func (c *Client) Close() {
	c.http.CloseIdleConnections()
}

func observe(method string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}
