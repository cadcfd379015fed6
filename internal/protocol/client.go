// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package protocol implements the client for the academic-data service: a
// managed subprocess speaking newline-delimited JSON-RPC 2.0 over its
// standard streams. The client hides process lifecycle and transient
// failures behind a single Call operation and multiplexes concurrent
// requests over one connection using correlation IDs.
// Implements: prd002-protocol-client (R1-R6);
//
//	docs/ARCHITECTURE.md § Protocol Client.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/internal/metrics"
	"github.com/pdiddy/research-assistant/pkg/types"
)

// clientInfo identifies this client in the protocol handshake.
var clientInfo = map[string]any{
	"name":    "research-assistant",
	"version": "0.1",
}

// protocolVersion is the handshake protocol revision.
const protocolVersion = "2024-11-05"

// reply carries the terminal outcome of one in-flight request from the
// reader goroutine to the waiting caller.
type reply struct {
	resp *rpcResponse
	err  error
}

// connectAttempt tracks one in-progress connection attempt so that
// concurrent requests observing a broken connection wait on it instead of
// each spawning their own subprocess.
type connectAttempt struct {
	done chan struct{}
	err  error
}

// Client manages the lifetime of the data-service connection and correlates
// requests to responses. One Client serves many concurrent queries; the
// connection state machine (Disconnected, Connecting, Ready, Degraded,
// Closed) is serialized through a single mutex.
type Client struct {
	cfg          types.ProtocolConfig
	log          *zap.Logger
	newTransport Factory

	nextID atomic.Uint64

	mu              sync.Mutex
	state           types.ConnectionState
	transport       Transport
	gen             int // connection generation; stale reader exits are ignored
	pending         map[uint64]chan reply
	attempt         *connectAttempt
	connectFailures int
	consecTimeouts  int
}

// Option configures a Client.
type Option func(*Client)

// WithTransportFactory substitutes the transport constructor; tests use it
// to inject a fake data service.
func WithTransportFactory(f Factory) Option {
	return func(c *Client) { c.newTransport = f }
}

// WithLogger sets the debug log sink for state transitions and retries.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the configured data service. No subprocess
// is spawned until the first request or an explicit Start.
func NewClient(cfg types.ProtocolConfig, opts ...Option) *Client {
	c := &Client{
		cfg:          cfg.WithDefaults(),
		log:          zap.NewNop(),
		newTransport: NewStdioTransport,
		state:        types.StateDisconnected,
		pending:      make(map[uint64]chan reply),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current connection state.
func (c *Client) State() types.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start eagerly establishes the connection. Optional: the first Call
// connects on demand.
func (c *Client) Start(ctx context.Context) error {
	return c.ensureReady(ctx)
}

// Call invokes a named tool and returns its terminal ToolResult. The result
// status is ok, error, or timeout; Call itself never fails — transport
// failures beyond the reconnect bound surface as error results.
func (c *Client) Call(ctx context.Context, name string, args map[string]any) types.ToolResult {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	id, raw, err := c.roundTrip(ctx, "tools/call", params)
	result := types.ToolResult{
		CorrelationID: id,
		ToolName:      name,
	}

	switch {
	case err == nil:
		result.Status = types.StatusOK
		result.Payload = raw
	case errors.Is(err, ErrTimeout):
		result.Status = types.StatusTimeout
		result.ErrorDetail = err.Error()
	default:
		result.Status = types.StatusError
		result.ErrorDetail = err.Error()
	}

	metrics.ToolCalls.WithLabelValues(name, string(result.Status)).Inc()
	return result
}

// toolInfo describes one tool advertised by the data service.
type toolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ListTools fetches the service's advertised tool list. Used by the health
// endpoint as a liveness probe.
func (c *Client) ListTools(ctx context.Context) ([]string, error) {
	_, raw, err := c.roundTrip(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}

	var listing struct {
		Tools []toolInfo `json:"tools"`
	}
	if err := json.Unmarshal(raw, &listing); err != nil {
		return nil, &ToolError{Code: -1, Message: "malformed tools/list result"}
	}

	names := make([]string, 0, len(listing.Tools))
	for _, t := range listing.Tools {
		names = append(names, t.Name)
	}
	return names, nil
}

// roundTrip performs one correlated request/response exchange, connecting
// first if necessary. It returns the correlation ID even on failure so the
// caller can attach it to the terminal result.
func (c *Client) roundTrip(ctx context.Context, method string, params any) (uint64, json.RawMessage, error) {
	for {
		if err := c.ensureReady(ctx); err != nil {
			return 0, nil, err
		}

		c.mu.Lock()
		if c.state != types.StateReady {
			// Connection dropped between readiness check and issue;
			// go around again.
			c.mu.Unlock()
			continue
		}
		id := c.nextID.Add(1)
		ch := make(chan reply, 1)
		c.pending[id] = ch
		tr := c.transport
		gen := c.gen
		c.mu.Unlock()

		return c.exchange(ctx, tr, gen, id, method, params, ch)
	}
}

// exchange writes one framed request and awaits its correlated reply or the
// per-call timeout.
func (c *Client) exchange(ctx context.Context, tr Transport, gen int, id uint64, method string, params any, ch chan reply) (uint64, json.RawMessage, error) {
	frame, err := encodeRequest(id, method, params)
	if err != nil {
		c.unregister(id)
		return id, nil, err
	}

	if c.cfg.Debug {
		c.log.Debug("issuing request",
			zap.String("method", method),
			zap.Uint64("correlation_id", id))
	}

	if err := tr.Send(frame); err != nil {
		c.unregister(id)
		c.connectionFailed(gen, err)
		return id, nil, err
	}

	timer := time.NewTimer(c.cfg.CallTimeout)
	defer timer.Stop()

	select {
	case rep := <-ch:
		if rep.err != nil {
			return id, nil, rep.err
		}
		c.noteResponse()
		if rep.resp.Error != nil {
			return id, nil, &ToolError{Code: rep.resp.Error.Code, Message: rep.resp.Error.Message}
		}
		return id, rep.resp.Result, nil

	case <-timer.C:
		c.unregister(id)
		c.noteTimeout(gen)
		return id, nil, ErrTimeout

	case <-ctx.Done():
		// The caller abandons the invocation; the service is allowed to
		// finish and the late response is dropped by the reader.
		c.unregister(id)
		return id, nil, ctx.Err()
	}
}

// unregister removes a pending entry after timeout or cancellation so a late
// response is dropped instead of delivered twice.
func (c *Client) unregister(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

// noteResponse resets the consecutive-timeout counter.
func (c *Client) noteResponse() {
	c.mu.Lock()
	c.consecTimeouts = 0
	c.mu.Unlock()
}

// noteTimeout counts a call timeout and degrades the connection once the
// threshold is crossed.
func (c *Client) noteTimeout(gen int) {
	c.mu.Lock()
	c.consecTimeouts++
	over := c.consecTimeouts >= c.cfg.DegradedThreshold
	c.mu.Unlock()

	if over {
		c.connectionFailed(gen, errors.New("consecutive call timeouts"))
	}
}

// ensureReady drives the state machine until the connection is Ready,
// Closed, or the caller's context expires. Only one goroutine performs a
// connection attempt at a time; the rest wait on it.
func (c *Client) ensureReady(ctx context.Context) error {
	for {
		c.mu.Lock()
		switch c.state {
		case types.StateClosed:
			c.mu.Unlock()
			return ErrClosed

		case types.StateReady:
			c.mu.Unlock()
			return nil

		case types.StateConnecting:
			done := c.attempt.done
			c.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-done:
			}

		default: // Disconnected, Degraded
			var delay time.Duration
			if c.state == types.StateDegraded {
				delay = c.cfg.RetryDelay
			}
			attempt := &connectAttempt{done: make(chan struct{})}
			c.attempt = attempt
			c.setStateLocked(types.StateConnecting)
			c.mu.Unlock()

			if delay > 0 {
				select {
				case <-ctx.Done():
					c.abandonAttempt(attempt)
					return ctx.Err()
				case <-time.After(delay):
				}
			}
			c.connect(attempt)
		}
	}
}

// abandonAttempt reverts an attempt whose connector gave up before spawning,
// releasing any waiters so one of them can take over.
func (c *Client) abandonAttempt(attempt *connectAttempt) {
	c.mu.Lock()
	if c.attempt == attempt && c.state == types.StateConnecting {
		c.setStateLocked(types.StateDegraded)
		c.attempt = nil
	}
	c.mu.Unlock()
	close(attempt.done)
}

// connect performs one spawn-and-handshake attempt and applies the outcome
// to the state machine.
func (c *Client) connect(attempt *connectAttempt) {
	metrics.ConnectAttempts.Inc()

	tr := c.newTransport(c.cfg, c.log)
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.StartupTimeout)
	defer cancel()

	err := tr.Start(ctx)
	if err == nil {
		err = c.handshake(ctx, tr)
	}

	c.mu.Lock()
	defer func() {
		c.mu.Unlock()
		close(attempt.done)
	}()
	c.attempt = nil

	if c.state == types.StateClosed {
		// Shut down while connecting; discard the fresh transport.
		tr.Close()
		return
	}

	if err != nil {
		tr.Close()
		attempt.err = err
		c.connectFailures++
		c.log.Debug("connection attempt failed",
			zap.Int("consecutive_failures", c.connectFailures),
			zap.Int("max_retries", c.cfg.MaxRetries),
			zap.Error(err))

		if c.connectFailures >= c.cfg.MaxRetries {
			c.failPendingLocked(ErrClosed)
			c.setStateLocked(types.StateClosed)
		} else {
			c.setStateLocked(types.StateDegraded)
		}
		return
	}

	c.gen++
	c.transport = tr
	c.connectFailures = 0
	c.consecTimeouts = 0
	c.setStateLocked(types.StateReady)
	go c.readLoop(tr, c.gen)
}

// handshake performs the initialize exchange on a fresh transport. The
// connection is not yet shared, so frames are read inline.
func (c *Client) handshake(ctx context.Context, tr Transport) error {
	id := c.nextID.Add(1)
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{"tools": map[string]any{}},
		"clientInfo":      clientInfo,
	}

	frame, err := encodeRequest(id, "initialize", params)
	if err != nil {
		return err
	}
	if err := tr.Send(frame); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return &TransportError{Op: "handshake", Err: ctx.Err()}
		case line, ok := <-tr.Frames():
			if !ok {
				return &TransportError{Op: "handshake", Err: errors.New("connection closed before greeting")}
			}
			resp, valid := decodeFrame(line)
			if !valid || resp.ID != id {
				continue
			}
			if resp.Error != nil {
				return &ToolError{Code: resp.Error.Code, Message: resp.Error.Message}
			}

			note, err := encodeNotification("notifications/initialized", nil)
			if err != nil {
				return err
			}
			return tr.Send(note)
		}
	}
}

// readLoop demultiplexes response frames to their waiting callers by
// correlation ID. It exits when the transport dies, marking the connection
// Degraded.
func (c *Client) readLoop(tr Transport, gen int) {
	for line := range tr.Frames() {
		resp, ok := decodeFrame(line)
		if !ok {
			if c.cfg.Debug {
				c.log.Debug("skipping non-protocol stdout line",
					zap.Int("bytes", len(line)))
			}
			continue
		}

		c.mu.Lock()
		ch, waiting := c.pending[resp.ID]
		if waiting {
			delete(c.pending, resp.ID)
		}
		c.mu.Unlock()

		if waiting {
			ch <- reply{resp: resp}
		} else if c.cfg.Debug {
			c.log.Debug("dropping uncorrelated response",
				zap.Uint64("correlation_id", resp.ID))
		}
	}

	c.connectionFailed(gen, errors.New("data service connection lost"))
}

// connectionFailed handles a fatal transport error on the identified
// connection generation: pending requests fail, the transport is released,
// and a reconnect is scheduled after the retry delay.
func (c *Client) connectionFailed(gen int, cause error) {
	c.mu.Lock()
	if gen != c.gen || c.state != types.StateReady {
		// A stale connection or a transition already in progress.
		c.mu.Unlock()
		return
	}

	tr := c.transport
	c.transport = nil
	c.failPendingLocked(&TransportError{Op: "request", Err: cause})
	c.setStateLocked(types.StateDegraded)
	c.mu.Unlock()

	if tr != nil {
		tr.Close()
	}

	// Automatic reconnect; concurrent requests that observed the failure
	// wait on this attempt rather than spawning their own.
	go func() {
		_ = c.ensureReady(context.Background())
	}()
}

// failPendingLocked delivers a terminal error to every in-flight request.
// Caller holds c.mu.
func (c *Client) failPendingLocked(err error) {
	for id, ch := range c.pending {
		delete(c.pending, id)
		ch <- reply{err: err}
	}
}

// setStateLocked records a state transition. Caller holds c.mu.
func (c *Client) setStateLocked(next types.ConnectionState) {
	if c.state == next {
		return
	}
	c.log.Debug("connection state transition",
		zap.Stringer("from", c.state),
		zap.Stringer("to", next))
	c.state = next
}

// Close releases the subprocess and fails all pending and future requests.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == types.StateClosed {
		c.mu.Unlock()
		return nil
	}
	tr := c.transport
	c.transport = nil
	c.failPendingLocked(ErrClosed)
	c.setStateLocked(types.StateClosed)
	c.mu.Unlock()

	if tr != nil {
		return tr.Close()
	}
	return nil
}

// Reset returns a Closed client to Disconnected with a fresh retry budget.
// The next request reconnects from scratch.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != types.StateClosed {
		return
	}
	c.connectFailures = 0
	c.consecTimeouts = 0
	c.setStateLocked(types.StateDisconnected)
}
