package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pdiddy/research-assistant/pkg/types"
)

// --- fake data service ---

// sentRequest is one decoded frame written by the client.
type sentRequest struct {
	ID     uint64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// fakeService is an in-memory Transport scripted to behave like the data
// service: it answers the handshake and routes tools/call to onCall.
type fakeService struct {
	mu       sync.Mutex
	frames   chan []byte
	sent     []sentRequest
	closed   bool
	startErr error

	// onCall handles a tools/call request. A nil handler echoes success;
	// a handler that does not push a frame simulates a hung tool.
	onCall func(svc *fakeService, id uint64, params json.RawMessage)
}

func newFakeService() *fakeService {
	return &fakeService{frames: make(chan []byte, 64)}
}

func (f *fakeService) Start(ctx context.Context) error { return f.startErr }

func (f *fakeService) Frames() <-chan []byte { return f.frames }

func (f *fakeService) Send(frame []byte) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return &TransportError{Op: "write", Err: errors.New("broken pipe")}
	}
	var req sentRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		f.mu.Unlock()
		return err
	}
	f.sent = append(f.sent, req)
	onCall := f.onCall
	f.mu.Unlock()

	if req.ID == 0 {
		return nil // notification
	}

	switch req.Method {
	case "initialize":
		f.respond(req.ID, json.RawMessage(`{"capabilities":{}}`), nil)
	case "tools/list":
		f.respond(req.ID, json.RawMessage(`{"tools":[{"name":"search_papers"},{"name":"search_authors"}]}`), nil)
	case "tools/call":
		if onCall != nil {
			onCall(f, req.ID, req.Params)
		} else {
			f.respond(req.ID, json.RawMessage(`{"ok":true}`), nil)
		}
	}
	return nil
}

// respond pushes one response frame unless the service has been killed.
func (f *fakeService) respond(id uint64, result json.RawMessage, rpcErr *rpcError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	frame, _ := json.Marshal(rpcResponse{JSONRPC: "2.0", ID: id, Result: result, Error: rpcErr})
	f.frames <- frame
}

// pushRaw injects an arbitrary stdout line (e.g. server log noise).
func (f *fakeService) pushRaw(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.frames <- []byte(line)
	}
}

// kill simulates abrupt process death: the stdout stream ends.
func (f *fakeService) kill() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.frames)
	}
}

func (f *fakeService) Close() error {
	f.kill()
	return nil
}

func (f *fakeService) sentCalls() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var calls []sentRequest
	for _, req := range f.sent {
		if req.Method == "tools/call" {
			calls = append(calls, req)
		}
	}
	return calls
}

// fakeFleet hands out a fresh fakeService per connection attempt.
type fakeFleet struct {
	mu       sync.Mutex
	services []*fakeService
	spawns   atomic.Int32
	build    func(n int) *fakeService
}

func newFleet(build func(n int) *fakeService) *fakeFleet {
	if build == nil {
		build = func(int) *fakeService { return newFakeService() }
	}
	return &fakeFleet{build: build}
}

func (fl *fakeFleet) factory(types.ProtocolConfig, *zap.Logger) Transport {
	n := int(fl.spawns.Add(1))
	svc := fl.build(n)
	fl.mu.Lock()
	fl.services = append(fl.services, svc)
	fl.mu.Unlock()
	return svc
}

func (fl *fakeFleet) latest() *fakeService {
	fl.mu.Lock()
	defer fl.mu.Unlock()
	return fl.services[len(fl.services)-1]
}

func testConfig() types.ProtocolConfig {
	return types.ProtocolConfig{
		Command:           []string{"unused"},
		StartupTimeout:    time.Second,
		CallTimeout:       100 * time.Millisecond,
		DegradedThreshold: 3,
		MaxRetries:        3,
		RetryDelay:        5 * time.Millisecond,
	}
}

func newTestClient(t *testing.T, cfg types.ProtocolConfig, fl *fakeFleet) *Client {
	t.Helper()
	c := NewClient(cfg, WithTransportFactory(fl.factory))
	t.Cleanup(func() { c.Close() })
	return c
}

// waitForState polls until the client reaches the wanted state.
func waitForState(t *testing.T, c *Client, want types.ConnectionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state = %v, want %v", c.State(), want)
}

// --- tests ---

func TestCallSuccess(t *testing.T) {
	fl := newFleet(nil)
	c := newTestClient(t, testConfig(), fl)

	result := c.Call(context.Background(), "search_papers", map[string]any{"query": "transformers"})
	if result.Status != types.StatusOK {
		t.Fatalf("status = %v (%s), want ok", result.Status, result.ErrorDetail)
	}
	if result.CorrelationID == 0 {
		t.Error("correlation ID not assigned")
	}
	if c.State() != types.StateReady {
		t.Errorf("state = %v, want ready", c.State())
	}

	// Handshake preceded the call on the wire.
	svc := fl.latest()
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if len(svc.sent) < 3 {
		t.Fatalf("sent %d frames, want initialize, initialized, tools/call", len(svc.sent))
	}
	if svc.sent[0].Method != "initialize" {
		t.Errorf("first frame = %s, want initialize", svc.sent[0].Method)
	}
}

func TestConcurrentCallsCorrelatedOutOfOrder(t *testing.T) {
	const n = 3

	var pending sync.Map
	var received atomic.Int32
	release := make(chan struct{})

	fl := newFleet(func(int) *fakeService {
		svc := newFakeService()
		svc.onCall = func(f *fakeService, id uint64, params json.RawMessage) {
			var p struct {
				Arguments map[string]any `json:"arguments"`
			}
			json.Unmarshal(params, &p)
			pending.Store(id, p.Arguments["tag"])
			if received.Add(1) == n {
				close(release)
			}
			go func() {
				<-release
				// Respond in descending-ID order: later requests
				// complete first.
				var ids []uint64
				pending.Range(func(k, _ any) bool {
					ids = append(ids, k.(uint64))
					return true
				})
				sort.Slice(ids, func(i, j int) bool { return ids[i] > ids[j] })
				for _, rid := range ids {
					tag, _ := pending.Load(rid)
					f.respond(rid, json.RawMessage(fmt.Sprintf(`{"tag":%q}`, tag)), nil)
				}
			}()
		}
		return svc
	})

	cfg := testConfig()
	cfg.CallTimeout = 2 * time.Second
	c := newTestClient(t, cfg, fl)

	var wg sync.WaitGroup
	results := make([]types.ToolResult, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Call(context.Background(), "search_papers", map[string]any{
				"tag": fmt.Sprintf("call-%d", i),
			})
		}(i)
	}
	wg.Wait()

	for i, r := range results {
		if r.Status != types.StatusOK {
			t.Fatalf("call %d: status = %v (%s)", i, r.Status, r.ErrorDetail)
		}
		var payload struct {
			Tag string `json:"tag"`
		}
		if err := json.Unmarshal(r.Payload, &payload); err != nil {
			t.Fatalf("call %d: bad payload: %v", i, err)
		}
		if want := fmt.Sprintf("call-%d", i); payload.Tag != want {
			t.Errorf("call %d received payload %q, want %q", i, payload.Tag, want)
		}
	}
}

func TestUniqueCorrelationIDs(t *testing.T) {
	fl := newFleet(nil)
	c := newTestClient(t, testConfig(), fl)

	seen := make(map[uint64]bool)
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r := c.Call(context.Background(), "search_papers", nil)
			mu.Lock()
			defer mu.Unlock()
			if seen[r.CorrelationID] {
				t.Errorf("correlation ID %d assigned twice", r.CorrelationID)
			}
			seen[r.CorrelationID] = true
		}()
	}
	wg.Wait()
}

func TestCallTimeoutKeepsConnection(t *testing.T) {
	hang := atomic.Bool{}
	hang.Store(true)
	fl := newFleet(func(int) *fakeService {
		svc := newFakeService()
		svc.onCall = func(f *fakeService, id uint64, params json.RawMessage) {
			if hang.Load() {
				return // never respond
			}
			f.respond(id, json.RawMessage(`{"ok":true}`), nil)
		}
		return svc
	})

	c := newTestClient(t, testConfig(), fl)

	result := c.Call(context.Background(), "search_papers", nil)
	if result.Status != types.StatusTimeout {
		t.Fatalf("status = %v, want timeout", result.Status)
	}
	if c.State() != types.StateReady {
		t.Errorf("state after one timeout = %v, want ready", c.State())
	}

	hang.Store(false)
	result = c.Call(context.Background(), "search_papers", nil)
	if result.Status != types.StatusOK {
		t.Fatalf("status after recovery = %v (%s), want ok", result.Status, result.ErrorDetail)
	}
	if got := fl.spawns.Load(); got != 1 {
		t.Errorf("spawned %d transports, want 1 (timeout must not reconnect)", got)
	}
}

func TestConsecutiveTimeoutsDegradeThenReconnect(t *testing.T) {
	fl := newFleet(func(n int) *fakeService {
		svc := newFakeService()
		if n == 1 {
			svc.onCall = func(*fakeService, uint64, json.RawMessage) {} // hung tool
		}
		return svc
	})

	cfg := testConfig()
	cfg.CallTimeout = 30 * time.Millisecond
	cfg.DegradedThreshold = 2
	c := newTestClient(t, cfg, fl)

	for i := 0; i < 2; i++ {
		if r := c.Call(context.Background(), "search_papers", nil); r.Status != types.StatusTimeout {
			t.Fatalf("call %d: status = %v, want timeout", i, r.Status)
		}
	}

	// Crossing the threshold degrades the connection and schedules an
	// automatic reconnect; the replacement service answers normally.
	waitForState(t, c, types.StateReady)
	if got := fl.spawns.Load(); got != 2 {
		t.Fatalf("spawned %d transports, want 2", got)
	}
	if r := c.Call(context.Background(), "search_papers", nil); r.Status != types.StatusOK {
		t.Fatalf("status after reconnect = %v (%s), want ok", r.Status, r.ErrorDetail)
	}
}

func TestTransportDeathFailsPendingAndReconnects(t *testing.T) {
	fl := newFleet(func(n int) *fakeService {
		svc := newFakeService()
		if n == 1 {
			svc.onCall = func(f *fakeService, id uint64, params json.RawMessage) {
				go f.kill()
			}
		}
		return svc
	})

	cfg := testConfig()
	cfg.CallTimeout = time.Second
	c := newTestClient(t, cfg, fl)

	result := c.Call(context.Background(), "search_papers", nil)
	if result.Status != types.StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}

	waitForState(t, c, types.StateReady)
	if r := c.Call(context.Background(), "search_papers", nil); r.Status != types.StatusOK {
		t.Fatalf("status after reconnect = %v (%s), want ok", r.Status, r.ErrorDetail)
	}
}

func TestReconnectBoundedThenClosed(t *testing.T) {
	fl := newFleet(func(int) *fakeService {
		svc := newFakeService()
		svc.startErr = &TransportError{Op: "spawn", Err: errors.New("no such file")}
		return svc
	})

	cfg := testConfig()
	cfg.MaxRetries = 3
	c := newTestClient(t, cfg, fl)

	result := c.Call(context.Background(), "search_papers", nil)
	if result.Status != types.StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
	if c.State() != types.StateClosed {
		t.Fatalf("state = %v, want closed", c.State())
	}
	if got := fl.spawns.Load(); got != 3 {
		t.Fatalf("spawned %d transports, want exactly max_retries (3)", got)
	}

	// Closed fails fast: no further spawn attempts.
	result = c.Call(context.Background(), "search_papers", nil)
	if result.Status != types.StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
	if got := fl.spawns.Load(); got != 3 {
		t.Errorf("spawned %d transports after close, want 3", got)
	}
}

func TestResetReopensClosedClient(t *testing.T) {
	failing := atomic.Bool{}
	failing.Store(true)
	fl := newFleet(func(int) *fakeService {
		svc := newFakeService()
		if failing.Load() {
			svc.startErr = &TransportError{Op: "spawn", Err: errors.New("boom")}
		}
		return svc
	})

	c := newTestClient(t, testConfig(), fl)

	c.Call(context.Background(), "search_papers", nil)
	if c.State() != types.StateClosed {
		t.Fatalf("state = %v, want closed", c.State())
	}

	failing.Store(false)
	c.Reset()
	if c.State() != types.StateDisconnected {
		t.Fatalf("state after reset = %v, want disconnected", c.State())
	}

	if r := c.Call(context.Background(), "search_papers", nil); r.Status != types.StatusOK {
		t.Fatalf("status after reset = %v (%s), want ok", r.Status, r.ErrorDetail)
	}
}

func TestToolErrorIsTerminalNotRetried(t *testing.T) {
	fl := newFleet(func(int) *fakeService {
		svc := newFakeService()
		svc.onCall = func(f *fakeService, id uint64, params json.RawMessage) {
			f.respond(id, nil, &rpcError{Code: -32000, Message: "paper not found"})
		}
		return svc
	})

	c := newTestClient(t, testConfig(), fl)

	result := c.Call(context.Background(), "get_paper_details", map[string]any{"title": "nope"})
	if result.Status != types.StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}
	if c.State() != types.StateReady {
		t.Errorf("state = %v, want ready (tool errors keep the connection)", c.State())
	}

	svc := fl.latest()
	if calls := svc.sentCalls(); len(calls) != 1 {
		t.Errorf("issued %d tool calls, want 1 (no automatic retry)", len(calls))
	}
}

func TestNonProtocolStdoutLinesSkipped(t *testing.T) {
	fl := newFleet(func(int) *fakeService {
		svc := newFakeService()
		svc.onCall = func(f *fakeService, id uint64, params json.RawMessage) {
			f.pushRaw("INFO loading citation index")
			f.pushRaw("{malformed json")
			f.respond(id, json.RawMessage(`{"ok":true}`), nil)
		}
		return svc
	})

	c := newTestClient(t, testConfig(), fl)

	if r := c.Call(context.Background(), "search_papers", nil); r.Status != types.StatusOK {
		t.Fatalf("status = %v (%s), want ok", r.Status, r.ErrorDetail)
	}
}

func TestCancelledCallerAbandonsInvocation(t *testing.T) {
	block := make(chan struct{})
	fl := newFleet(func(int) *fakeService {
		svc := newFakeService()
		svc.onCall = func(f *fakeService, id uint64, params json.RawMessage) {
			go func() {
				<-block
				f.respond(id, json.RawMessage(`{"ok":true}`), nil)
			}()
		}
		return svc
	})

	cfg := testConfig()
	cfg.CallTimeout = time.Second
	c := newTestClient(t, cfg, fl)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan types.ToolResult, 1)
	go func() { done <- c.Call(ctx, "search_papers", nil) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	result := <-done
	if result.Status != types.StatusError {
		t.Fatalf("status = %v, want error", result.Status)
	}

	// The late response must not disturb the connection.
	close(block)
	time.Sleep(20 * time.Millisecond)
	if c.State() != types.StateReady {
		t.Errorf("state = %v, want ready", c.State())
	}
}

func TestListTools(t *testing.T) {
	fl := newFleet(nil)
	c := newTestClient(t, testConfig(), fl)

	tools, err := c.ListTools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(tools) != 2 || tools[0] != "search_papers" {
		t.Errorf("tools = %v, want [search_papers search_authors]", tools)
	}
}
