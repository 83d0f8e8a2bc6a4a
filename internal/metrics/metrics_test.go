package metrics

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollector_Connections(t *testing.T) {
	c := New()

	c.ConnectionOpened()
	c.ConnectionOpened()
	if c.ActiveConnections() != 2 {
		t.Errorf("active = %d, want 2", c.ActiveConnections())
	}
	if c.TotalConnections() != 2 {
		t.Errorf("total = %d, want 2", c.TotalConnections())
	}

	c.ConnectionClosed()
	if c.ActiveConnections() != 1 {
		t.Errorf("active = %d, want 1", c.ActiveConnections())
	}
	if c.TotalConnections() != 2 {
		t.Errorf("total should remain 2, got %d", c.TotalConnections())
	}
}

func TestCollector_DataPath(t *testing.T) {
	c := New()

	c.Pushed(18)
	c.Pushed(2)
	c.Popped(15)
	c.Popped(0)

	if c.BytesPushed() != 20 {
		t.Errorf("bytes pushed = %d, want 20", c.BytesPushed())
	}
	if c.BytesPopped() != 15 {
		t.Errorf("bytes popped = %d, want 15", c.BytesPopped())
	}

	snap := c.Snapshot()
	if snap.Writes != 2 || snap.Reads != 2 || snap.EmptyReads != 1 {
		t.Errorf("writes=%d reads=%d empty=%d", snap.Writes, snap.Reads, snap.EmptyReads)
	}
}

func TestCollector_Rejections(t *testing.T) {
	c := New()
	c.NoSpace()
	c.NoSpace()
	c.OutOfMemory()
	c.Interrupted()
	c.RateLimited()
	c.ConnectionRefused()

	snap := c.Snapshot()
	if snap.NoSpace != 2 || snap.OutOfMemory != 1 || snap.Interrupted != 1 ||
		snap.RateLimited != 1 || snap.ConnectionsRefused != 1 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestCollector_Errors(t *testing.T) {
	c := New()

	c.RecordError("first error")
	c.RecordError("second error")

	if c.ErrorCount() != 2 {
		t.Errorf("errors = %d, want 2", c.ErrorCount())
	}
	if msg := c.Snapshot().LastErrorMessage; msg != "second error" {
		t.Errorf("last error = %q", msg)
	}
}

func TestCollector_JSON(t *testing.T) {
	c := New()
	c.ConnectionOpened()
	c.Pushed(42)

	raw := c.JSON()
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		t.Fatalf("JSON parse error: %v", err)
	}
	if snap.ConnectionsActive != 1 {
		t.Errorf("JSON active = %d", snap.ConnectionsActive)
	}
	if snap.BytesPushed != 42 {
		t.Errorf("JSON bytes pushed = %d", snap.BytesPushed)
	}
}

func TestNilCollector_NoOps(t *testing.T) {
	var c *Collector

	// None of these should panic.
	c.ConnectionOpened()
	c.ConnectionClosed()
	c.ConnectionRefused()
	c.Pushed(100)
	c.Popped(100)
	c.NoSpace()
	c.OutOfMemory()
	c.Interrupted()
	c.RateLimited()
	c.RecordError("test")

	if c.ActiveConnections() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.BytesPushed() != 0 {
		t.Error("nil collector should return 0")
	}
	if c.ErrorCount() != 0 {
		t.Error("nil collector should return 0")
	}

	if c.Snapshot().ConnectionsActive != 0 {
		t.Error("nil snapshot should be zero")
	}
	if c.JSON() == "" {
		t.Error("nil JSON should return valid JSON")
	}
}

type fakeStack struct{ n, cap, waiting int }

func (f fakeStack) Len() int     { return f.n }
func (f fakeStack) Cap() int     { return f.cap }
func (f fakeStack) Waiting() int { return f.waiting }

func TestCollector_Register(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	if err := c.Register(reg, fakeStack{n: 7, cap: 64, waiting: 2}); err != nil {
		t.Fatal(err)
	}

	c.Pushed(7)
	c.NoSpace()

	const want = `
# HELP lifod_bytes_pushed_total Bytes committed to the stack.
# TYPE lifod_bytes_pushed_total counter
lifod_bytes_pushed_total 7
# HELP lifod_no_space_total Writes rejected at capacity.
# TYPE lifod_no_space_total counter
lifod_no_space_total 1
# HELP lifod_stack_bytes Bytes currently held.
# TYPE lifod_stack_bytes gauge
lifod_stack_bytes 7
# HELP lifod_stack_waiting_readers Readers blocked on an empty stack.
# TYPE lifod_stack_waiting_readers gauge
lifod_stack_waiting_readers 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(want),
		"lifod_bytes_pushed_total", "lifod_no_space_total",
		"lifod_stack_bytes", "lifod_stack_waiting_readers")
	if err != nil {
		t.Error(err)
	}

	// A second registration on the same registry collides.
	if err := c.Register(reg, nil); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestCollector_Handler(t *testing.T) {
	c := New()
	reg := prometheus.NewRegistry()
	if err := c.Register(reg, nil); err != nil {
		t.Fatal(err)
	}
	c.Popped(3)

	srv := httptest.NewServer(c.Handler(reg))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/stats")
	if err != nil {
		t.Fatal(err)
	}
	var snap Snapshot
	err = json.NewDecoder(resp.Body).Decode(&snap)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if snap.BytesPopped != 3 {
		t.Errorf("/stats bytes popped = %d", snap.BytesPopped)
	}

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "lifod_bytes_popped_total 3") {
		t.Errorf("/metrics missing counter:\n%s", body)
	}
}
