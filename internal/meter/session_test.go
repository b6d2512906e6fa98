package meter

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// fakeMeter is an httptest-backed LS120 whose responses can be switched
// between healthy and failing.
type fakeMeter struct {
	srv *httptest.Server

	mu      sync.Mutex
	failing bool
}

func newFakeMeter(t *testing.T) *fakeMeter {
	t.Helper()
	m := &fakeMeter{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		failing := m.failing
		m.mu.Unlock()
		if failing {
			http.Error(w, "device error", http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/d":
			w.Write([]byte(`{"model":"LS120","mac":"AA:BB:CC:DD:EE:FF"}`))
		case "/e":
			w.Write([]byte(`[{"pwr":-500,"net":120.5,"p1":10,"p2":5,"n1":0,"n2":0}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *fakeMeter) host() string { return strings.TrimPrefix(m.srv.URL, "http://") }

func (m *fakeMeter) setFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

func testSession(t *testing.T, cfg Config) (*Session, *EventBus) {
	t.Helper()
	events := NewEventBus(testLogger())
	s := NewSession(cfg, "youless/"+cfg.Name, events, testLogger())
	s.pollTimeout = 2 * time.Second
	t.Cleanup(s.Stop)
	return s, events
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStartThenStopLeavesCleanState(t *testing.T) {
	m := newFakeMeter(t)
	s, _ := testSession(t, Config{Name: "main", Host: m.host(), Interval: 60})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.Stop()

	st := s.Status()
	if st.State != StateNotRunning {
		t.Errorf("state = %q, want %q", st.State, StateNotRunning)
	}
	if st.ErrorCount != 0 {
		t.Errorf("error count = %d, want 0", st.ErrorCount)
	}
}

func TestStartIsIdempotent(t *testing.T) {
	m := newFakeMeter(t)
	s, _ := testSession(t, Config{Name: "main", Host: m.host(), Interval: 60})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	first := s.stop
	s.mu.Unlock()
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	second := s.stop
	s.mu.Unlock()
	if second != first {
		t.Error("second start must not reschedule")
	}
}

func TestStartInvalidConfig(t *testing.T) {
	s, _ := testSession(t, Config{Name: "main"}) // no host

	if err := s.Start(); err == nil {
		t.Fatal("expected configuration error")
	}
	if s.isRunning() {
		t.Error("session must not run with invalid configuration")
	}
	if st := s.Status(); st.State != StateMissingConfiguration {
		t.Errorf("state = %q, want %q", st.State, StateMissingConfiguration)
	}
}

func TestPollEmitsTelemetry(t *testing.T) {
	m := newFakeMeter(t)
	s, events := testSession(t, Config{Name: "main", Host: m.host(), Interval: 60})

	var mu sync.Mutex
	var msgs []TelemetryMessage
	events.On(EventTelemetry, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		msgs = append(msgs, e.Data.(TelemetryMessage))
	})

	s.PollOnce()

	mu.Lock()
	defer mu.Unlock()
	if len(msgs) != 1 {
		t.Fatalf("got %d telemetry events, want 1", len(msgs))
	}
	msg := msgs[0]
	if msg.Topic != "youless/main" {
		t.Errorf("topic = %q, want default topic", msg.Topic)
	}
	rec := msg.Record
	if rec.Power != -500 || rec.PowerAbsolute != 500 || !rec.IsGenerating {
		t.Errorf("record = %+v", rec)
	}
	if rec.Delivered == nil || rec.Delivered.Total != 15 {
		t.Errorf("delivered = %+v", rec.Delivered)
	}
	if s.LastRecord() == nil {
		t.Error("last record not retained")
	}
}

func TestCustomTopic(t *testing.T) {
	m := newFakeMeter(t)
	s, events := testSession(t, Config{Name: "main", Host: m.host(), Topic: "home/energy"})

	var gotTopic string
	var mu sync.Mutex
	events.On(EventTelemetry, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		gotTopic = e.Data.(TelemetryMessage).Topic
	})

	s.PollOnce()

	mu.Lock()
	defer mu.Unlock()
	if gotTopic != "home/energy" {
		t.Errorf("topic = %q, want custom topic", gotTopic)
	}
}

func TestErrorCeilingForcesStop(t *testing.T) {
	m := newFakeMeter(t)
	m.setFailing(true)
	s, _ := testSession(t, Config{Name: "main", Host: m.host(), Interval: 60})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	// The immediate cycle fails once; drive the remaining failures directly.
	waitFor(t, "first failure", func() bool { return s.Status().ErrorCount >= 1 })
	for i := 0; i < MaxErrors-1; i++ {
		s.PollOnce()
	}

	st := s.Status()
	if st.State != StateStoppedAfterErrors {
		t.Fatalf("state = %q, want %q", st.State, StateStoppedAfterErrors)
	}
	if st.ErrorCount != MaxErrors {
		t.Errorf("error count = %d, want %d", st.ErrorCount, MaxErrors)
	}
	if s.isRunning() {
		t.Error("session must be stopped after reaching the error ceiling")
	}

	// An explicit restart clears the terminal state.
	m.setFailing(false)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "recovery", func() bool {
		st := s.Status()
		return st.State == StatePolling && st.ErrorCount == 0
	})
}

func TestSuccessResetsErrorCount(t *testing.T) {
	m := newFakeMeter(t)
	m.setFailing(true)
	s, _ := testSession(t, Config{Name: "main", Host: m.host()})

	for i := 0; i < 3; i++ {
		s.PollOnce()
	}
	if st := s.Status(); st.ErrorCount != 3 {
		t.Fatalf("error count = %d, want 3", st.ErrorCount)
	}

	m.setFailing(false)
	s.PollOnce()
	if st := s.Status(); st.ErrorCount != 0 {
		t.Errorf("error count = %d, want 0 after success", st.ErrorCount)
	}
}

func TestErrorStatusText(t *testing.T) {
	m := newFakeMeter(t)
	m.setFailing(true)
	s, _ := testSession(t, Config{Name: "main", Host: m.host(), Interval: 60})

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first failure", func() bool { return s.Status().ErrorCount >= 1 })
	s.PollOnce()
	s.PollOnce()

	st := s.Status()
	if st.State != StateError {
		t.Fatalf("state = %q, want %q", st.State, StateError)
	}
	if st.Text != "error (3/10)" {
		t.Errorf("text = %q, want %q", st.Text, "error (3/10)")
	}
}

func TestControlDispatch(t *testing.T) {
	m := newFakeMeter(t)
	s, events := testSession(t, Config{Name: "main", Host: m.host(), Interval: 60})

	var mu sync.Mutex
	polls := 0
	events.On(EventTelemetry, func(Event) {
		mu.Lock()
		polls++
		mu.Unlock()
	})

	if err := s.Control("start"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "initial cycle", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return polls == 1
	})

	if err := s.Control("stop"); err != nil {
		t.Fatal(err)
	}
	if s.isRunning() {
		t.Fatal("stop command did not stop the session")
	}

	// Any other command is a one-shot poll that leaves the schedule alone.
	if err := s.Control("anything"); err != nil {
		t.Fatal(err)
	}
	mu.Lock()
	got := polls
	mu.Unlock()
	if got != 2 {
		t.Errorf("got %d polls, want 2", got)
	}
	if s.isRunning() {
		t.Error("poll-once must not start the schedule")
	}
}

func TestPollOnceInvalidConfigIsNoop(t *testing.T) {
	s, events := testSession(t, Config{Name: "main"}) // no host

	fired := false
	events.OnAll(func(Event) { fired = true })
	s.PollOnce()
	if fired {
		t.Error("poll with invalid configuration must be a no-op")
	}
}

func TestModelDetectionFallsBackToConfigured(t *testing.T) {
	// LS110-only device whose /d endpoint is broken.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			w.Write([]byte(`{"cnt":"1234,56","pwr":250,"lvl":80}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	s, events := testSession(t, Config{Name: "old", Host: host, Model: "LS110"})

	var rec *TelemetryMessage
	var mu sync.Mutex
	events.On(EventTelemetry, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		msg := e.Data.(TelemetryMessage)
		rec = &msg
	})

	s.PollOnce()

	mu.Lock()
	defer mu.Unlock()
	if rec == nil {
		t.Fatal("no telemetry emitted")
	}
	if rec.Record.Model != "LS110" || rec.Record.Counter == nil {
		t.Errorf("record = %+v", rec.Record)
	}
}

func TestAmbiguousModelTriesLS120First(t *testing.T) {
	// Device without model info that serves both shapes; LS120 must win.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			w.Write([]byte(`{"cnt":"1,0","pwr":10}`))
		case "/e":
			w.Write([]byte(`[{"pwr":10,"net":5}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	s, events := testSession(t, Config{Name: "auto", Host: host, Model: ModelAuto})

	var model string
	var mu sync.Mutex
	events.On(EventTelemetry, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		model = e.Data.(TelemetryMessage).Record.Model
	})

	s.PollOnce()

	mu.Lock()
	defer mu.Unlock()
	if model != "LS120" {
		t.Errorf("model = %q, want LS120", model)
	}
}

func TestRoundingApplied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/e":
			w.Write([]byte(`[{"pwr":123.456,"net":9185.4125}]`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	places := 1
	s, events := testSession(t, Config{Name: "r", Host: host, Model: "LS120", DecimalPlaces: &places})

	var got *TelemetryMessage
	var mu sync.Mutex
	events.On(EventTelemetry, func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		msg := e.Data.(TelemetryMessage)
		got = &msg
	})

	s.PollOnce()

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("no telemetry emitted")
	}
	if got.Record.Power != 123.5 {
		t.Errorf("power = %v, want 123.5", got.Record.Power)
	}
	if *got.Record.Net != 9185.4 {
		t.Errorf("net = %v, want 9185.4", *got.Record.Net)
	}
}
