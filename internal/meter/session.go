package meter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/limwakra/youless-bridge/internal/metrics"
	"github.com/limwakra/youless-bridge/internal/telemetry"
	"github.com/limwakra/youless-bridge/internal/youless"
)

// MaxErrors is the consecutive-failure ceiling. Reaching it forces the
// session to stop until an explicit start or restart.
const MaxErrors = 10

// Session states as surfaced to operators.
const (
	StateNotRunning           = "not-running"
	StatePolling              = "polling"
	StateError                = "error"
	StateStoppedAfterErrors   = "stopped-after-errors"
	StateMissingConfiguration = "missing-configuration"
)

// Status is the operator-facing projection of a session's state.
type Status struct {
	State      string `json:"state"`
	ErrorCount int    `json:"error_count"`
	MaxErrors  int    `json:"max_errors"`
	Text       string `json:"text"`
}

// Session owns periodic polling for one configured meter. Its configuration
// is fixed at creation; redeploying a meter replaces the whole session.
type Session struct {
	cfg          Config
	defaultTopic string
	events       *EventBus
	logger       *slog.Logger
	pollTimeout  time.Duration

	mu         sync.Mutex
	running    bool
	terminal   bool // stopped by the error ceiling, not by an operator
	errorCount int
	stop       chan struct{}
	done       chan struct{}
	lastRecord *telemetry.Record

	// cycleMu makes fetch cycles single-flight per session.
	cycleMu sync.Mutex
}

// NewSession creates a session for cfg. defaultTopic is used when the
// configuration carries no custom topic.
func NewSession(cfg Config, defaultTopic string, events *EventBus, logger *slog.Logger) *Session {
	return &Session{
		cfg:          cfg,
		defaultTopic: defaultTopic,
		events:       events,
		logger:       logger.With("component", "session", "meter", cfg.Name),
		pollTimeout:  youless.PollTimeout,
	}
}

// Config returns the session's configuration.
func (s *Session) Config() Config { return s.cfg }

// Start validates the configuration, resets the error count, performs an
// immediate fetch cycle and schedules recurring cycles. Starting a running
// session is a no-op.
func (s *Session) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	if err := s.cfg.Validate(); err != nil {
		s.mu.Unlock()
		s.emitStatus()
		return err
	}
	s.errorCount = 0
	s.terminal = false
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stop, s.done
	s.mu.Unlock()

	interval := time.Duration(s.cfg.EffectiveInterval()) * time.Second
	metrics.ConsecutiveErrors.WithLabelValues(s.cfg.Name).Set(0)
	s.logger.Info("polling started", "host", s.cfg.Host, "interval", interval)
	go s.run(stop, done, interval)
	return nil
}

// Stop cancels the recurring schedule. Idempotent. After Stop returns no
// further scheduled cycle starts; an in-flight cycle finishes naturally.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()
	s.logger.Info("polling stopped")
	s.emitStatus()
}

// Restart is stop followed by start.
func (s *Session) Restart() error {
	s.Stop()
	return s.Start()
}

// PollOnce performs exactly one fetch cycle without touching the schedule.
// It is a no-op when the configuration is invalid.
func (s *Session) PollOnce() {
	if err := s.cfg.Validate(); err != nil {
		s.logger.Warn("poll request ignored", "err", err)
		return
	}
	s.pollCycle(false)
}

// Control dispatches an operator command. Anything other than start, stop
// or restart means "fetch once now".
func (s *Session) Control(command string) error {
	switch command {
	case "start":
		return s.Start()
	case "stop":
		s.Stop()
		return nil
	case "restart":
		return s.Restart()
	default:
		s.PollOnce()
		return nil
	}
}

// Status derives the operator-facing state projection.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{ErrorCount: s.errorCount, MaxErrors: MaxErrors}
	switch {
	case s.cfg.Validate() != nil:
		st.State = StateMissingConfiguration
		st.Text = "missing configuration"
	case s.terminal:
		st.State = StateStoppedAfterErrors
		st.Text = fmt.Sprintf("stopped after %d errors", MaxErrors)
	case !s.running:
		st.State = StateNotRunning
		st.Text = "not running"
	case s.errorCount > 0:
		st.State = StateError
		st.Text = fmt.Sprintf("error (%d/%d)", s.errorCount, MaxErrors)
	default:
		st.State = StatePolling
		st.Text = "polling"
	}
	return st
}

// LastRecord returns the record of the most recent successful cycle, or nil.
func (s *Session) LastRecord() *telemetry.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRecord
}

func (s *Session) run(stop, done chan struct{}, interval time.Duration) {
	defer close(done)

	select {
	case <-stop:
		return
	default:
	}
	s.pollCycle(true)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.pollCycle(true)
		}
	}
}

func (s *Session) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// pollCycle runs one complete fetch cycle. scheduled cycles are skipped
// once the session has been stopped; explicit poll-once requests are not.
func (s *Session) pollCycle(scheduled bool) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	if scheduled && !s.isRunning() {
		return
	}

	// An invalid configuration ends the session without consuming the
	// error budget.
	if err := s.cfg.Validate(); err != nil {
		s.logger.Error("configuration invalid, stopping", "err", err)
		s.Stop()
		s.emitStatus()
		return
	}

	name := s.cfg.Name
	rec, err := s.fetch()
	if err != nil {
		s.mu.Lock()
		s.errorCount++
		count := s.errorCount
		s.mu.Unlock()

		metrics.PollFailure.WithLabelValues(name).Inc()
		metrics.ConsecutiveErrors.WithLabelValues(name).Set(float64(count))
		s.logger.Warn("fetch cycle failed", "err", err, "errors", count, "max", MaxErrors)

		if count >= MaxErrors {
			s.mu.Lock()
			s.terminal = true
			s.mu.Unlock()
			s.Stop()
			s.logger.Error("too many consecutive errors, polling halted", "errors", count)
		}
		s.emitStatus()
		return
	}

	telemetry.Round(rec, s.cfg.RoundingPlaces())

	s.mu.Lock()
	s.errorCount = 0
	s.lastRecord = rec
	s.mu.Unlock()

	metrics.PollSuccess.WithLabelValues(name).Inc()
	metrics.ConsecutiveErrors.WithLabelValues(name).Set(0)
	metrics.LastSuccessTimestamp.WithLabelValues(name).Set(float64(time.Now().Unix()))
	metrics.Power.WithLabelValues(name).Set(rec.Power)

	s.events.Emit(Event{
		Type:  EventTelemetry,
		Meter: name,
		Data:  TelemetryMessage{Topic: s.topic(), Record: rec},
	})
	s.emitStatus()
}

// fetch performs one raw retrieval: live model detection with fallback to
// the configured model, then the model fetcher, with the ambiguous case
// trying the LS120 shape before the LS110 one.
func (s *Session) fetch() (*telemetry.Record, error) {
	ctx := context.Background()
	client := youless.NewClient(s.cfg.Host, s.cfg.Password, s.pollTimeout, s.logger)

	model := s.cfg.Model
	if info, err := client.GetDeviceInfo(ctx); err == nil && info.Model != "" {
		model = info.Model
	}

	switch model {
	case telemetry.ModelLS110:
		return client.FetchLS110(ctx)
	case telemetry.ModelLS120:
		return client.FetchLS120(ctx, s.cfg.ShowNegativeCurrent)
	default:
		rec, err := client.FetchLS120(ctx, s.cfg.ShowNegativeCurrent)
		if err == nil {
			return rec, nil
		}
		return client.FetchLS110(ctx)
	}
}

func (s *Session) topic() string {
	if s.cfg.Topic != "" {
		return s.cfg.Topic
	}
	return s.defaultTopic
}

func (s *Session) emitStatus() {
	s.events.Emit(Event{Type: EventStatus, Meter: s.cfg.Name, Data: s.Status()})
}
