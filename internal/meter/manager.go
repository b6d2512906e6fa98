package meter

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// ConfigStore persists meter configurations across restarts.
type ConfigStore interface {
	SaveMeter(cfg Config) error
	DeleteMeter(name string) error
	ListMeters() ([]Config, error)
}

// Manager owns the set of named polling sessions. Sessions are independent
// of each other; the manager only serializes deploy/remove operations.
type Manager struct {
	store       ConfigStore
	events      *EventBus
	topicPrefix string
	logger      *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates an empty manager. topicPrefix forms the default
// telemetry topic, "<prefix>/<meter name>", for meters without a custom one.
func NewManager(store ConfigStore, events *EventBus, topicPrefix string, logger *slog.Logger) *Manager {
	return &Manager{
		store:       store,
		events:      events,
		topicPrefix: topicPrefix,
		logger:      logger.With("component", "manager"),
		sessions:    make(map[string]*Session),
	}
}

// Load deploys every stored meter, starting those marked start-automatically.
func (m *Manager) Load() error {
	configs, err := m.store.ListMeters()
	if err != nil {
		return fmt.Errorf("list stored meters: %w", err)
	}
	for _, cfg := range configs {
		if _, err := m.Deploy(cfg); err != nil {
			m.logger.Error("deploy stored meter", "meter", cfg.Name, "err", err)
		}
	}
	return nil
}

// Deploy creates the session for cfg, replacing (stop + recreate) any
// existing session with the same name, and persists the configuration.
// When the configuration asks for it, polling starts immediately.
func (m *Manager) Deploy(cfg Config) (*Session, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("meter name is required")
	}

	m.mu.Lock()
	if old, ok := m.sessions[cfg.Name]; ok {
		old.Stop()
	}
	session := NewSession(cfg, m.topicPrefix+"/"+cfg.Name, m.events, m.logger)
	m.sessions[cfg.Name] = session
	m.mu.Unlock()

	if err := m.store.SaveMeter(cfg); err != nil {
		return nil, fmt.Errorf("persist meter %q: %w", cfg.Name, err)
	}

	m.logger.Info("meter deployed", "meter", cfg.Name, "host", cfg.Host, "model", cfg.Model)
	m.events.Emit(Event{Type: EventMeterAdded, Meter: cfg.Name, Data: cfg})

	if cfg.StartAutomatically {
		if err := session.Start(); err != nil {
			m.logger.Warn("automatic start failed", "meter", cfg.Name, "err", err)
		}
	}
	return session, nil
}

// Remove stops and forgets a meter and deletes it from the store.
func (m *Manager) Remove(name string) error {
	m.mu.Lock()
	session, ok := m.sessions[name]
	if ok {
		delete(m.sessions, name)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("meter %q not found", name)
	}

	session.Stop()
	if err := m.store.DeleteMeter(name); err != nil {
		return fmt.Errorf("delete meter %q: %w", name, err)
	}
	m.events.Emit(Event{Type: EventMeterRemoved, Meter: name, Data: nil})
	return nil
}

// Get returns the session for a meter name.
func (m *Manager) Get(name string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[name]
	return session, ok
}

// List returns all sessions ordered by meter name.
func (m *Manager) List() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].cfg.Name < sessions[j].cfg.Name
	})
	return sessions
}

// Control dispatches an operator command to a named session.
func (m *Manager) Control(name, command string) error {
	session, ok := m.Get(name)
	if !ok {
		return fmt.Errorf("meter %q not found", name)
	}
	return session.Control(command)
}

// StopAll stops every session. Used on daemon shutdown.
func (m *Manager) StopAll() {
	for _, session := range m.List() {
		session.Stop()
	}
}
