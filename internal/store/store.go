// Package store persists meter configurations and the last discovery
// result. Telemetry records are never stored.
package store

import (
	"errors"

	"github.com/limwakra/youless-bridge/internal/discovery"
	"github.com/limwakra/youless-bridge/internal/meter"
)

// ErrNotFound is returned when a requested entity does not exist in the store.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface.
type Store interface {
	// Meter configurations
	SaveMeter(cfg meter.Config) error
	GetMeter(name string) (meter.Config, error)
	DeleteMeter(name string) error
	ListMeters() ([]meter.Config, error)

	// Last discovery result
	SaveDiscovery(result discovery.Result) error
	GetDiscovery() (discovery.Result, error)

	// Close the store
	Close() error
}
