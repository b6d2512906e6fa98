// Package meter owns the lifecycle of configured meters: the per-meter
// polling state machine and the manager that deploys and controls sessions.
package meter

import (
	"fmt"

	"github.com/limwakra/youless-bridge/internal/telemetry"
)

// DefaultInterval is used when the configured interval is missing or invalid.
const DefaultInterval = 10

// ModelAuto lets the fetch cycle pick the model from the live device,
// trying the LS120 shape first when detection fails too.
const ModelAuto = "auto"

// Models is the closed set of supported meter models.
var Models = []string{telemetry.ModelLS110, telemetry.ModelLS120}

// Config describes one meter to poll. It is immutable for the lifetime of
// a session; reconfiguration destroys and recreates the session.
type Config struct {
	Name                string `json:"name" yaml:"name"`
	Host                string `json:"host" yaml:"host"`
	Interval            int    `json:"interval" yaml:"interval"` // seconds
	Model               string `json:"model" yaml:"model"`       // LS110, LS120 or auto
	Password            string `json:"password,omitempty" yaml:"password"`
	StartAutomatically  bool   `json:"start_automatically" yaml:"start_automatically"`
	ShowNegativeCurrent bool   `json:"show_negative_current" yaml:"show_negative_current"`
	Topic               string `json:"topic,omitempty" yaml:"topic"`
	// DecimalPlaces rounds every numeric field of the emitted record.
	// nil or negative disables rounding.
	DecimalPlaces *int `json:"decimal_places,omitempty" yaml:"decimal_places"`
}

// Validate reports whether the configuration can drive a polling session.
// A failure here is a configuration error, reported distinctly from fetch
// errors and never counted against the error budget.
func (c Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("meter name is required")
	}
	if c.Host == "" {
		return fmt.Errorf("meter %q: host is required", c.Name)
	}
	switch c.Model {
	case "", ModelAuto, telemetry.ModelLS110, telemetry.ModelLS120:
	default:
		return fmt.Errorf("meter %q: unsupported model %q", c.Name, c.Model)
	}
	return nil
}

// EffectiveInterval returns the polling interval in seconds, coerced to at
// least one second with the default applied to invalid values.
func (c Config) EffectiveInterval() int {
	if c.Interval <= 0 {
		return DefaultInterval
	}
	return c.Interval
}

// RoundingPlaces returns the decimal-place count for the normalizer,
// -1 when rounding is disabled.
func (c Config) RoundingPlaces() int {
	if c.DecimalPlaces == nil || *c.DecimalPlaces < 0 {
		return -1
	}
	return *c.DecimalPlaces
}
