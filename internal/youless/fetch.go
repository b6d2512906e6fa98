package youless

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/limwakra/youless-bridge/internal/telemetry"
)

// FetchLS110 retrieves one reading from an LS110-family meter and converts
// it into the canonical record. The counter value is parsed tolerant of the
// comma decimal separator and padding the firmware emits.
func (c *Client) FetchLS110(ctx context.Context) (*telemetry.Record, error) {
	raw, err := c.GetBasic(ctx)
	if err != nil {
		return nil, err
	}
	if raw.Power == nil {
		return nil, fmt.Errorf("basic reading from %s has no power field", c.host)
	}

	rec := newRecord(telemetry.ModelLS110, *raw.Power)
	if raw.Counter != "" {
		counter, err := ParseCounter(raw.Counter)
		if err != nil {
			return nil, fmt.Errorf("parse counter %q: %w", raw.Counter, err)
		}
		rec.Counter = &counter
	}
	rec.SignalLevel = raw.Level
	return rec, nil
}

// FetchLS120 retrieves one reading from an LS120-family meter. The energy
// endpoint is mandatory; the phase endpoint is best-effort and its failure
// only costs the optional phase fields. When showNegativeCurrent is set,
// phase currents are flipped negative while the matching phase power is
// negative, as a display convenience.
func (c *Client) FetchLS120(ctx context.Context, showNegativeCurrent bool) (*telemetry.Record, error) {
	readings, err := c.GetEnergy(ctx)
	if err != nil {
		return nil, err
	}
	raw := readings[0]
	if raw.Power == nil && raw.Net == nil {
		return nil, fmt.Errorf("energy reading from %s has neither power nor net", c.host)
	}

	var power float64
	if raw.Power != nil {
		power = *raw.Power
	}
	rec := newRecord(telemetry.ModelLS120, power)
	rec.Net = raw.Net
	rec.Delivered = &telemetry.TariffCounters{
		Total:   deref(raw.Delivered1) + deref(raw.Delivered2),
		Tariff1: deref(raw.Delivered1),
		Tariff2: deref(raw.Delivered2),
	}
	rec.Returned = &telemetry.TariffCounters{
		Total:   deref(raw.Returned1) + deref(raw.Returned2),
		Tariff1: deref(raw.Returned1),
		Tariff2: deref(raw.Returned2),
	}
	if raw.S0Counter != nil {
		rec.S0 = &telemetry.S0Reading{
			Counter:   *raw.S0Counter,
			Power:     deref(raw.S0Power),
			Timestamp: derefI(raw.S0Timestamp),
		}
	}
	if raw.Gas != nil {
		rec.Gas = &telemetry.MeterReading{Counter: *raw.Gas, Timestamp: derefI(raw.GasTimestamp)}
	}
	if raw.Water != nil {
		rec.Water = &telemetry.MeterReading{Counter: *raw.Water, Timestamp: derefI(raw.WaterTimestamp)}
	}

	phase, err := c.GetPhase(ctx)
	if err != nil {
		// Phase data is optional on single-phase devices and older firmware.
		c.logger.Debug("phase data unavailable", "host", c.host, "err", err)
		return rec, nil
	}
	applyPhase(rec, phase, showNegativeCurrent)
	return rec, nil
}

func applyPhase(rec *telemetry.Record, raw PhaseReading, showNegativeCurrent bool) {
	rec.Tariff = raw.Tariff
	rec.ActivePower = raw.ActivePower
	rec.PeakPower = raw.PeakPower
	rec.PeakTimestamp = raw.PeakTimestamp

	l1 := buildPhase(raw.Current1, raw.Voltage1, raw.Power1, showNegativeCurrent)
	l2 := buildPhase(raw.Current2, raw.Voltage2, raw.Power2, showNegativeCurrent)
	l3 := buildPhase(raw.Current3, raw.Voltage3, raw.Power3, showNegativeCurrent)
	if l1 != nil || l2 != nil || l3 != nil {
		rec.Phases = &telemetry.PhaseSet{L1: l1, L2: l2, L3: l3}
	}
}

func buildPhase(current, voltage, power *float64, showNegativeCurrent bool) *telemetry.Phase {
	if current == nil && voltage == nil && power == nil {
		return nil
	}
	p := &telemetry.Phase{
		Current: deref(current),
		Voltage: deref(voltage),
		Power:   deref(power),
	}
	if showNegativeCurrent && p.Power < 0 && p.Current > 0 {
		p.Current = -p.Current
	}
	return p
}

// ParseCounter parses a meter counter string such as " 141950,625",
// accepting a comma decimal separator and surrounding whitespace.
func ParseCounter(s string) (float64, error) {
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	return strconv.ParseFloat(s, 64)
}

func newRecord(model string, power float64) *telemetry.Record {
	abs := power
	if abs < 0 {
		abs = -abs
	}
	return &telemetry.Record{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Model:         model,
		Power:         power,
		PowerAbsolute: abs,
		IsGenerating:  power < 0,
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefI(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}
