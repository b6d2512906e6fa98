// Package telemetry defines the canonical meter reading emitted per poll
// cycle and the numeric normalization applied to it.
package telemetry

// Supported meter models.
const (
	ModelLS110 = "LS110"
	ModelLS120 = "LS120"
)

// Record is the canonical telemetry record. It is built fresh on every
// successful fetch cycle and never mutated after being handed to a sink.
// Fields beyond the common head are per-model and nil when absent.
type Record struct {
	Timestamp     string  `json:"timestamp"` // ISO-8601 UTC
	Model         string  `json:"model"`
	Power         float64 `json:"power"`         // signed watts
	PowerAbsolute float64 `json:"powerAbsolute"` // always >= 0
	IsGenerating  bool    `json:"isGenerating"`  // power < 0

	// LS110
	Counter     *float64 `json:"counter,omitempty"` // kWh
	SignalLevel *int     `json:"signalLevel,omitempty"`

	// LS120
	Net       *float64        `json:"net,omitempty"`
	Delivered *TariffCounters `json:"delivered,omitempty"`
	Returned  *TariffCounters `json:"returned,omitempty"`
	S0        *S0Reading      `json:"s0,omitempty"`
	Gas       *MeterReading   `json:"gas,omitempty"`
	Water     *MeterReading   `json:"water,omitempty"`
	Phases    *PhaseSet       `json:"phases,omitempty"`

	Tariff        *int     `json:"tariff,omitempty"`
	ActivePower   *float64 `json:"activePower,omitempty"`
	PeakPower     *float64 `json:"peakPower,omitempty"`
	PeakTimestamp *int64   `json:"peakTimestamp,omitempty"`
}

// TariffCounters holds a kWh total with its per-tariff split.
type TariffCounters struct {
	Total   float64 `json:"total"`
	Tariff1 float64 `json:"tariff1"`
	Tariff2 float64 `json:"tariff2"`
}

// S0Reading is the optional S0 pulse input of an LS120.
type S0Reading struct {
	Counter   float64 `json:"counter"`
	Power     float64 `json:"power"`
	Timestamp int64   `json:"timestamp"` // device-local yymmddhhmm stamp
}

// MeterReading is a secondary counter (gas, water) with its device timestamp.
type MeterReading struct {
	Counter   float64 `json:"counter"`
	Timestamp int64   `json:"timestamp"`
}

// PhaseSet holds the per-phase measurements reported by a three-phase LS120.
type PhaseSet struct {
	L1 *Phase `json:"L1,omitempty"`
	L2 *Phase `json:"L2,omitempty"`
	L3 *Phase `json:"L3,omitempty"`
}

// Phase is one phase of a three-phase connection.
type Phase struct {
	Current float64 `json:"current"` // A
	Voltage float64 `json:"voltage"` // V
	Power   float64 `json:"power"`   // W
}
