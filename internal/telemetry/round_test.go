package telemetry

import (
	"math"
	"testing"
)

func fp(v float64) *float64 { return &v }

func TestRoundBasic(t *testing.T) {
	tests := []struct {
		in     float64
		places int
		want   float64
	}{
		{1234.5678, 2, 1234.57},
		{1234.5678, 0, 1235},
		{-500.556, 2, -500.56},
		{2.5, 0, 3}, // half away from zero
		{-2.5, 0, -3},
		{0.125, 2, 0.13},
	}

	for _, tt := range tests {
		rec := &Record{Power: tt.in}
		Round(rec, tt.places)
		if rec.Power != tt.want {
			t.Errorf("Round(%v, %d) = %v, want %v", tt.in, tt.places, rec.Power, tt.want)
		}
	}
}

func TestRoundDisabled(t *testing.T) {
	rec := &Record{Power: 1234.5678, Net: fp(120.5555)}
	Round(rec, -1)
	if rec.Power != 1234.5678 {
		t.Errorf("Power = %v, want unchanged", rec.Power)
	}
	if *rec.Net != 120.5555 {
		t.Errorf("Net = %v, want unchanged", *rec.Net)
	}
}

func TestRoundIdempotent(t *testing.T) {
	rec := &Record{
		Power:         -500.4567,
		PowerAbsolute: 500.4567,
		Net:           fp(120.505),
		Delivered:     &TariffCounters{Total: 15.0049, Tariff1: 10.0049, Tariff2: 5.0001},
		Phases: &PhaseSet{
			L1: &Phase{Current: 2.345, Voltage: 230.49, Power: 539.99},
		},
	}
	Round(rec, 2)
	first := *rec
	firstDelivered := *rec.Delivered
	firstL1 := *rec.Phases.L1

	Round(rec, 2)
	if rec.Power != first.Power || rec.PowerAbsolute != first.PowerAbsolute || *rec.Net != *first.Net {
		t.Error("top-level fields changed on second round")
	}
	if *rec.Delivered != firstDelivered {
		t.Errorf("delivered changed on second round: %+v", rec.Delivered)
	}
	if *rec.Phases.L1 != firstL1 {
		t.Errorf("phase changed on second round: %+v", rec.Phases.L1)
	}
}

func TestRoundNonFinite(t *testing.T) {
	rec := &Record{Power: math.NaN(), Net: fp(math.Inf(1))}
	Round(rec, 2)
	if !math.IsNaN(rec.Power) {
		t.Errorf("NaN should be left untouched, got %v", rec.Power)
	}
	if !math.IsInf(*rec.Net, 1) {
		t.Errorf("Inf should be left untouched, got %v", *rec.Net)
	}
}

func TestRoundAllLeaves(t *testing.T) {
	rec := &Record{
		Power:       1.111,
		Counter:     fp(1234.5649),
		S0:          &S0Reading{Counter: 9.999, Power: 1.04, Timestamp: 2401011200},
		Gas:         &MeterReading{Counter: 567.891, Timestamp: 2401011200},
		Water:       &MeterReading{Counter: 12.345, Timestamp: 2401011200},
		ActivePower: fp(100.06),
		PeakPower:   fp(3000.999),
	}
	Round(rec, 1)

	if *rec.Counter != 1234.6 {
		t.Errorf("counter = %v", *rec.Counter)
	}
	if rec.S0.Counter != 10.0 || rec.S0.Power != 1.0 {
		t.Errorf("s0 = %+v", rec.S0)
	}
	if rec.S0.Timestamp != 2401011200 {
		t.Error("timestamps must pass through unchanged")
	}
	if rec.Gas.Counter != 567.9 || rec.Water.Counter != 12.3 {
		t.Errorf("gas=%v water=%v", rec.Gas.Counter, rec.Water.Counter)
	}
	if *rec.ActivePower != 100.1 || *rec.PeakPower != 3001.0 {
		t.Errorf("activePower=%v peakPower=%v", *rec.ActivePower, *rec.PeakPower)
	}
}
