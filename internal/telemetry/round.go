package telemetry

import "math"

// Round rounds every numeric leaf of rec to places decimals,
// half away from zero. places < 0 leaves the record untouched.
// Non-finite values are skipped. Rounding is idempotent.
func Round(rec *Record, places int) {
	if rec == nil || places < 0 {
		return
	}

	roundF(&rec.Power, places)
	roundF(&rec.PowerAbsolute, places)
	roundPtr(rec.Counter, places)
	roundPtr(rec.Net, places)
	roundCounters(rec.Delivered, places)
	roundCounters(rec.Returned, places)
	if rec.S0 != nil {
		roundF(&rec.S0.Counter, places)
		roundF(&rec.S0.Power, places)
	}
	if rec.Gas != nil {
		roundF(&rec.Gas.Counter, places)
	}
	if rec.Water != nil {
		roundF(&rec.Water.Counter, places)
	}
	if rec.Phases != nil {
		for _, p := range []*Phase{rec.Phases.L1, rec.Phases.L2, rec.Phases.L3} {
			if p == nil {
				continue
			}
			roundF(&p.Current, places)
			roundF(&p.Voltage, places)
			roundF(&p.Power, places)
		}
	}
	roundPtr(rec.ActivePower, places)
	roundPtr(rec.PeakPower, places)
}

func roundCounters(c *TariffCounters, places int) {
	if c == nil {
		return
	}
	roundF(&c.Total, places)
	roundF(&c.Tariff1, places)
	roundF(&c.Tariff2, places)
}

func roundPtr(v *float64, places int) {
	if v != nil {
		roundF(v, places)
	}
}

func roundF(v *float64, places int) {
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return
	}
	scale := math.Pow(10, float64(places))
	*v = math.Round(*v*scale) / scale
}
