package youless

// BasicReading is the raw response of the LS110-style endpoint.
// The counter arrives as a string with a comma decimal separator.
type BasicReading struct {
	Counter    string   `json:"cnt"`
	Power      *float64 `json:"pwr"`
	Level      *int     `json:"lvl"`
	Device     string   `json:"dev"`
	Detail     string   `json:"det"`
	Connection string   `json:"con"`
	Status     string   `json:"sts"`
	Raw        *float64 `json:"raw"`
}

// EnergyReading is one element of the LS120 energy endpoint's array.
// Pointer fields distinguish absent values from zero readings.
type EnergyReading struct {
	Time           *int64   `json:"tm"`
	Net            *float64 `json:"net"`
	Power          *float64 `json:"pwr"`
	S0Timestamp    *int64   `json:"ts0"`
	S0Counter      *float64 `json:"cs0"`
	S0Power        *float64 `json:"ps0"`
	Delivered1     *float64 `json:"p1"`
	Delivered2     *float64 `json:"p2"`
	Returned1      *float64 `json:"n1"`
	Returned2      *float64 `json:"n2"`
	Gas            *float64 `json:"gas"`
	GasTimestamp   *int64   `json:"gts"`
	Water          *float64 `json:"wtr"`
	WaterTimestamp *int64   `json:"wts"`
}

// PhaseReading is the raw response of the LS120 phase-data endpoint.
type PhaseReading struct {
	Tariff        *int     `json:"tr"`
	ActivePower   *float64 `json:"pa"`
	PeakPower     *float64 `json:"pp"`
	PeakTimestamp *int64   `json:"pts"`
	Current1      *float64 `json:"i1"`
	Current2      *float64 `json:"i2"`
	Current3      *float64 `json:"i3"`
	Voltage1      *float64 `json:"v1"`
	Voltage2      *float64 `json:"v2"`
	Voltage3      *float64 `json:"v3"`
	Power1        *float64 `json:"l1"`
	Power2        *float64 `json:"l2"`
	Power3        *float64 `json:"l3"`
}
