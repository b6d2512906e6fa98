package discovery

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/limwakra/youless-bridge/internal/youless"
)

// Device is one positively identified meter.
type Device struct {
	IP    string `json:"ip"`
	Name  string `json:"name,omitempty"`
	Model string `json:"model"`
	MAC   string `json:"mac,omitempty"`
}

// Prober decides whether a single host is a meter, and which model.
// Every HTTP call it makes is bounded by its timeout; all network failures
// collapse to "not a meter" for that host.
type Prober struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewProber creates a prober with the standard per-call probe timeout.
func NewProber(logger *slog.Logger) *Prober {
	return &Prober{timeout: youless.ProbeTimeout, logger: logger}
}

// classification is the outcome of one identification strategy.
type classification struct {
	model string
	mac   string
}

// classifier is one identification strategy. It returns nil to pass the
// host on to the next strategy in the chain.
type classifier func(ctx context.Context, c *youless.Client) *classification

// classifiers is the ordered identification chain; first match wins.
// Order matters: a host matching several signatures must be reported
// with its model-info model.
var classifiers = []classifier{
	classifyByDeviceInfo,
	classifyByBasicSignature,
	classifyByEnergySignature,
}

// Probe runs the identification chain against one host. The second return
// value reports whether the host was confirmed as a meter.
func (p *Prober) Probe(ctx context.Context, host string) (Device, bool) {
	client := youless.NewClient(host, "", p.timeout, p.logger)

	for _, classify := range classifiers {
		result := classify(ctx, client)
		if result == nil {
			continue
		}
		dev := Device{
			IP:    host,
			Model: result.model,
			MAC:   result.mac,
		}
		dev.Name = lookupName(ctx, host)
		return dev, true
	}
	return Device{}, false
}

// classifyByDeviceInfo confirms a meter whose model-info endpoint reports
// a model. A responding host whose body cannot be parsed is not confirmed
// here; it falls through to the signature checks.
func classifyByDeviceInfo(ctx context.Context, c *youless.Client) *classification {
	info, err := c.GetDeviceInfo(ctx)
	if err != nil || info.Model == "" {
		return nil
	}
	return &classification{model: info.Model, mac: info.MAC}
}

// classifyByBasicSignature confirms an LS110 when the basic endpoint
// reports both a counter and a power value.
func classifyByBasicSignature(ctx context.Context, c *youless.Client) *classification {
	reading, err := c.GetBasic(ctx)
	if err != nil || reading.Counter == "" || reading.Power == nil {
		return nil
	}
	return &classification{model: "LS110"}
}

// classifyByEnergySignature confirms an LS120 when the energy endpoint
// reports a non-empty array whose first element carries power or net.
func classifyByEnergySignature(ctx context.Context, c *youless.Client) *classification {
	readings, err := c.GetEnergy(ctx)
	if err != nil {
		return nil
	}
	first := readings[0]
	if first.Power == nil && first.Net == nil {
		return nil
	}
	return &classification{model: "LS120"}
}

// lookupName does a best-effort reverse-DNS lookup for a display name.
func lookupName(ctx context.Context, host string) string {
	ip := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		ip = h
	}
	lookupCtx, cancel := context.WithTimeout(ctx, youless.ProbeTimeout)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(lookupCtx, ip)
	if err != nil || len(names) == 0 {
		return ""
	}
	return strings.TrimSuffix(names[0], ".")
}
