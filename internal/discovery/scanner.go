package discovery

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/limwakra/youless-bridge/internal/metrics"
)

// defaultConcurrency caps simultaneous in-flight probes. Every address is
// still probed; the cap only bounds socket usage during a scan.
const defaultConcurrency = 128

// Result is the outcome of one discovery run.
type Result struct {
	Devices    []Device  `json:"devices"`
	Subnets    int       `json:"subnets"`
	HostsTried int       `json:"hosts_tried"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
}

// Scanner fans the prober out over every host of every candidate subnet.
type Scanner struct {
	probe       func(ctx context.Context, host string) (Device, bool)
	subnets     func() []Subnet
	concurrency int
	logger      *slog.Logger
}

// ScannerOption configures a Scanner.
type ScannerOption func(*Scanner)

// WithSubnets overrides the subnet source. Used by tests and by operators
// pinning discovery to a specific range.
func WithSubnets(fn func() []Subnet) ScannerOption {
	return func(s *Scanner) { s.subnets = fn }
}

// WithConcurrency overrides the probe concurrency cap.
func WithConcurrency(n int) ScannerOption {
	return func(s *Scanner) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewScanner creates a scanner over the local interface subnets.
func NewScanner(logger *slog.Logger, opts ...ScannerOption) *Scanner {
	s := &Scanner{
		probe:       NewProber(logger).Probe,
		subnets:     Subnets,
		concurrency: defaultConcurrency,
		logger:      logger.With("component", "discovery"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Discover probes base.1..base.254 of every candidate subnet concurrently
// and returns every confirmed meter. It waits for all probes to finish;
// result order follows probe completion and is unspecified.
func (s *Scanner) Discover(ctx context.Context) Result {
	started := time.Now()
	subnets := s.subnets()

	var hosts []string
	for _, subnet := range subnets {
		hosts = append(hosts, subnet.Hosts()...)
	}
	s.logger.Info("discovery scan starting", "subnets", len(subnets), "hosts", len(hosts))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		devices []Device
	)
	sem := make(chan struct{}, s.concurrency)
	for _, host := range hosts {
		wg.Add(1)
		sem <- struct{}{}
		go func(host string) {
			defer wg.Done()
			defer func() { <-sem }()
			dev, ok := s.probe(ctx, host)
			if !ok {
				return
			}
			s.logger.Info("meter found", "ip", dev.IP, "model", dev.Model, "mac", dev.MAC)
			mu.Lock()
			devices = append(devices, dev)
			mu.Unlock()
		}(host)
	}
	wg.Wait()

	elapsed := time.Since(started)
	s.logger.Info("discovery scan finished", "devices", len(devices), "elapsed", elapsed)
	metrics.DiscoveryDuration.Set(elapsed.Seconds())
	metrics.DiscoveryDevices.Set(float64(len(devices)))
	return Result{
		Devices:    devices,
		Subnets:    len(subnets),
		HostsTried: len(hosts),
		StartedAt:  started.UTC(),
		Duration:   elapsed.Round(time.Millisecond).String(),
	}
}
