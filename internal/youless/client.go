// Package youless is an HTTP client for the local JSON API of YouLess
// energy meters (LS110 and LS120 families).
package youless

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// API endpoints. These are a fixed device contract.
const (
	pathDeviceInfo = "/d"
	pathBasic      = "/a?f=j"
	pathEnergy     = "/e"
	pathPhase      = "/f"
)

// Default timeouts: short while scanning the network, longer for
// steady-state polling.
const (
	ProbeTimeout = 2 * time.Second
	PollTimeout  = 10 * time.Second
)

const maxBodySize = 1 << 20

// Client talks to a single meter host.
type Client struct {
	host     string
	password string
	http     *http.Client
	logger   *slog.Logger
}

// NewClient creates a client for the given host. password may be empty;
// when set it is sent as HTTP basic auth with an empty username, which is
// what the meter firmware expects.
func NewClient(host, password string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		host:     host,
		password: password,
		http:     &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Host returns the configured meter host.
func (c *Client) Host() string { return c.host }

// get fetches a path and returns the raw body.
func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+c.host+path, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.password != "" {
		req.SetBasicAuth("", c.password)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get %s: unexpected status %d", path, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read %s body: %w", path, err)
	}
	return body, nil
}

// getJSON fetches a path and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	body, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s body: %w", path, err)
	}
	return nil
}

// DeviceInfo identifies the meter model and MAC address.
type DeviceInfo struct {
	Model string `json:"model"`
	MAC   string `json:"mac"`
}

// GetDeviceInfo queries the model-info endpoint. Some firmware revisions
// return the info object JSON-encoded inside a string; that secondary
// parse is attempted as well. A body that parses but carries no model
// yields an empty DeviceInfo and no error; transport failures propagate.
func (c *Client) GetDeviceInfo(ctx context.Context) (DeviceInfo, error) {
	body, err := c.get(ctx, pathDeviceInfo)
	if err != nil {
		return DeviceInfo{}, err
	}

	var info DeviceInfo
	if err := json.Unmarshal(body, &info); err == nil && info.Model != "" {
		return info, nil
	}

	// Body may be a JSON string wrapping the actual object.
	var wrapped string
	if err := json.Unmarshal(body, &wrapped); err == nil {
		if err := json.Unmarshal([]byte(wrapped), &info); err == nil {
			return info, nil
		}
	}

	// Unparseable model info is not fatal; the caller falls back to
	// its configured model.
	return DeviceInfo{}, nil
}

// GetBasic queries the LS110-style telemetry endpoint.
func (c *Client) GetBasic(ctx context.Context) (BasicReading, error) {
	var r BasicReading
	if err := c.getJSON(ctx, pathBasic, &r); err != nil {
		return BasicReading{}, err
	}
	return r, nil
}

// GetEnergy queries the LS120 energy endpoint. The device reports a JSON
// array; an empty or non-array body is a shape error.
func (c *Client) GetEnergy(ctx context.Context) ([]EnergyReading, error) {
	var readings []EnergyReading
	if err := c.getJSON(ctx, pathEnergy, &readings); err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return nil, fmt.Errorf("get %s: empty energy response", pathEnergy)
	}
	return readings, nil
}

// GetPhase queries the LS120 phase-data endpoint.
func (c *Client) GetPhase(ctx context.Context) (PhaseReading, error) {
	var r PhaseReading
	if err := c.getJSON(ctx, pathPhase, &r); err != nil {
		return PhaseReading{}, err
	}
	return r, nil
}
