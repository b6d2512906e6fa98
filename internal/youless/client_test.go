package youless

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type testWriter struct{}

func (testWriter) Write(p []byte) (int, error) { return len(p), nil }

// newTestClient points a client at an httptest server.
func newTestClient(t *testing.T, handler http.Handler, password string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	host := strings.TrimPrefix(srv.URL, "http://")
	return NewClient(host, password, 2*time.Second, testLogger())
}

func TestGetDeviceInfo(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/d" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"model":"LS120","mac":"AA:BB:CC:DD:EE:FF"}`))
	}), "")

	info, err := c.GetDeviceInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Model != "LS120" || info.MAC != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("info = %+v", info)
	}
}

func TestGetDeviceInfoStringWrapped(t *testing.T) {
	// Some firmware returns the info object JSON-encoded inside a string.
	wrapped, _ := json.Marshal(`{"model":"LS110","mac":"11:22:33:44:55:66"}`)
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wrapped)
	}), "")

	info, err := c.GetDeviceInfo(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if info.Model != "LS110" {
		t.Errorf("model = %q, want LS110", info.Model)
	}
}

func TestGetDeviceInfoUnparseable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json at all"))
	}), "")

	info, err := c.GetDeviceInfo(context.Background())
	if err != nil {
		t.Fatalf("parse failure must not be an error, got %v", err)
	}
	if info.Model != "" {
		t.Errorf("model = %q, want empty", info.Model)
	}
}

func TestBasicAuthHeader(t *testing.T) {
	var gotUser, gotPass string
	var gotAccept string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, gotPass, _ = r.BasicAuth()
		gotAccept = r.Header.Get("Accept")
		w.Write([]byte(`{"model":"LS120"}`))
	}), "secret")

	if _, err := c.GetDeviceInfo(context.Background()); err != nil {
		t.Fatal(err)
	}
	if gotUser != "" || gotPass != "secret" {
		t.Errorf("basic auth = %q/%q, want empty user and %q", gotUser, gotPass, "secret")
	}
	if gotAccept != "application/json" {
		t.Errorf("accept = %q", gotAccept)
	}
}

func TestNoAuthHeaderWithoutPassword(t *testing.T) {
	var hadAuth bool
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, hadAuth = r.BasicAuth()
		w.Write([]byte(`{"model":"LS120"}`))
	}), "")

	if _, err := c.GetDeviceInfo(context.Background()); err != nil {
		t.Fatal(err)
	}
	if hadAuth {
		t.Error("authorization header sent without a configured password")
	}
}

func TestGetEnergyEmpty(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}), "")

	if _, err := c.GetEnergy(context.Background()); err == nil {
		t.Fatal("expected error for empty energy array")
	}
}

func TestGetStatusError(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}), "")

	if _, err := c.GetBasic(context.Background()); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}
