package web

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sweeney/valve-panel/internal/gpio"
	"github.com/sweeney/valve-panel/internal/metrics"
	"github.com/sweeney/valve-panel/internal/status"
	"github.com/sweeney/valve-panel/internal/valve"
)

type testEnv struct {
	ts       *httptest.Server
	srv      *Server
	registry *valve.Registry
	tracker  *status.Tracker
	driver   *gpio.FakeDriver
	metrics  *metrics.Metrics
}

func newTestEnv(t *testing.T, names ...string) *testEnv {
	t.Helper()
	if len(names) == 0 {
		names = []string{"GV Upstream", "GV Downstream"}
	}
	specs := make([]valve.Spec, len(names))
	for i, name := range names {
		specs[i] = valve.Spec{Pin: 20 + i, Name: name}
	}

	driver := gpio.NewFakeDriver()
	reg, err := valve.New(specs, driver)
	if err != nil {
		t.Fatalf("valve.New: %v", err)
	}

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tr := status.NewTracker(start, status.Config{
		Listen: ":3000",
		Driver: "noop",
		Broker: "tcp://192.168.1.200:1883",
	}, reg)

	m := metrics.New()
	srv := New(":0", reg, tr, m)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.hub.Close()
		ts.Close()
	})

	return &testEnv{ts: ts, srv: srv, registry: reg, tracker: tr, driver: driver, metrics: m}
}

func TestJSONEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.SetMQTTConnected(true)

	resp, err := http.Get(env.ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: got %q, want application/json", ct)
	}

	var sj status.StatusJSON
	if err := json.NewDecoder(resp.Body).Decode(&sj); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}

	if !sj.Status.MQTT.Connected {
		t.Error("expected MQTT.Connected=true")
	}
	if sj.Status.MQTT.Broker != "tcp://192.168.1.200:1883" {
		t.Errorf("MQTT.Broker: got %q", sj.Status.MQTT.Broker)
	}
	if len(sj.Status.Valves) != 2 {
		t.Fatalf("Valves: got %d, want 2", len(sj.Status.Valves))
	}
	if sj.Status.Valves[1].Name != "GV Downstream" {
		t.Errorf("Valves[1].Name: got %q", sj.Status.Valves[1].Name)
	}
}

func TestJSONNetworkInfo(t *testing.T) {
	env := newTestEnv(t)
	env.tracker.SetNetwork(&status.NetworkInfo{
		Type:   "wifi",
		IP:     "192.168.1.42",
		Status: "connected",
		SSID:   "MyNet",
	})

	resp, err := http.Get(env.ts.URL + "/index.json")
	if err != nil {
		t.Fatalf("GET /index.json: %v", err)
	}
	defer resp.Body.Close()

	var sj status.StatusJSON
	json.NewDecoder(resp.Body).Decode(&sj)

	if sj.Status.Network == nil {
		t.Fatal("expected Network in JSON")
	}
	if sj.Status.Network.IP != "192.168.1.42" {
		t.Errorf("Network.IP: got %q, want 192.168.1.42", sj.Status.Network.IP)
	}
}

func TestHTMLEndpointRoot(t *testing.T) {
	env := newTestEnv(t)
	env.registry.SetLock(context.Background(), 1, true)

	resp, err := http.Get(env.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type: got %q, want text/html", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{"GV Upstream", "GV Downstream", "Locked", "Close"} {
		if !strings.Contains(string(body), want) {
			t.Errorf("page missing %q", want)
		}
	}
}

func TestHTMLEndpointIndexHTML(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/index.html")
	if err != nil {
		t.Fatalf("GET /index.html: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status: got %d, want 200", resp.StatusCode)
	}
}

func TestNotFoundForUnknownPath(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.ts.URL + "/nonexistent")
	if err != nil {
		t.Fatalf("GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 404 {
		t.Errorf("status: got %d, want 404", resp.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.registry.Subscribe(env.metrics)

	post(t, env, "/api/relay/0/toggle", "")
	post(t, env, "/api/relay/9/toggle", "")

	resp, err := http.Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, want := range []string{
		`valve_events_total{kind="OPEN",valve="GV Upstream"} 1`,
		`valve_rejected_total{reason="out_of_range"`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestMetricsNotMountedWithoutCollector(t *testing.T) {
	reg, _ := valve.New([]valve.Spec{{Pin: 1, Name: "A"}}, nil)
	srv := New(":0", reg, status.NewTracker(time.Now(), status.Config{}, reg), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 404 {
		t.Errorf("status: got %d, want 404", rec.Code)
	}
}
