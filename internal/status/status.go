// Package status provides a thread-safe status tracker for the valve panel.
// It combines process facts (start time, configuration, broker state) with
// the live valve list for the status page and MQTT lifecycle messages.
package status

import (
	"context"
	"sync"
	"time"

	"github.com/sweeney/valve-panel/internal/valve"
)

// NetworkInfo contains network state reported by the host.
type NetworkInfo struct {
	Type       string
	IP         string
	Status     string
	Gateway    string
	WifiStatus string
	SSID       string
}

// Config contains daemon configuration for display.
type Config struct {
	Listen string
	Driver string
	Broker string // empty = MQTT disabled
}

// ValveSource supplies the current valve list.
type ValveSource interface {
	StatusAll(ctx context.Context) []valve.Valve
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type and safe to use after the lock is released.
type Snapshot struct {
	Valves        []valve.Valve
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Network       *NetworkInfo
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu     sync.RWMutex
	snap   Snapshot
	source ValveSource
}

// NewTracker creates a Tracker. source may be nil.
func NewTracker(startTime time.Time, cfg Config, source ValveSource) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
		source: source,
	}
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// SetNetwork sets the network info.
func (t *Tracker) SetNetwork(info *NetworkInfo) {
	t.mu.Lock()
	t.snap.Network = info
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state with the valve
// list read from the source. Now is set at the moment of the call.
func (t *Tracker) Snapshot(ctx context.Context) Snapshot {
	t.mu.RLock()
	s := t.snap
	t.mu.RUnlock()
	if s.Network != nil {
		n := *s.Network
		s.Network = &n
	}
	if t.source != nil {
		s.Valves = t.source.StatusAll(ctx)
	}
	s.Now = time.Now()
	return s
}
