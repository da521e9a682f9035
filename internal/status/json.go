package status

import (
	"encoding/json"
	"time"

	"github.com/sweeney/valve-panel/internal/valve"
)

// ValveJSON is the wire form of one valve, shared by the HTTP API,
// websocket stream and MQTT lifecycle payloads.
type ValveJSON struct {
	RelayNum   int    `json:"relay_num"`
	Name       string `json:"name"`
	State      bool   `json:"state"`
	Locked     bool   `json:"locked"`
	StatusText string `json:"status_text"`
}

// NewValveJSON converts a valve to its wire form.
func NewValveJSON(v valve.Valve) ValveJSON {
	return ValveJSON{
		RelayNum:   v.Index,
		Name:       v.Name,
		State:      v.Open,
		Locked:     v.Locked,
		StatusText: v.StatusText(),
	}
}

// NewValvesJSON converts a valve list, keeping order. Never returns nil.
func NewValvesJSON(valves []valve.Valve) []ValveJSON {
	out := make([]ValveJSON, 0, len(valves))
	for _, v := range valves {
		out = append(out, NewValveJSON(v))
	}
	return out
}

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string       `json:"event,omitempty"`
	Reason        string       `json:"reason,omitempty"`
	UptimeSeconds int64        `json:"uptime_seconds"`
	StartTime     string       `json:"start_time"`
	Timestamp     string       `json:"timestamp"`
	MQTT          MQTTStatus   `json:"mqtt"`
	Network       *NetworkJSON `json:"network,omitempty"`
	Config        ConfigJSON   `json:"config"`
	Valves        []ValveJSON  `json:"valves"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// NetworkJSON is the JSON representation of network info.
type NetworkJSON struct {
	Type       string `json:"type"`
	IP         string `json:"ip"`
	Status     string `json:"status"`
	Gateway    string `json:"gateway"`
	WifiStatus string `json:"wifi_status"`
	SSID       string `json:"ssid"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	Listen string `json:"listen"`
	Driver string `json:"driver"`
	Broker string `json:"broker,omitempty"`
}

func buildInner(snap Snapshot) StatusInner {
	inner := StatusInner{
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			Listen: snap.Config.Listen,
			Driver: snap.Config.Driver,
			Broker: snap.Config.Broker,
		},
		Valves: NewValvesJSON(snap.Valves),
	}

	if snap.Network != nil {
		inner.Network = &NetworkJSON{
			Type:       snap.Network.Type,
			IP:         snap.Network.IP,
			Status:     snap.Network.Status,
			Gateway:    snap.Network.Gateway,
			WifiStatus: snap.Network.WifiStatus,
			SSID:       snap.Network.SSID,
		}
	}

	return inner
}

// FormatJSON returns the indented JSON status for the web endpoint.
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
