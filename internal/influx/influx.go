// Package influx records valve events as InfluxDB points.
package influx

import (
	"context"
	"fmt"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"

	"github.com/sweeney/valve-panel/internal/config"
	"github.com/sweeney/valve-panel/internal/logger"
	"github.com/sweeney/valve-panel/internal/valve"
)

// Measurement is the point name written for every valve event.
const Measurement = "valve_event"

// Sink writes one point per valve event using the non-blocking write API.
type Sink struct {
	client influxdb2.Client
	writer api.WriteApi
}

// New creates a Sink for cfg. Write errors are logged from a background
// goroutine until Close.
func New(cfg config.Influx) (*Sink, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("influx: url is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("influx: bucket is required")
	}
	return newSink(influxdb2.NewClient(cfg.URL, cfg.Token), cfg.Org, cfg.Bucket), nil
}

func newSink(client influxdb2.Client, org, bucket string) *Sink {
	s := &Sink{
		client: client,
		writer: client.WriteApi(org, bucket),
	}

	errorsCh := s.writer.Errors()
	go func() {
		for err := range errorsCh {
			logger.ErrorKV(context.Background(), "Influx write failed", "error", err)
		}
	}()
	return s
}

// Notify implements valve.Notifier.
func (s *Sink) Notify(_ context.Context, ev valve.Event) {
	tags, fields := tagsAndFields(ev)
	s.writer.WritePoint(influxdb2.NewPoint(Measurement, tags, fields, ev.Time))
}

// Close flushes pending points and releases the client.
func (s *Sink) Close() error {
	s.writer.Close()
	s.client.Close()
	return nil
}

func tagsAndFields(ev valve.Event) (map[string]string, map[string]interface{}) {
	tags := map[string]string{
		"valve": ev.Valve.Name,
		"kind":  string(ev.Kind),
	}
	fields := map[string]interface{}{
		"open":   ev.Valve.Open,
		"locked": ev.Valve.Locked,
		"index":  ev.Valve.Index,
	}
	return tags, fields
}
