package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/citro80/core/metrics"
	"github.com/kilianp07/citro80/infra/logger"
)

// InfluxSink writes charge-kill events to an InfluxDB instance using the
// official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.Sink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordDecision writes one evaluation as a point.
func (s *InfluxSink) RecordDecision(ev coremetrics.DecisionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("charge_decision").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("outcome", ev.Outcome).
		AddField("threshold", ev.Threshold).
		AddField("charging", ev.Charging).
		AddField("fully_charged", ev.FullyCharged).
		SetTime(ev.Time)
	if ev.BatteryLevel != nil {
		p = p.AddField("battery_level", *ev.BatteryLevel)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordAction writes a dispatched or reused stop action.
func (s *InfluxSink) RecordAction(ev coremetrics.ActionEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("charge_action").
		AddTag("vehicle_id", ev.VehicleID).
		AddTag("state", ev.State.String()).
		AddTag("reused", strconv.FormatBool(ev.Reused)).
		AddField("action_id", ev.ActionID).
		AddField("deactivated", ev.Deactivated).
		SetTime(ev.Time)
	if ev.BatteryLevel != nil {
		p = p.AddField("battery_level", *ev.BatteryLevel)
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordTick writes the active-set size of a scheduler pass.
func (s *InfluxSink) RecordTick(ev coremetrics.TickEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	p := write.NewPointWithMeasurement("chargekill_tick").
		AddTag("component", "scheduler").
		AddField("active_vehicles", ev.ActiveVehicles).
		AddField("enqueued", ev.Enqueued).
		SetTime(ev.Time)
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the client.
func (s *InfluxSink) Close() { s.client.Close() }
