package metrics

import (
	"context"
	"net/http"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/wodeewa/fleetd/core/metrics"
	"github.com/wodeewa/fleetd/core/model"
	"github.com/wodeewa/fleetd/infra/logger"
)

// InfluxConfig defines the optional InfluxDB telemetry sink.
type InfluxConfig struct {
	Enabled bool   `json:"enabled"`
	URL     string `json:"url"`
	Token   string `json:"token"`
	Org     string `json:"org"`
	Bucket  string `json:"bucket"`
}

// InfluxSink writes accepted unit telemetry to InfluxDB using the official
// client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopTelemetry if the health check fails, so a down Influx never blocks
// ingest.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.TelemetrySink {
	sink := NewInfluxSink(cfg)
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
		return coremetrics.NopTelemetry{}
	}
	return sink
}

func (s *InfluxSink) WriteLocation(ctx context.Context, rec model.UnitLocation) error {
	p := write.NewPointWithMeasurement("unit_location").
		AddTag("unit", rec.Unit).
		AddField("lat", rec.Lat).
		AddField("lon", rec.Lon).
		AddField("heading", rec.Heading).
		AddField("speed", rec.Speed).
		SetTime(time.Unix(rec.Time, 0))
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) WriteBattery(ctx context.Context, rec model.UnitBattery) error {
	p := write.NewPointWithMeasurement("unit_battery").
		AddTag("unit", rec.Unit).
		AddField("level", rec.Level).
		SetTime(time.Unix(rec.Time, 0))
	return s.writeAPI.WritePoint(ctx, p)
}

func (s *InfluxSink) WriteStatus(ctx context.Context, rec model.UnitStatusRecord) error {
	p := write.NewPointWithMeasurement("unit_status").
		AddTag("unit", rec.Unit).
		AddTag("status", string(rec.Status)).
		AddField("user", rec.User).
		SetTime(time.Unix(rec.Time, 0))
	return s.writeAPI.WritePoint(ctx, p)
}

// Close releases the underlying HTTP client.
func (s *InfluxSink) Close() { s.client.Close() }
