// Package telemetry writes fiscal action outcomes to InfluxDB as a time
// series. Writes are batched and never block the caller.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/CaioWing/Fiscus/internal/config"
	"github.com/CaioWing/Fiscus/internal/domain"
)

const (
	measurement    = "fdms_actions"
	connectTimeout = 10 * time.Second
)

type pointWriter interface {
	WritePoint(point *write.Point)
}

type Writer struct {
	points pointWriter
	client influxdb2.Client
	flush  func()
	log    *slog.Logger
}

// Connect pings the server and starts a non-blocking write API for the
// configured bucket. Async write errors are logged.
func Connect(cfg config.InfluxDBConfig, log *slog.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flushInterval.Milliseconds())))

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			log.Warn("influxdb write failed", "err", err)
		}
	}()

	return &Writer{points: writeAPI, client: client, flush: writeAPI.Flush, log: log}, nil
}

// Point converts an action event into an fdms_actions point.
func Point(e domain.ActionEvent) *write.Point {
	ts := e.OccurredAt
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(
		measurement,
		map[string]string{
			"company_id": e.CompanyID.String(),
			"device_id":  e.DeviceID.String(),
			"action":     string(e.Action),
			"status":     string(e.Status),
		},
		map[string]interface{}{
			"duration_ms":            e.DurationMS,
			"last_fiscal_day_no":     e.LastFiscalDayNo,
			"last_receipt_global_no": e.LastReceiptGlobalNo,
		},
		ts,
	)
}

// ObserveAction queues the event for the next batch.
func (w *Writer) ObserveAction(_ context.Context, e domain.ActionEvent) error {
	w.points.WritePoint(Point(e))
	return nil
}

// Close flushes pending points and releases the client.
func (w *Writer) Close() {
	if w.flush != nil {
		w.flush()
	}
	if w.client != nil {
		w.client.Close()
	}
	w.log.Info("influxdb writer closed")
}
