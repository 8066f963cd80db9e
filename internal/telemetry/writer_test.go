package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CaioWing/Fiscus/internal/config"
	"github.com/CaioWing/Fiscus/internal/domain"
)

type capturePoints struct {
	points []*write.Point
}

func (c *capturePoints) WritePoint(p *write.Point) {
	c.points = append(c.points, p)
}

func sampleEvent() domain.ActionEvent {
	return domain.ActionEvent{
		DeviceID:            uuid.MustParse("22222222-2222-2222-2222-222222222222"),
		CompanyID:           uuid.MustParse("11111111-1111-1111-1111-111111111111"),
		Action:              domain.AuditActionCloseDay,
		Status:              domain.AuditStatusSuccess,
		LastFiscalDayNo:     5,
		LastReceiptGlobalNo: 100,
		DurationMS:          340,
		OccurredAt:          time.Unix(1700000000, 0),
	}
}

func TestPoint(t *testing.T) {
	line := write.PointToLineProtocol(Point(sampleEvent()), time.Second)

	assert.Contains(t, line, "fdms_actions,")
	assert.Contains(t, line, "action=fdms.close_day")
	assert.Contains(t, line, "company_id=11111111-1111-1111-1111-111111111111")
	assert.Contains(t, line, "device_id=22222222-2222-2222-2222-222222222222")
	assert.Contains(t, line, "status=success")
	assert.Contains(t, line, "duration_ms=340i")
	assert.Contains(t, line, "last_fiscal_day_no=5i")
	assert.Contains(t, line, "last_receipt_global_no=100i")
	assert.Contains(t, line, " 1700000000")
}

func TestObserveAction_QueuesPoint(t *testing.T) {
	capture := &capturePoints{}
	w := &Writer{points: capture, log: slog.New(slog.NewTextHandler(io.Discard, nil))}

	require.NoError(t, w.ObserveAction(context.Background(), sampleEvent()))
	require.Len(t, capture.points, 1)
	assert.Equal(t, "fdms_actions", capture.points[0].Name())

	w.Close()
}

func TestConnect_Disabled(t *testing.T) {
	_, err := Connect(config.InfluxDBConfig{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.ErrorIs(t, err, ErrDisabled)
}
