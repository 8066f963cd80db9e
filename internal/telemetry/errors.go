package telemetry

import "errors"

var (
	// ErrDisabled is returned by Connect when InfluxDB is turned off.
	ErrDisabled = errors.New("influxdb telemetry disabled")
	// ErrConnectionFailed wraps ping failures at startup.
	ErrConnectionFailed = errors.New("influxdb connection failed")
)
