package events

import "errors"

var (
	// ErrDisabled is returned by Connect when MQTT publishing is turned off.
	ErrDisabled = errors.New("mqtt publishing disabled")
	// ErrConnectionFailed wraps broker connection failures.
	ErrConnectionFailed = errors.New("mqtt connection failed")
	// ErrPublishTimeout is returned when the broker does not acknowledge in time.
	ErrPublishTimeout = errors.New("mqtt publish timed out")
)
