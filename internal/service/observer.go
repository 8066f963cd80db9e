package service

import (
	"context"

	"github.com/CaioWing/Fiscus/internal/domain"
)

// Observer is notified after every attempted fiscal action. Implementations
// publish events, write telemetry or update metrics.
type Observer interface {
	ObserveAction(ctx context.Context, event domain.ActionEvent) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event domain.ActionEvent) error

func (f ObserverFunc) ObserveAction(ctx context.Context, event domain.ActionEvent) error {
	return f(ctx, event)
}
