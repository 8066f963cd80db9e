package service

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/CaioWing/Fiscus/internal/domain"
)

type statusFetcher interface {
	Status(ctx context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error)
}

// PollSummary counts the outcome of one polling round.
type PollSummary struct {
	Devices   int
	Succeeded int
	Failed    int
}

// StatusPoller periodically refreshes the cached fiscal state of every
// registered device.
type StatusPoller struct {
	devices     domain.DeviceRepository
	fetcher     statusFetcher
	concurrency int
	actor       domain.Actor
	log         *slog.Logger
}

func NewStatusPoller(devices domain.DeviceRepository, fetcher statusFetcher, concurrency int, log *slog.Logger) *StatusPoller {
	if concurrency < 1 {
		concurrency = 1
	}
	return &StatusPoller{
		devices:     devices,
		fetcher:     fetcher,
		concurrency: concurrency,
		actor:       domain.SystemActor("poller"),
		log:         log,
	}
}

// StartScheduler polls at the specified interval until ctx is done. Call in a
// goroutine. A round that outlasts the interval delays the next one.
func (p *StatusPoller) StartScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.log.Info("status poller started", "interval", interval, "concurrency", p.concurrency)

	for {
		select {
		case <-ctx.Done():
			p.log.Info("status poller stopped")
			return
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce fetches status for each registered device once, at most
// concurrency at a time. Individual failures are counted, not returned.
func (p *StatusPoller) PollOnce(ctx context.Context) PollSummary {
	devices, err := p.devices.ListRegistered(ctx)
	if err != nil {
		p.log.Warn("poller: failed to list registered devices", "err", err)
		return PollSummary{}
	}

	var ok, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.concurrency)

	for _, d := range devices {
		if ctx.Err() != nil {
			break
		}
		id := d.ID
		g.Go(func() error {
			if _, err := p.fetcher.Status(ctx, id, p.actor); err != nil {
				failed.Add(1)
				p.log.Debug("poller: status fetch failed", "id", id, "err", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary := PollSummary{
		Devices:   len(devices),
		Succeeded: int(ok.Load()),
		Failed:    int(failed.Load()),
	}
	p.log.Info("poller: round completed",
		"devices", summary.Devices,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
	)
	return summary
}
