package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/CaioWing/Fiscus/internal/domain"
)

type fakeFetcher struct {
	mu      sync.Mutex
	seen    map[uuid.UUID]int
	actors  map[string]int
	fail    map[uuid.UUID]bool
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		seen:   make(map[uuid.UUID]int),
		actors: make(map[string]int),
		fail:   make(map[uuid.UUID]bool),
	}
}

func (f *fakeFetcher) Status(_ context.Context, id uuid.UUID, actor domain.Actor) (*ActionResult, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	f.mu.Lock()
	f.seen[id]++
	f.actors[actor.ID]++
	fail := f.fail[id]
	f.mu.Unlock()

	if fail {
		return nil, errors.New("fdms unreachable")
	}
	return &ActionResult{Action: domain.AuditActionStatus}, nil
}

func TestStatusPoller_PollOnce(t *testing.T) {
	repo := newMockDeviceRepo()
	var failing uuid.UUID
	for i := 0; i < 8; i++ {
		d := repo.put(closedDevice(int64(i)))
		if i == 0 {
			failing = d.ID
		}
	}
	repo.put(&domain.Device{CompanyID: uuid.New(), FiscalDayStatus: domain.FiscalDayUnregistered})

	fetcher := newFakeFetcher()
	fetcher.fail[failing] = true
	poller := NewStatusPoller(repo, fetcher, 3, discardLogger())

	summary := poller.PollOnce(context.Background())

	if summary.Devices != 8 || summary.Succeeded != 7 || summary.Failed != 1 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	for id, n := range fetcher.seen {
		if n != 1 {
			t.Fatalf("device %s fetched %d times", id, n)
		}
	}
	if got := fetcher.maxSeen.Load(); got > 3 {
		t.Fatalf("concurrency limit exceeded: %d", got)
	}
	if fetcher.actors["system:poller"] != 8 {
		t.Fatalf("expected all fetches as system:poller, got %v", fetcher.actors)
	}
}

func TestStatusPoller_StopsOnCancel(t *testing.T) {
	repo := newMockDeviceRepo()
	repo.put(closedDevice(1))
	poller := NewStatusPoller(repo, newFakeFetcher(), 1, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.StartScheduler(ctx, time.Millisecond)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}
