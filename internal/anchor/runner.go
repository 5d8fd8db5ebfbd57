package anchor

import (
	"context"
	"log"
	"sort"
	"time"
)

// Runner debounces refresh requests from authoring changes so a burst of
// edits produces one sync pass instead of one per edit.
type Runner struct {
	sync     *Synchronizer
	logger   *log.Logger
	debounce time.Duration

	queue chan []string
	all   chan struct{}
}

func NewRunner(s *Synchronizer, debounce time.Duration, logger *log.Logger) *Runner {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	return &Runner{
		sync:     s,
		logger:   logger,
		debounce: debounce,
		queue:    make(chan []string, 64),
		all:      make(chan struct{}, 1),
	}
}

// Enqueue schedules the locations for refresh after the debounce window.
func (r *Runner) Enqueue(locationIDs []string) {
	if len(locationIDs) == 0 {
		return
	}
	select {
	case r.queue <- locationIDs:
	default:
		// Queue saturated: fall back to a full refresh, which subsumes
		// whatever was dropped.
		r.RequestAll()
	}
}

// RequestAll schedules a full refresh.
func (r *Runner) RequestAll() {
	select {
	case r.all <- struct{}{}:
	default:
	}
}

func (r *Runner) Run(ctx context.Context) error {
	pending := map[string]bool{}
	pendingAll := false
	var timer *time.Timer
	var fire <-chan time.Time

	arm := func() {
		if fire == nil {
			timer = time.NewTimer(r.debounce)
			fire = timer.C
		}
	}

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ids := <-r.queue:
			for _, id := range ids {
				pending[id] = true
			}
			arm()
		case <-r.all:
			pendingAll = true
			arm()
		case <-fire:
			fire = nil
			timer = nil
			if pendingAll {
				pendingAll = false
				pending = map[string]bool{}
				if _, err := r.sync.SyncAll(ctx); err != nil && ctx.Err() == nil {
					r.logger.Printf("sync all: %v", err)
				}
				continue
			}
			ids := make([]string, 0, len(pending))
			for id := range pending {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			pending = map[string]bool{}
			if _, err := r.sync.Sync(ctx, ids); err != nil && ctx.Err() == nil {
				r.logger.Printf("sync %d locations: %v", len(ids), err)
			}
		}
	}
}
