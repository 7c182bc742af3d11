package catalog

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher drives AdvertiseLocalTables on a periodic timer, grounded on
// the teacher's cron.Cron(WithSeconds()) scheduler idiom rather than a bare
// time.Ticker, so the refresh cadence can be expressed and reasoned about
// in cron syntax (spec §4.1 default: every 30 seconds).
type Refresher struct {
	cat      *Catalog
	logger   *zap.Logger
	cron     *cron.Cron
	entryID  cron.EntryID
	mu       sync.Mutex
	running  bool
}

func NewRefresher(cat *Catalog, logger *zap.Logger) *Refresher {
	return &Refresher{
		cat:    cat,
		logger: logger,
		cron:   cron.New(cron.WithSeconds()),
	}
}

// secondsSpec renders an interval as a cron "every N seconds" spec.
func secondsSpec(seconds int) string {
	if seconds <= 0 {
		seconds = 30
	}
	return fmt.Sprintf("@every %ds", seconds)
}

// StartCatalogRefresh runs AdvertiseLocalTables immediately and then on the
// given interval until StopCatalogRefresh is called.
func (r *Refresher) StartCatalogRefresh(ctx context.Context, intervalSeconds int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("internal: catalog refresh already running")
	}

	if err := r.cat.AdvertiseLocalTables(ctx); err != nil {
		r.logger.Warn("catalog: initial advertise failed", zap.Error(err))
	}

	id, err := r.cron.AddFunc(secondsSpec(intervalSeconds), func() {
		if err := r.cat.AdvertiseLocalTables(ctx); err != nil {
			r.logger.Warn("catalog: periodic advertise failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("internal: invalid refresh schedule: %w", err)
	}
	r.entryID = id
	r.cron.Start()
	r.running = true
	return nil
}

// StopCatalogRefresh stops the timer and removes this node's catalog keys.
func (r *Refresher) StopCatalogRefresh() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.cron.Stop()
	r.cat.StopCatalogRefresh()
	r.running = false
}
