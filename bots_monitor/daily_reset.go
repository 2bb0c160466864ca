package bot

import (
	"context"
	"sync"
	"time"

	log "cryptobotics/internal/infra/log"

	"go.uber.org/zap"
)

type DailyResetter interface {
	ResetDailyRPCCalls(ctx context.Context, at time.Time) error
}

// DailyReset zeroes the daily RPC counter at every local midnight.
type DailyReset struct {
	clock Clock
	stats DailyResetter
	loc   *time.Location

	mu      sync.Mutex
	timer   Timer
	stopped bool
}

func NewDailyReset(clock Clock, stats DailyResetter, loc *time.Location) *DailyReset {
	if clock == nil {
		clock = RealClock{}
	}
	if loc == nil {
		loc = time.Local
	}
	return &DailyReset{clock: clock, stats: stats, loc: loc}
}

// NextMidnight returns the first midnight in loc strictly after now.
func NextMidnight(now time.Time, loc *time.Location) time.Time {
	now = now.In(loc)
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, loc)
}

func (d *DailyReset) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = false
	d.scheduleLocked()
}

func (d *DailyReset) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *DailyReset) scheduleLocked() {
	now := d.clock.Now()
	next := NextMidnight(now, d.loc)
	delay := next.Sub(now)
	d.timer = d.clock.AfterFunc(delay, d.run)
	log.LogInfo("Daily RPC reset scheduled",
		zap.Time("next", next),
		zap.Duration("delay", delay))
}

func (d *DailyReset) run() {
	ctx, cancel := context.WithTimeout(context.Background(), lifecycleTimeout)
	defer cancel()

	now := d.clock.Now()
	if err := d.stats.ResetDailyRPCCalls(ctx, now); err != nil {
		log.LogError("Failed to reset daily RPC calls", zap.Error(err))
	} else {
		log.LogInfo("Daily RPC calls reset", zap.Time("at", now))
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.scheduleLocked()
}
