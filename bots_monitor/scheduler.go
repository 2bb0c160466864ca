// Package bot runs the per-bot update loops: one repeating timer per active bot
// and a tick that resolves the bot's value on-chain and persists it.
package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/models"
	"cryptobotics/internal/storage"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrBotNotFound     = errors.New("bot not found")
	ErrSchedulerClosed = errors.New("scheduler is shut down")
)

const (
	DefaultFirstTickDelay = 100 * time.Millisecond
	DefaultTickTimeout    = 60 * time.Second
	lifecycleTimeout      = 10 * time.Second
)

// Chain is the subset of the blockchain client a tick needs.
type Chain interface {
	GetPairPrice(ctx context.Context, network, pair string) (decimal.Decimal, error)
	GetTokenSupply(ctx context.Context, network, token string) (string, error)
	GetTokenBalance(ctx context.Context, network, token, wallet string) (string, error)
	CallContractFunction(ctx context.Context, network, contract, selector string, args []any) (string, error)
}

type BotStore interface {
	GetBot(ctx context.Context, id int64) (*models.Bot, error)
	ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]*models.Bot, error)
	UpdateBot(ctx context.Context, id int64, upd models.BotUpdate) (*models.Bot, error)
	DeleteBot(ctx context.Context, id int64) (bool, error)
}

type StatsStore interface {
	AdjustActiveBots(ctx context.Context, delta int64) error
	UpdatePlatformStats(ctx context.Context, upd models.StatsUpdate) (*models.PlatformStats, error)
}

type Options struct {
	Store    BotStore
	Stats    StatsStore
	Chain    Chain
	Alerts   AlertSource
	Notifier Notifier
	History  *History
	Clock    Clock

	FirstTickDelay time.Duration
	TickTimeout    time.Duration
}

type registration struct {
	botID    int64
	interval time.Duration
	every    Timer
	first    Timer
	busy     bool // guarded by Scheduler.mu

	// persistMu serializes a tick's write with stop/delete of the same bot.
	persistMu sync.Mutex
}

// Scheduler owns the timer registry. Lifecycle calls are serialized by opMu,
// which is always taken before a registration's persistMu.
type Scheduler struct {
	store    BotStore
	stats    StatsStore
	chain    Chain
	alerts   AlertSource
	notifier Notifier
	history  *History
	clock    Clock

	firstTickDelay time.Duration
	tickTimeout    time.Duration

	opMu   sync.Mutex
	closed bool // guarded by opMu

	mu     sync.Mutex
	timers map[int64]*registration

	baseCtx context.Context
	cancel  context.CancelFunc
}

func NewScheduler(opts Options) *Scheduler {
	if opts.Clock == nil {
		opts.Clock = RealClock{}
	}
	if opts.Alerts == nil {
		opts.Alerts = PlaceholderAlerts{}
	}
	if opts.FirstTickDelay <= 0 {
		opts.FirstTickDelay = DefaultFirstTickDelay
	}
	if opts.TickTimeout <= 0 {
		opts.TickTimeout = DefaultTickTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:          opts.Store,
		stats:          opts.Stats,
		chain:          opts.Chain,
		alerts:         opts.Alerts,
		notifier:       opts.Notifier,
		history:        opts.History,
		clock:          opts.Clock,
		firstTickDelay: opts.FirstTickDelay,
		tickTimeout:    opts.TickTimeout,
		timers:         make(map[int64]*registration),
		baseCtx:        ctx,
		cancel:         cancel,
	}
}

// Running reports whether the bot has a live timer.
func (s *Scheduler) Running(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Start activates a bot. Starting an already active bot returns it unchanged.
func (s *Scheduler) Start(ctx context.Context, id int64) (*models.Bot, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	return s.startLocked(ctx, id)
}

// Stop pauses a bot. Stopping a bot without a timer only writes the status.
func (s *Scheduler) Stop(ctx context.Context, id int64) (*models.Bot, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	return s.stopLocked(ctx, id)
}

// Restart is Stop followed by Start under one lock.
func (s *Scheduler) Restart(ctx context.Context, id int64) (*models.Bot, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return nil, ErrSchedulerClosed
	}
	if _, err := s.stopLocked(ctx, id); err != nil {
		return nil, err
	}
	return s.startLocked(ctx, id)
}

// Reschedule reinstalls the timer of an active bot so a changed update
// frequency takes effect. Inactive bots are left alone.
func (s *Scheduler) Reschedule(ctx context.Context, id int64) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}

	bot, err := s.getBot(ctx, id)
	if err != nil {
		return err
	}
	if bot.Status != models.StatusActive {
		return nil
	}
	s.quiesce(id)
	s.register(bot)
	log.LogInfo("Bot rescheduled",
		zap.Int64("botID", id),
		zap.Duration("interval", bot.UpdateFrequency.Interval()))
	return nil
}

// Delete stops the bot if needed and removes its record. No tick writes
// to the bot once Delete has returned.
func (s *Scheduler) Delete(ctx context.Context, id int64) (bool, error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	bot, err := s.getBot(ctx, id)
	if err != nil {
		return false, err
	}
	if bot.Status == models.StatusActive {
		if _, err := s.stopLocked(ctx, id); err != nil {
			return false, err
		}
	} else {
		s.quiesce(id)
	}

	ok, err := s.store.DeleteBot(ctx, id)
	if err != nil {
		return false, fmt.Errorf("delete bot %d: %w", id, err)
	}
	if s.history != nil {
		s.history.Remove(id)
	}
	log.LogInfo("Bot deleted", zap.Int64("botID", id))
	return ok, nil
}

// Resume registers timers for bots persisted as active, e.g. after a restart,
// and reconciles the active-bot counter with what is actually scheduled.
func (s *Scheduler) Resume(ctx context.Context) (int, error) {
	bots, err := s.store.ListBotsByStatus(ctx, models.StatusActive)
	if err != nil {
		return 0, fmt.Errorf("list active bots: %w", err)
	}

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed {
		return 0, ErrSchedulerClosed
	}
	for _, b := range bots {
		if !s.Running(b.ID) {
			s.register(b)
		}
	}

	n := int64(len(bots))
	if s.stats != nil {
		if _, err := s.stats.UpdatePlatformStats(ctx, models.StatsUpdate{ActiveBots: &n}); err != nil {
			log.LogWarn("Failed to reconcile active bot count", zap.Error(err))
		}
	}
	log.LogInfo("Bots resumed", zap.Int("count", len(bots)))
	return len(bots), nil
}

// Shutdown cancels every timer and in-flight tick. Persisted statuses are kept
// so Resume can pick the bots up again. Afterwards Start, Restart, Reschedule
// and Resume fail with ErrSchedulerClosed.
func (s *Scheduler) Shutdown() {
	s.cancel()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.closed = true

	s.mu.Lock()
	regs := make([]*registration, 0, len(s.timers))
	for id, reg := range s.timers {
		regs = append(regs, reg)
		delete(s.timers, id)
	}
	s.mu.Unlock()

	for _, reg := range regs {
		reg.stopTimers()
	}
	log.LogInfo("Scheduler stopped", zap.Int("timers", len(regs)))
}

func (s *Scheduler) startLocked(ctx context.Context, id int64) (*models.Bot, error) {
	bot, err := s.getBot(ctx, id)
	if err != nil {
		return nil, err
	}

	if bot.Status == models.StatusActive {
		if !s.Running(id) {
			s.register(bot)
		}
		return bot, nil
	}

	updated, err := s.setStatus(ctx, id, models.StatusActive)
	if err != nil {
		return nil, err
	}
	s.register(updated)
	s.adjustActive(ctx, 1)

	log.LogInfo("Bot started",
		zap.Int64("botID", id),
		zap.String("type", string(updated.Type)),
		zap.Duration("interval", updated.UpdateFrequency.Interval()))
	return updated, nil
}

func (s *Scheduler) stopLocked(ctx context.Context, id int64) (*models.Bot, error) {
	bot, err := s.getBot(ctx, id)
	if err != nil {
		return nil, err
	}

	s.quiesce(id)

	updated, err := s.setStatus(ctx, id, models.StatusPaused)
	if err != nil {
		return nil, err
	}
	if bot.Status == models.StatusActive {
		s.adjustActive(ctx, -1)
	}

	log.LogInfo("Bot stopped", zap.Int64("botID", id))
	return updated, nil
}

// quiesce removes the timer and waits for an in-flight write to finish.
func (s *Scheduler) quiesce(id int64) {
	if reg := s.deregister(id); reg != nil {
		reg.persistMu.Lock()
		reg.persistMu.Unlock() //nolint:staticcheck // barrier
	}
}

func (s *Scheduler) register(bot *models.Bot) {
	reg := &registration{
		botID:    bot.ID,
		interval: bot.UpdateFrequency.Interval(),
	}

	s.mu.Lock()
	old := s.timers[bot.ID]
	s.timers[bot.ID] = reg
	s.mu.Unlock()
	if old != nil {
		old.stopTimers()
	}

	reg.every = s.clock.Every(reg.interval, func() { s.tick(reg) })
	reg.first = s.clock.AfterFunc(s.firstTickDelay, func() { s.tick(reg) })
}

func (s *Scheduler) deregister(id int64) *registration {
	s.mu.Lock()
	reg, ok := s.timers[id]
	if ok {
		delete(s.timers, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	reg.stopTimers()
	return reg
}

func (s *Scheduler) isCurrent(reg *registration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timers[reg.botID] == reg
}

func (r *registration) stopTimers() {
	if r.every != nil {
		r.every.Stop()
	}
	if r.first != nil {
		r.first.Stop()
	}
}

func (s *Scheduler) getBot(ctx context.Context, id int64) (*models.Bot, error) {
	bot, err := s.store.GetBot(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrBotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bot %d: %w", id, err)
	}
	return bot, nil
}

func (s *Scheduler) setStatus(ctx context.Context, id int64, status models.BotStatus) (*models.Bot, error) {
	bot, err := s.store.UpdateBot(ctx, id, models.StatusUpdate(status))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrBotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("set bot %d status %s: %w", id, status, err)
	}
	return bot, nil
}

func (s *Scheduler) adjustActive(ctx context.Context, delta int64) {
	if s.stats == nil {
		return
	}
	if err := s.stats.AdjustActiveBots(ctx, delta); err != nil {
		log.LogWarn("Failed to adjust active bot count", zap.Int64("delta", delta), zap.Error(err))
	}
}

func (s *Scheduler) lifecycleContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.baseCtx, lifecycleTimeout)
}
