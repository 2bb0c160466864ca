package bot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"cryptobotics/internal/models"
	"cryptobotics/internal/storage"

	"github.com/shopspring/decimal"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeChain struct {
	mu       sync.Mutex
	calls    int
	supply   func() (string, error)
	balance  func() (string, error)
	price    func() (decimal.Decimal, error)
	contract func(selector string) (string, error)
}

func (c *fakeChain) hit() {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
}

func (c *fakeChain) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeChain) GetPairPrice(context.Context, string, string) (decimal.Decimal, error) {
	c.hit()
	return c.price()
}

func (c *fakeChain) GetTokenSupply(context.Context, string, string) (string, error) {
	c.hit()
	return c.supply()
}

func (c *fakeChain) GetTokenBalance(context.Context, string, string, string) (string, error) {
	c.hit()
	return c.balance()
}

func (c *fakeChain) CallContractFunction(_ context.Context, _, _, selector string, _ []any) (string, error) {
	c.hit()
	return c.contract(selector)
}

// countingStore counts value writes made by ticks.
type countingStore struct {
	*storage.MemoryStore
	valueWrites atomic.Int64
}

func (s *countingStore) UpdateBot(ctx context.Context, id int64, upd models.BotUpdate) (*models.Bot, error) {
	if upd.LastValue != nil {
		s.valueWrites.Add(1)
	}
	return s.MemoryStore.UpdateBot(ctx, id, upd)
}

type harness struct {
	clock   *fakeClock
	store   *countingStore
	chain   *fakeChain
	sched   *Scheduler
	history *History
	updates []Update
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock: newFakeClock(t0),
		store: &countingStore{MemoryStore: storage.NewMemoryStore(storage.WithNow(func() time.Time { return t0 }))},
		chain: &fakeChain{
			supply:   func() (string, error) { return "1000000000000000000000", nil },
			balance:  func() (string, error) { return "2500000", nil },
			price:    func() (decimal.Decimal, error) { return decimal.NewFromInt(1500), nil },
			contract: func(string) (string, error) { return "0x2a", nil },
		},
	}
	hist, err := NewHistory(16, 8)
	if err != nil {
		t.Fatal(err)
	}
	h.history = hist
	var mu sync.Mutex
	h.sched = NewScheduler(Options{
		Store:   h.store,
		Stats:   h.store,
		Chain:   h.chain,
		Clock:   h.clock,
		History: hist,
		Notifier: NotifierFunc(func(_ context.Context, u Update) error {
			mu.Lock()
			h.updates = append(h.updates, u)
			mu.Unlock()
			return nil
		}),
	})
	t.Cleanup(h.sched.Shutdown)
	return h
}

func (h *harness) createBot(t *testing.T, b *models.Bot) *models.Bot {
	t.Helper()
	if b.Network == "" {
		b.Network = models.NetworkEthereum
	}
	if b.UpdateFrequency == "" {
		b.UpdateFrequency = models.Frequency60
	}
	created, err := h.store.CreateBot(context.Background(), b)
	if err != nil {
		t.Fatal(err)
	}
	return created
}

func (h *harness) bot(t *testing.T, id int64) *models.Bot {
	t.Helper()
	b, err := h.store.GetBot(context.Background(), id)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func (h *harness) activeBots(t *testing.T) int64 {
	t.Helper()
	st, err := h.store.GetPlatformStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return st.ActiveBots
}

func supplyBot() *models.Bot {
	return &models.Bot{
		Name:         "Supply",
		Type:         models.BotTypeStandard,
		TokenAddress: "0x1111111111111111111111111111111111111111",
		Configuration: models.Configuration{
			"metricType": models.MetricSupply,
			"decimals":   float64(18),
		},
	}
}

func TestStartTwiceKeepsOneTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBot(t, supplyBot())

	if _, err := h.sched.Start(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	again, err := h.sched.Start(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != models.StatusActive {
		t.Fatalf("status: got %s", again.Status)
	}
	if got := h.clock.repeating(); len(got) != 1 || got[0] != 60*time.Second {
		t.Fatalf("repeating timers: %v", got)
	}
	if got := h.activeBots(t); got != 1 {
		t.Fatalf("active bots: got %d want 1", got)
	}
}

func TestSupplyTickPersistsFormattedValue(t *testing.T) {
	h := newHarness(t)
	b := h.createBot(t, supplyBot())
	if _, err := h.sched.Start(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(DefaultFirstTickDelay)

	got := h.bot(t, b.ID)
	if got.LastValue != "1,000" {
		t.Fatalf("lastValue: got %q want %q", got.LastValue, "1,000")
	}
	if got.LastUpdated == nil || !got.LastUpdated.Equal(t0.Add(DefaultFirstTickDelay)) {
		t.Fatalf("lastUpdated: got %v", got.LastUpdated)
	}
	if len(h.updates) != 1 || h.updates[0].Value != "1,000" {
		t.Fatalf("published updates: %+v", h.updates)
	}
	if samples := h.history.Samples(b.ID); len(samples) != 1 {
		t.Fatalf("history samples: %d", len(samples))
	}
}

func TestCustomRPCTemplate(t *testing.T) {
	h := newHarness(t)
	b := h.createBot(t, &models.Bot{
		Name:         "Custom",
		Type:         models.BotTypeCustomRPC,
		TokenAddress: "0x1111111111111111111111111111111111111111",
		Configuration: models.Configuration{
			"functionSignature": "0x18160ddd",
			"formatter":         "Total: {result}",
		},
	})
	if _, err := h.sched.Start(context.Background(), b.ID); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(DefaultFirstTickDelay)

	if got := h.bot(t, b.ID).LastValue; got != "Total: 0x2a" {
		t.Fatalf("lastValue: got %q", got)
	}
}

func TestTickValues(t *testing.T) {
	token := "0x1111111111111111111111111111111111111111"
	tests := []struct {
		name string
		bot  *models.Bot
		want string
	}{
		{
			name: "price",
			bot: &models.Bot{Type: models.BotTypeStandard, TokenAddress: token, Configuration: models.Configuration{
				"metricType": "price", "pairAddress": "0x2222222222222222222222222222222222222222",
			}},
			want: "1500.00",
		},
		{
			name: "balance",
			bot: &models.Bot{Type: models.BotTypeStandard, TokenAddress: token, Configuration: models.Configuration{
				"metricType": "balance", "walletAddress": "0x3333333333333333333333333333333333333333", "decimals": "6",
			}},
			want: "2.5",
		},
		{
			name: "whale",
			bot:  &models.Bot{Type: models.BotTypeAlertWhale},
			want: "Monitoring for whale transactions",
		},
		{
			name: "buy",
			bot:  &models.Bot{Type: models.BotTypeAlertBuy},
			want: "Monitoring for buy transactions",
		},
		{
			name: "whale with threshold",
			bot: &models.Bot{Type: models.BotTypeAlertWhale, Configuration: models.Configuration{
				"threshold": "1000", "minAmount": "1000",
			}},
			want: "Monitoring for whale transactions above 1000",
		},
		{
			name: "buy with numeric threshold",
			bot:  &models.Bot{Type: models.BotTypeAlertBuy, Configuration: models.Configuration{"threshold": float64(250)}},
			want: "Monitoring for buy transactions above 250",
		},
		{
			name: "custom without formatter",
			bot: &models.Bot{Type: models.BotTypeCustomRPC, TokenAddress: token, Configuration: models.Configuration{
				"functionSignature": "0x18160ddd",
			}},
			want: "0x2a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			b := h.createBot(t, tt.bot)
			if _, err := h.sched.Start(context.Background(), b.ID); err != nil {
				t.Fatal(err)
			}
			h.clock.Advance(DefaultFirstTickDelay)
			if got := h.bot(t, b.ID).LastValue; got != tt.want {
				t.Fatalf("lastValue: got %q want %q", got, tt.want)
			}
		})
	}
}

func TestTickWithoutRequiredConfigWritesNothing(t *testing.T) {
	token := "0x1111111111111111111111111111111111111111"
	bots := map[string]*models.Bot{
		"standard without token":  {Type: models.BotTypeStandard, Configuration: models.Configuration{"metricType": "supply"}},
		"price without pair":      {Type: models.BotTypeStandard, TokenAddress: token, Configuration: models.Configuration{"metricType": "price"}},
		"balance without wallet":  {Type: models.BotTypeStandard, TokenAddress: token, Configuration: models.Configuration{"metricType": "balance"}},
		"custom without selector": {Type: models.BotTypeCustomRPC, TokenAddress: token},
	}

	for name, b := range bots {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t)
			created := h.createBot(t, b)
			if _, err := h.sched.Start(context.Background(), created.ID); err != nil {
				t.Fatal(err)
			}
			h.clock.Advance(2 * time.Minute)

			if n := h.store.valueWrites.Load(); n != 0 {
				t.Fatalf("value writes: got %d want 0", n)
			}
			if h.chain.Calls() != 0 {
				t.Fatalf("chain calls: got %d want 0", h.chain.Calls())
			}
			if got := h.bot(t, created.ID).Status; got != models.StatusActive {
				t.Fatalf("status: got %s", got)
			}
		})
	}
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBot(t, supplyBot())
	if _, err := h.sched.Start(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 2; i++ {
		stopped, err := h.sched.Stop(ctx, b.ID)
		if err != nil {
			t.Fatalf("stop #%d: %v", i+1, err)
		}
		if stopped.Status != models.StatusPaused {
			t.Fatalf("stop #%d status: got %s", i+1, stopped.Status)
		}
	}
	if h.sched.Running(b.ID) {
		t.Fatal("timer still registered")
	}
	if got := h.activeBots(t); got != 0 {
		t.Fatalf("active bots: got %d want 0", got)
	}

	h.clock.Advance(5 * time.Minute)
	if h.chain.Calls() != 0 {
		t.Fatalf("chain calls after stop: %d", h.chain.Calls())
	}
}

func TestDeleteStopsWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBot(t, supplyBot())
	if _, err := h.sched.Start(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(DefaultFirstTickDelay)
	before := h.store.valueWrites.Load()

	ok, err := h.sched.Delete(ctx, b.ID)
	if err != nil || !ok {
		t.Fatalf("delete: ok=%v err=%v", ok, err)
	}

	h.clock.Advance(10 * time.Minute)
	if got := h.store.valueWrites.Load(); got != before {
		t.Fatalf("value writes after delete: got %d want %d", got, before)
	}
	if _, err := h.store.GetBot(ctx, b.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("bot still stored: %v", err)
	}
	if got := h.activeBots(t); got != 0 {
		t.Fatalf("active bots: got %d want 0", got)
	}
	if h.history.Samples(b.ID) != nil {
		t.Fatal("history kept for deleted bot")
	}
}

func TestLifecycleUnknownBot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.sched.Start(ctx, 404); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("start: got %v", err)
	}
	if _, err := h.sched.Stop(ctx, 404); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("stop: got %v", err)
	}
	if _, err := h.sched.Delete(ctx, 404); !errors.Is(err, ErrBotNotFound) {
		t.Fatalf("delete: got %v", err)
	}
}

func TestTickErrorMarksBotAndDropsTimer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.chain.supply = func() (string, error) { return "", errors.New("all endpoints failed") }
	b := h.createBot(t, supplyBot())
	if _, err := h.sched.Start(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(DefaultFirstTickDelay)

	if got := h.bot(t, b.ID).Status; got != models.StatusError {
		t.Fatalf("status: got %s want error", got)
	}
	if h.sched.Running(b.ID) {
		t.Fatal("timer still registered after error")
	}
	if got := h.activeBots(t); got != 0 {
		t.Fatalf("active bots: got %d want 0", got)
	}

	h.clock.Advance(5 * time.Minute)
	if got := h.chain.Calls(); got != 1 {
		t.Fatalf("chain calls: got %d want 1", got)
	}

	// Restart recovers an errored bot.
	h.chain.supply = func() (string, error) { return "1000000000000000000000", nil }
	restarted, err := h.sched.Restart(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if restarted.Status != models.StatusActive {
		t.Fatalf("status after restart: got %s", restarted.Status)
	}
	h.clock.Advance(DefaultFirstTickDelay)
	if got := h.bot(t, b.ID).LastValue; got != "1,000" {
		t.Fatalf("lastValue after restart: got %q", got)
	}
	if got := h.activeBots(t); got != 1 {
		t.Fatalf("active bots after restart: got %d want 1", got)
	}
}

func TestRescheduleUsesNewInterval(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBot(t, supplyBot())
	if _, err := h.sched.Start(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	h.clock.Advance(DefaultFirstTickDelay)
	if got := h.chain.Calls(); got != 1 {
		t.Fatalf("calls after first tick: %d", got)
	}

	freq := models.Frequency15
	if _, err := h.store.UpdateBot(ctx, b.ID, models.BotUpdate{UpdateFrequency: &freq}); err != nil {
		t.Fatal(err)
	}
	if err := h.sched.Reschedule(ctx, b.ID); err != nil {
		t.Fatal(err)
	}
	if got := h.clock.repeating(); len(got) != 1 || got[0] != 15*time.Second {
		t.Fatalf("repeating timers: %v", got)
	}

	// First tick of the new registration plus four 15s ticks; the old 60s timer is gone.
	h.clock.Advance(60 * time.Second)
	if got := h.chain.Calls(); got != 6 {
		t.Fatalf("calls: got %d want 6", got)
	}
}

func TestOverlappingTickIsSkipped(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBot(t, supplyBot())

	var nested bool
	h.chain.supply = func() (string, error) {
		if !nested {
			nested = true
			h.sched.mu.Lock()
			reg := h.sched.timers[b.ID]
			h.sched.mu.Unlock()
			h.sched.tick(reg)
		}
		return "1000000000000000000000", nil
	}
	if _, err := h.sched.Start(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	h.clock.Advance(DefaultFirstTickDelay)

	if got := h.chain.Calls(); got != 1 {
		t.Fatalf("chain calls: got %d want 1", got)
	}
	if got := h.store.valueWrites.Load(); got != 1 {
		t.Fatalf("value writes: got %d want 1", got)
	}
}

func TestResumeRegistersActiveBots(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	active := supplyBot()
	active.Status = models.StatusActive
	a := h.createBot(t, active)
	paused := supplyBot()
	paused.Status = models.StatusPaused
	p := h.createBot(t, paused)

	n, err := h.sched.Resume(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 || !h.sched.Running(a.ID) || h.sched.Running(p.ID) {
		t.Fatalf("resume: n=%d running(a)=%v running(p)=%v", n, h.sched.Running(a.ID), h.sched.Running(p.ID))
	}
	if got := h.activeBots(t); got != 1 {
		t.Fatalf("active bots: got %d want 1", got)
	}
}

func TestShutdownClearsTimersButKeepsStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBot(t, supplyBot())
	if _, err := h.sched.Start(ctx, b.ID); err != nil {
		t.Fatal(err)
	}

	h.sched.Shutdown()

	if h.sched.RunningCount() != 0 {
		t.Fatalf("running after shutdown: %d", h.sched.RunningCount())
	}
	if got := h.bot(t, b.ID).Status; got != models.StatusActive {
		t.Fatalf("status: got %s", got)
	}
	h.clock.Advance(5 * time.Minute)
	if h.chain.Calls() != 0 {
		t.Fatalf("chain calls after shutdown: %d", h.chain.Calls())
	}
}

func TestLifecycleAfterShutdown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	b := h.createBot(t, supplyBot())
	active := supplyBot()
	active.Status = models.StatusActive
	h.createBot(t, active)

	h.sched.Shutdown()

	if _, err := h.sched.Start(ctx, b.ID); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("start: got %v", err)
	}
	if _, err := h.sched.Restart(ctx, b.ID); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("restart: got %v", err)
	}
	if err := h.sched.Reschedule(ctx, b.ID); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("reschedule: got %v", err)
	}
	if _, err := h.sched.Resume(ctx); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("resume: got %v", err)
	}
	if h.sched.RunningCount() != 0 || len(h.clock.repeating()) != 0 {
		t.Fatalf("timers after shutdown: running=%d repeating=%v", h.sched.RunningCount(), h.clock.repeating())
	}
	if got := h.bot(t, b.ID).Status; got != models.StatusConfigured {
		t.Fatalf("status changed after shutdown: %s", got)
	}
}
