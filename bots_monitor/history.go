package bot

import (
	"strings"
	"sync"
	"time"

	"cryptobotics/internal/features/charts"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/shopspring/decimal"
)

// Sample is one stored tick value.
type Sample struct {
	At    time.Time `json:"at"`
	Value string    `json:"value"`
}

// History keeps the latest samples per bot. Bots themselves are evicted LRU.
type History struct {
	mu     sync.Mutex
	cache  *lru.Cache[int64, []Sample]
	perBot int
}

func NewHistory(maxBots, perBot int) (*History, error) {
	if maxBots <= 0 {
		maxBots = 1024
	}
	if perBot <= 0 {
		perBot = 256
	}
	cache, err := lru.New[int64, []Sample](maxBots)
	if err != nil {
		return nil, err
	}
	return &History{cache: cache, perBot: perBot}, nil
}

func (h *History) Add(botID int64, at time.Time, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	samples, _ := h.cache.Get(botID)
	samples = append(samples, Sample{At: at, Value: value})
	if len(samples) > h.perBot {
		samples = append([]Sample(nil), samples[len(samples)-h.perBot:]...)
	}
	h.cache.Add(botID, samples)
}

// Samples returns a copy, oldest first.
func (h *History) Samples(botID int64) []Sample {
	h.mu.Lock()
	defer h.mu.Unlock()
	samples, ok := h.cache.Peek(botID)
	if !ok {
		return nil
	}
	return append([]Sample(nil), samples...)
}

func (h *History) Remove(botID int64) {
	h.mu.Lock()
	h.cache.Remove(botID)
	h.mu.Unlock()
}

// Points keeps the numeric samples ("1,234.5" included) for charting.
func (h *History) Points(botID int64) []charts.Point {
	samples := h.Samples(botID)
	points := make([]charts.Point, 0, len(samples))
	for _, s := range samples {
		d, err := decimal.NewFromString(strings.ReplaceAll(s.Value, ",", ""))
		if err != nil {
			continue
		}
		points = append(points, charts.Point{At: s.At, Value: d.InexactFloat64()})
	}
	return points
}
