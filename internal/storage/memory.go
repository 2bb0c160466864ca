package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"cryptobotics/internal/infra/fs"
	"cryptobotics/internal/models"
)

// MemoryStore keeps everything in process. Records handed out are copies.
type MemoryStore struct {
	mu         sync.RWMutex
	bots       map[int64]*models.Bot
	users      map[int64]*models.User
	stats      models.PlatformStats
	nextBotID  int64
	nextUserID int64
	now        func() time.Time
}

type MemoryOption func(*MemoryStore)

// WithNow overrides the clock used for timestamps.
func WithNow(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		bots:  make(map[int64]*models.Bot),
		users: make(map[int64]*models.User),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.stats.LastReset = s.now()
	return s
}

func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) GetBot(_ context.Context, id int64) (*models.Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, fmt.Errorf("bot %d: %w", id, ErrNotFound)
	}
	return cloneBot(b), nil
}

func (s *MemoryStore) listBots(keep func(*models.Bot) bool) []*models.Bot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Bot, 0, len(s.bots))
	for _, b := range s.bots {
		if keep(b) {
			out = append(out, cloneBot(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) ListBots(_ context.Context) ([]*models.Bot, error) {
	return s.listBots(func(*models.Bot) bool { return true }), nil
}

func (s *MemoryStore) ListBotsByUser(_ context.Context, userID int64) ([]*models.Bot, error) {
	return s.listBots(func(b *models.Bot) bool { return b.UserID == userID }), nil
}

func (s *MemoryStore) ListBotsByStatus(_ context.Context, status models.BotStatus) ([]*models.Bot, error) {
	return s.listBots(func(b *models.Bot) bool { return b.Status == status }), nil
}

func (s *MemoryStore) CreateBot(_ context.Context, bot *models.Bot) (*models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextBotID++
	b := cloneBot(bot)
	b.ID = s.nextBotID
	now := s.now()
	b.CreatedAt = now
	b.UpdatedAt = now
	if b.Status == "" {
		b.Status = models.StatusConfigured
	}
	s.bots[b.ID] = b
	return cloneBot(b), nil
}

func (s *MemoryStore) UpdateBot(_ context.Context, id int64, upd models.BotUpdate) (*models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bots[id]
	if !ok {
		return nil, fmt.Errorf("bot %d: %w", id, ErrNotFound)
	}
	upd.Apply(b)
	b.UpdatedAt = s.now()
	return cloneBot(b), nil
}

func (s *MemoryStore) DeleteBot(_ context.Context, id int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bots[id]; !ok {
		return false, nil
	}
	delete(s.bots, id)
	return true, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	return cloneUser(u), nil
}

func (s *MemoryStore) findUser(match func(*models.User) bool) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) GetUserByDiscordID(_ context.Context, discordID string) (*models.User, error) {
	return s.findUser(func(u *models.User) bool { return u.DiscordID == discordID })
}

func (s *MemoryStore) GetUserByStripeCustomerID(_ context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	return s.findUser(func(u *models.User) bool { return u.StripeCustomerID == customerID })
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextUserID++
	u := cloneUser(user)
	u.ID = s.nextUserID
	u.CreatedAt = s.now()
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = models.SubscriptionInactive
	}
	s.users[u.ID] = u
	s.stats.TotalUsers++
	return cloneUser(u), nil
}

func (s *MemoryStore) UpdateUser(_ context.Context, id int64, upd models.UserUpdate) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	upd.Apply(u)
	return cloneUser(u), nil
}

func (s *MemoryStore) CountUsers(_ context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.users)), nil
}

func (s *MemoryStore) GetPlatformStats(_ context.Context) (*models.PlatformStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := s.stats
	return &st, nil
}

func (s *MemoryStore) UpdatePlatformStats(_ context.Context, upd models.StatsUpdate) (*models.PlatformStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	upd.Apply(&s.stats)
	st := s.stats
	return &st, nil
}

func (s *MemoryStore) IncrementRPCCalls(_ context.Context, n int64) error {
	s.mu.Lock()
	s.stats.TotalRPCCalls += n
	s.stats.DailyRPCCalls += n
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) AdjustActiveBots(_ context.Context, delta int64) error {
	s.mu.Lock()
	s.stats.ActiveBots += delta
	if s.stats.ActiveBots < 0 {
		s.stats.ActiveBots = 0
	}
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) ResetDailyRPCCalls(_ context.Context, at time.Time) error {
	s.mu.Lock()
	s.stats.DailyRPCCalls = 0
	s.stats.LastReset = at
	s.mu.Unlock()
	return nil
}

// snapshot is the on-disk form; bot tokens are kept, unlike the API form.
type snapshot struct {
	Bots       []snapshotBot        `json:"bots"`
	Users      []*models.User       `json:"users"`
	Stats      models.PlatformStats `json:"stats"`
	NextBotID  int64                `json:"nextBotId"`
	NextUserID int64                `json:"nextUserId"`
}

type snapshotBot struct {
	models.Bot
	EncryptedToken string `json:"encryptedToken"`
}

// SaveSnapshot writes the whole store to path.
func (s *MemoryStore) SaveSnapshot(path string) error {
	s.mu.RLock()
	snap := snapshot{
		Stats:      s.stats,
		NextBotID:  s.nextBotID,
		NextUserID: s.nextUserID,
	}
	for _, b := range s.bots {
		snap.Bots = append(snap.Bots, snapshotBot{Bot: *cloneBot(b), EncryptedToken: b.EncryptedToken})
	}
	for _, u := range s.users {
		snap.Users = append(snap.Users, cloneUser(u))
	}
	s.mu.RUnlock()

	sort.Slice(snap.Bots, func(i, j int) bool { return snap.Bots[i].ID < snap.Bots[j].ID })
	sort.Slice(snap.Users, func(i, j int) bool { return snap.Users[i].ID < snap.Users[j].ID })
	return fs.SaveJSON(path, snap)
}

// LoadSnapshot replaces the store content with path; a missing file leaves it empty.
func (s *MemoryStore) LoadSnapshot(path string) error {
	var snap snapshot
	found, err := fs.LoadJSON(path, &snap)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.bots = make(map[int64]*models.Bot, len(snap.Bots))
	for _, sb := range snap.Bots {
		b := sb.Bot
		b.EncryptedToken = sb.EncryptedToken
		s.bots[b.ID] = &b
		if b.ID > snap.NextBotID {
			snap.NextBotID = b.ID
		}
	}
	s.users = make(map[int64]*models.User, len(snap.Users))
	for _, u := range snap.Users {
		s.users[u.ID] = u
		if u.ID > snap.NextUserID {
			snap.NextUserID = u.ID
		}
	}
	s.stats = snap.Stats
	s.nextBotID = snap.NextBotID
	s.nextUserID = snap.NextUserID
	return nil
}
