package bot

import (
	"context"
	"errors"
	"fmt"

	"cryptobotics/internal/features/format"
	log "cryptobotics/internal/infra/log"
	"cryptobotics/internal/models"
	"cryptobotics/internal/storage"

	"go.uber.org/zap"
)

// tick runs one update for reg's bot. A tick that finds the previous one still
// running is skipped.
func (s *Scheduler) tick(reg *registration) {
	s.mu.Lock()
	if s.timers[reg.botID] != reg {
		s.mu.Unlock()
		return
	}
	if reg.busy {
		s.mu.Unlock()
		log.LogDebug("Tick skipped, previous one still running", zap.Int64("botID", reg.botID))
		return
	}
	reg.busy = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		reg.busy = false
		s.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(s.baseCtx, s.tickTimeout)
	defer cancel()

	bot, err := s.store.GetBot(ctx, reg.botID)
	if errors.Is(err, storage.ErrNotFound) {
		log.LogWarn("Ticked bot no longer exists", zap.Int64("botID", reg.botID))
		return
	}
	if err != nil {
		log.LogError("Failed to load bot for tick", zap.Int64("botID", reg.botID), zap.Error(err))
		return
	}
	if bot.Status != models.StatusActive {
		return
	}

	value, ok, err := s.resolve(ctx, bot)
	if err != nil {
		if s.baseCtx.Err() != nil {
			return
		}
		s.fail(reg, err)
		return
	}
	if !ok {
		log.LogDebug("Tick produced no value", zap.Int64("botID", bot.ID), zap.String("type", string(bot.Type)))
		return
	}

	updated, err := s.persist(ctx, reg, value)
	if err != nil {
		log.LogError("Failed to persist bot value", zap.Int64("botID", bot.ID), zap.Error(err))
		return
	}
	if updated == nil {
		return
	}

	if s.notifier != nil {
		u := Update{
			BotID:   updated.ID,
			UserID:  updated.UserID,
			BotName: updated.Name,
			Type:    updated.Type,
			Network: updated.Network,
			Value:   value,
			At:      *updated.LastUpdated,
		}
		if err := s.notifier.Publish(ctx, u); err != nil {
			log.LogWarn("Failed to publish bot update", zap.Int64("botID", bot.ID), zap.Error(err))
		}
	}
}

// resolve computes the bot's display value. ok is false when the bot lacks
// the configuration its type needs; nothing is written in that case.
func (s *Scheduler) resolve(ctx context.Context, bot *models.Bot) (value string, ok bool, err error) {
	network := string(bot.Network)
	cfg := bot.Configuration

	switch bot.Type {
	case models.BotTypeStandard:
		if bot.TokenAddress == "" {
			return "", false, nil
		}
		switch cfg.MetricType() {
		case models.MetricPrice:
			pair := cfg.PairAddress()
			if pair == "" {
				return "", false, nil
			}
			price, err := s.chain.GetPairPrice(ctx, network, pair)
			if err != nil {
				return "", false, fmt.Errorf("pair price: %w", err)
			}
			return format.Price(price), true, nil

		case models.MetricSupply:
			raw, err := s.chain.GetTokenSupply(ctx, network, bot.TokenAddress)
			if err != nil {
				return "", false, fmt.Errorf("token supply: %w", err)
			}
			v, err := format.Units(raw, cfg.Decimals())
			if err != nil {
				return "", false, err
			}
			return v, true, nil

		case models.MetricBalance:
			wallet := cfg.WalletAddress()
			if wallet == "" {
				return "", false, nil
			}
			raw, err := s.chain.GetTokenBalance(ctx, network, bot.TokenAddress, wallet)
			if err != nil {
				return "", false, fmt.Errorf("token balance: %w", err)
			}
			v, err := format.Units(raw, cfg.Decimals())
			if err != nil {
				return "", false, err
			}
			return v, true, nil
		}
		return "", false, nil

	case models.BotTypeAlertWhale, models.BotTypeAlertBuy:
		v, err := s.alerts.Poll(ctx, bot)
		if err != nil {
			return "", false, fmt.Errorf("alert poll: %w", err)
		}
		return v, true, nil

	case models.BotTypeCustomRPC:
		selector := cfg.FunctionSignature()
		if bot.TokenAddress == "" || selector == "" {
			return "", false, nil
		}
		raw, err := s.chain.CallContractFunction(ctx, network, bot.TokenAddress, selector, cfg.Args())
		if err != nil {
			return "", false, fmt.Errorf("contract call: %w", err)
		}
		return format.Template(cfg.Formatter(), raw), true, nil
	}

	return "", false, fmt.Errorf("unknown bot type %q", bot.Type)
}

// persist writes the value unless the bot was stopped or deleted meanwhile,
// in which case it returns (nil, nil).
func (s *Scheduler) persist(ctx context.Context, reg *registration, value string) (*models.Bot, error) {
	reg.persistMu.Lock()
	defer reg.persistMu.Unlock()

	if !s.isCurrent(reg) {
		return nil, nil
	}

	now := s.clock.Now()
	updated, err := s.store.UpdateBot(ctx, reg.botID, models.BotUpdate{
		LastValue:   &value,
		LastUpdated: &now,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if s.history != nil {
		s.history.Add(reg.botID, now, value)
	}
	log.LogDebug("Bot value updated", zap.Int64("botID", reg.botID), zap.String("value", value))
	return updated, nil
}

// fail marks the bot as errored and drops its timer.
func (s *Scheduler) fail(reg *registration, cause error) {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	if !s.isCurrent(reg) {
		return
	}
	s.deregister(reg.botID)

	ctx, cancel := s.lifecycleContext()
	defer cancel()

	log.LogError("Bot tick failed", zap.Int64("botID", reg.botID), zap.Error(cause))
	if _, err := s.setStatus(ctx, reg.botID, models.StatusError); err != nil {
		log.LogError("Failed to mark bot as errored", zap.Int64("botID", reg.botID), zap.Error(err))
		return
	}
	s.adjustActive(ctx, -1)
}
