package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cryptobotics/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store on PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgres connects, migrates and pings.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	if err := Migrate(dsn); err != nil {
		return nil, err
	}

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute
	config.HealthCheckPeriod = 30 * time.Second
	config.ConnConfig.RuntimeParams["statement_timeout"] = "30000"

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

const botColumns = `id, user_id, name, type, status, network, token_address, update_frequency,
	configuration, guild_id, channel_id, encrypted_token, last_value, last_updated,
	subscription_item_id, created_at, updated_at`

func scanBot(row pgx.Row) (*models.Bot, error) {
	var (
		b      models.Bot
		config []byte
	)
	err := row.Scan(&b.ID, &b.UserID, &b.Name, &b.Type, &b.Status, &b.Network, &b.TokenAddress,
		&b.UpdateFrequency, &config, &b.GuildID, &b.ChannelID, &b.EncryptedToken, &b.LastValue,
		&b.LastUpdated, &b.SubscriptionItemID, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &b.Configuration); err != nil {
			return nil, fmt.Errorf("postgres: decode configuration of bot %d: %w", b.ID, err)
		}
	}
	return &b, nil
}

func (s *PostgresStore) GetBot(ctx context.Context, id int64) (*models.Bot, error) {
	b, err := scanBot(s.pool.QueryRow(ctx, `SELECT `+botColumns+` FROM bots WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get bot: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) queryBots(ctx context.Context, where string, args ...any) ([]*models.Bot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+botColumns+` FROM bots `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list bots: %w", err)
	}
	defer rows.Close()

	var out []*models.Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bot: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListBots(ctx context.Context) ([]*models.Bot, error) {
	return s.queryBots(ctx, "")
}

func (s *PostgresStore) ListBotsByUser(ctx context.Context, userID int64) ([]*models.Bot, error) {
	return s.queryBots(ctx, "WHERE user_id = $1", userID)
}

func (s *PostgresStore) ListBotsByStatus(ctx context.Context, status models.BotStatus) ([]*models.Bot, error) {
	return s.queryBots(ctx, "WHERE status = $1", string(status))
}

func (s *PostgresStore) CreateBot(ctx context.Context, bot *models.Bot) (*models.Bot, error) {
	config, err := json.Marshal(bot.Configuration)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode configuration: %w", err)
	}
	status := bot.Status
	if status == "" {
		status = models.StatusConfigured
	}

	b, err := scanBot(s.pool.QueryRow(ctx, `
INSERT INTO bots (user_id, name, type, status, network, token_address, update_frequency,
	configuration, guild_id, channel_id, encrypted_token, subscription_item_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9, $10, $11, $12)
RETURNING `+botColumns,
		bot.UserID, bot.Name, string(bot.Type), string(status), string(bot.Network), bot.TokenAddress,
		string(bot.UpdateFrequency), config, bot.GuildID, bot.ChannelID, bot.EncryptedToken,
		bot.SubscriptionItemID))
	if err != nil {
		return nil, fmt.Errorf("postgres: create bot: %w", err)
	}
	return b, nil
}

// setBuilder collects "col = $n" pairs for partial updates.
type setBuilder struct {
	sets []string
	args []any
}

func (sb *setBuilder) add(col string, v any) {
	sb.args = append(sb.args, v)
	sb.sets = append(sb.sets, fmt.Sprintf("%s = $%d", col, len(sb.args)))
}

func (s *PostgresStore) UpdateBot(ctx context.Context, id int64, upd models.BotUpdate) (*models.Bot, error) {
	var sb setBuilder
	if upd.Name != nil {
		sb.add("name", *upd.Name)
	}
	if upd.Status != nil {
		sb.add("status", string(*upd.Status))
	}
	if upd.TokenAddress != nil {
		sb.add("token_address", *upd.TokenAddress)
	}
	if upd.UpdateFrequency != nil {
		sb.add("update_frequency", string(*upd.UpdateFrequency))
	}
	if upd.Configuration != nil {
		config, err := json.Marshal(upd.Configuration)
		if err != nil {
			return nil, fmt.Errorf("postgres: encode configuration: %w", err)
		}
		sb.args = append(sb.args, config)
		sb.sets = append(sb.sets, fmt.Sprintf("configuration = $%d::jsonb", len(sb.args)))
	}
	if upd.ChannelID != nil {
		sb.add("channel_id", *upd.ChannelID)
	}
	if upd.EncryptedToken != nil {
		sb.add("encrypted_token", *upd.EncryptedToken)
	}
	if upd.LastValue != nil {
		sb.add("last_value", *upd.LastValue)
	}
	if upd.LastUpdated != nil {
		sb.add("last_updated", *upd.LastUpdated)
	}
	if upd.SubscriptionItemID != nil {
		sb.add("subscription_item_id", *upd.SubscriptionItemID)
	}
	sb.sets = append(sb.sets, "updated_at = NOW()")
	sb.args = append(sb.args, id)

	query := fmt.Sprintf(`UPDATE bots SET %s WHERE id = $%d RETURNING `+botColumns,
		strings.Join(sb.sets, ", "), len(sb.args))
	b, err := scanBot(s.pool.QueryRow(ctx, query, sb.args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("bot %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: update bot: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) DeleteBot(ctx context.Context, id int64) (bool, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM bots WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("postgres: delete bot: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

const userColumns = `id, discord_id, username, email, stripe_customer_id, subscription_id,
	subscription_status, is_admin, created_at`

func scanUser(row pgx.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(&u.ID, &u.DiscordID, &u.Username, &u.Email, &u.StripeCustomerID,
		&u.SubscriptionID, &u.SubscriptionStatus, &u.IsAdmin, &u.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) getUserWhere(ctx context.Context, where string, arg any) (*models.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where+` LIMIT 1`, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: get user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	return s.getUserWhere(ctx, "id = $1", id)
}

func (s *PostgresStore) GetUserByDiscordID(ctx context.Context, discordID string) (*models.User, error) {
	return s.getUserWhere(ctx, "discord_id = $1", discordID)
}

func (s *PostgresStore) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	if customerID == "" {
		return nil, ErrNotFound
	}
	return s.getUserWhere(ctx, "stripe_customer_id = $1", customerID)
}

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	status := user.SubscriptionStatus
	if status == "" {
		status = models.SubscriptionInactive
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	u, err := scanUser(tx.QueryRow(ctx, `
INSERT INTO users (discord_id, username, email, stripe_customer_id, subscription_id, subscription_status, is_admin)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING `+userColumns,
		user.DiscordID, user.Username, user.Email, user.StripeCustomerID, user.SubscriptionID,
		string(status), user.IsAdmin))
	if err != nil {
		return nil, fmt.Errorf("postgres: create user: %w", err)
	}
	if _, err := tx.Exec(ctx, `UPDATE platform_stats SET total_users = total_users + 1 WHERE id = 1`); err != nil {
		return nil, fmt.Errorf("postgres: count user: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("postgres: commit: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, id int64, upd models.UserUpdate) (*models.User, error) {
	var sb setBuilder
	if upd.Email != nil {
		sb.add("email", *upd.Email)
	}
	if upd.StripeCustomerID != nil {
		sb.add("stripe_customer_id", *upd.StripeCustomerID)
	}
	if upd.SubscriptionID != nil {
		sb.add("subscription_id", *upd.SubscriptionID)
	}
	if upd.SubscriptionStatus != nil {
		sb.add("subscription_status", string(*upd.SubscriptionStatus))
	}
	if len(sb.sets) == 0 {
		return s.GetUser(ctx, id)
	}
	sb.args = append(sb.args, id)

	query := fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d RETURNING `+userColumns,
		strings.Join(sb.sets, ", "), len(sb.args))
	u, err := scanUser(s.pool.QueryRow(ctx, query, sb.args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: update user: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count users: %w", err)
	}
	return n, nil
}

const statsColumns = `total_rpc_calls, daily_rpc_calls, active_bots, total_users, revenue, last_reset`

func scanStats(row pgx.Row) (*models.PlatformStats, error) {
	var st models.PlatformStats
	if err := row.Scan(&st.TotalRPCCalls, &st.DailyRPCCalls, &st.ActiveBots, &st.TotalUsers,
		&st.Revenue, &st.LastReset); err != nil {
		return nil, fmt.Errorf("postgres: scan stats: %w", err)
	}
	return &st, nil
}

func (s *PostgresStore) GetPlatformStats(ctx context.Context) (*models.PlatformStats, error) {
	return scanStats(s.pool.QueryRow(ctx, `SELECT `+statsColumns+` FROM platform_stats WHERE id = 1`))
}

func (s *PostgresStore) UpdatePlatformStats(ctx context.Context, upd models.StatsUpdate) (*models.PlatformStats, error) {
	var sb setBuilder
	if upd.TotalRPCCalls != nil {
		sb.add("total_rpc_calls", *upd.TotalRPCCalls)
	}
	if upd.DailyRPCCalls != nil {
		sb.add("daily_rpc_calls", *upd.DailyRPCCalls)
	}
	if upd.ActiveBots != nil {
		sb.add("active_bots", *upd.ActiveBots)
	}
	if upd.TotalUsers != nil {
		sb.add("total_users", *upd.TotalUsers)
	}
	if upd.Revenue != nil {
		sb.add("revenue", *upd.Revenue)
	}
	if upd.LastReset != nil {
		sb.add("last_reset", *upd.LastReset)
	}
	if len(sb.sets) == 0 {
		return s.GetPlatformStats(ctx)
	}
	query := `UPDATE platform_stats SET ` + strings.Join(sb.sets, ", ") + ` WHERE id = 1 RETURNING ` + statsColumns
	return scanStats(s.pool.QueryRow(ctx, query, sb.args...))
}

func (s *PostgresStore) IncrementRPCCalls(ctx context.Context, n int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE platform_stats
SET total_rpc_calls = total_rpc_calls + $1, daily_rpc_calls = daily_rpc_calls + $1 WHERE id = 1`, n)
	if err != nil {
		return fmt.Errorf("postgres: increment rpc calls: %w", err)
	}
	return nil
}

func (s *PostgresStore) AdjustActiveBots(ctx context.Context, delta int64) error {
	_, err := s.pool.Exec(ctx, `UPDATE platform_stats SET active_bots = GREATEST(active_bots + $1, 0) WHERE id = 1`, delta)
	if err != nil {
		return fmt.Errorf("postgres: adjust active bots: %w", err)
	}
	return nil
}

func (s *PostgresStore) ResetDailyRPCCalls(ctx context.Context, at time.Time) error {
	_, err := s.pool.Exec(ctx, `UPDATE platform_stats SET daily_rpc_calls = 0, last_reset = $1 WHERE id = 1`, at)
	if err != nil {
		return fmt.Errorf("postgres: reset daily rpc calls: %w", err)
	}
	return nil
}
