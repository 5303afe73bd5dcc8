package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schemas keep live and demo records apart in one database.
var schemaByEnv = map[string]string{
	"live": "trader_live",
	"demo": "trader_demo",
}

const connectTimeout = 10 * time.Second

// Open connects to Postgres and ensures both environment schemas exist.
// An empty URL or a failed connection degrades to the Null store so the
// caller can run without persistence.
func Open(ctx context.Context, databaseURL string, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.Default()
	}
	if databaseURL == "" {
		logger.Info("no database configured, persistence disabled")
		return Null{}
	}

	pg, err := openPostgres(ctx, databaseURL, logger)
	if err != nil {
		logger.Error("database unavailable, persistence disabled", "error", err)
		return Null{}
	}
	return pg
}

type postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func openPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*postgres, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(connCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pg := &postgres{pool: pool, logger: logger.With("component", "store")}
	if err := pg.ensureSchemas(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schemas: %w", err)
	}
	logger.Info("database connected")
	return pg, nil
}

func (p *postgres) ensureSchemas(ctx context.Context) error {
	for _, schema := range schemaByEnv {
		stmts := []string{
			fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.markets (
				ticker TEXT PRIMARY KEY,
				event_ticker TEXT NOT NULL DEFAULT '',
				series_ticker TEXT NOT NULL DEFAULT '',
				status TEXT NOT NULL DEFAULT '',
				last_price INT NOT NULL DEFAULT 0,
				volume BIGINT NOT NULL DEFAULT 0,
				open_interest BIGINT NOT NULL DEFAULT 0,
				seen_at TIMESTAMPTZ NOT NULL
			)`, schema),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.orders (
				client_order_id TEXT PRIMARY KEY,
				exchange_id TEXT NOT NULL DEFAULT '',
				agent_id TEXT NOT NULL DEFAULT '',
				ticker TEXT NOT NULL,
				side TEXT NOT NULL,
				action TEXT NOT NULL,
				order_type TEXT NOT NULL,
				status TEXT NOT NULL,
				price INT NOT NULL,
				count INT NOT NULL,
				remaining_count INT NOT NULL,
				created_at TIMESTAMPTZ NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, schema),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.fills (
				fill_id TEXT PRIMARY KEY,
				order_id TEXT NOT NULL,
				ticker TEXT NOT NULL,
				side TEXT NOT NULL,
				action TEXT NOT NULL,
				count INT NOT NULL,
				yes_price INT NOT NULL,
				no_price INT NOT NULL,
				is_taker BOOLEAN NOT NULL,
				created_at TIMESTAMPTZ NOT NULL
			)`, schema),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.positions (
				ticker TEXT PRIMARY KEY,
				position INT NOT NULL,
				market_exposure BIGINT NOT NULL DEFAULT 0,
				realized_pnl BIGINT NOT NULL DEFAULT 0,
				updated_at TIMESTAMPTZ NOT NULL
			)`, schema),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.agent_states (
				agent_id TEXT PRIMARY KEY,
				name TEXT NOT NULL,
				state TEXT NOT NULL,
				mode TEXT NOT NULL,
				enabled BOOLEAN NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL
			)`, schema),
			fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.system_config (
				config_key TEXT PRIMARY KEY,
				config_value TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`, schema),
		}
		for _, stmt := range stmts {
			if _, err := p.pool.Exec(ctx, stmt); err != nil {
				return err
			}
		}
	}
	return nil
}

func schema(env string) string {
	if s, ok := schemaByEnv[env]; ok {
		return s
	}
	return schemaByEnv["demo"]
}

func (p *postgres) SaveMarket(ctx context.Context, env string, m MarketRow) {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.markets (ticker, event_ticker, series_ticker, status, last_price, volume, open_interest, seen_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (ticker) DO UPDATE SET
			event_ticker = EXCLUDED.event_ticker,
			series_ticker = EXCLUDED.series_ticker,
			status = EXCLUDED.status,
			last_price = EXCLUDED.last_price,
			volume = EXCLUDED.volume,
			open_interest = EXCLUDED.open_interest,
			seen_at = EXCLUDED.seen_at`, schema(env)),
		m.Ticker, m.EventTicker, m.SeriesTicker, m.Status, m.LastPrice, m.Volume, m.OpenInterest, orNow(m.SeenAt))
	if err != nil {
		p.logger.Error("save market failed", "ticker", m.Ticker, "error", err)
	}
}

func (p *postgres) SaveOrder(ctx context.Context, env string, o OrderRow) {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.orders (client_order_id, exchange_id, agent_id, ticker, side, action, order_type, status, price, count, remaining_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		ON CONFLICT (client_order_id) DO UPDATE SET
			exchange_id = EXCLUDED.exchange_id,
			status = EXCLUDED.status,
			remaining_count = EXCLUDED.remaining_count,
			updated_at = now()`, schema(env)),
		o.ClientOrderID, o.ExchangeID, o.AgentID, o.Ticker, o.Side, o.Action, o.Type, o.Status, o.Price, o.Count, o.RemainingCount, orNow(o.CreatedAt))
	if err != nil {
		p.logger.Error("save order failed", "client_order_id", o.ClientOrderID, "error", err)
	}
}

func (p *postgres) UpdateOrderStatus(ctx context.Context, env, clientOrderID, status string, remaining int) {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s.orders SET status = $2, remaining_count = $3, updated_at = now()
		WHERE client_order_id = $1`, schema(env)),
		clientOrderID, status, remaining)
	if err != nil {
		p.logger.Error("update order status failed", "client_order_id", clientOrderID, "error", err)
	}
}

func (p *postgres) SaveFill(ctx context.Context, env string, f FillRow) bool {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.fills (fill_id, order_id, ticker, side, action, count, yes_price, no_price, is_taker, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (fill_id) DO NOTHING`, schema(env)),
		f.FillID, f.OrderID, f.Ticker, f.Side, f.Action, f.Count, f.YesPrice, f.NoPrice, f.IsTaker, orNow(f.CreatedAt))
	if err != nil {
		p.logger.Error("save fill failed", "fill_id", f.FillID, "error", err)
		return true
	}
	return tag.RowsAffected() > 0
}

func (p *postgres) ReplacePositions(ctx context.Context, env string, rows []PositionRow) {
	s := schema(env)
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		p.logger.Error("replace positions failed", "error", err)
		return
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s.positions`, s)); err != nil {
		p.logger.Error("replace positions failed", "error", err)
		return
	}
	for _, r := range rows {
		_, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s.positions (ticker, position, market_exposure, realized_pnl, updated_at)
			VALUES ($1, $2, $3, $4, $5)`, s),
			r.Ticker, r.Position, r.MarketExposure, r.RealizedPnl, orNow(r.UpdatedAt))
		if err != nil {
			p.logger.Error("replace positions failed", "ticker", r.Ticker, "error", err)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		p.logger.Error("replace positions failed", "error", err)
	}
}

func (p *postgres) SaveAgentState(ctx context.Context, env string, a AgentStateRow) {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.agent_states (agent_id, name, state, mode, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (agent_id) DO UPDATE SET
			name = EXCLUDED.name,
			state = EXCLUDED.state,
			mode = EXCLUDED.mode,
			enabled = EXCLUDED.enabled,
			updated_at = EXCLUDED.updated_at`, schema(env)),
		a.AgentID, a.Name, a.State, a.Mode, a.Enabled, orNow(a.UpdatedAt))
	if err != nil {
		p.logger.Error("save agent state failed", "agent_id", a.AgentID, "error", err)
	}
}

func (p *postgres) LoadOpenOrders(ctx context.Context, env string) []OrderRow {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT client_order_id, exchange_id, agent_id, ticker, side, action, order_type, status, price, count, remaining_count, created_at
		FROM %s.orders WHERE status IN ('resting', 'pending')`, schema(env)))
	if err != nil {
		p.logger.Error("load open orders failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []OrderRow
	for rows.Next() {
		var o OrderRow
		if err := rows.Scan(&o.ClientOrderID, &o.ExchangeID, &o.AgentID, &o.Ticker, &o.Side, &o.Action, &o.Type, &o.Status, &o.Price, &o.Count, &o.RemainingCount, &o.CreatedAt); err != nil {
			p.logger.Error("scan order failed", "error", err)
			return out
		}
		o.Env = env
		out = append(out, o)
	}
	return out
}

func (p *postgres) LoadPositions(ctx context.Context, env string) []PositionRow {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT ticker, position, market_exposure, realized_pnl, updated_at
		FROM %s.positions`, schema(env)))
	if err != nil {
		p.logger.Error("load positions failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []PositionRow
	for rows.Next() {
		var r PositionRow
		if err := rows.Scan(&r.Ticker, &r.Position, &r.MarketExposure, &r.RealizedPnl, &r.UpdatedAt); err != nil {
			p.logger.Error("scan position failed", "error", err)
			return out
		}
		out = append(out, r)
	}
	return out
}

func (p *postgres) LoadRecentFillIDs(ctx context.Context, env string, limit int) []string {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT fill_id FROM %s.fills ORDER BY created_at DESC LIMIT $1`, schema(env)), limit)
	if err != nil {
		p.logger.Error("load fill ids failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			p.logger.Error("scan fill id failed", "error", err)
			return out
		}
		out = append(out, id)
	}
	return out
}

func (p *postgres) SetConfig(ctx context.Context, env, key, value string) {
	_, err := p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.system_config (config_key, config_value, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (config_key) DO UPDATE SET config_value = EXCLUDED.config_value, updated_at = now()`, schema(env)),
		key, value)
	if err != nil {
		p.logger.Error("set config failed", "key", key, "error", err)
	}
}

func (p *postgres) GetConfig(ctx context.Context, env, key string) string {
	var value string
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		SELECT config_value FROM %s.system_config WHERE config_key = $1`, schema(env)),
		key).Scan(&value)
	if err != nil {
		return ""
	}
	return value
}

func (p *postgres) Close() {
	p.pool.Close()
}

func orNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
