package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"monitor-backend/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTradeLogRepository stores the ledger in Postgres. The unique index
// on (user_id, order_id, action) plus a conditional ON CONFLICT update gives
// the create-or-merge its atomicity: two racing writers resolve to exactly
// one create, and a BROKER event upgrades an APP row in place while keeping
// its id and creation timestamp.
type PostgresTradeLogRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresTradeLogRepository(pool *pgxpool.Pool) *PostgresTradeLogRepository {
	return &PostgresTradeLogRepository{pool: pool}
}

func (r *PostgresTradeLogRepository) Upsert(ctx context.Context, entry *domain.TradeLogEntry) (domain.UpsertOutcome, *domain.TradeLogEntry, error) {
	if entry == nil {
		return domain.UpsertDiscarded, nil, errors.New("nil entry")
	}

	detailsJSON, err := json.Marshal(entry.Details)
	if err != nil {
		return domain.UpsertDiscarded, nil, err
	}

	// The WHERE clause makes the update fire only for the BROKER-over-APP
	// upgrade; same-source duplicates and APP-over-BROKER return no row.
	// xmax = 0 distinguishes a fresh insert from an upgrade.
	row := r.pool.QueryRow(ctx, `
		insert into trade_logs(
			id, user_id, action, symbol, side, quantity, price,
			order_type, product_type, order_id, status, reason,
			pnl, pnl_percent, source, details, created_at
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		on conflict (user_id, order_id, action) do update set
			symbol       = case when excluded.symbol <> '' then excluded.symbol else trade_logs.symbol end,
			side         = case when excluded.side <> '' then excluded.side else trade_logs.side end,
			quantity     = case when excluded.quantity <> 0 then excluded.quantity else trade_logs.quantity end,
			price        = case when excluded.price <> 0 then excluded.price else trade_logs.price end,
			order_type   = case when excluded.order_type <> '' then excluded.order_type else trade_logs.order_type end,
			product_type = case when excluded.product_type <> '' then excluded.product_type else trade_logs.product_type end,
			status       = case when excluded.status <> '' then excluded.status else trade_logs.status end,
			reason       = case when excluded.reason <> '' then excluded.reason else trade_logs.reason end,
			pnl          = case when excluded.pnl <> 0 then excluded.pnl else trade_logs.pnl end,
			pnl_percent  = case when excluded.pnl_percent <> 0 then excluded.pnl_percent else trade_logs.pnl_percent end,
			source       = 'BROKER',
			details      = trade_logs.details || excluded.details || '{"source":"BROKER"}'::jsonb
		where trade_logs.source = 'APP' and excluded.source = 'BROKER'
		returning (xmax = 0) as inserted
	`,
		entry.ID,
		entry.UserID,
		string(entry.Action),
		entry.Symbol,
		entry.Side,
		entry.Quantity,
		entry.Price,
		entry.OrderType,
		entry.ProductType,
		entry.OrderID,
		entry.Status,
		entry.Reason,
		entry.PnL,
		entry.PnLPercent,
		string(entry.Source),
		detailsJSON,
		entry.Timestamp,
	)

	var inserted bool
	err = row.Scan(&inserted)
	switch {
	case err == nil:
		outcome := domain.UpsertUpgraded
		if inserted {
			outcome = domain.UpsertCreated
		}
		canonical, ferr := r.FindByOrderAction(ctx, entry.UserID, entry.OrderID, entry.Action)
		if ferr != nil {
			return outcome, nil, ferr
		}
		return outcome, canonical, nil
	case errors.Is(err, pgx.ErrNoRows):
		// Conflict resolved by discarding the incoming event; hand the
		// caller the surviving canonical row.
		canonical, ferr := r.FindByOrderAction(ctx, entry.UserID, entry.OrderID, entry.Action)
		if ferr != nil {
			return domain.UpsertDiscarded, nil, ferr
		}
		return domain.UpsertDiscarded, canonical, nil
	default:
		return domain.UpsertDiscarded, nil, err
	}
}

const tradeLogColumns = `id, user_id, action, symbol, side, quantity, price,
	order_type, product_type, order_id, status, reason,
	pnl, pnl_percent, source, details, created_at`

func (r *PostgresTradeLogRepository) FindByOrderAction(ctx context.Context, userID, orderID string, action domain.TradeAction) (*domain.TradeLogEntry, error) {
	row := r.pool.QueryRow(ctx, `
		select `+tradeLogColumns+`
		from trade_logs
		where user_id = $1 and order_id = $2 and action = $3
		order by created_at asc
		limit 1
	`, userID, orderID, string(action))

	entry, err := scanTradeLog(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *PostgresTradeLogRepository) ListRange(ctx context.Context, userID string, from, to time.Time) ([]*domain.TradeLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		select `+tradeLogColumns+`
		from trade_logs
		where user_id = $1 and created_at >= $2 and created_at < $3
		order by created_at desc
	`, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTradeLogs(rows)
}

func (r *PostgresTradeLogRepository) ListAll(ctx context.Context, userID string) ([]*domain.TradeLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		select `+tradeLogColumns+`
		from trade_logs
		where user_id = $1
		order by created_at desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectTradeLogs(rows)
}

func (r *PostgresTradeLogRepository) Delete(ctx context.Context, userID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.pool.Exec(ctx, `
		delete from trade_logs where user_id = $1 and id = any($2)
	`, userID, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func collectTradeLogs(rows pgx.Rows) ([]*domain.TradeLogEntry, error) {
	entries := make([]*domain.TradeLogEntry, 0)
	for rows.Next() {
		entry, err := scanTradeLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTradeLog(s rowScanner) (*domain.TradeLogEntry, error) {
	var e domain.TradeLogEntry
	var action, source string
	var detailsRaw []byte

	if err := s.Scan(
		&e.ID,
		&e.UserID,
		&action,
		&e.Symbol,
		&e.Side,
		&e.Quantity,
		&e.Price,
		&e.OrderType,
		&e.ProductType,
		&e.OrderID,
		&e.Status,
		&e.Reason,
		&e.PnL,
		&e.PnLPercent,
		&source,
		&detailsRaw,
		&e.Timestamp,
	); err != nil {
		return nil, err
	}

	e.Action = domain.TradeAction(action)
	e.Source = domain.EventSource(source)
	if len(detailsRaw) > 0 {
		if err := json.Unmarshal(detailsRaw, &e.Details); err != nil {
			return nil, err
		}
	}
	return &e, nil
}

// compile-time check
var _ domain.TradeLogRepository = (*PostgresTradeLogRepository)(nil)
