package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"monitor-backend/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMonitoringRepository persists monitoring state across three
// tables: user_monitoring (counters), monitored_symbols, active_positions.
// Sub-documents (pending signal, modification histories) are jsonb.
type PostgresMonitoringRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresMonitoringRepository(pool *pgxpool.Pool) *PostgresMonitoringRepository {
	return &PostgresMonitoringRepository{pool: pool}
}

func (r *PostgresMonitoringRepository) GetState(ctx context.Context, userID string) (*domain.UserMonitoringState, error) {
	state := &domain.UserMonitoringState{
		UserID:    userID,
		Symbols:   []*domain.MonitoredSymbol{},
		Positions: []*domain.ActivePosition{},
	}

	row := r.pool.QueryRow(ctx, `
		select is_monitoring, monitoring_since, last_market_update, last_hma_update,
			trades_executed, total_pnl
		from user_monitoring
		where user_id = $1
	`, userID)

	var since pgtype.Timestamptz
	err := row.Scan(&state.IsMonitoring, &since, &state.LastMarketUpdate, &state.LastHMAUpdate,
		&state.TradesExecuted, &state.TotalPnL)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if since.Valid {
		t := since.Time
		state.MonitoringSince = &t
	}

	symRows, err := r.pool.Query(ctx, `
		select `+symbolColumns+` from monitored_symbols where user_id = $1 order by symbol
	`, userID)
	if err != nil {
		return nil, err
	}
	defer symRows.Close()
	for symRows.Next() {
		sym, serr := scanSymbol(symRows)
		if serr != nil {
			return nil, serr
		}
		state.Symbols = append(state.Symbols, sym)
	}
	if err := symRows.Err(); err != nil {
		return nil, err
	}

	posRows, err := r.pool.Query(ctx, `
		select `+positionColumns+` from active_positions where user_id = $1 order by entry_time desc
	`, userID)
	if err != nil {
		return nil, err
	}
	defer posRows.Close()
	for posRows.Next() {
		pos, perr := scanPosition(posRows)
		if perr != nil {
			return nil, perr
		}
		state.Positions = append(state.Positions, pos)
	}
	return state, posRows.Err()
}

func (r *PostgresMonitoringRepository) SaveState(ctx context.Context, state *domain.UserMonitoringState) error {
	if state == nil || state.UserID == "" {
		return errors.New("state requires a user id")
	}

	_, err := r.pool.Exec(ctx, `
		insert into user_monitoring(
			user_id, is_monitoring, monitoring_since, last_market_update,
			last_hma_update, trades_executed, total_pnl
		) values ($1,$2,$3,$4,$5,$6,$7)
		on conflict (user_id) do update set
			is_monitoring      = excluded.is_monitoring,
			monitoring_since   = excluded.monitoring_since,
			last_market_update = excluded.last_market_update,
			last_hma_update    = excluded.last_hma_update,
			trades_executed    = excluded.trades_executed,
			total_pnl          = excluded.total_pnl
	`,
		state.UserID,
		state.IsMonitoring,
		nullableTime(state.MonitoringSince),
		state.LastMarketUpdate,
		state.LastHMAUpdate,
		state.TradesExecuted,
		state.TotalPnL,
	)
	return err
}

const symbolColumns = `id, symbol, direction, lots, target_points, stop_loss_points,
	entry_method, use_trailing_stoploss, trailing_x, trailing_y, max_hold_seconds,
	max_re_entries, product_type, order_type, current_ltp, hma_value, last_updated,
	trigger_status, pending_signal, order_placed, entry_order_id, exit_order_id,
	order_status, order_modified_at, order_modification_count, order_modifications,
	stop_loss_price, stop_loss_trigger_price, re_entry_count`

func (r *PostgresMonitoringRepository) GetSymbol(ctx context.Context, userID, symbolID string) (*domain.MonitoredSymbol, error) {
	row := r.pool.QueryRow(ctx, `
		select `+symbolColumns+` from monitored_symbols where user_id = $1 and id = $2
	`, userID, symbolID)

	sym, err := scanSymbol(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sym, nil
}

func (r *PostgresMonitoringRepository) SaveSymbol(ctx context.Context, userID string, sym *domain.MonitoredSymbol) error {
	if sym == nil || sym.ID == "" {
		return errors.New("symbol requires an id")
	}

	var pendingJSON any
	if sym.Pending != nil {
		b, merr := json.Marshal(sym.Pending)
		if merr != nil {
			return merr
		}
		pendingJSON = b
	}
	modsJSON, err := json.Marshal(sym.OrderModifications)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		insert into monitored_symbols(
			user_id, id, symbol, direction, lots, target_points, stop_loss_points,
			entry_method, use_trailing_stoploss, trailing_x, trailing_y, max_hold_seconds,
			max_re_entries, product_type, order_type, current_ltp, hma_value, last_updated,
			trigger_status, pending_signal, order_placed, entry_order_id, exit_order_id,
			order_status, order_modified_at, order_modification_count, order_modifications,
			stop_loss_price, stop_loss_trigger_price, re_entry_count
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,
			$21,$22,$23,$24,$25,$26,$27,$28,$29,$30)
		on conflict (id) do update set
			symbol = excluded.symbol,
			direction = excluded.direction,
			lots = excluded.lots,
			target_points = excluded.target_points,
			stop_loss_points = excluded.stop_loss_points,
			entry_method = excluded.entry_method,
			use_trailing_stoploss = excluded.use_trailing_stoploss,
			trailing_x = excluded.trailing_x,
			trailing_y = excluded.trailing_y,
			max_hold_seconds = excluded.max_hold_seconds,
			max_re_entries = excluded.max_re_entries,
			product_type = excluded.product_type,
			order_type = excluded.order_type,
			current_ltp = excluded.current_ltp,
			hma_value = excluded.hma_value,
			last_updated = excluded.last_updated,
			trigger_status = excluded.trigger_status,
			pending_signal = excluded.pending_signal,
			order_placed = excluded.order_placed,
			entry_order_id = excluded.entry_order_id,
			exit_order_id = excluded.exit_order_id,
			order_status = excluded.order_status,
			order_modified_at = excluded.order_modified_at,
			order_modification_count = excluded.order_modification_count,
			order_modifications = excluded.order_modifications,
			stop_loss_price = excluded.stop_loss_price,
			stop_loss_trigger_price = excluded.stop_loss_trigger_price,
			re_entry_count = excluded.re_entry_count
	`,
		userID,
		sym.ID,
		sym.Symbol,
		string(sym.Direction),
		sym.Lots,
		sym.TargetPoints,
		sym.StopLossPoints,
		sym.EntryMethod,
		sym.UseTrailingStoploss,
		sym.TrailingX,
		sym.TrailingY,
		sym.MaxHoldSeconds,
		sym.MaxReEntries,
		sym.ProductType,
		sym.OrderType,
		sym.CurrentLTP,
		sym.HMAValue,
		sym.LastUpdated,
		string(sym.TriggerStatus),
		pendingJSON,
		sym.OrderPlaced,
		sym.EntryOrderID,
		sym.ExitOrderID,
		sym.OrderStatus,
		nullableTime(sym.OrderModifiedAt),
		sym.OrderModificationCount,
		modsJSON,
		sym.StopLossPrice,
		sym.StopLossTriggerPrice,
		sym.ReEntryCount,
	)
	return err
}

func (r *PostgresMonitoringRepository) RemoveSymbol(ctx context.Context, userID, symbolID string) error {
	_, err := r.pool.Exec(ctx, `
		delete from monitored_symbols where user_id = $1 and id = $2
	`, userID, symbolID)
	return err
}

const positionColumns = `id, symbol, direction, lots, quantity, bought_price,
	current_price, target, initial_stop_loss, stop_loss, use_trailing_stoploss,
	trailing_x, trailing_y, trailing_activated, last_ratchet_price, status,
	entry_order_id, exit_order_id, realized_pnl, unrealized_pnl, pnl_percent,
	invested, entry_time, exit_price, exit_time, sl_modifications`

func (r *PostgresMonitoringRepository) GetPosition(ctx context.Context, userID, positionID string) (*domain.ActivePosition, error) {
	row := r.pool.QueryRow(ctx, `
		select `+positionColumns+` from active_positions where user_id = $1 and id = $2
	`, userID, positionID)

	pos, err := scanPosition(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pos, nil
}

func (r *PostgresMonitoringRepository) SavePosition(ctx context.Context, userID string, pos *domain.ActivePosition) error {
	if pos == nil || pos.ID == "" {
		return errors.New("position requires an id")
	}

	modsJSON, err := json.Marshal(pos.SLModifications)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		insert into active_positions(
			user_id, id, symbol, direction, lots, quantity, bought_price,
			current_price, target, initial_stop_loss, stop_loss, use_trailing_stoploss,
			trailing_x, trailing_y, trailing_activated, last_ratchet_price, status,
			entry_order_id, exit_order_id, realized_pnl, unrealized_pnl, pnl_percent,
			invested, entry_time, exit_price, exit_time, sl_modifications
		) values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,
			$20,$21,$22,$23,$24,$25,$26,$27)
		on conflict (id) do update set
			current_price = excluded.current_price,
			target = excluded.target,
			initial_stop_loss = excluded.initial_stop_loss,
			stop_loss = excluded.stop_loss,
			trailing_activated = excluded.trailing_activated,
			last_ratchet_price = excluded.last_ratchet_price,
			status = excluded.status,
			quantity = excluded.quantity,
			bought_price = excluded.bought_price,
			entry_order_id = excluded.entry_order_id,
			exit_order_id = excluded.exit_order_id,
			realized_pnl = excluded.realized_pnl,
			unrealized_pnl = excluded.unrealized_pnl,
			pnl_percent = excluded.pnl_percent,
			invested = excluded.invested,
			exit_price = excluded.exit_price,
			exit_time = excluded.exit_time,
			sl_modifications = excluded.sl_modifications
	`,
		userID,
		pos.ID,
		pos.Symbol,
		string(pos.Direction),
		pos.Lots,
		pos.Quantity,
		pos.BoughtPrice,
		pos.CurrentPrice,
		pos.Target,
		pos.InitialStopLoss,
		pos.StopLoss,
		pos.UseTrailingStoploss,
		pos.TrailingX,
		pos.TrailingY,
		pos.TrailingActivated,
		pos.LastRatchetPrice,
		string(pos.Status),
		pos.EntryOrderID,
		pos.ExitOrderID,
		pos.RealizedPnL,
		pos.UnrealizedPnL,
		pos.PnLPercent,
		pos.Invested,
		pos.EntryTime,
		nullableFloat(pos.ExitPrice),
		nullableTime(pos.ExitTime),
		modsJSON,
	)
	return err
}

// Scan helpers

func scanSymbol(s rowScanner) (*domain.MonitoredSymbol, error) {
	var sym domain.MonitoredSymbol
	var direction, triggerStatus string
	var pendingRaw, modsRaw []byte
	var modifiedAt pgtype.Timestamptz

	if err := s.Scan(
		&sym.ID,
		&sym.Symbol,
		&direction,
		&sym.Lots,
		&sym.TargetPoints,
		&sym.StopLossPoints,
		&sym.EntryMethod,
		&sym.UseTrailingStoploss,
		&sym.TrailingX,
		&sym.TrailingY,
		&sym.MaxHoldSeconds,
		&sym.MaxReEntries,
		&sym.ProductType,
		&sym.OrderType,
		&sym.CurrentLTP,
		&sym.HMAValue,
		&sym.LastUpdated,
		&triggerStatus,
		&pendingRaw,
		&sym.OrderPlaced,
		&sym.EntryOrderID,
		&sym.ExitOrderID,
		&sym.OrderStatus,
		&modifiedAt,
		&sym.OrderModificationCount,
		&modsRaw,
		&sym.StopLossPrice,
		&sym.StopLossTriggerPrice,
		&sym.ReEntryCount,
	); err != nil {
		return nil, err
	}

	sym.Direction = domain.Direction(direction)
	sym.TriggerStatus = domain.TriggerStatus(triggerStatus)
	if len(pendingRaw) > 0 {
		var pending domain.PendingSignal
		if err := json.Unmarshal(pendingRaw, &pending); err != nil {
			return nil, err
		}
		sym.Pending = &pending
	}
	if len(modsRaw) > 0 {
		if err := json.Unmarshal(modsRaw, &sym.OrderModifications); err != nil {
			return nil, err
		}
	}
	if modifiedAt.Valid {
		t := modifiedAt.Time
		sym.OrderModifiedAt = &t
	}
	return &sym, nil
}

func scanPosition(s rowScanner) (*domain.ActivePosition, error) {
	var pos domain.ActivePosition
	var direction, status string
	var exitPrice pgtype.Float8
	var exitTime pgtype.Timestamptz
	var modsRaw []byte

	if err := s.Scan(
		&pos.ID,
		&pos.Symbol,
		&direction,
		&pos.Lots,
		&pos.Quantity,
		&pos.BoughtPrice,
		&pos.CurrentPrice,
		&pos.Target,
		&pos.InitialStopLoss,
		&pos.StopLoss,
		&pos.UseTrailingStoploss,
		&pos.TrailingX,
		&pos.TrailingY,
		&pos.TrailingActivated,
		&pos.LastRatchetPrice,
		&status,
		&pos.EntryOrderID,
		&pos.ExitOrderID,
		&pos.RealizedPnL,
		&pos.UnrealizedPnL,
		&pos.PnLPercent,
		&pos.Invested,
		&pos.EntryTime,
		&exitPrice,
		&exitTime,
		&modsRaw,
	); err != nil {
		return nil, err
	}

	pos.Direction = domain.Direction(direction)
	pos.Status = domain.PositionStatus(status)
	if exitPrice.Valid {
		v := exitPrice.Float64
		pos.ExitPrice = &v
	}
	if exitTime.Valid {
		t := exitTime.Time
		pos.ExitTime = &t
	}
	if len(modsRaw) > 0 {
		if err := json.Unmarshal(modsRaw, &pos.SLModifications); err != nil {
			return nil, err
		}
	}
	return &pos, nil
}

func nullableFloat(v *float64) any {
	if v == nil {
		return pgtype.Float8{Valid: false}
	}
	return pgtype.Float8{Valid: true, Float64: *v}
}

func nullableTime(v *time.Time) any {
	if v == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Valid: true, Time: *v}
}

// compile-time check
var _ domain.MonitoringRepository = (*PostgresMonitoringRepository)(nil)
