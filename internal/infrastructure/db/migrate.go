package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Migrate creates the minimal tables needed by this app.
// This keeps setup simple (no external migration tool), but still gives persistence.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`create table if not exists trade_logs (
			id text primary key,
			user_id text not null,
			action text not null,
			symbol text not null default '',
			side text not null default '',
			quantity double precision not null default 0,
			price double precision not null default 0,
			order_type text not null default '',
			product_type text not null default '',
			order_id text not null,
			status text not null default '',
			reason text not null default '',
			pnl double precision not null default 0,
			pnl_percent double precision not null default 0,
			source text not null,
			details jsonb not null default '{}'::jsonb,
			created_at timestamptz not null default now()
		);`,
		`create unique index if not exists trade_logs_user_order_action_idx
			on trade_logs(user_id, order_id, action);`,
		`create index if not exists trade_logs_user_created_idx
			on trade_logs(user_id, created_at desc);`,
		`create table if not exists user_monitoring (
			user_id text primary key,
			is_monitoring boolean not null default false,
			monitoring_since timestamptz null,
			last_market_update timestamptz not null default '1970-01-01'::timestamptz,
			last_hma_update timestamptz not null default '1970-01-01'::timestamptz,
			trades_executed int not null default 0,
			total_pnl double precision not null default 0
		);`,
		`create table if not exists monitored_symbols (
			id text primary key,
			user_id text not null,
			symbol text not null,
			direction text not null,
			lots int not null default 0,
			target_points double precision not null default 0,
			stop_loss_points double precision not null default 0,
			entry_method text not null default '',
			use_trailing_stoploss boolean not null default false,
			trailing_x double precision not null default 0,
			trailing_y double precision not null default 0,
			max_hold_seconds int not null default 0,
			max_re_entries int not null default 0,
			product_type text not null default '',
			order_type text not null default '',
			current_ltp double precision not null default 0,
			hma_value double precision not null default 0,
			last_updated timestamptz not null default '1970-01-01'::timestamptz,
			trigger_status text not null,
			pending_signal jsonb null,
			order_placed boolean not null default false,
			entry_order_id text not null default '',
			exit_order_id text not null default '',
			order_status text not null default '',
			order_modified_at timestamptz null,
			order_modification_count int not null default 0,
			order_modifications jsonb not null default '[]'::jsonb,
			stop_loss_price double precision not null default 0,
			stop_loss_trigger_price double precision not null default 0,
			re_entry_count int not null default 0
		);`,
		`create index if not exists monitored_symbols_user_idx on monitored_symbols(user_id);`,
		`create table if not exists active_positions (
			id text primary key,
			user_id text not null,
			symbol text not null,
			direction text not null,
			lots int not null default 0,
			quantity double precision not null default 0,
			bought_price double precision not null default 0,
			current_price double precision not null default 0,
			target double precision not null default 0,
			initial_stop_loss double precision not null default 0,
			stop_loss double precision not null default 0,
			use_trailing_stoploss boolean not null default false,
			trailing_x double precision not null default 0,
			trailing_y double precision not null default 0,
			trailing_activated boolean not null default false,
			last_ratchet_price double precision not null default 0,
			status text not null,
			entry_order_id text not null default '',
			exit_order_id text not null default '',
			realized_pnl double precision not null default 0,
			unrealized_pnl double precision not null default 0,
			pnl_percent double precision not null default 0,
			invested double precision not null default 0,
			entry_time timestamptz not null,
			exit_price double precision null,
			exit_time timestamptz null,
			sl_modifications jsonb not null default '[]'::jsonb
		);`,
		`create index if not exists active_positions_user_idx on active_positions(user_id);`,
		`create index if not exists active_positions_status_idx on active_positions(status);`,
		`create table if not exists broker_credentials (
			user_id text primary key,
			api_key text not null,
			secret_key_enc text not null,
			connected boolean not null default true,
			disconnected_at timestamptz null,
			created_at timestamptz not null default now(),
			updated_at timestamptz not null default now(),
			last_validated timestamptz not null default '1970-01-01'::timestamptz
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
