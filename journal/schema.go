package journal

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	order_id TEXT PRIMARY KEY,
	broker_id TEXT,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	status TEXT NOT NULL,
	strategy TEXT NOT NULL,
	signal_id TEXT NOT NULL,
	quantity REAL NOT NULL,
	filled REAL NOT NULL,
	avg_price REAL NOT NULL,
	commission REAL NOT NULL,
	reason TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
	trade_id TEXT PRIMARY KEY,
	symbol TEXT NOT NULL,
	strategy TEXT NOT NULL,
	direction TEXT NOT NULL,
	quantity REAL NOT NULL,
	entry_price REAL NOT NULL,
	exit_price REAL NOT NULL,
	realized_pl REAL NOT NULL,
	commission REAL NOT NULL,
	open_time DATETIME NOT NULL,
	close_time DATETIME NOT NULL,
	reason TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT NOT NULL,
	strategy TEXT NOT NULL,
	net_quantity REAL NOT NULL,
	avg_entry REAL NOT NULL,
	realized_pl REAL NOT NULL,
	unrealized_pl REAL NOT NULL,
	status TEXT NOT NULL,
	opened_at DATETIME,
	closed_at DATETIME,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS risk_metrics (
	time DATETIME NOT NULL,
	daily_realized REAL NOT NULL,
	daily_unrealized REAL NOT NULL,
	open_positions INTEGER NOT NULL,
	consecutive_losses INTEGER NOT NULL,
	halted INTEGER NOT NULL,
	halt_reason TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_close_time ON trades(close_time);
CREATE INDEX IF NOT EXISTS idx_positions_time ON positions(time);
CREATE INDEX IF NOT EXISTS idx_risk_time ON risk_metrics(time);
`
