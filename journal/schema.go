package journal

const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id TEXT PRIMARY KEY,
	broker_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	order_type TEXT NOT NULL,
	limit_price REAL NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
	order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price REAL NOT NULL,
	time DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS equity (
	time DATETIME NOT NULL,
	positions INTEGER NOT NULL,
	exposure REAL NOT NULL,
	unrealized REAL NOT NULL,
	realized REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fills_symbol ON fills(symbol);
CREATE INDEX IF NOT EXISTS idx_equity_time ON equity(time);
`
