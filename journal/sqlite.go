package journal

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteJournal stores records in a single SQLite database.
type SQLiteJournal struct {
	mu sync.Mutex
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if _, err := db.Exec(Schema); err != nil {
		return nil, err
	}

	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordOrder(o OrderRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(`
		INSERT INTO orders
		(id, broker_id, symbol, side, quantity, order_type, limit_price, status, reason, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET status=excluded.status, reason=excluded.reason, time=excluded.time`,
		o.ID, o.BrokerID, o.Symbol, o.Side, o.Quantity, o.Type, o.LimitPrice, o.Status, o.Reason, o.Time,
	)
	return err
}

func (j *SQLiteJournal) RecordFill(f FillRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(`
		INSERT INTO fills (order_id, symbol, quantity, price, time)
		VALUES (?, ?, ?, ?, ?)`,
		f.OrderID, f.Symbol, f.Quantity, f.Price, f.Time,
	)
	return err
}

func (j *SQLiteJournal) RecordEquity(e EquitySnapshot) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, err := j.db.Exec(`
		INSERT INTO equity (time, positions, exposure, unrealized, realized)
		VALUES (?, ?, ?, ?, ?)`,
		e.Time, e.Positions, e.Exposure, e.Unrealized, e.Realized,
	)
	return err
}

// PositionSummary is a net position derived from recorded fills.
type PositionSummary struct {
	Symbol   string
	Quantity int
	AvgPrice float64
}

// Positions aggregates fills into net positions per symbol. Average
// price is volume-weighted over buys only, good enough for review.
func (j *SQLiteJournal) Positions() ([]PositionSummary, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	rows, err := j.db.Query(`
		SELECT symbol,
		       SUM(quantity) AS net,
		       SUM(CASE WHEN quantity > 0 THEN quantity * price ELSE 0 END) /
		       MAX(1, SUM(CASE WHEN quantity > 0 THEN quantity ELSE 0 END)) AS avg_buy
		FROM fills
		GROUP BY symbol
		HAVING net != 0
		ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var out []PositionSummary
	for rows.Next() {
		var p PositionSummary
		if err := rows.Scan(&p.Symbol, &p.Quantity, &p.AvgPrice); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
