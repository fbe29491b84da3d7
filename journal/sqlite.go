package journal

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteJournal struct {
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
	_, err := j.db.Exec(`
		INSERT INTO orders
		(order_id, broker_id, symbol, side, type, status, strategy, signal_id,
		 quantity, filled, avg_price, commission, reason, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			broker_id=excluded.broker_id,
			status=excluded.status,
			filled=excluded.filled,
			avg_price=excluded.avg_price,
			commission=excluded.commission,
			reason=excluded.reason,
			updated_at=excluded.updated_at`,
		o.OrderID, o.BrokerID, o.Symbol, o.Side, o.Type, o.Status, o.Strategy,
		o.SignalID, o.Quantity, o.Filled, o.AvgPrice, o.Commission, o.Reason,
		o.CreatedAt, o.UpdatedAt,
	)
	return err
}

func (j *SQLiteJournal) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, symbol, strategy, direction, quantity, entry_price,
		 exit_price, realized_pl, commission, open_time, close_time, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.Symbol, t.Strategy, t.Direction, t.Quantity, t.EntryPrice,
		t.ExitPrice, t.RealizedPL, t.Commission, t.OpenTime, t.CloseTime, t.Reason,
	)
	return err
}

func (j *SQLiteJournal) RecordPosition(p PositionRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO positions
		(symbol, strategy, net_quantity, avg_entry, realized_pl, unrealized_pl,
		 status, opened_at, closed_at, time)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Symbol, p.Strategy, p.NetQuantity, p.AvgEntry, p.RealizedPL,
		p.UnrealizedPL, p.Status, p.OpenedAt, p.ClosedAt, p.Time,
	)
	return err
}

func (j *SQLiteJournal) RecordRisk(r RiskRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO risk_metrics
		(time, daily_realized, daily_unrealized, open_positions,
		 consecutive_losses, halted, halt_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.Time, r.DailyRealized, r.DailyUnrealized, r.OpenPositions,
		r.ConsecutiveLosses, r.Halted, r.HaltReason,
	)
	return err
}

// GetTrade loads a single trade by ID.
func (j *SQLiteJournal) GetTrade(tradeID string) (TradeRecord, error) {
	row := j.db.QueryRow(`
		SELECT trade_id, symbol, strategy, direction, quantity, entry_price,
		       exit_price, realized_pl, commission, open_time, close_time, reason
		FROM trades WHERE trade_id = ?`, tradeID)

	var t TradeRecord
	err := row.Scan(&t.TradeID, &t.Symbol, &t.Strategy, &t.Direction, &t.Quantity,
		&t.EntryPrice, &t.ExitPrice, &t.RealizedPL, &t.Commission,
		&t.OpenTime, &t.CloseTime, &t.Reason)
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("trade %q not found", tradeID)
	}
	return t, err
}

// ListTradesClosedBetween returns trades with close_time in [start, end),
// oldest first.
func (j *SQLiteJournal) ListTradesClosedBetween(start, end time.Time) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, symbol, strategy, direction, quantity, entry_price,
		       exit_price, realized_pl, commission, open_time, close_time, reason
		FROM trades
		WHERE close_time >= ? AND close_time < ?
		ORDER BY close_time ASC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.TradeID, &t.Symbol, &t.Strategy, &t.Direction,
			&t.Quantity, &t.EntryPrice, &t.ExitPrice, &t.RealizedPL,
			&t.Commission, &t.OpenTime, &t.CloseTime, &t.Reason); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
