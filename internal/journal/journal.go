// Package journal appends every admission decision and trade result to a
// sqlite database so "why did (or didn't) this trade happen" can be
// answered after the fact. Journal failures degrade to logging; they never
// abort an evaluation cycle.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"order_router/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
	id          TEXT PRIMARY KEY,
	decided_at  INTEGER NOT NULL,
	symbol      TEXT NOT NULL,
	strategy_id TEXT NOT NULL,
	admitted    INTEGER NOT NULL,
	tier        TEXT,
	notional    TEXT,
	category    TEXT,
	reason      TEXT,
	score       REAL,
	signal      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON decisions(symbol, decided_at);

CREATE TABLE IF NOT EXISTS trades (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	closed_at INTEGER NOT NULL,
	symbol    TEXT NOT NULL,
	side      TEXT NOT NULL,
	quantity  TEXT NOT NULL,
	price     TEXT NOT NULL,
	pnl       TEXT NOT NULL,
	reason    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol, closed_at);
`

// Journal is the append-only sqlite decision log.
type Journal struct {
	db     *sql.DB
	logger core.ILogger
}

// Open creates or opens the journal database in WAL mode.
func Open(dbPath string, logger core.ILogger) (*Journal, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	// WAL mode for crash recovery
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create journal schema: %w", err)
	}

	return &Journal{db: db, logger: logger.WithField("component", "journal")}, nil
}

// RecordDecision appends one admission decision. Errors are logged, not
// returned: journaling must never stall the cycle.
func (j *Journal) RecordDecision(ctx context.Context, d *core.AdmissionDecision) {
	signal, err := json.Marshal(d.Signal)
	if err != nil {
		j.logger.Warn("Failed to marshal signal for journal", "error", err)
		signal = []byte("{}")
	}

	notional := ""
	if d.Admitted {
		notional = d.Notional.String()
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO decisions
		 (id, decided_at, symbol, strategy_id, admitted, tier, notional, category, reason, score, signal)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.DecidedAt.UnixNano(), d.Signal.Symbol, d.Signal.StrategyID,
		boolToInt(d.Admitted), string(d.Tier), notional, string(d.Category), d.Reason, d.Score, string(signal))
	if err != nil {
		j.logger.Warn("Failed to journal decision", "symbol", d.Signal.Symbol, "error", err)
	}
}

// RecordTrade appends one realized trade result.
func (j *Journal) RecordTrade(ctx context.Context, r *core.TradeResult) {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (closed_at, symbol, side, quantity, price, pnl, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ClosedAt.UnixNano(), r.Symbol, string(r.Side),
		r.Quantity.String(), r.Price.String(), r.PnL.String(), r.Reason)
	if err != nil {
		j.logger.Warn("Failed to journal trade", "symbol", r.Symbol, "error", err)
	}
}

// DecisionRecord is one row read back from the decisions table.
type DecisionRecord struct {
	ID        string
	DecidedAt time.Time
	Symbol    string
	Admitted  bool
	Tier      string
	Category  string
	Reason    string
	Score     float64
}

// RecentDecisions returns the newest decisions for a symbol, newest first.
func (j *Journal) RecentDecisions(ctx context.Context, symbol string, limit int) ([]DecisionRecord, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, decided_at, symbol, admitted, tier, category, reason, score
		 FROM decisions WHERE symbol = ? ORDER BY decided_at DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query decisions: %w", err)
	}
	defer rows.Close()

	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		var decidedAt int64
		var admitted int
		if err := rows.Scan(&r.ID, &decidedAt, &r.Symbol, &admitted, &r.Tier, &r.Category, &r.Reason, &r.Score); err != nil {
			return nil, fmt.Errorf("failed to scan decision row: %w", err)
		}
		r.DecidedAt = time.Unix(0, decidedAt).UTC()
		r.Admitted = admitted != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
