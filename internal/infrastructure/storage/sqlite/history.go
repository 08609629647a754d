package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"tickerhub/internal/application/port"
)

// HistoryRepo persists fired-alert records.
type HistoryRepo struct {
	db *sql.DB
}

func New(path string) (*HistoryRepo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &HistoryRepo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *HistoryRepo) Close() error { return r.db.Close() }

func (r *HistoryRepo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS alert_history (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  user_email TEXT NOT NULL,
  symbol TEXT NOT NULL,
  target_price REAL NOT NULL,
  current_price REAL NOT NULL,
  condition TEXT NOT NULL,
  triggered_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alert_history_user ON alert_history(user_email);
CREATE INDEX IF NOT EXISTS idx_alert_history_triggered ON alert_history(triggered_at);
`)
	return err
}

func (r *HistoryRepo) Insert(ctx context.Context, rec port.AlertRecord) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO alert_history(user_email, symbol, target_price, current_price, condition, triggered_at, created_at)
VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.UserEmail, rec.Symbol, rec.TargetPrice, rec.CurrentPrice, rec.Condition, rec.TriggeredAt,
		time.Now().UnixMilli())
	return err
}

func (r *HistoryRepo) ListByUser(ctx context.Context, userEmail string) ([]port.AlertRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, user_email, symbol, target_price, current_price, condition, triggered_at
FROM alert_history WHERE user_email = ? ORDER BY triggered_at DESC`, userEmail)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []port.AlertRecord
	for rows.Next() {
		var rec port.AlertRecord
		if err := rows.Scan(&rec.ID, &rec.UserEmail, &rec.Symbol, &rec.TargetPrice, &rec.CurrentPrice, &rec.Condition, &rec.TriggeredAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

var _ port.AlertHistory = (*HistoryRepo)(nil)
