package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"tickerhub/internal/application/port"
)

// Catalog is the durable asset catalog backed by postgres.
type Catalog struct {
	db *sql.DB
}

func New(dsn string) (*Catalog, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	c := &Catalog{db: db}
	if err := c.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func (c *Catalog) migrate(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS assets (
  symbol TEXT PRIMARY KEY,
  korean_name TEXT NOT NULL DEFAULT '',
  english_name TEXT NOT NULL DEFAULT '',
  category TEXT NOT NULL,
  updated_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assets_category ON assets(category);
`)
	return err
}

func (c *Catalog) UpsertAssets(ctx context.Context, assets []port.Asset) error {
	if len(assets) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := time.Now().UnixMilli()
	for _, a := range assets {
		_, err := tx.ExecContext(ctx, `
INSERT INTO assets(symbol, korean_name, english_name, category, updated_at)
VALUES($1, $2, $3, $4, $5)
ON CONFLICT (symbol) DO UPDATE SET
  korean_name = EXCLUDED.korean_name,
  english_name = EXCLUDED.english_name,
  category = EXCLUDED.category,
  updated_at = EXCLUDED.updated_at`,
			a.Symbol, a.KoreanName, a.EnglishName, a.Category, now)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (c *Catalog) LookupSymbol(ctx context.Context, symbol string) (port.Asset, error) {
	var a port.Asset
	err := c.db.QueryRowContext(ctx, `
SELECT symbol, korean_name, english_name, category FROM assets WHERE symbol = $1`, symbol).
		Scan(&a.Symbol, &a.KoreanName, &a.EnglishName, &a.Category)
	return a, err
}

func (c *Catalog) ListSymbolsByCategory(ctx context.Context, category string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT symbol FROM assets WHERE category = $1 ORDER BY symbol`, category)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

var _ port.AssetCatalog = (*Catalog)(nil)
