package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Simplici0/engineroom/internal/pricing"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store persists the catalog, rule configuration versions and simulation runs.
type Store struct {
	db *sql.DB
}

// New wraps an open database whose schema is up to date.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListItems returns the whole catalog ordered by id.
func (s *Store) ListItems(ctx context.Context) ([]pricing.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT
			id,
			description,
			average_cost,
			market_low,
			true_market_low,
			competitor_prices_json,
			no_market_price,
			current_price,
			usage,
			usage_rank,
			next_cost
		FROM catalog_items
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query catalog items: %w", err)
	}
	defer rows.Close()

	items := make([]pricing.Item, 0)
	for rows.Next() {
		var it pricing.Item
		var competitorJSON string
		if err := rows.Scan(
			&it.ID,
			&it.Description,
			&it.AverageCost,
			&it.MarketLow,
			&it.TrueMarketLow,
			&competitorJSON,
			&it.NoMarketPrice,
			&it.CurrentPrice,
			&it.Usage,
			&it.UsageRank,
			&it.NextCost,
		); err != nil {
			return nil, fmt.Errorf("scan catalog item: %w", err)
		}
		if err := decodeCompetitorPrices(competitorJSON, &it); err != nil {
			return nil, err
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate catalog items: %w", err)
	}

	return items, nil
}

// UpsertItems inserts or replaces catalog items in a single transaction and
// returns how many rows were written.
func (s *Store) UpsertItems(ctx context.Context, items []pricing.Item) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin upsert items transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO catalog_items (
			id,
			description,
			average_cost,
			market_low,
			true_market_low,
			competitor_prices_json,
			no_market_price,
			current_price,
			usage,
			usage_rank,
			next_cost
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			average_cost = excluded.average_cost,
			market_low = excluded.market_low,
			true_market_low = excluded.true_market_low,
			competitor_prices_json = excluded.competitor_prices_json,
			no_market_price = excluded.no_market_price,
			current_price = excluded.current_price,
			usage = excluded.usage,
			usage_rank = excluded.usage_rank,
			next_cost = excluded.next_cost,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("prepare upsert item: %w", err)
	}
	defer stmt.Close()

	for _, it := range items {
		competitorJSON, err := encodeCompetitorPrices(it.CompetitorPrices)
		if err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("encode competitor prices for %q: %w", it.ID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			it.ID,
			it.Description,
			it.AverageCost,
			it.MarketLow,
			it.TrueMarketLow,
			competitorJSON,
			it.NoMarketPrice,
			it.CurrentPrice,
			it.Usage,
			it.UsageRank,
			it.NextCost,
		); err != nil {
			_ = tx.Rollback()
			return 0, fmt.Errorf("upsert item %q: %w", it.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit upsert items transaction: %w", err)
	}
	return len(items), nil
}

// CountItems returns the number of catalog rows.
func (s *Store) CountItems(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM catalog_items`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count catalog items: %w", err)
	}
	return n, nil
}

func encodeCompetitorPrices(prices map[string]float64) (string, error) {
	if len(prices) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(prices)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeCompetitorPrices(raw string, it *pricing.Item) error {
	if raw == "" || raw == "{}" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), &it.CompetitorPrices); err != nil {
		return fmt.Errorf("decode competitor prices for %q: %w", it.ID, err)
	}
	return nil
}
