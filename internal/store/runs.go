package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Simplici0/engineroom/internal/pricing"
	"github.com/Simplici0/engineroom/internal/simulation"
)

// Run is a persisted simulation. RuleConfigVersion is zero when the run used
// an ad-hoc configuration that was never saved.
type Run struct {
	ID                string            `json:"id"`
	RuleConfigVersion int64             `json:"ruleConfigVersion,omitempty"`
	Fingerprint       string            `json:"fingerprint"`
	CreatedAt         time.Time         `json:"createdAt"`
	Result            simulation.Result `json:"result"`
}

// RunSummary is a listing row without per-item results.
type RunSummary struct {
	ID                string    `json:"id"`
	RuleConfigVersion int64     `json:"ruleConfigVersion,omitempty"`
	Fingerprint       string    `json:"fingerprint"`
	ItemCount         int       `json:"itemCount"`
	SkippedCount      int       `json:"skippedCount"`
	CreatedAt         time.Time `json:"createdAt"`
}

// SaveRun stores a finished simulation. Per-item results are kept in their
// own column so listings never decode them.
func (s *Store) SaveRun(ctx context.Context, run Run) error {
	if run.ID == "" {
		return errors.New("save run: id is required")
	}

	summary := run.Result
	summary.ItemResults = nil

	summaryJSON, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run summary: %w", err)
	}
	itemsJSON, err := json.Marshal(run.Result.ItemResults)
	if err != nil {
		return fmt.Errorf("encode run item results: %w", err)
	}

	var version sql.NullInt64
	if run.RuleConfigVersion > 0 {
		version = sql.NullInt64{Int64: run.RuleConfigVersion, Valid: true}
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO simulation_runs (
			id,
			rule_config_version,
			fingerprint,
			item_count,
			skipped_count,
			summary_json,
			item_results_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		version,
		run.Fingerprint,
		run.Result.Simulated.Count,
		len(run.Result.SkippedItems),
		string(summaryJSON),
		string(itemsJSON),
	); err != nil {
		return fmt.Errorf("insert simulation run: %w", err)
	}
	return nil
}

// GetRun loads a run with its item results or returns ErrNotFound.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	var run Run
	var version sql.NullInt64
	var summaryJSON, itemsJSON string

	err := s.db.QueryRowContext(ctx, `
		SELECT id, rule_config_version, fingerprint, created_at, summary_json, item_results_json
		FROM simulation_runs
		WHERE id = ?
	`, id).Scan(&run.ID, &version, &run.Fingerprint, &run.CreatedAt, &summaryJSON, &itemsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("query simulation run: %w", err)
	}

	if version.Valid {
		run.RuleConfigVersion = version.Int64
	}
	if err := json.Unmarshal([]byte(summaryJSON), &run.Result); err != nil {
		return Run{}, fmt.Errorf("decode run summary: %w", err)
	}
	var items []pricing.ItemResult
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return Run{}, fmt.Errorf("decode run item results: %w", err)
	}
	run.Result.ItemResults = items

	return run, nil
}

// ListRuns returns run summaries, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, rule_config_version, fingerprint, item_count, skipped_count, created_at
		FROM simulation_runs
		ORDER BY datetime(created_at) DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query simulation runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunSummary, 0)
	for rows.Next() {
		var r RunSummary
		var version sql.NullInt64
		if err := rows.Scan(&r.ID, &version, &r.Fingerprint, &r.ItemCount, &r.SkippedCount, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan simulation run: %w", err)
		}
		if version.Valid {
			r.RuleConfigVersion = version.Int64
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate simulation runs: %w", err)
	}
	return runs, nil
}
