package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Simplici0/engineroom/internal/rules"
)

// RuleVersion is one saved rule configuration. Saving never overwrites; the
// highest version is the active one.
type RuleVersion struct {
	Version   int64        `json:"version"`
	Note      string       `json:"note"`
	CreatedAt time.Time    `json:"createdAt"`
	Config    rules.Config `json:"config"`
}

// SaveRuleConfig stores cfg as a new version. The configuration must already be valid.
func (s *Store) SaveRuleConfig(ctx context.Context, cfg rules.Config, note string) (RuleVersion, error) {
	if err := cfg.Validate(); err != nil {
		return RuleVersion{}, err
	}

	raw, err := json.Marshal(cfg)
	if err != nil {
		return RuleVersion{}, fmt.Errorf("encode rule config: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO rule_configs (config_json, note)
		VALUES (?, ?)
	`, string(raw), note)
	if err != nil {
		return RuleVersion{}, fmt.Errorf("insert rule config: %w", err)
	}

	version, err := res.LastInsertId()
	if err != nil {
		return RuleVersion{}, fmt.Errorf("read rule config version: %w", err)
	}

	return s.RuleConfig(ctx, version)
}

// ActiveRuleConfig returns the latest saved version or ErrNotFound.
func (s *Store) ActiveRuleConfig(ctx context.Context) (RuleVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, config_json, note, created_at
		FROM rule_configs
		ORDER BY version DESC
		LIMIT 1
	`)
	return scanRuleVersion(row)
}

// RuleConfig returns a specific version or ErrNotFound.
func (s *Store) RuleConfig(ctx context.Context, version int64) (RuleVersion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT version, config_json, note, created_at
		FROM rule_configs
		WHERE version = ?
	`, version)
	return scanRuleVersion(row)
}

// ListRuleVersions returns saved versions, newest first.
func (s *Store) ListRuleVersions(ctx context.Context, limit int) ([]RuleVersion, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT version, config_json, note, created_at
		FROM rule_configs
		ORDER BY version DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query rule configs: %w", err)
	}
	defer rows.Close()

	versions := make([]RuleVersion, 0)
	for rows.Next() {
		v, err := scanRuleVersion(rows)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rule configs: %w", err)
	}
	return versions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRuleVersion(row rowScanner) (RuleVersion, error) {
	var v RuleVersion
	var raw string
	if err := row.Scan(&v.Version, &raw, &v.Note, &v.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RuleVersion{}, ErrNotFound
		}
		return RuleVersion{}, fmt.Errorf("scan rule config: %w", err)
	}

	cfg, err := rules.Parse([]byte(raw))
	if err != nil {
		return RuleVersion{}, fmt.Errorf("decode rule config version %d: %w", v.Version, err)
	}
	v.Config = cfg
	return v, nil
}
