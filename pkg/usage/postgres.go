package usage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresMeter is the Postgres-backed UsageMeter.
type PostgresMeter struct {
	pool *pgxpool.Pool
}

func NewPostgresMeter(pool *pgxpool.Pool) *PostgresMeter {
	return &PostgresMeter{pool: pool}
}

func (m *PostgresMeter) Get(ctx context.Context, realm string) (Summary, error) {
	const query = `SELECT realm, physical_bytes, logical_bytes, node_count, quota_limit, updated_at
		FROM usage_summaries WHERE realm = $1`
	var s Summary
	err := m.pool.QueryRow(ctx, query, realm).Scan(&s.Realm, &s.PhysicalBytes, &s.LogicalBytes, &s.NodeCount, &s.QuotaLimit, &s.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Summary{Realm: realm}, nil
		}
		return Summary{}, fmt.Errorf("usage: get %s: %w", realm, err)
	}
	return s, nil
}

func (m *PostgresMeter) Apply(ctx context.Context, realm string, deltaPhysical, deltaLogical, deltaNodes int64) error {
	const query = `
		INSERT INTO usage_summaries (realm, physical_bytes, logical_bytes, node_count, quota_limit, updated_at)
		VALUES ($1, $2, $3, $4, 0, now())
		ON CONFLICT (realm) DO UPDATE
			SET physical_bytes = usage_summaries.physical_bytes + $2,
			    logical_bytes = usage_summaries.logical_bytes + $3,
			    node_count = usage_summaries.node_count + $4,
			    updated_at = now()`
	_, err := m.pool.Exec(ctx, query, realm, deltaPhysical, deltaLogical, deltaNodes)
	if err != nil {
		return fmt.Errorf("usage: apply %s: %w", realm, err)
	}
	return nil
}

func (m *PostgresMeter) SetQuota(ctx context.Context, realm string, bytes int64) error {
	const query = `
		INSERT INTO usage_summaries (realm, physical_bytes, logical_bytes, node_count, quota_limit, updated_at)
		VALUES ($1, 0, 0, 0, $2, now())
		ON CONFLICT (realm) DO UPDATE SET quota_limit = $2, updated_at = now()`
	_, err := m.pool.Exec(ctx, query, realm, bytes)
	if err != nil {
		return fmt.Errorf("usage: setQuota %s: %w", realm, err)
	}
	return nil
}

func (m *PostgresMeter) CheckQuota(ctx context.Context, realm string, wouldAddBytes int64) (bool, Summary, error) {
	s, err := m.Get(ctx, realm)
	if err != nil {
		return false, Summary{}, err
	}
	if s.QuotaLimit == 0 {
		return true, s, nil
	}
	return s.PhysicalBytes+wouldAddBytes <= s.QuotaLimit, s, nil
}
