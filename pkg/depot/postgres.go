package depot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/strata/pkg/digest"
)

// Archiver is a best-effort, non-authoritative sink for depot history,
// satisfied by pkg/depot's Mongo writer. Failures are logged, never
// propagated: history there is an audit trail, not a source of truth.
type Archiver interface {
	Append(ctx context.Context, realm, depotID string, entry HistoryEntry)
}

// PostgresStore is the Postgres-backed DepotStore. UpdateRoot runs inside
// a single transaction so the version bump, history append, and root swap
// are atomic; the ref-count increment/decrement happens in the caller
// (internal/casapi), outside this transaction, in increment-new-then-
// decrement-old order so a crash mid-sequence leaves an over-counted
// reference rather than a dangling pointer.
type PostgresStore struct {
	pool     *pgxpool.Pool
	archiver Archiver
	logger   *slog.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, archiver Archiver, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, archiver: archiver, logger: logger}
}

func (s *PostgresStore) Create(ctx context.Context, realm, name, description string, initialRoot digest.Key) (*Depot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("depot: begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	id := uuid.NewString()
	now := time.Now().UTC()
	const insertDepot = `
		INSERT INTO depots (id, realm, name, description, root, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 1, $6, $6)`
	_, err = tx.Exec(ctx, insertDepot, id, realm, name, description, string(initialRoot), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrNameConflict
		}
		return nil, fmt.Errorf("depot: create: %w", err)
	}

	const insertHistory = `INSERT INTO depot_history (realm, depot_id, version, root, created_at, message) VALUES ($1,$2,1,$3,$4,'')`
	if _, err := tx.Exec(ctx, insertHistory, realm, id, string(initialRoot), now); err != nil {
		return nil, fmt.Errorf("depot: create history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("depot: commit create: %w", err)
	}

	d := &Depot{Realm: realm, ID: id, Name: name, Description: description, Root: initialRoot, Version: 1, CreatedAt: now, UpdatedAt: now}
	if s.archiver != nil {
		s.archiver.Append(ctx, realm, id, HistoryEntry{Version: 1, Root: initialRoot, CreatedAt: now})
	}
	return d, nil
}

func scanDepot(row pgx.Row) (*Depot, error) {
	var d Depot
	var root string
	err := row.Scan(&d.ID, &d.Realm, &d.Name, &d.Description, &root, &d.Version, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return nil, err
	}
	d.Root = digest.Key(root)
	return &d, nil
}

const depotColumns = `id, realm, name, description, root, version, created_at, updated_at`

func (s *PostgresStore) Get(ctx context.Context, realm, depotID string) (*Depot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+depotColumns+` FROM depots WHERE realm = $1 AND id = $2`, realm, depotID)
	d, err := scanDepot(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("depot: get %s/%s: %w", realm, depotID, err)
	}
	return d, nil
}

func (s *PostgresStore) GetByName(ctx context.Context, realm, name string) (*Depot, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+depotColumns+` FROM depots WHERE realm = $1 AND name = $2`, realm, name)
	d, err := scanDepot(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("depot: getByName %s/%s: %w", realm, name, err)
	}
	return d, nil
}

func (s *PostgresStore) List(ctx context.Context, realm string) ([]Depot, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+depotColumns+` FROM depots WHERE realm = $1 ORDER BY created_at ASC`, realm)
	if err != nil {
		return nil, fmt.Errorf("depot: list %s: %w", realm, err)
	}
	defer rows.Close()

	var out []Depot
	for rows.Next() {
		d, err := scanDepot(rows)
		if err != nil {
			return nil, fmt.Errorf("depot: scan: %w", err)
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateRoot(ctx context.Context, realm, depotID string, expectedVersion int64, newRoot digest.Key, message string) (*Depot, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("depot: begin updateRoot: %w", err)
	}
	defer tx.Rollback(ctx)

	const update = `
		UPDATE depots SET root = $4, version = version + 1, updated_at = now()
		WHERE realm = $1 AND id = $2 AND version = $3
		RETURNING ` + depotColumns
	row := tx.QueryRow(ctx, update, realm, depotID, expectedVersion, string(newRoot))
	d, err := scanDepot(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			// Distinguish a missing depot from a lost optimistic-CAS race.
			var exists bool
			_ = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM depots WHERE realm=$1 AND id=$2)`, realm, depotID).Scan(&exists)
			if !exists {
				return nil, nil
			}
			return nil, ErrVersionConflict
		}
		return nil, fmt.Errorf("depot: updateRoot: %w", err)
	}

	const insertHistory = `INSERT INTO depot_history (realm, depot_id, version, root, created_at, message) VALUES ($1,$2,$3,$4,now(),$5)`
	if _, err := tx.Exec(ctx, insertHistory, realm, depotID, d.Version, string(newRoot), message); err != nil {
		return nil, fmt.Errorf("depot: updateRoot history: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("depot: commit updateRoot: %w", err)
	}

	if s.archiver != nil {
		s.archiver.Append(ctx, realm, depotID, HistoryEntry{Version: d.Version, Root: newRoot, CreatedAt: d.UpdatedAt, Message: message})
	}
	return d, nil
}

func (s *PostgresStore) History(ctx context.Context, realm, depotID string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT version, root, created_at, message FROM depot_history
		WHERE realm = $1 AND depot_id = $2 ORDER BY version DESC LIMIT $3`, realm, depotID, limit)
	if err != nil {
		return nil, fmt.Errorf("depot: history %s/%s: %w", realm, depotID, err)
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var h HistoryEntry
		var root string
		if err := rows.Scan(&h.Version, &root, &h.CreatedAt, &h.Message); err != nil {
			return nil, fmt.Errorf("depot: scan history: %w", err)
		}
		h.Root = digest.Key(root)
		out = append(out, h)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, realm, depotID string) error {
	d, err := s.Get(ctx, realm, depotID)
	if err != nil {
		return err
	}
	if d == nil {
		return nil
	}
	if d.Name == MainDepotName {
		return ErrMainUndeletable
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM depots WHERE realm = $1 AND id = $2`, realm, depotID)
	if err != nil {
		return fmt.Errorf("depot: delete %s/%s: %w", realm, depotID, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && (contains(err.Error(), "unique") || contains(err.Error(), "duplicate"))
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}
