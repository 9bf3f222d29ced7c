package refcount

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/strata/pkg/digest"
)

// PostgresCounter is the Postgres-backed RefCounter. Increment relies on
// a single INSERT ... ON CONFLICT DO UPDATE ... RETURNING statement for
// linearisable increments, matching the approach in SPEC_FULL.md §6.
type PostgresCounter struct {
	pool *pgxpool.Pool
}

func NewPostgresCounter(pool *pgxpool.Pool) *PostgresCounter {
	return &PostgresCounter{pool: pool}
}

func (c *PostgresCounter) Increment(ctx context.Context, realm string, key digest.Key, physicalSize, logicalSize uint64) (IncrementResult, error) {
	const query = `
		INSERT INTO refcount_entries (realm, key, count, physical_size, logical_size, gc_state, first_seen_at)
		VALUES ($1, $2, 1, $3, $4, 'active', now())
		ON CONFLICT (realm, key) DO UPDATE
			SET count = refcount_entries.count + 1,
			    gc_state = 'active'
		RETURNING count, (count = 1)`

	var count int64
	var wasZero bool
	err := c.pool.QueryRow(ctx, query, realm, string(key), physicalSize, logicalSize).Scan(&count, &wasZero)
	if err != nil {
		return IncrementResult{}, fmt.Errorf("refcount: increment %s/%s: %w", realm, key, err)
	}
	return IncrementResult{Count: count, WasZeroBefore: wasZero}, nil
}

func (c *PostgresCounter) Decrement(ctx context.Context, realm string, key digest.Key) (DecrementResult, error) {
	const query = `
		UPDATE refcount_entries
		SET count = count - 1,
		    gc_state = CASE WHEN count - 1 <= 0 THEN 'pending' ELSE gc_state END
		WHERE realm = $1 AND key = $2 AND count > 0
		RETURNING count`

	var count int64
	err := c.pool.QueryRow(ctx, query, realm, string(key)).Scan(&count)
	if err != nil {
		if err == pgx.ErrNoRows {
			return DecrementResult{}, nil
		}
		return DecrementResult{}, fmt.Errorf("refcount: decrement %s/%s: %w", realm, key, err)
	}
	return DecrementResult{Count: count, BecameZero: count == 0}, nil
}

func (c *PostgresCounter) Get(ctx context.Context, realm string, key digest.Key) (*Entry, error) {
	const query = `SELECT realm, key, count, physical_size, logical_size, gc_state, first_seen_at
		FROM refcount_entries WHERE realm = $1 AND key = $2`
	var e Entry
	var k, state string
	err := c.pool.QueryRow(ctx, query, realm, string(key)).Scan(&e.Realm, &k, &e.Count, &e.PhysicalSize, &e.LogicalSize, &state, &e.FirstSeenAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("refcount: get %s/%s: %w", realm, key, err)
	}
	e.Key = digest.Key(k)
	e.GCState = GCState(state)
	return &e, nil
}

type pendingCursor struct {
	FirstSeenAt time.Time
	Realm       string
	Key         digest.Key
}

func encodePendingCursor(c pendingCursor) string {
	raw := fmt.Sprintf("%d:%s:%s", c.FirstSeenAt.UnixMicro(), c.Realm, c.Key)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodePendingCursor(s string) (pendingCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return pendingCursor{}, fmt.Errorf("refcount: invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 3)
	if len(parts) != 3 {
		return pendingCursor{}, fmt.Errorf("refcount: malformed cursor")
	}
	usec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return pendingCursor{}, fmt.Errorf("refcount: malformed cursor timestamp: %w", err)
	}
	return pendingCursor{FirstSeenAt: time.UnixMicro(usec).UTC(), Realm: parts[1], Key: digest.Key(parts[2])}, nil
}

func (c *PostgresCounter) ListPending(ctx context.Context, beforeTime time.Time, limit int, cursor string) (PendingPage, error) {
	if limit <= 0 {
		limit = 100
	}
	qb := sq.Select("realm, key, count, physical_size, logical_size, gc_state, first_seen_at").
		From("refcount_entries").
		Where(sq.Eq{"gc_state": string(StatePending)}).
		Where(sq.Lt{"first_seen_at": beforeTime}).
		OrderBy("first_seen_at ASC", "realm ASC", "key ASC").
		Limit(uint64(limit) + 1).
		PlaceholderFormat(sq.Dollar)

	if cursor != "" {
		cur, err := decodePendingCursor(cursor)
		if err != nil {
			return PendingPage{}, err
		}
		qb = qb.Where(sq.Or{
			sq.Gt{"first_seen_at": cur.FirstSeenAt},
			sq.And{sq.Eq{"first_seen_at": cur.FirstSeenAt}, sq.Gt{"realm": cur.Realm}},
			sq.And{sq.Eq{"first_seen_at": cur.FirstSeenAt}, sq.Eq{"realm": cur.Realm}, sq.Gt{"key": string(cur.Key)}},
		})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return PendingPage{}, fmt.Errorf("refcount: build listPending query: %w", err)
	}

	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return PendingPage{}, fmt.Errorf("refcount: listPending: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var k, state string
		if err := rows.Scan(&e.Realm, &k, &e.Count, &e.PhysicalSize, &e.LogicalSize, &state, &e.FirstSeenAt); err != nil {
			return PendingPage{}, fmt.Errorf("refcount: scan: %w", err)
		}
		e.Key = digest.Key(k)
		e.GCState = GCState(state)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return PendingPage{}, fmt.Errorf("refcount: iterate: %w", err)
	}

	page := PendingPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		last := page.Entries[len(page.Entries)-1]
		page.NextCursor = encodePendingCursor(pendingCursor{FirstSeenAt: last.FirstSeenAt, Realm: last.Realm, Key: last.Key})
	}
	return page, nil
}

func (c *PostgresCounter) CountGlobal(ctx context.Context, key digest.Key) (int, error) {
	var n int
	err := c.pool.QueryRow(ctx, `SELECT count(*) FROM refcount_entries WHERE key = $1 AND count > 0`, string(key)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("refcount: countGlobal %s: %w", key, err)
	}
	return n, nil
}

func (c *PostgresCounter) Delete(ctx context.Context, realm string, key digest.Key) error {
	_, err := c.pool.Exec(ctx, `DELETE FROM refcount_entries WHERE realm = $1 AND key = $2`, realm, string(key))
	if err != nil {
		return fmt.Errorf("refcount: delete %s/%s: %w", realm, key, err)
	}
	return nil
}
