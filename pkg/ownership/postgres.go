package ownership

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

const ownershipColumns = `realm, key, kind, content_type, byte_size, created_at, created_by`

// PostgresLedger is the Postgres-backed OwnershipLedger, sharing one
// schema across realms with a realm column rather than per-tenant
// schemas, so GC's cross-realm scans stay cheap.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

func NewPostgresLedger(pool *pgxpool.Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool}
}

func (l *PostgresLedger) Add(ctx context.Context, realm string, key digest.Key, kind, contentType string, byteSize uint64, creator string) error {
	query := `INSERT INTO ownership_entries (realm, key, kind, content_type, byte_size, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (realm, key) DO NOTHING`
	_, err := l.pool.Exec(ctx, query, realm, string(key), kind, contentType, byteSize, creator)
	if err != nil {
		return fmt.Errorf("ownership: add %s/%s: %w", realm, key, err)
	}
	return nil
}

func (l *PostgresLedger) Has(ctx context.Context, realm string, key digest.Key) (bool, error) {
	var exists bool
	err := l.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ownership_entries WHERE realm = $1 AND key = $2)`, realm, string(key)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ownership: has %s/%s: %w", realm, key, err)
	}
	return exists, nil
}

func (l *PostgresLedger) Check(ctx context.Context, realm string, keys []digest.Key) ([]digest.Key, []digest.Key, error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}
	raw := make([]string, len(keys))
	for i, k := range keys {
		raw[i] = string(k)
	}
	rows, err := l.pool.Query(ctx, `SELECT key FROM ownership_entries WHERE realm = $1 AND key = ANY($2)`, realm, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("ownership: check: %w", err)
	}
	defer rows.Close()

	presentSet := make(map[digest.Key]struct{}, len(keys))
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, nil, fmt.Errorf("ownership: check scan: %w", err)
		}
		presentSet[digest.Key(k)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("ownership: check iterate: %w", err)
	}

	var present, missing []digest.Key
	for _, k := range keys {
		if _, ok := presentSet[k]; ok {
			present = append(present, k)
		} else {
			missing = append(missing, k)
		}
	}
	return present, missing, nil
}

type ownershipCursor struct {
	CreatedAt time.Time
	Key       digest.Key
}

func encodeOwnershipCursor(c ownershipCursor) string {
	raw := fmt.Sprintf("%d:%s", c.CreatedAt.UnixMicro(), c.Key)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeOwnershipCursor(s string) (ownershipCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return ownershipCursor{}, fmt.Errorf("ownership: invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return ownershipCursor{}, fmt.Errorf("ownership: malformed cursor")
	}
	usec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ownershipCursor{}, fmt.Errorf("ownership: malformed cursor timestamp: %w", err)
	}
	return ownershipCursor{CreatedAt: time.UnixMicro(usec).UTC(), Key: digest.Key(parts[1])}, nil
}

func (l *PostgresLedger) List(ctx context.Context, realm string, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		limit = 25
	}
	qb := sq.Select(strings.Split(ownershipColumns, ", ")...).
		From("ownership_entries").
		Where(sq.Eq{"realm": realm}).
		OrderBy("created_at DESC", "key DESC").
		Limit(uint64(limit) + 1).
		PlaceholderFormat(sq.Dollar)

	if cursor != "" {
		c, err := decodeOwnershipCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		qb = qb.Where(sq.Or{
			sq.Lt{"created_at": c.CreatedAt},
			sq.And{sq.Eq{"created_at": c.CreatedAt}, sq.Lt{"key": string(c.Key)}},
		})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return Page{}, fmt.Errorf("ownership: build list query: %w", err)
	}

	rows, err := l.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("ownership: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var key string
		if err := rows.Scan(&e.Realm, &key, &e.Kind, &e.ContentType, &e.ByteSize, &e.CreatedAt, &e.CreatedBy); err != nil {
			return Page{}, fmt.Errorf("ownership: scan: %w", err)
		}
		e.Key = digest.Key(key)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("ownership: iterate: %w", err)
	}

	page := Page{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		last := page.Entries[len(page.Entries)-1]
		page.NextCursor = encodeOwnershipCursor(ownershipCursor{CreatedAt: last.CreatedAt, Key: last.Key})
	}
	return page, nil
}

func (l *PostgresLedger) Remove(ctx context.Context, realm string, key digest.Key) error {
	_, err := l.pool.Exec(ctx, `DELETE FROM ownership_entries WHERE realm = $1 AND key = $2`, realm, string(key))
	if err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("ownership: remove %s/%s: %w", realm, key, err)
	}
	return nil
}
