package audit

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the Postgres-backed audit Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) InsertBatch(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	const insert = `
		INSERT INTO audit_log_entries (id, realm, actor_id, method, action, resource, resource_key, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(insert, uuid.NewString(), e.Realm, e.ActorID, e.Method, e.Action, e.Resource, e.ResourceKey, detailOrEmpty(e.Detail), e.CreatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("audit: insert batch: %w", err)
		}
	}
	return nil
}

func detailOrEmpty(d []byte) []byte {
	if d == nil {
		return []byte("{}")
	}
	return d
}

func (s *PostgresStore) List(ctx context.Context, realm string, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		limit = 25
	}
	qb := sq.Select("id, realm, actor_id, method, action, resource, resource_key, detail, created_at").
		From("audit_log_entries").
		Where(sq.Eq{"realm": realm}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit) + 1).
		PlaceholderFormat(sq.Dollar)

	if cursor != "" {
		c, err := decodeAuditCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		qb = qb.Where(sq.Or{
			sq.Lt{"created_at": c.CreatedAt},
			sq.And{sq.Eq{"created_at": c.CreatedAt}, sq.Lt{"id": c.ID}},
		})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return Page{}, fmt.Errorf("audit: build list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("audit: list: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	var ids []string
	for rows.Next() {
		var e Entry
		var id string
		if err := rows.Scan(&id, &e.Realm, &e.ActorID, &e.Method, &e.Action, &e.Resource, &e.ResourceKey, &e.Detail, &e.CreatedAt); err != nil {
			return Page{}, fmt.Errorf("audit: scan: %w", err)
		}
		entries = append(entries, e)
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("audit: list rows: %w", err)
	}

	page := Page{}
	if len(entries) > limit {
		last := ids[limit-1]
		page.Entries = entries[:limit]
		page.NextCursor = encodeAuditCursor(auditCursor{CreatedAt: entries[limit-1].CreatedAt, ID: last})
	} else {
		page.Entries = entries
	}
	return page, nil
}

type auditCursor struct {
	CreatedAt time.Time
	ID        string
}

func encodeAuditCursor(c auditCursor) string {
	raw := fmt.Sprintf("%d:%s", c.CreatedAt.UnixMicro(), c.ID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeAuditCursor(s string) (auditCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return auditCursor{}, fmt.Errorf("audit: invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return auditCursor{}, fmt.Errorf("audit: malformed cursor")
	}
	usec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return auditCursor{}, fmt.Errorf("audit: malformed cursor timestamp: %w", err)
	}
	return auditCursor{CreatedAt: time.UnixMicro(usec).UTC(), ID: parts[1]}, nil
}
