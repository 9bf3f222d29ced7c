package commitstore

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

// PostgresStore is the Postgres-backed CommitStore.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Create(ctx context.Context, realm string, root digest.Key, creator, title string) (*Commit, error) {
	const query = `
		INSERT INTO commits (realm, root, title, created_by, created_at)
		VALUES ($1, $2, $3, $4, now())
		RETURNING realm, root, title, created_at, created_by`
	var c Commit
	var rootStr string
	err := s.pool.QueryRow(ctx, query, realm, string(root), title, creator).Scan(&c.Realm, &rootStr, &c.Title, &c.CreatedAt, &c.CreatedBy)
	if err != nil {
		return nil, fmt.Errorf("commitstore: create %s/%s: %w", realm, root, err)
	}
	c.Root = digest.Key(rootStr)
	return &c, nil
}

func (s *PostgresStore) Get(ctx context.Context, realm string, root digest.Key) (*Commit, error) {
	const query = `SELECT realm, root, title, created_at, created_by FROM commits WHERE realm = $1 AND root = $2`
	var c Commit
	var rootStr string
	err := s.pool.QueryRow(ctx, query, realm, string(root)).Scan(&c.Realm, &rootStr, &c.Title, &c.CreatedAt, &c.CreatedBy)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("commitstore: get %s/%s: %w", realm, root, err)
	}
	c.Root = digest.Key(rootStr)
	return &c, nil
}

func (s *PostgresStore) UpdateTitle(ctx context.Context, realm string, root digest.Key, title string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE commits SET title = $3 WHERE realm = $1 AND root = $2`, realm, string(root), title)
	if err != nil {
		return fmt.Errorf("commitstore: updateTitle %s/%s: %w", realm, root, err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, realm string, root digest.Key) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM commits WHERE realm = $1 AND root = $2`, realm, string(root))
	if err != nil {
		return fmt.Errorf("commitstore: delete %s/%s: %w", realm, root, err)
	}
	return nil
}

type commitCursor struct {
	CreatedAt time.Time
	Root      digest.Key
}

func encodeCommitCursor(c commitCursor) string {
	raw := fmt.Sprintf("%d:%s", c.CreatedAt.UnixMicro(), c.Root)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCommitCursor(s string) (commitCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return commitCursor{}, fmt.Errorf("commitstore: invalid cursor: %w", err)
	}
	parts := strings.SplitN(string(raw), ":", 2)
	if len(parts) != 2 {
		return commitCursor{}, fmt.Errorf("commitstore: malformed cursor")
	}
	usec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return commitCursor{}, fmt.Errorf("commitstore: malformed cursor timestamp: %w", err)
	}
	return commitCursor{CreatedAt: time.UnixMicro(usec).UTC(), Root: digest.Key(parts[1])}, nil
}

func (s *PostgresStore) List(ctx context.Context, realm string, limit int, cursor string) (Page, error) {
	if limit <= 0 {
		limit = 25
	}
	qb := sq.Select("realm, root, title, created_at, created_by").
		From("commits").
		Where(sq.Eq{"realm": realm}).
		OrderBy("created_at DESC", "root DESC").
		Limit(uint64(limit) + 1).
		PlaceholderFormat(sq.Dollar)

	if cursor != "" {
		c, err := decodeCommitCursor(cursor)
		if err != nil {
			return Page{}, err
		}
		qb = qb.Where(sq.Or{
			sq.Lt{"created_at": c.CreatedAt},
			sq.And{sq.Eq{"created_at": c.CreatedAt}, sq.Lt{"root": string(c.Root)}},
		})
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return Page{}, fmt.Errorf("commitstore: build list query: %w", err)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("commitstore: list: %w", err)
	}
	defer rows.Close()

	var commits []Commit
	for rows.Next() {
		var c Commit
		var rootStr string
		if err := rows.Scan(&c.Realm, &rootStr, &c.Title, &c.CreatedAt, &c.CreatedBy); err != nil {
			return Page{}, fmt.Errorf("commitstore: scan: %w", err)
		}
		c.Root = digest.Key(rootStr)
		commits = append(commits, c)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("commitstore: iterate: %w", err)
	}

	page := Page{Commits: commits}
	if len(commits) > limit {
		page.Commits = commits[:limit]
		last := page.Commits[len(page.Commits)-1]
		page.NextCursor = encodeCommitCursor(commitCursor{CreatedAt: last.CreatedAt, Root: last.Root})
	}
	return page, nil
}
