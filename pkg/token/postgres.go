package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wisbric/strata/pkg/digest"
)

const tokenColumns = `id, kind, user_id, realm, name, description, read_scope, commit_quota, commit_committed, commit_committed_key, created_at, expires_at`

const tokenColumnsWithAlias = `t.id, t.kind, t.user_id, t.realm, t.name, t.description, t.read_scope, t.commit_quota, t.commit_committed, t.commit_committed_key, t.created_at, t.expires_at`

// PostgresStore is the Postgres-backed token Store. All token kinds share
// one table distinguished by a kind column rather than three separate
// tables, since UserToken, AgentToken and Ticket differ only in which
// optional fields (read_scope, commit_*) are populated.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func scanToken(row pgx.Row) (*Token, error) {
	var t Token
	var readScopeRaw []byte
	var commitQuota *int64
	var committed *bool
	var committedKey *string

	err := row.Scan(&t.ID, &t.Kind, &t.UserID, &t.Realm, &t.Name, &t.Description,
		&readScopeRaw, &commitQuota, &committed, &committedKey, &t.CreatedAt, &t.ExpiresAt)
	if err != nil {
		return nil, err
	}
	if len(readScopeRaw) > 0 {
		var rs ReadScope
		if err := json.Unmarshal(readScopeRaw, &rs); err != nil {
			return nil, fmt.Errorf("token: decode read_scope: %w", err)
		}
		t.ReadScope = &rs
	}
	if commitQuota != nil {
		cc := CommitConfig{Quota: *commitQuota}
		if committed != nil {
			cc.Committed = *committed
		}
		if committedKey != nil {
			cc.CommittedKey = digest.Key(*committedKey)
		}
		t.Commit = &cc
	}
	return &t, nil
}

func (s *PostgresStore) insert(ctx context.Context, t Token, hash string) error {
	var readScopeRaw []byte
	if t.ReadScope != nil {
		raw, err := json.Marshal(t.ReadScope)
		if err != nil {
			return fmt.Errorf("token: encode read_scope: %w", err)
		}
		readScopeRaw = raw
	}
	var commitQuota *int64
	var committed *bool
	var committedKey *string
	if t.Commit != nil {
		commitQuota = &t.Commit.Quota
		committed = &t.Commit.Committed
		ck := string(t.Commit.CommittedKey)
		committedKey = &ck
	}

	query := `INSERT INTO tokens (` + tokenColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := s.pool.Exec(ctx, query, t.ID, string(t.Kind), t.UserID, t.Realm, t.Name, t.Description,
		readScopeRaw, commitQuota, committed, committedKey, t.CreatedAt, t.ExpiresAt)
	if err != nil {
		return fmt.Errorf("token: insert: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO token_hashes (token_id, token_hash) VALUES ($1, $2)`, t.ID, hash)
	if err != nil {
		return fmt.Errorf("token: insert hash: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateUserToken(ctx context.Context, userID string, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(UserTokenPrefix)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	t := Token{ID: uuid.NewString(), Kind: KindUserToken, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.insert(ctx, t, hash); err != nil {
		return "", nil, err
	}
	return raw, &t, nil
}

func (s *PostgresStore) CreateAgentToken(ctx context.Context, userID, name, description string, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(AgentTokenPrefix)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	t := Token{ID: uuid.NewString(), Kind: KindAgentToken, UserID: userID, Name: name, Description: description, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.insert(ctx, t, hash); err != nil {
		return "", nil, err
	}
	return raw, &t, nil
}

func (s *PostgresStore) CreateTicket(ctx context.Context, realm, issuerTokenID string, readScope *ReadScope, commit *CommitConfig, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(TicketPrefix)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	t := Token{ID: uuid.NewString(), Kind: KindTicket, Realm: realm, ReadScope: readScope, Commit: commit, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.insert(ctx, t, hash); err != nil {
		return "", nil, err
	}
	return raw, &t, nil
}

func (s *PostgresStore) Get(ctx context.Context, tokenID string) (*Token, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE id = $1`, tokenID)
	t, err := scanToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("token: get %s: %w", tokenID, err)
	}
	if t.Expired(time.Now()) {
		_, _ = s.pool.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, tokenID)
		return nil, nil
	}
	return t, nil
}

func (s *PostgresStore) GetByHash(ctx context.Context, hash string) (*Token, error) {
	const query = `
		SELECT ` + tokenColumnsWithAlias + `
		FROM tokens t JOIN token_hashes h ON h.token_id = t.id
		WHERE h.token_hash = $1`
	row := s.pool.QueryRow(ctx, query, hash)
	t, err := scanToken(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("token: getByHash: %w", err)
	}
	if t.Expired(time.Now()) {
		_, _ = s.pool.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, t.ID)
		return nil, nil
	}
	return t, nil
}

func (s *PostgresStore) Revoke(ctx context.Context, tokenID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM tokens WHERE id = $1`, tokenID)
	if err != nil {
		return fmt.Errorf("token: revoke %s: %w", tokenID, err)
	}
	return nil
}

func (s *PostgresStore) MarkTicketCommitted(ctx context.Context, ticketID string, rootKey digest.Key) (bool, error) {
	const query = `
		UPDATE tokens SET commit_committed = true, commit_committed_key = $2
		WHERE id = $1 AND kind = 'ticket' AND commit_quota IS NOT NULL AND commit_committed = false
		RETURNING id`
	var id string
	err := s.pool.QueryRow(ctx, query, ticketID, string(rootKey)).Scan(&id)
	if err != nil {
		if err == pgx.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("token: markTicketCommitted %s: %w", ticketID, err)
	}
	return true, nil
}

func (s *PostgresStore) VerifyOwnership(ctx context.Context, tokenID, userID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM tokens WHERE id = $1 AND user_id = $2)`, tokenID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("token: verifyOwnership %s: %w", tokenID, err)
	}
	return exists, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]Token, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+tokenColumns+` FROM tokens WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("token: listByUser %s: %w", userID, err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, fmt.Errorf("token: scan: %w", err)
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// Postgres-backed pending-auth and authorized-pubkey methods are kept for
// completeness of the interface, but strata's wiring (internal/app) uses
// the Redis-backed pendingauth.Store for PendingAuth, since enrolment
// codes are inherently short-lived and Redis's native TTL is a better fit
// than a polling cleanup job against Postgres.

func (s *PostgresStore) CreatePendingAuth(ctx context.Context, pubkey string, ttl time.Duration) (*PendingAuth, error) {
	return nil, fmt.Errorf("token: PendingAuth is served by the Redis-backed store, not Postgres")
}

func (s *PostgresStore) GetPendingAuth(ctx context.Context, pubkey string) (*PendingAuth, error) {
	return nil, fmt.Errorf("token: PendingAuth is served by the Redis-backed store, not Postgres")
}

func (s *PostgresStore) ValidatePendingAuthCode(ctx context.Context, pubkey, code string) (bool, error) {
	return false, fmt.Errorf("token: PendingAuth is served by the Redis-backed store, not Postgres")
}

func (s *PostgresStore) DeletePendingAuth(ctx context.Context, pubkey string) error {
	return fmt.Errorf("token: PendingAuth is served by the Redis-backed store, not Postgres")
}

func (s *PostgresStore) StoreAuthorizedPubkey(ctx context.Context, pk AuthorizedPubkey) error {
	const query = `
		INSERT INTO authorized_pubkeys (pubkey, user_id, algorithm, label, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (pubkey) DO UPDATE SET user_id = $2, algorithm = $3, label = $4`
	_, err := s.pool.Exec(ctx, query, pk.PubKey, pk.UserID, pk.Algorithm, pk.Label, pk.CreatedAt)
	if err != nil {
		return fmt.Errorf("token: storeAuthorizedPubkey: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupAuthorizedPubkey(ctx context.Context, pubkey string) (*AuthorizedPubkey, error) {
	const query = `SELECT pubkey, user_id, algorithm, label, created_at FROM authorized_pubkeys WHERE pubkey = $1`
	var pk AuthorizedPubkey
	err := s.pool.QueryRow(ctx, query, pubkey).Scan(&pk.PubKey, &pk.UserID, &pk.Algorithm, &pk.Label, &pk.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("token: lookupAuthorizedPubkey: %w", err)
	}
	return &pk, nil
}

func (s *PostgresStore) RevokeAuthorizedPubkey(ctx context.Context, pubkey string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM authorized_pubkeys WHERE pubkey = $1`, pubkey)
	if err != nil {
		return fmt.Errorf("token: revokeAuthorizedPubkey: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAuthorizedPubkeysByUser(ctx context.Context, userID string) ([]AuthorizedPubkey, error) {
	rows, err := s.pool.Query(ctx, `SELECT pubkey, user_id, algorithm, label, created_at FROM authorized_pubkeys WHERE user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("token: listAuthorizedPubkeysByUser: %w", err)
	}
	defer rows.Close()

	var out []AuthorizedPubkey
	for rows.Next() {
		var pk AuthorizedPubkey
		if err := rows.Scan(&pk.PubKey, &pk.UserID, &pk.Algorithm, &pk.Label, &pk.CreatedAt); err != nil {
			return nil, fmt.Errorf("token: scan pubkey: %w", err)
		}
		out = append(out, pk)
	}
	return out, rows.Err()
}
