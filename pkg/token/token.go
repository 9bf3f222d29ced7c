// Package token implements spec.md §4.6: UserToken, AgentToken, Ticket,
// PendingAuth, and AuthorizedPubkey. All bearer credentials are opaque
// strings hashed with SHA-256 plus a display prefix rather than
// self-contained JWTs, since tokens here must be revocable by server-side
// lookup.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/wisbric/strata/pkg/digest"
)

// Prefixes identify a raw bearer token's kind in leaked-credential scans.
const (
	UserTokenPrefix  = "strata_usr_"
	AgentTokenPrefix = "strata_agt_"
	TicketPrefix     = "strata_tkt_"
)

// Kind discriminates the variants returned by Get.
type Kind string

const (
	KindUserToken  Kind = "user_token"
	KindAgentToken Kind = "agent_token"
	KindTicket     Kind = "ticket"
)

// ReadScope restricts a ticket's readable keys, if set.
type ReadScope struct {
	AllowedKeys []digest.Key
}

// CommitConfig is a ticket's optional single-use commit permission.
type CommitConfig struct {
	Quota        int64 // remaining upload budget in bytes, 0 = unlimited
	Committed    bool
	CommittedKey digest.Key
}

// Token is the union type returned by Get; exactly the fields relevant to
// Kind are populated.
type Token struct {
	ID          string
	Kind        Kind
	UserID      string
	Realm       string // ticket only
	Name        string // agent token only
	Description string // agent token only
	ReadScope   *ReadScope
	Commit      *CommitConfig
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Expired reports whether the token is past its expiry at t.
func (tok *Token) Expired(t time.Time) bool {
	return !tok.ExpiresAt.IsZero() && t.After(tok.ExpiresAt)
}

// PendingAuth is a short-lived public-key enrolment candidate.
type PendingAuth struct {
	PubKey    string
	Code      string
	UserID    string // set once approved
	Approved  bool
	CreatedAt time.Time
	ExpiresAt time.Time
}

// AuthorizedPubkey maps an enrolled public key to its owning user.
type AuthorizedPubkey struct {
	PubKey    string
	UserID    string
	Algorithm string
	Label     string
	CreatedAt time.Time
}

// Store is the abstract contract for token persistence.
type Store interface {
	CreateUserToken(ctx context.Context, userID string, ttl time.Duration) (raw string, tok *Token, err error)
	CreateAgentToken(ctx context.Context, userID, name, description string, ttl time.Duration) (raw string, tok *Token, err error)
	CreateTicket(ctx context.Context, realm, issuerTokenID string, readScope *ReadScope, commit *CommitConfig, ttl time.Duration) (raw string, tok *Token, err error)

	// Get returns the token identified by tokenID, or (nil, nil) if
	// absent or expired. Implementations MAY opportunistically delete
	// expired rows on read.
	Get(ctx context.Context, tokenID string) (*Token, error)

	// GetByHash looks up a token by the SHA-256 hash of its raw bearer
	// value (see HashToken), the path AuthResolver uses to turn an
	// Authorization header into a Token. Same nil/expiry semantics as Get.
	GetByHash(ctx context.Context, rawTokenHash string) (*Token, error)

	Revoke(ctx context.Context, tokenID string) error

	// MarkTicketCommitted atomically compare-and-sets a ticket's commit
	// state to committed. ok is false if it was already committed.
	MarkTicketCommitted(ctx context.Context, ticketID string, rootKey digest.Key) (ok bool, err error)

	VerifyOwnership(ctx context.Context, tokenID, userID string) (bool, error)

	ListByUser(ctx context.Context, userID string) ([]Token, error)

	CreatePendingAuth(ctx context.Context, pubkey string, ttl time.Duration) (*PendingAuth, error)
	GetPendingAuth(ctx context.Context, pubkey string) (*PendingAuth, error)
	ValidatePendingAuthCode(ctx context.Context, pubkey, code string) (bool, error)
	DeletePendingAuth(ctx context.Context, pubkey string) error

	StoreAuthorizedPubkey(ctx context.Context, pk AuthorizedPubkey) error
	LookupAuthorizedPubkey(ctx context.Context, pubkey string) (*AuthorizedPubkey, error)
	RevokeAuthorizedPubkey(ctx context.Context, pubkey string) error
	ListAuthorizedPubkeysByUser(ctx context.Context, userID string) ([]AuthorizedPubkey, error)
}

// generateRaw returns a random 32-byte token, base64url-encoded, prefixed
// with prefix, along with its SHA-256 hash and its display prefix (the
// first 8 characters after the token prefix, for UI display without
// reconstructing the secret).
func generateRaw(prefix string) (raw, hash, display string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", "", fmt.Errorf("token: generate random: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	raw = prefix + secret
	hash = HashToken(raw)
	display = prefix + secret[:8]
	return raw, hash, display, nil
}

// HashToken returns the SHA-256 hex digest of a raw bearer token, the
// value actually stored and compared server-side.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// GenerateCode returns a short numeric verification code for the
// signed-client enrolment flow (spec.md §6 /api/auth/clients/init).
func GenerateCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("token: generate code: %w", err)
	}
	n := (uint32(buf[0])<<24 | uint32(buf[1])<<16 | uint32(buf[2])<<8 | uint32(buf[3])) % 1_000_000
	return fmt.Sprintf("%06d", n), nil
}
