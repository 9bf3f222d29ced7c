package token

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/wisbric/strata/pkg/digest"
)

var (
	bucketTokens  = []byte("tokens")
	bucketPending = []byte("pending_auth")
	bucketPubkeys = []byte("authorized_pubkeys")
)

type boltRecord struct {
	Tok  Token
	Hash string
}

// BoltStore is the embedded-mode token Store. PendingAuth methods are
// stubbed the same way PostgresStore's are: enrollment codes are served
// by the Redis-backed pendingauth.Store regardless of the chosen
// persistent-storage backend.
type BoltStore struct {
	db *bolt.DB
}

func NewBoltStore(db *bolt.DB) (*BoltStore, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTokens, bucketPending, bucketPubkeys} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("token: init buckets: %w", err)
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) put(id string, rec boltRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Put([]byte(id), raw)
	})
}

func (s *BoltStore) CreateUserToken(_ context.Context, userID string, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(UserTokenPrefix)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	t := Token{ID: uuid.NewString(), Kind: KindUserToken, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.put(t.ID, boltRecord{Tok: t, Hash: hash}); err != nil {
		return "", nil, err
	}
	return raw, &t, nil
}

func (s *BoltStore) CreateAgentToken(_ context.Context, userID, name, description string, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(AgentTokenPrefix)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	t := Token{ID: uuid.NewString(), Kind: KindAgentToken, UserID: userID, Name: name, Description: description, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.put(t.ID, boltRecord{Tok: t, Hash: hash}); err != nil {
		return "", nil, err
	}
	return raw, &t, nil
}

func (s *BoltStore) CreateTicket(_ context.Context, realm, issuerTokenID string, readScope *ReadScope, commit *CommitConfig, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(TicketPrefix)
	if err != nil {
		return "", nil, err
	}
	now := time.Now().UTC()
	t := Token{ID: uuid.NewString(), Kind: KindTicket, Realm: realm, ReadScope: readScope, Commit: commit, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	if err := s.put(t.ID, boltRecord{Tok: t, Hash: hash}); err != nil {
		return "", nil, err
	}
	return raw, &t, nil
}

func (s *BoltStore) get(id string) (*boltRecord, error) {
	var rec *boltRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketTokens).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var r boltRecord
		if err := json.Unmarshal(raw, &r); err != nil {
			return err
		}
		rec = &r
		return nil
	})
	return rec, err
}

func (s *BoltStore) Get(_ context.Context, tokenID string) (*Token, error) {
	rec, err := s.get(tokenID)
	if err != nil || rec == nil {
		return nil, err
	}
	if rec.Tok.Expired(time.Now()) {
		_ = s.Revoke(context.Background(), tokenID)
		return nil, nil
	}
	cp := rec.Tok
	return &cp, nil
}

func (s *BoltStore) GetByHash(_ context.Context, hash string) (*Token, error) {
	var found *Token
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTokens).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r boltRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Hash == hash {
				cp := r.Tok
				found = &cp
				return nil
			}
		}
		return nil
	})
	if err != nil || found == nil {
		return nil, err
	}
	if found.Expired(time.Now()) {
		_ = s.Revoke(context.Background(), found.ID)
		return nil, nil
	}
	return found, nil
}

func (s *BoltStore) Revoke(_ context.Context, tokenID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(tokenID))
	})
}

func (s *BoltStore) MarkTicketCommitted(_ context.Context, ticketID string, rootKey digest.Key) (bool, error) {
	var ok bool
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketTokens)
		raw := b.Get([]byte(ticketID))
		if raw == nil {
			return fmt.Errorf("token: %s not found", ticketID)
		}
		var rec boltRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return err
		}
		if rec.Tok.Kind != KindTicket || rec.Tok.Commit == nil {
			return fmt.Errorf("token: %s is not a commit-capable ticket", ticketID)
		}
		if rec.Tok.Commit.Committed {
			ok = false
			return nil
		}
		rec.Tok.Commit.Committed = true
		rec.Tok.Commit.CommittedKey = rootKey
		out, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		ok = true
		return b.Put([]byte(ticketID), out)
	})
	return ok, err
}

func (s *BoltStore) VerifyOwnership(_ context.Context, tokenID, userID string) (bool, error) {
	rec, err := s.get(tokenID)
	if err != nil || rec == nil {
		return false, err
	}
	return rec.Tok.UserID == userID, nil
}

func (s *BoltStore) ListByUser(_ context.Context, userID string) ([]Token, error) {
	var out []Token
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketTokens).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var r boltRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Tok.UserID == userID {
				out = append(out, r.Tok)
			}
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) CreatePendingAuth(context.Context, string, time.Duration) (*PendingAuth, error) {
	return nil, fmt.Errorf("token: PendingAuth is served by the Redis-backed store, not bbolt")
}

func (s *BoltStore) GetPendingAuth(context.Context, string) (*PendingAuth, error) {
	return nil, fmt.Errorf("token: PendingAuth is served by the Redis-backed store, not bbolt")
}

func (s *BoltStore) ValidatePendingAuthCode(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("token: PendingAuth is served by the Redis-backed store, not bbolt")
}

func (s *BoltStore) DeletePendingAuth(context.Context, string) error {
	return fmt.Errorf("token: PendingAuth is served by the Redis-backed store, not bbolt")
}

func (s *BoltStore) StoreAuthorizedPubkey(_ context.Context, pk AuthorizedPubkey) error {
	raw, err := json.Marshal(pk)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPubkeys).Put([]byte(pk.PubKey), raw)
	})
}

func (s *BoltStore) LookupAuthorizedPubkey(_ context.Context, pubkey string) (*AuthorizedPubkey, error) {
	var pk *AuthorizedPubkey
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketPubkeys).Get([]byte(pubkey))
		if raw == nil {
			return nil
		}
		var p AuthorizedPubkey
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		pk = &p
		return nil
	})
	return pk, err
}

func (s *BoltStore) RevokeAuthorizedPubkey(_ context.Context, pubkey string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPubkeys).Delete([]byte(pubkey))
	})
}

func (s *BoltStore) ListAuthorizedPubkeysByUser(_ context.Context, userID string) ([]AuthorizedPubkey, error) {
	var out []AuthorizedPubkey
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketPubkeys).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p AuthorizedPubkey
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.UserID == userID {
				out = append(out, p)
			}
		}
		return nil
	})
	return out, err
}
