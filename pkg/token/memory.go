package token

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wisbric/strata/pkg/digest"
)

// MemoryStore is an in-process token Store for unit tests.
type MemoryStore struct {
	mu      sync.Mutex
	tokens  map[string]*entry
	pending map[string]*PendingAuth
	pubkeys map[string]*AuthorizedPubkey
}

type entry struct {
	tok  Token
	hash string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tokens:  make(map[string]*entry),
		pending: make(map[string]*PendingAuth),
		pubkeys: make(map[string]*AuthorizedPubkey),
	}
}

func (s *MemoryStore) CreateUserToken(_ context.Context, userID string, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(UserTokenPrefix)
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	tok := Token{ID: id, Kind: KindUserToken, UserID: userID, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	s.mu.Lock()
	s.tokens[id] = &entry{tok: tok, hash: hash}
	s.mu.Unlock()
	return raw, &tok, nil
}

func (s *MemoryStore) CreateAgentToken(_ context.Context, userID, name, description string, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(AgentTokenPrefix)
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	tok := Token{ID: id, Kind: KindAgentToken, UserID: userID, Name: name, Description: description, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	s.mu.Lock()
	s.tokens[id] = &entry{tok: tok, hash: hash}
	s.mu.Unlock()
	return raw, &tok, nil
}

func (s *MemoryStore) CreateTicket(_ context.Context, realm, issuerTokenID string, readScope *ReadScope, commit *CommitConfig, ttl time.Duration) (string, *Token, error) {
	raw, hash, _, err := generateRaw(TicketPrefix)
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	now := time.Now().UTC()
	tok := Token{ID: id, Kind: KindTicket, Realm: realm, ReadScope: readScope, Commit: commit, CreatedAt: now, ExpiresAt: now.Add(ttl)}

	s.mu.Lock()
	s.tokens[id] = &entry{tok: tok, hash: hash}
	s.mu.Unlock()
	return raw, &tok, nil
}

func (s *MemoryStore) Get(_ context.Context, tokenID string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenID]
	if !ok {
		return nil, nil
	}
	if e.tok.Expired(time.Now()) {
		delete(s.tokens, tokenID)
		return nil, nil
	}
	cp := e.tok
	return &cp, nil
}

func (s *MemoryStore) GetByHash(_ context.Context, hash string) (*Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.tokens {
		if e.hash != hash {
			continue
		}
		if e.tok.Expired(time.Now()) {
			delete(s.tokens, id)
			return nil, nil
		}
		cp := e.tok
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) Revoke(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, tokenID)
	return nil
}

func (s *MemoryStore) MarkTicketCommitted(_ context.Context, ticketID string, rootKey digest.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[ticketID]
	if !ok || e.tok.Kind != KindTicket || e.tok.Commit == nil {
		return false, fmt.Errorf("token: %s is not a commit-capable ticket", ticketID)
	}
	if e.tok.Commit.Committed {
		return false, nil
	}
	e.tok.Commit.Committed = true
	e.tok.Commit.CommittedKey = rootKey
	return true, nil
}

func (s *MemoryStore) VerifyOwnership(_ context.Context, tokenID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.tokens[tokenID]
	if !ok {
		return false, nil
	}
	return e.tok.UserID == userID, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Token
	for _, e := range s.tokens {
		if e.tok.UserID == userID {
			out = append(out, e.tok)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreatePendingAuth(_ context.Context, pubkey string, ttl time.Duration) (*PendingAuth, error) {
	code, err := GenerateCode()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	pa := &PendingAuth{PubKey: pubkey, Code: code, CreatedAt: now, ExpiresAt: now.Add(ttl)}
	s.mu.Lock()
	s.pending[pubkey] = pa
	s.mu.Unlock()
	return pa, nil
}

func (s *MemoryStore) GetPendingAuth(_ context.Context, pubkey string) (*PendingAuth, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pa, ok := s.pending[pubkey]
	if !ok {
		return nil, nil
	}
	if time.Now().After(pa.ExpiresAt) {
		delete(s.pending, pubkey)
		return nil, nil
	}
	cp := *pa
	return &cp, nil
}

func (s *MemoryStore) ValidatePendingAuthCode(_ context.Context, pubkey, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pa, ok := s.pending[pubkey]
	if !ok || time.Now().After(pa.ExpiresAt) {
		return false, nil
	}
	return pa.Code == code, nil
}

func (s *MemoryStore) DeletePendingAuth(_ context.Context, pubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, pubkey)
	return nil
}

func (s *MemoryStore) StoreAuthorizedPubkey(_ context.Context, pk AuthorizedPubkey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := pk
	s.pubkeys[pk.PubKey] = &cp
	return nil
}

func (s *MemoryStore) LookupAuthorizedPubkey(_ context.Context, pubkey string) (*AuthorizedPubkey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, ok := s.pubkeys[pubkey]
	if !ok {
		return nil, nil
	}
	cp := *pk
	return &cp, nil
}

func (s *MemoryStore) RevokeAuthorizedPubkey(_ context.Context, pubkey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pubkeys, pubkey)
	return nil
}

func (s *MemoryStore) ListAuthorizedPubkeysByUser(_ context.Context, userID string) ([]AuthorizedPubkey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []AuthorizedPubkey
	for _, pk := range s.pubkeys {
		if pk.UserID == userID {
			out = append(out, *pk)
		}
	}
	return out, nil
}
