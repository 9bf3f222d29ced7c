package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/wisbric/strata/pkg/token"
)

// TokenAuthenticator implements spec.md §4.7 step 3: look up an opaque
// bearer token in the TokenStore and derive rights by kind.
type TokenAuthenticator struct {
	Store token.Store
}

func (a *TokenAuthenticator) Authenticate(ctx context.Context, rawToken string) (*Context, error) {
	hash := token.HashToken(rawToken)
	tok, err := a.Store.GetByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("auth: token lookup: %w", err)
	}
	if tok == nil {
		return nil, nil
	}
	if tok.Expired(time.Now()) {
		return nil, nil
	}

	switch tok.Kind {
	case token.KindUserToken, token.KindAgentToken:
		method := MethodUserToken
		if tok.Kind == token.KindAgentToken {
			method = MethodAgentToken
		}
		return &Context{
			UserID:         tok.UserID,
			Realm:          "usr_" + tok.UserID,
			CanRead:        true,
			CanWrite:       true,
			CanIssueTicket: true,
			TokenID:        tok.ID,
			Method:         method,
		}, nil

	case token.KindTicket:
		canWrite := tok.Commit != nil && tok.Commit.CommittedKey == ""
		ac := &Context{
			Realm:          tok.Realm,
			CanRead:        true,
			CanWrite:       canWrite,
			CanIssueTicket: false,
			TokenID:        tok.ID,
			Method:         MethodTicket,
		}
		if tok.ReadScope != nil {
			ac.AllowedKeys = tok.ReadScope.AllowedKeys
		}
		return ac, nil

	default:
		return nil, fmt.Errorf("auth: unknown token kind %q", tok.Kind)
	}
}
