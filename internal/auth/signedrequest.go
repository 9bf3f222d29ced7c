package auth

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/wisbric/strata/pkg/token"
)

// Skew bounds how far a signed request's timestamp may drift from the
// server clock (spec.md §4.7 step 1).
const Skew = 300 * time.Second

var (
	ErrUnknownPubkey   = errors.New("auth: unknown pubkey")
	ErrClockSkew       = errors.New("auth: timestamp outside allowed skew")
	ErrBadSignature    = errors.New("auth: signature verification failed")
	ErrUnsupportedAlgo = errors.New("auth: unsupported signature algorithm")
	ErrReplayedRequest = errors.New("auth: request nonce already used")
)

// ReplayGuard rejects a (pubkey, timestamp, signature) triple that has
// already been seen within the skew window, closing the replay hole that
// a bare timestamp check alone leaves open.
type ReplayGuard interface {
	// Claim returns false if this signature has already been claimed.
	Claim(ctx context.Context, signature string, ttl time.Duration) (bool, error)
}

// SignedRequestAuthenticator implements spec.md §4.7 step 1: verify a
// P-256 ECDSA signature over the canonical string
// `timestamp "." METHOD "." path-and-query "." sha256hex(body)`.
type SignedRequestAuthenticator struct {
	Pubkeys token.Store
	Replay  ReplayGuard
}

func (a *SignedRequestAuthenticator) Authenticate(ctx context.Context, r *http.Request, body []byte) (*Context, error) {
	pubkeyID := r.Header.Get("X-AWP-Pubkey")
	tsHeader := r.Header.Get("X-AWP-Timestamp")
	sigHeader := r.Header.Get("X-AWP-Signature")
	if pubkeyID == "" || tsHeader == "" || sigHeader == "" {
		return nil, nil // not a signed request; let the resolver try the next probe
	}

	ts, err := strconv.ParseInt(tsHeader, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("auth: bad timestamp: %w", err)
	}
	now := time.Now().Unix()
	delta := now - ts
	if delta < 0 {
		delta = -delta
	}
	if time.Duration(delta)*time.Second > Skew {
		return nil, ErrClockSkew
	}

	key, err := a.Pubkeys.LookupAuthorizedPubkey(ctx, pubkeyID)
	if err != nil {
		return nil, fmt.Errorf("auth: pubkey lookup: %w", err)
	}
	if key == nil {
		return nil, ErrUnknownPubkey
	}

	canonical := canonicalSigningString(tsHeader, r.Method, r.URL.RequestURI(), body)
	if err := verifyP256(key.PubKey, key.Algorithm, canonical, sigHeader); err != nil {
		return nil, err
	}

	if a.Replay != nil {
		ok, err := a.Replay.Claim(ctx, pubkeyID+":"+sigHeader, 2*Skew)
		if err != nil {
			return nil, fmt.Errorf("auth: replay check: %w", err)
		}
		if !ok {
			return nil, ErrReplayedRequest
		}
	}

	return &Context{
		UserID:         key.UserID,
		Realm:          "usr_" + key.UserID,
		CanRead:        true,
		CanWrite:       true,
		CanIssueTicket: true,
		Method:         MethodSignedRequest,
	}, nil
}

func canonicalSigningString(timestamp, method, pathAndQuery string, body []byte) string {
	sum := sha256.Sum256(body)
	return strings.Join([]string{timestamp, method, pathAndQuery, hex.EncodeToString(sum[:])}, ".")
}

// verifyP256 accepts a pubkey stored either as a base64 uncompressed EC
// point or as a PEM-encoded SubjectPublicKeyInfo, and a signature stored
// as base64(r||s), 64 bytes fixed-width.
func verifyP256(pubkeyMaterial, algorithm, message, signature string) error {
	if algorithm != "" && algorithm != "ES256" && algorithm != "ECDSA-P256" {
		return ErrUnsupportedAlgo
	}

	pub, err := parseP256Pubkey(pubkeyMaterial)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	sigBytes, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		sigBytes, err = base64.URLEncoding.DecodeString(signature)
		if err != nil {
			return fmt.Errorf("%w: bad signature encoding", ErrBadSignature)
		}
	}
	if len(sigBytes) != 64 {
		return fmt.Errorf("%w: signature must be 64 bytes (r||s)", ErrBadSignature)
	}
	r := new(big.Int).SetBytes(sigBytes[:32])
	s := new(big.Int).SetBytes(sigBytes[32:])

	digest := sha256.Sum256([]byte(message))
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrBadSignature
	}
	return nil
}

func parseP256Pubkey(material string) (*ecdsa.PublicKey, error) {
	if block, _ := pem.Decode([]byte(material)); block != nil {
		key, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		pub, ok := key.(*ecdsa.PublicKey)
		if !ok {
			return nil, errors.New("pem key is not ECDSA")
		}
		return pub, nil
	}

	raw, err := base64.StdEncoding.DecodeString(material)
	if err != nil {
		raw, err = base64.URLEncoding.DecodeString(material)
		if err != nil {
			return nil, err
		}
	}
	x, y := elliptic.Unmarshal(elliptic.P256(), raw)
	if x == nil {
		return nil, errors.New("invalid uncompressed EC point")
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
