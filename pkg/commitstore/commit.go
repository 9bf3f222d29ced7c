// Package commitstore implements the per-realm CommitStore from
// spec.md §3/§4.9: immutable records pinning one root key each.
package commitstore

import (
	"context"
	"time"

	"github.com/wisbric/strata/pkg/digest"
)

// Commit is one (realm, rootKey) commit record.
type Commit struct {
	Realm     string
	Root      digest.Key
	Title     string
	CreatedAt time.Time
	CreatedBy string
}

// Page is a cursor-paginated, newest-first commit listing.
type Page struct {
	Commits    []Commit
	NextCursor string
}

// Store is the abstract contract for the commit store.
type Store interface {
	Create(ctx context.Context, realm string, root digest.Key, creator, title string) (*Commit, error)
	Get(ctx context.Context, realm string, root digest.Key) (*Commit, error)

	// UpdateTitle changes only metadata; it never touches ref counts.
	UpdateTitle(ctx context.Context, realm string, root digest.Key, title string) error

	Delete(ctx context.Context, realm string, root digest.Key) error
	List(ctx context.Context, realm string, limit int, cursor string) (Page, error)
}
