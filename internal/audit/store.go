package audit

import "context"

// Page is one cursor-paginated slice of a realm's audit log, newest first.
type Page struct {
	Entries    []Entry `json:"entries"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Store is the abstract contract for audit log persistence. InsertBatch is
// the only write path, called by Writer's background flush loop; List
// backs the read-only GET /api/realm/{realm}/audit-log route.
type Store interface {
	InsertBatch(ctx context.Context, entries []Entry) error
	List(ctx context.Context, realm string, limit int, cursor string) (Page, error)
}
