// Package events publishes strata's domain events (blob.put,
// commit.created, depot.updated, gc.reclaimed) onto a message bus so
// downstream consumers (search indexers, audit sinks, webhooks) can react
// without coupling to the request path.
package events

import (
	"context"
	"encoding/json"
	"time"
)

const (
	TypeBlobPut       = "blob.put"
	TypeCommitCreated = "commit.created"
	TypeDepotUpdated  = "depot.updated"
	TypeGCReclaimed   = "gc.reclaimed"
)

// Envelope wraps a domain event with routing and tracing metadata.
type Envelope struct {
	Type       string          `json:"type"`
	Realm      string          `json:"realm"`
	OccurredAt time.Time       `json:"occurred_at"`
	Payload    json.RawMessage `json:"payload"`
}

// BlobPutPayload is the payload for TypeBlobPut.
type BlobPutPayload struct {
	Key        string `json:"key"`
	Kind       string `json:"kind"`
	ByteSize   uint64 `json:"byte_size"`
	NewToRealm bool   `json:"new_to_realm"`
}

// CommitCreatedPayload is the payload for TypeCommitCreated.
type CommitCreatedPayload struct {
	Root  string `json:"root"`
	Title string `json:"title,omitempty"`
}

// DepotUpdatedPayload is the payload for TypeDepotUpdated.
type DepotUpdatedPayload struct {
	DepotID string `json:"depot_id"`
	Name    string `json:"name"`
	Root    string `json:"root"`
	Version int64  `json:"version"`
}

// GCReclaimedPayload is the payload for TypeGCReclaimed.
type GCReclaimedPayload struct {
	Key          string `json:"key"`
	PhysicalSize uint64 `json:"physical_size"`
}

// Publisher is the abstract contract for emitting domain events. Failures
// to publish MUST NOT fail the request that produced the event — callers
// log and continue.
type Publisher interface {
	Publish(ctx context.Context, realm, eventType string, payload any) error
	Close() error
}

// NoopPublisher discards every event; used when no broker is configured
// (embedded/standalone mode).
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) error { return nil }
func (NoopPublisher) Close() error                                       { return nil }
