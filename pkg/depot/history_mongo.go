package depot

import (
	"context"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wisbric/strata/pkg/digest"
)

// MongoArchiver writes depot history to a MongoDB collection as a
// best-effort, append-only audit trail — never consulted by UpdateRoot or
// Rollback for liveness decisions (spec.md §9 open question). Grounded on
// LerianStudio-midaz's pattern of archiving ledger mutations to Mongo
// alongside the authoritative Postgres write.
type MongoArchiver struct {
	collection *mongo.Collection
	logger     *slog.Logger
}

func NewMongoArchiver(collection *mongo.Collection, logger *slog.Logger) *MongoArchiver {
	return &MongoArchiver{collection: collection, logger: logger}
}

type archivedHistoryEntry struct {
	Realm      string    `bson:"realm"`
	DepotID    string    `bson:"depot_id"`
	Version    int64     `bson:"version"`
	Root       string    `bson:"root"`
	CreatedAt  time.Time `bson:"created_at"`
	Message    string    `bson:"message"`
	ArchivedAt time.Time `bson:"archived_at"`
}

// Append writes entry to Mongo in a background context with its own
// short deadline, so a slow or unreachable archive never blocks the
// request that triggered the depot mutation. Failures are logged only.
func (a *MongoArchiver) Append(_ context.Context, realm, depotID string, entry HistoryEntry) {
	if a == nil || a.collection == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		doc := archivedHistoryEntry{
			Realm:      realm,
			DepotID:    depotID,
			Version:    entry.Version,
			Root:       string(entry.Root),
			CreatedAt:  entry.CreatedAt,
			Message:    entry.Message,
			ArchivedAt: time.Now().UTC(),
		}
		if _, err := a.collection.InsertOne(ctx, doc); err != nil {
			a.logger.Warn("depot history archive write failed",
				"realm", realm, "depot_id", depotID, "version", entry.Version, "error", err)
		}
	}()
}

// ListArchived is a diagnostic/audit read path over the Mongo archive; it
// is never used by the DepotStore's own History or Rollback operations.
func (a *MongoArchiver) ListArchived(ctx context.Context, realm, depotID string) ([]HistoryEntry, error) {
	cur, err := a.collection.Find(ctx, bson.M{"realm": realm, "depot_id": depotID})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []HistoryEntry
	for cur.Next(ctx) {
		var doc archivedHistoryEntry
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, HistoryEntry{Version: doc.Version, Root: digest.Key(doc.Root), CreatedAt: doc.CreatedAt, Message: doc.Message})
	}
	return out, cur.Err()
}
