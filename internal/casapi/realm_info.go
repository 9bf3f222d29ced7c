package casapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/httpserver"
)

// RealmInfoHandler implements GET /api/realm/{realm}: endpoint info
// (limits and the caller's rights in this realm).
type RealmInfoHandler struct {
	Deps *Deps
}

func (h *RealmInfoHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.get)
	return r
}

type realmInfoResponse struct {
	Realm                  string `json:"realm"`
	CanRead                bool   `json:"can_read"`
	CanWrite               bool   `json:"can_write"`
	CanIssueTicket         bool   `json:"can_issue_ticket"`
	NodeSizeLimitBytes     int64  `json:"node_size_limit_bytes"`
	CollectionMaxNameBytes int    `json:"collection_max_name_bytes"`
	TreeMaxNodes           int    `json:"tree_max_nodes"`
}

func (h *RealmInfoHandler) get(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	rlm, ok := resolveRealm(r, ac)
	if !ok {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "path realm does not match authenticated realm")
		return
	}

	httpserver.Respond(w, http.StatusOK, realmInfoResponse{
		Realm:                  rlm,
		CanRead:                ac.CanRead,
		CanWrite:               ac.CanWrite,
		CanIssueTicket:         ac.CanIssueTicket,
		NodeSizeLimitBytes:     h.Deps.Limits.NodeSizeLimitBytes,
		CollectionMaxNameBytes: h.Deps.Limits.CollectionMaxNameBytes,
		TreeMaxNodes:           h.Deps.Limits.TreeMaxNodes,
	})
}
