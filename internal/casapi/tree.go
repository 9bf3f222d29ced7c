package casapi

import (
	"encoding/base64"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/httpserver"
	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/nodecodec"
)

// TreeHandler implements GET /api/realm/{realm}/tree/{key}: a breadth-first
// summary of the DAG rooted at key, capped at Limits.TreeMaxNodes per
// spec.md §6. A request that exhausts the cap returns a `next` cursor
// (the frontier of unvisited keys, base64-encoded) so the client can
// continue the walk with a follow-up GET using ?from=.
type TreeHandler struct {
	Deps *Deps
}

func (h *TreeHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{key}", h.get)
	return r
}

type nodeSummary struct {
	Kind string `json:"kind"`
	Size uint64 `json:"size"`
}

type treeResponse struct {
	Nodes map[string]nodeSummary `json:"nodes"`
	Next  string                 `json:"next,omitempty"`
}

func (h *TreeHandler) get(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	rlm, ok := resolveRealm(r, ac)
	if !ok {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "path realm does not match authenticated realm")
		return
	}
	if !ac.CanRead {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "credential does not grant read access")
		return
	}

	root := digest.Key(chi.URLParam(r, "key"))
	if !root.Valid() {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "malformed key")
		return
	}

	maxNodes := h.Deps.Limits.TreeMaxNodes
	if maxNodes <= 0 {
		maxNodes = 1000
	}

	var queue []digest.Key
	if from := r.URL.Query().Get("from"); from != "" {
		decoded, err := decodeFrontier(from)
		if err != nil {
			httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "invalid cursor")
			return
		}
		queue = decoded
	} else {
		queue = []digest.Key{root}
	}

	ctx := r.Context()
	visited := make(map[digest.Key]struct{})
	nodes := make(map[string]nodeSummary)

	for len(queue) > 0 && len(nodes) < maxNodes {
		key := queue[0]
		queue = queue[1:]
		if _, seen := visited[key]; seen {
			continue
		}
		visited[key] = struct{}{}
		if !ac.AllowsKey(key) {
			continue
		}

		raw, ok, err := h.Deps.Blobs.Get(ctx, key)
		if err != nil {
			h.Deps.Logger.Error("tree: blob get failed", "key", key, "error", err)
			continue
		}
		if !ok {
			continue
		}
		node, err := nodecodec.Decode(raw)
		if err != nil {
			h.Deps.Logger.Warn("tree: undecodable node", "key", key, "error", err)
			continue
		}

		nodes[string(key)] = nodeSummary{Kind: node.Kind.String(), Size: node.DeclaredSize}

		for _, child := range node.Children {
			if _, seen := visited[child.Digest]; !seen {
				queue = append(queue, child.Digest)
			}
		}
	}

	resp := treeResponse{Nodes: nodes}
	if len(queue) > 0 {
		resp.Next = encodeFrontier(queue)
	}

	httpserver.Respond(w, http.StatusOK, resp)
}

func encodeFrontier(keys []digest.Key) string {
	var buf []byte
	for i, k := range keys {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, []byte(k)...)
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

func decodeFrontier(s string) ([]digest.Key, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	var keys []digest.Key
	start := 0
	for i := 0; i <= len(raw); i++ {
		if i == len(raw) || raw[i] == ',' {
			if i > start {
				keys = append(keys, digest.Key(raw[start:i]))
			}
			start = i + 1
		}
	}
	return keys, nil
}
