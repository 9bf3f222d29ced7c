package casapi

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/httpserver"
	"github.com/wisbric/strata/internal/telemetry"
	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/nodecodec"
)

// BlobHandler implements PUT/GET /api/realm/{realm}/chunks/{key}, the
// BlobPut hot path from spec.md §4.8.
type BlobHandler struct {
	Deps *Deps
}

func (h *BlobHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Put("/{key}", h.put)
	r.Get("/{key}", h.get)
	return r
}

func (h *BlobHandler) put(w http.ResponseWriter, r *http.Request) {
	ac := authContext(w, r)
	if ac == nil {
		return
	}
	rlm, ok := resolveRealm(r, ac)
	if !ok {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "path realm does not match authenticated realm")
		return
	}
	if !ac.CanWrite {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "credential does not grant write access")
		return
	}

	key := digest.Key(chi.URLParam(r, "key"))
	if !key.Valid() {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "malformed key")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.Deps.Limits.NodeSizeLimitBytes+1))
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "could not read request body")
		return
	}
	if int64(len(body)) > h.Deps.Limits.NodeSizeLimitBytes {
		httpserver.RespondError(w, http.StatusRequestEntityTooLarge, "node_too_large", "node exceeds the configured size limit")
		return
	}

	// Step 1 (continued): ticket commit-quota check.
	if ac.Method == auth.MethodTicket {
		tok, err := h.Deps.Tokens.Get(r.Context(), ac.TokenID)
		if err != nil {
			h.Deps.Logger.Error("blobs: ticket lookup failed", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not verify ticket")
			return
		}
		if tok != nil && tok.Commit != nil && tok.Commit.Quota > 0 && int64(len(body)) > tok.Commit.Quota {
			httpserver.RespondError(w, http.StatusForbidden, "ticket_quota_exceeded", "upload exceeds the ticket's remaining commit quota")
			return
		}
	}

	ctx := r.Context()

	// Step 2: framing-only early rejection.
	kind, err := nodecodec.QuickValidate(body)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "malformed_node", err.Error())
		return
	}

	// Step 3: quota check, counting only bytes new to this realm.
	existingRef, err := h.Deps.RefCount.Get(ctx, rlm, key)
	if err != nil {
		h.Deps.Logger.Error("blobs: refcount get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not check reference count")
		return
	}
	var needed int64
	if existingRef == nil {
		needed = int64(len(body))
	}
	allowed, _, err := h.Deps.Usage.CheckQuota(ctx, rlm, needed)
	if err != nil {
		h.Deps.Logger.Error("blobs: quota check failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not check quota")
		return
	}
	if !allowed {
		telemetry.QuotaRejectionsTotal.Inc()
		httpserver.RespondError(w, http.StatusRequestEntityTooLarge, "realm_quota_exceeded", "write would exceed the realm's storage quota")
		return
	}

	// Step 4: full structural validation.
	hasChild := func(d digest.Key) bool {
		has, err := h.Deps.Ownership.Has(ctx, rlm, d)
		return err == nil && has
	}
	childSize := func(d digest.Key) (uint64, bool) {
		entry, err := h.Deps.RefCount.Get(ctx, rlm, d)
		if err != nil || entry == nil {
			return 0, false
		}
		return entry.LogicalSize, true
	}

	node, err := nodecodec.Validate(body, key, hasChild, childSize)
	if err != nil {
		var missing *nodecodec.MissingChildren
		var hashMismatch *digest.HashMismatch
		switch {
		case errors.As(err, &missing):
			telemetry.BlobPutTotal.WithLabelValues("rejected").Inc()
			httpserver.Respond(w, http.StatusOK, missingNodesResponse{
				Success: false,
				Error:   "missing_nodes",
				Missing: missing.List,
			})
			return
		case errors.As(err, &hashMismatch):
			telemetry.BlobPutTotal.WithLabelValues("rejected").Inc()
			httpserver.RespondError(w, http.StatusBadRequest, "hash_mismatch", err.Error())
			return
		default:
			telemetry.BlobPutTotal.WithLabelValues("rejected").Inc()
			httpserver.RespondError(w, http.StatusBadRequest, "invalid_node", err.Error())
			return
		}
	}

	// Step 5: content-addressed store, idempotent.
	if err := h.Deps.Blobs.Put(ctx, key, body); err != nil {
		h.Deps.Logger.Error("blobs: put failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not store blob")
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Step 6: ownership.
	if err := h.Deps.Ownership.Add(ctx, rlm, key, kind.String(), contentType, uint64(len(body)), ac.UserID); err != nil {
		h.Deps.Logger.Error("blobs: ownership add failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not record ownership")
		return
	}

	// Step 7: self refcount.
	logicalSize := node.DeclaredSize
	if kind != nodecodec.KindChunk {
		logicalSize = 0
	}
	incResult, err := h.Deps.RefCount.Increment(ctx, rlm, key, uint64(len(body)), logicalSize)
	if err != nil {
		h.Deps.Logger.Error("blobs: refcount increment failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not increment reference count")
		return
	}

	// Step 8: children.
	for _, child := range node.Children {
		childEntry, err := h.Deps.RefCount.Get(ctx, rlm, child.Digest)
		if err != nil || childEntry == nil {
			h.Deps.Logger.Error("blobs: child refcount missing at increment time", "child", child.Digest, "error", err)
			continue
		}
		if _, err := h.Deps.RefCount.Increment(ctx, rlm, child.Digest, childEntry.PhysicalSize, childEntry.LogicalSize); err != nil {
			h.Deps.Logger.Error("blobs: child refcount increment failed", "child", child.Digest, "error", err)
		}
	}

	// Step 9: usage, only on first-ever creation in this realm.
	if incResult.WasZeroBefore {
		if err := h.Deps.Usage.Apply(ctx, rlm, int64(len(body)), int64(logicalSize), 1); err != nil {
			h.Deps.Logger.Error("blobs: usage apply failed", "error", err)
		}
		telemetry.BlobBytesStoredTotal.Add(float64(len(body)))
		telemetry.BlobPutTotal.WithLabelValues("created").Inc()
	} else {
		telemetry.BlobPutTotal.WithLabelValues("deduped").Inc()
	}

	if h.Deps.Events != nil {
		_ = h.Deps.Events.Publish(ctx, rlm, "blob.put", map[string]any{
			"key":  string(key),
			"kind": kind.String(),
			"size": len(body),
		})
	}

	h.Deps.logAudit(ac, rlm, "blob.put", "blob", string(key))

	httpserver.Respond(w, http.StatusCreated, putResponse{
		Key:     string(key),
		Kind:    kind.String(),
		Size:    len(body),
		NewNode: incResult.WasZeroBefore,
	})
}

func (h *BlobHandler) get(w http.ResponseWriter, r *http.Request) {
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

	key := digest.Key(chi.URLParam(r, "key"))
	if !key.Valid() {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "malformed key")
		return
	}
	if !ac.AllowsKey(key) {
		httpserver.RespondError(w, http.StatusForbidden, "forbidden", "key is outside the ticket's read scope")
		return
	}

	raw, ok, err := h.Deps.Blobs.Get(r.Context(), key)
	if err != nil {
		h.Deps.Logger.Error("blobs: get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not read blob")
		return
	}
	if !ok {
		telemetry.BlobGetTotal.WithLabelValues("miss").Inc()
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "key not found")
		return
	}
	telemetry.BlobGetTotal.WithLabelValues("hit").Inc()

	node, err := nodecodec.Decode(raw)
	kindStr := "unknown"
	if err == nil {
		kindStr = node.Kind.String()
	} else {
		h.Deps.Logger.Warn("blobs: stored node failed to decode on read", "key", key, "error", err)
	}

	ownEntry, err := h.Deps.Ownership.Has(r.Context(), rlm, key)
	if err != nil || !ownEntry {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "key not owned in this realm")
		return
	}

	w.Header().Set("X-CAS-Kind", kindStr)
	w.Header().Set("X-CAS-Size", strconv.Itoa(len(raw)))
	w.Header().Set("X-CAS-Content-Type", "application/octet-stream")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		slog.Default().Warn("blobs: writing response body", "error", err)
	}
}

type putResponse struct {
	Key     string `json:"key"`
	Kind    string `json:"kind"`
	Size    int    `json:"size"`
	NewNode bool   `json:"new_node"`
}

type missingNodesResponse struct {
	Success bool         `json:"success"`
	Error   string       `json:"error"`
	Missing []digest.Key `json:"missing"`
}
