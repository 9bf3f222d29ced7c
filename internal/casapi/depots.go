package casapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/httpserver"
	"github.com/wisbric/strata/pkg/depot"
	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/nodecodec"
)

// DepotHandler implements the depot lifecycle from spec.md §4.10: named,
// versioned, mutable root pointers with append-only rollback history.
type DepotHandler struct {
	Deps *Deps
}

func (h *DepotHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Post("/", h.create)
	r.Get("/{id}", h.get)
	r.Put("/{id}", h.updateRoot)
	r.Delete("/{id}", h.delete)
	r.Get("/{id}/history", h.history)
	r.Post("/{id}/rollback", h.rollback)
	return r
}

func (h *DepotHandler) list(w http.ResponseWriter, r *http.Request) {
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

	depots, err := h.Deps.Depots.List(r.Context(), rlm)
	if err != nil {
		h.Deps.Logger.Error("depots: list failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not list depots")
		return
	}
	httpserver.Respond(w, http.StatusOK, depots)
}

type createDepotRequest struct {
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
}

func (h *DepotHandler) create(w http.ResponseWriter, r *http.Request) {
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

	var req createDepotRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	emptyKey := nodecodec.EmptyCollectionKey

	if err := h.ensureEmptyCollection(ctx, rlm, ac.UserID); err != nil {
		h.Deps.Logger.Error("depots: materialising empty collection failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not prepare empty collection")
		return
	}

	if _, err := h.Deps.RefCount.Increment(ctx, rlm, emptyKey, uint64(len(nodecodec.EmptyCollection)), 0); err != nil {
		h.Deps.Logger.Error("depots: refcount increment failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not create depot")
		return
	}

	d, err := h.Deps.Depots.Create(ctx, rlm, req.Name, req.Description, emptyKey)
	if err != nil {
		_, _ = h.Deps.RefCount.Decrement(ctx, rlm, emptyKey)
		if errors.Is(err, depot.ErrNameConflict) {
			httpserver.RespondError(w, http.StatusConflict, "name_conflict", "a depot with this name already exists")
			return
		}
		h.Deps.Logger.Error("depots: create failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not create depot")
		return
	}

	h.Deps.logAudit(ac, rlm, "depot.create", "depot", d.ID)

	httpserver.Respond(w, http.StatusCreated, d)
}

// ensureEmptyCollection materialises the well-known empty-collection blob
// in this realm's ownership ledger on first use (spec.md §9: lazily
// per-realm, thereafter a well-known constant).
func (h *DepotHandler) ensureEmptyCollection(ctx context.Context, realm, creator string) error {
	key := nodecodec.EmptyCollectionKey
	if err := h.Deps.Blobs.Put(ctx, key, nodecodec.EmptyCollection); err != nil {
		return err
	}
	return h.Deps.Ownership.Add(ctx, realm, key, "collection", "application/octet-stream", uint64(len(nodecodec.EmptyCollection)), creator)
}

func (h *DepotHandler) get(w http.ResponseWriter, r *http.Request) {
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

	d, err := h.Deps.Depots.Get(r.Context(), rlm, chi.URLParam(r, "id"))
	if err != nil {
		h.Deps.Logger.Error("depots: get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load depot")
		return
	}
	if d == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "depot not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, d)
}

type updateDepotRootRequest struct {
	ExpectedVersion int64  `json:"expected_version" validate:"required"`
	NewRoot         string `json:"new_root" validate:"required"`
	Message         string `json:"message"`
}

func (h *DepotHandler) updateRoot(w http.ResponseWriter, r *http.Request) {
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

	var req updateDepotRootRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	newRoot := digest.Key(req.NewRoot)
	if !newRoot.Valid() {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "malformed new_root")
		return
	}

	h.applyRootUpdate(w, r, rlm, chi.URLParam(r, "id"), req.ExpectedVersion, newRoot, req.Message)
}

// applyRootUpdate performs the increment-new, record-history,
// swap-version, decrement-old sequence spec.md §4.10 mandates, so a crash
// mid-sequence over-counts a reference rather than dangling one.
func (h *DepotHandler) applyRootUpdate(w http.ResponseWriter, r *http.Request, rlm, depotID string, expectedVersion int64, newRoot digest.Key, message string) {
	ctx := r.Context()

	has, err := h.Deps.Blobs.Has(ctx, newRoot)
	if err != nil || !has {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "new root is not present in this realm")
		return
	}

	existing, err := h.Deps.Depots.Get(ctx, rlm, depotID)
	if err != nil {
		h.Deps.Logger.Error("depots: get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load depot")
		return
	}
	if existing == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "depot not found")
		return
	}
	oldRoot := existing.Root

	if _, err := h.Deps.RefCount.Increment(ctx, rlm, newRoot, 0, 0); err != nil {
		h.Deps.Logger.Error("depots: refcount increment failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not update depot")
		return
	}

	updated, err := h.Deps.Depots.UpdateRoot(ctx, rlm, depotID, expectedVersion, newRoot, message)
	if err != nil {
		_, _ = h.Deps.RefCount.Decrement(ctx, rlm, newRoot)
		if errors.Is(err, depot.ErrVersionConflict) {
			httpserver.RespondError(w, http.StatusConflict, "version_conflict", "depot was updated concurrently, retry")
			return
		}
		if errors.Is(err, depot.ErrRootNotFound) {
			httpserver.RespondError(w, http.StatusNotFound, "not_found", "depot not found")
			return
		}
		h.Deps.Logger.Error("depots: update root failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not update depot")
		return
	}

	// The depot's old root carries two units of refcount just like a
	// commit's root does: the pin this handler (or an earlier call to it)
	// added, and the root's own self-reference from the put that wrote
	// it. Both are released together now that the depot no longer points
	// at it.
	if _, err := h.Deps.RefCount.Decrement(ctx, rlm, oldRoot); err != nil {
		h.Deps.Logger.Error("depots: refcount decrement of old root failed", "error", err)
	}
	if _, err := h.Deps.RefCount.Decrement(ctx, rlm, oldRoot); err != nil {
		h.Deps.Logger.Error("depots: refcount decrement of old root failed", "error", err)
	}

	if h.Deps.Events != nil {
		_ = h.Deps.Events.Publish(ctx, rlm, "depot.updated", map[string]any{
			"depot_id": depotID,
			"root":     string(newRoot),
			"version":  updated.Version,
		})
	}

	if ac := auth.FromContext(r.Context()); ac != nil {
		h.Deps.logAudit(ac, rlm, "depot.update_root", "depot", depotID)
	}

	httpserver.Respond(w, http.StatusOK, updated)
}

func (h *DepotHandler) delete(w http.ResponseWriter, r *http.Request) {
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

	ctx := r.Context()
	id := chi.URLParam(r, "id")

	d, err := h.Deps.Depots.Get(ctx, rlm, id)
	if err != nil {
		h.Deps.Logger.Error("depots: get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load depot")
		return
	}
	if d == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "depot not found")
		return
	}

	if err := h.Deps.Depots.Delete(ctx, rlm, id); err != nil {
		if errors.Is(err, depot.ErrMainUndeletable) {
			httpserver.RespondError(w, http.StatusForbidden, "forbidden", "the main depot cannot be deleted")
			return
		}
		h.Deps.Logger.Error("depots: delete failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not delete depot")
		return
	}

	// Same two-unit release as applyRootUpdate's old-root path: the
	// depot's pin plus the root's self-reference from its original put.
	if _, err := h.Deps.RefCount.Decrement(ctx, rlm, d.Root); err != nil {
		h.Deps.Logger.Error("depots: refcount decrement failed", "error", err)
	}
	if _, err := h.Deps.RefCount.Decrement(ctx, rlm, d.Root); err != nil {
		h.Deps.Logger.Error("depots: refcount decrement failed", "error", err)
	}

	h.Deps.logAudit(ac, rlm, "depot.delete", "depot", id)

	w.WriteHeader(http.StatusNoContent)
}

func (h *DepotHandler) history(w http.ResponseWriter, r *http.Request) {
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

	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	hist, err := h.Deps.Depots.History(r.Context(), rlm, chi.URLParam(r, "id"), params.Limit)
	if err != nil {
		h.Deps.Logger.Error("depots: history failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load depot history")
		return
	}
	httpserver.Respond(w, http.StatusOK, hist)
}

type rollbackRequest struct {
	Version int64 `json:"version" validate:"required"`
}

func (h *DepotHandler) rollback(w http.ResponseWriter, r *http.Request) {
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

	var req rollbackRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	id := chi.URLParam(r, "id")

	d, err := h.Deps.Depots.Get(ctx, rlm, id)
	if err != nil {
		h.Deps.Logger.Error("depots: get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load depot")
		return
	}
	if d == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "depot not found")
		return
	}

	hist, err := h.Deps.Depots.History(ctx, rlm, id, 0)
	if err != nil {
		h.Deps.Logger.Error("depots: history failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load depot history")
		return
	}
	var target *digest.Key
	for i := range hist {
		if hist[i].Version == req.Version {
			target = &hist[i].Root
			break
		}
	}
	if target == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "no such history version")
		return
	}
	if *target == d.Root {
		httpserver.Respond(w, http.StatusOK, d)
		return
	}

	h.applyRootUpdate(w, r, rlm, id, d.Version, *target, "Rollback to v"+strconv.FormatInt(req.Version, 10))
}
