package casapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/internal/httpserver"
	"github.com/wisbric/strata/pkg/digest"
)

// CommitHandler implements the commit lifecycle from spec.md §4.9.
type CommitHandler struct {
	Deps *Deps
}

func (h *CommitHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Get("/{root}", h.get)
	r.Patch("/{root}", h.updateTitle)
	r.Delete("/{root}", h.delete)
	return r
}

type createCommitRequest struct {
	Root  string `json:"root" validate:"required"`
	Title string `json:"title"`
}

func (h *CommitHandler) create(w http.ResponseWriter, r *http.Request) {
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

	var req createCommitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}
	root := digest.Key(req.Root)
	if !root.Valid() {
		httpserver.RespondError(w, http.StatusBadRequest, "bad_request", "malformed root key")
		return
	}

	ctx := r.Context()

	owned, err := h.Deps.Ownership.Has(ctx, rlm, root)
	if err != nil {
		h.Deps.Logger.Error("commits: ownership check failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not verify root")
		return
	}
	has, err := h.Deps.Blobs.Has(ctx, root)
	if err != nil {
		h.Deps.Logger.Error("commits: blob check failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not verify root")
		return
	}
	if !owned || !has {
		httpserver.Respond(w, http.StatusOK, map[string]any{"success": false, "error": "root_not_found"})
		return
	}

	if _, err := h.Deps.RefCount.Increment(ctx, rlm, root, 0, 0); err != nil {
		h.Deps.Logger.Error("commits: refcount increment failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not pin commit root")
		return
	}

	commit, err := h.Deps.Commits.Create(ctx, rlm, root, ac.UserID, req.Title)
	if err != nil {
		_, _ = h.Deps.RefCount.Decrement(ctx, rlm, root)
		h.Deps.Logger.Error("commits: create failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not record commit")
		return
	}

	if ac.Method == auth.MethodTicket {
		ok, err := h.Deps.Tokens.MarkTicketCommitted(ctx, ac.TokenID, root)
		if err != nil {
			h.Deps.Logger.Error("commits: mark ticket committed failed", "error", err)
			httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not finalise ticket commit")
			return
		}
		if !ok {
			_ = h.Deps.Commits.Delete(ctx, rlm, root)
			_, _ = h.Deps.RefCount.Decrement(ctx, rlm, root)
			httpserver.RespondError(w, http.StatusForbidden, "ticket_already_committed", "this ticket has already been used to commit")
			return
		}
	}

	if h.Deps.Events != nil {
		_ = h.Deps.Events.Publish(ctx, rlm, "commit.created", map[string]any{
			"root":  string(root),
			"title": req.Title,
		})
	}

	h.Deps.logAudit(ac, rlm, "commit.create", "commit", string(root))

	httpserver.Respond(w, http.StatusCreated, commit)
}

func (h *CommitHandler) get(w http.ResponseWriter, r *http.Request) {
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

	root := digest.Key(chi.URLParam(r, "root"))
	commit, err := h.Deps.Commits.Get(r.Context(), rlm, root)
	if err != nil {
		h.Deps.Logger.Error("commits: get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load commit")
		return
	}
	if commit == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "commit not found")
		return
	}
	httpserver.Respond(w, http.StatusOK, commit)
}

type updateCommitTitleRequest struct {
	Title string `json:"title" validate:"required"`
}

func (h *CommitHandler) updateTitle(w http.ResponseWriter, r *http.Request) {
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

	var req updateCommitTitleRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	root := digest.Key(chi.URLParam(r, "root"))
	if err := h.Deps.Commits.UpdateTitle(r.Context(), rlm, root, req.Title); err != nil {
		h.Deps.Logger.Error("commits: update title failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not update commit")
		return
	}
	h.Deps.logAudit(ac, rlm, "commit.update_title", "commit", string(root))
	w.WriteHeader(http.StatusNoContent)
}

func (h *CommitHandler) delete(w http.ResponseWriter, r *http.Request) {
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
	root := digest.Key(chi.URLParam(r, "root"))

	commit, err := h.Deps.Commits.Get(ctx, rlm, root)
	if err != nil {
		h.Deps.Logger.Error("commits: get failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not load commit")
		return
	}
	if commit == nil {
		httpserver.RespondError(w, http.StatusNotFound, "not_found", "commit not found")
		return
	}

	// A commit holds two units of refcount on its root: the pin this
	// handler's create added, and the root node's own self-reference from
	// the put that originally wrote it (blobs.go put, step 7) — nothing
	// else ever releases that self-reference, so the commit that claimed
	// it is responsible for releasing both on delete.
	if _, err := h.Deps.RefCount.Decrement(ctx, rlm, root); err != nil {
		h.Deps.Logger.Error("commits: refcount decrement failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not release commit root")
		return
	}
	if _, err := h.Deps.RefCount.Decrement(ctx, rlm, root); err != nil {
		h.Deps.Logger.Error("commits: refcount decrement failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not release commit root")
		return
	}
	if err := h.Deps.Commits.Delete(ctx, rlm, root); err != nil {
		h.Deps.Logger.Error("commits: delete failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not delete commit")
		return
	}
	h.Deps.logAudit(ac, rlm, "commit.delete", "commit", string(root))
	w.WriteHeader(http.StatusNoContent)
}

func (h *CommitHandler) list(w http.ResponseWriter, r *http.Request) {
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
	cursor := r.URL.Query().Get("cursor")

	page, err := h.Deps.Commits.List(r.Context(), rlm, params.Limit, cursor)
	if err != nil {
		h.Deps.Logger.Error("commits: list failed", "error", err)
		httpserver.RespondError(w, http.StatusInternalServerError, "internal", "could not list commits")
		return
	}
	httpserver.Respond(w, http.StatusOK, page)
}
