package casapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/commitstore"
	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/nodecodec"
	"github.com/wisbric/strata/pkg/refcount"
)

func TestCommitHandlerCreateAndGet(t *testing.T) {
	deps := newTestDeps(t)
	h := &CommitHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	root := putNode(t, deps, realm, &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: []byte("commit me")})

	ac := writerContext(realm)
	body, err := json.Marshal(createCommitRequest{Root: string(root), Title: "first snapshot"})
	require.NoError(t, err)

	rec := doRequest(r, ac, http.MethodPost, "/", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created commitstore.Commit
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, root, created.Root)
	assert.Equal(t, "first snapshot", created.Title)

	entry, err := deps.RefCount.Get(context.Background(), realm, root)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.EqualValues(t, 2, entry.Count) // one from putNode's self reference, one from the commit pin

	rec = doRequest(r, ac, http.MethodGet, "/"+string(root), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestCommitHandlerCreateRejectsUnknownRoot(t *testing.T) {
	deps := newTestDeps(t)
	h := &CommitHandler{Deps: deps}
	r := h.Routes()

	ac := writerContext("usr_alice")
	unknown := digest.Of([]byte("never written"))
	body, err := json.Marshal(createCommitRequest{Root: string(unknown), Title: "nope"})
	require.NoError(t, err)

	rec := doRequest(r, ac, http.MethodPost, "/", body)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "root_not_found")
}

func TestCommitHandlerDeleteReleasesRefcount(t *testing.T) {
	deps := newTestDeps(t)
	h := &CommitHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	root := putNode(t, deps, realm, &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: []byte("deletable")})

	ac := writerContext(realm)
	body, err := json.Marshal(createCommitRequest{Root: string(root), Title: "temp"})
	require.NoError(t, err)
	rec := doRequest(r, ac, http.MethodPost, "/", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doRequest(r, ac, http.MethodDelete, "/"+string(root), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	entry, err := deps.RefCount.Get(context.Background(), realm, root)
	require.NoError(t, err)
	require.NotNil(t, entry)
	// Delete releases both units the commit held: its own pin and the
	// root's self-reference from the original put, so the root goes fully
	// to zero and becomes GC-eligible rather than leaking a unit forever.
	assert.EqualValues(t, 0, entry.Count)
	assert.Equal(t, refcount.StatePending, entry.GCState)

	rec = doRequest(r, ac, http.MethodGet, "/"+string(root), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCommitHandlerRejectsWithoutWriteAccess(t *testing.T) {
	deps := newTestDeps(t)
	h := &CommitHandler{Deps: deps}
	r := h.Routes()

	ac := readerContext("usr_alice")
	body, err := json.Marshal(createCommitRequest{Root: "sha256:" + "a", Title: "nope"})
	require.NoError(t, err)

	rec := doRequest(r, ac, http.MethodPost, "/", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
