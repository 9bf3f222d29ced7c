package casapi

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/depot"
	"github.com/wisbric/strata/pkg/nodecodec"
)

func createDepot(t *testing.T, r chi.Router, realm, name string) depot.Depot {
	t.Helper()
	ac := writerContext(realm)
	body, err := json.Marshal(createDepotRequest{Name: name})
	require.NoError(t, err)
	rec := doRequest(r, ac, http.MethodPost, "/", body)
	require.Equal(t, http.StatusCreated, rec.Code)
	var d depot.Depot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
	return d
}

func TestDepotHandlerCreateMaterialisesEmptyCollection(t *testing.T) {
	deps := newTestDeps(t)
	h := &DepotHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	d := createDepot(t, r, realm, "main")

	assert.Equal(t, nodecodec.EmptyCollectionKey, d.Root)
	assert.EqualValues(t, 1, d.Version)

	entry, err := deps.RefCount.Get(context.Background(), realm, nodecodec.EmptyCollectionKey)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.EqualValues(t, 1, entry.Count)
}

func TestDepotHandlerCreateRejectsDuplicateName(t *testing.T) {
	deps := newTestDeps(t)
	h := &DepotHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	_ = createDepot(t, r, realm, "dup")

	ac := writerContext(realm)
	body, err := json.Marshal(createDepotRequest{Name: "dup"})
	require.NoError(t, err)
	rec := doRequest(r, ac, http.MethodPost, "/", body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDepotHandlerUpdateRootSwapsAndRecordsHistory(t *testing.T) {
	deps := newTestDeps(t)
	h := &DepotHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	d := createDepot(t, r, realm, "main")

	newRoot := putNode(t, deps, realm, &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: []byte("v2")})

	ac := writerContext(realm)
	body, err := json.Marshal(updateDepotRootRequest{ExpectedVersion: d.Version, NewRoot: string(newRoot), Message: "bump"})
	require.NoError(t, err)
	rec := doRequest(r, ac, http.MethodPut, "/"+d.ID, body)
	require.Equal(t, http.StatusOK, rec.Code)

	var updated depot.Depot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, newRoot, updated.Root)
	assert.EqualValues(t, 2, updated.Version)

	oldEntry, err := deps.RefCount.Get(context.Background(), realm, nodecodec.EmptyCollectionKey)
	require.NoError(t, err)
	require.NotNil(t, oldEntry)
	assert.EqualValues(t, 0, oldEntry.Count)

	// newRoot carries its own self-reference from putNode plus the
	// depot's pin; both must be released together when it's swapped away
	// or the depot is deleted, or this root leaks a unit forever.
	newEntry, err := deps.RefCount.Get(context.Background(), realm, newRoot)
	require.NoError(t, err)
	require.NotNil(t, newEntry)
	assert.EqualValues(t, 2, newEntry.Count)

	rec = doRequest(r, ac, http.MethodGet, "/"+d.ID+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var hist []depot.HistoryEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hist))
	require.Len(t, hist, 2)
}

func TestDepotHandlerUpdateRootRejectsStaleVersion(t *testing.T) {
	deps := newTestDeps(t)
	h := &DepotHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	d := createDepot(t, r, realm, "main")
	newRoot := putNode(t, deps, realm, &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: []byte("v2")})

	ac := writerContext(realm)
	body, err := json.Marshal(updateDepotRootRequest{ExpectedVersion: 99, NewRoot: string(newRoot)})
	require.NoError(t, err)
	rec := doRequest(r, ac, http.MethodPut, "/"+d.ID, body)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDepotHandlerRollback(t *testing.T) {
	deps := newTestDeps(t)
	h := &DepotHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	d := createDepot(t, r, realm, "main")
	originalRoot := d.Root

	newRoot := putNode(t, deps, realm, &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: []byte("v2")})
	ac := writerContext(realm)
	body, err := json.Marshal(updateDepotRootRequest{ExpectedVersion: d.Version, NewRoot: string(newRoot)})
	require.NoError(t, err)
	rec := doRequest(r, ac, http.MethodPut, "/"+d.ID, body)
	require.Equal(t, http.StatusOK, rec.Code)

	rollbackBody, err := json.Marshal(rollbackRequest{Version: 1})
	require.NoError(t, err)
	rec = doRequest(r, ac, http.MethodPost, "/"+d.ID+"/rollback", rollbackBody)
	require.Equal(t, http.StatusOK, rec.Code)

	var rolledBack depot.Depot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rolledBack))
	assert.Equal(t, originalRoot, rolledBack.Root)
	assert.EqualValues(t, 3, rolledBack.Version)

	originalEntry, err := deps.RefCount.Get(context.Background(), realm, originalRoot)
	require.NoError(t, err)
	require.NotNil(t, originalEntry)
	assert.EqualValues(t, 1, originalEntry.Count)

	newRootEntry, err := deps.RefCount.Get(context.Background(), realm, newRoot)
	require.NoError(t, err)
	require.NotNil(t, newRootEntry)
	assert.EqualValues(t, 0, newRootEntry.Count)
}

func TestDepotHandlerDeleteRejectsMainDepot(t *testing.T) {
	deps := newTestDeps(t)
	h := &DepotHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	d := createDepot(t, r, realm, depot.MainDepotName)

	ac := writerContext(realm)
	rec := doRequest(r, ac, http.MethodDelete, "/"+d.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
