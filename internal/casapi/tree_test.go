package casapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/nodecodec"
)

func putNode(t *testing.T, deps *Deps, realm string, node *nodecodec.Node) digest.Key {
	t.Helper()
	encoded, err := nodecodec.Encode(node)
	require.NoError(t, err)
	key := digest.Of(encoded)
	require.NoError(t, deps.Blobs.Put(context.Background(), key, encoded))
	require.NoError(t, deps.Ownership.Add(context.Background(), realm, key, node.Kind.String(), "application/octet-stream", uint64(len(encoded)), "alice"))
	_, err = deps.RefCount.Increment(context.Background(), realm, key, uint64(len(encoded)), node.DeclaredSize)
	require.NoError(t, err)
	return key
}

func TestTreeHandlerWalksCollection(t *testing.T) {
	deps := newTestDeps(t)
	h := &TreeHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	leaf := putNode(t, deps, realm, &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: []byte("leaf bytes")})
	collection := putNode(t, deps, realm, &nodecodec.Node{
		Kind:         nodecodec.KindCollection,
		Children:     []nodecodec.Child{{Name: "leaf.txt", Digest: leaf}},
		DeclaredSize: uint64(len("leaf bytes")),
	})

	ac := readerContext(realm)
	rec := doRequest(r, ac, http.MethodGet, "/"+string(collection), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), string(leaf))
	assert.Contains(t, rec.Body.String(), string(collection))
}

func TestTreeHandlerRejectsWithoutReadAccess(t *testing.T) {
	deps := newTestDeps(t)
	h := &TreeHandler{Deps: deps}
	r := h.Routes()

	realm := "usr_alice"
	key := putNode(t, deps, realm, &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: []byte("x")})

	ac := readerContext(realm)
	ac.CanRead = false

	rec := doRequest(r, ac, http.MethodGet, "/"+string(key), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestTreeHandlerMalformedKeyIsBadRequest(t *testing.T) {
	deps := newTestDeps(t)
	h := &TreeHandler{Deps: deps}
	r := h.Routes()

	ac := readerContext("usr_alice")
	rec := doRequest(r, ac, http.MethodGet, "/not-a-real-key", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
