package casapi

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/internal/auth"
	"github.com/wisbric/strata/pkg/digest"
	"github.com/wisbric/strata/pkg/nodecodec"
)

func encodeChunk(t *testing.T, payload []byte) ([]byte, digest.Key) {
	t.Helper()
	node := &nodecodec.Node{Kind: nodecodec.KindChunk, Payload: payload}
	encoded, err := nodecodec.Encode(node)
	require.NoError(t, err)
	return encoded, digest.Of(encoded)
}

func doRequest(r chi.Router, ac *auth.Context, method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if ac != nil {
		req = req.WithContext(auth.NewContext(context.Background(), ac))
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestBlobHandlerPutAndGetChunk(t *testing.T) {
	deps := newTestDeps(t)
	h := &BlobHandler{Deps: deps}
	r := h.Routes()

	ac := writerContext("usr_alice")
	encoded, key := encodeChunk(t, []byte("hello world"))

	rec := doRequest(r, ac, http.MethodPut, "/"+string(key), encoded)
	require.Equal(t, http.StatusCreated, rec.Code)

	has, err := deps.Ownership.Has(context.Background(), "usr_alice", key)
	require.NoError(t, err)
	assert.True(t, has)

	entry, err := deps.RefCount.Get(context.Background(), "usr_alice", key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.EqualValues(t, 1, entry.Count)

	rec = doRequest(r, ac, http.MethodGet, "/"+string(key), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, encoded, rec.Body.Bytes())
}

func TestBlobHandlerPutIsIdempotent(t *testing.T) {
	deps := newTestDeps(t)
	h := &BlobHandler{Deps: deps}
	r := h.Routes()

	ac := writerContext("usr_alice")
	encoded, key := encodeChunk(t, []byte("repeat me"))

	rec := doRequest(r, ac, http.MethodPut, "/"+string(key), encoded)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = doRequest(r, ac, http.MethodPut, "/"+string(key), encoded)
	require.Equal(t, http.StatusCreated, rec.Code)

	entry, err := deps.RefCount.Get(context.Background(), "usr_alice", key)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.EqualValues(t, 2, entry.Count)

	summary, err := deps.Usage.Get(context.Background(), "usr_alice")
	require.NoError(t, err)
	assert.EqualValues(t, 1, summary.NodeCount)
}

func TestBlobHandlerPutRejectsHashMismatch(t *testing.T) {
	deps := newTestDeps(t)
	h := &BlobHandler{Deps: deps}
	r := h.Routes()

	ac := writerContext("usr_alice")
	encoded, _ := encodeChunk(t, []byte("mismatched"))
	wrongKey := digest.Of([]byte("not the same bytes"))

	rec := doRequest(r, ac, http.MethodPut, "/"+string(wrongKey), encoded)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlobHandlerPutRejectsWithoutWriteAccess(t *testing.T) {
	deps := newTestDeps(t)
	h := &BlobHandler{Deps: deps}
	r := h.Routes()

	ac := readerContext("usr_alice")
	encoded, key := encodeChunk(t, []byte("read only"))

	rec := doRequest(r, ac, http.MethodPut, "/"+string(key), encoded)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestBlobHandlerGetMissingKeyIs404(t *testing.T) {
	deps := newTestDeps(t)
	h := &BlobHandler{Deps: deps}
	r := h.Routes()

	ac := readerContext("usr_alice")
	missing := digest.Of([]byte("never stored"))

	rec := doRequest(r, ac, http.MethodGet, "/"+string(missing), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBlobHandlerGetRespectsTicketReadScope(t *testing.T) {
	deps := newTestDeps(t)
	h := &BlobHandler{Deps: deps}
	r := h.Routes()

	writer := writerContext("usr_alice")
	encoded, key := encodeChunk(t, []byte("scoped"))
	rec := doRequest(r, writer, http.MethodPut, "/"+string(key), encoded)
	require.Equal(t, http.StatusCreated, rec.Code)

	other, _ := encodeChunk(t, []byte("not in scope"))
	_ = other

	scoped := &auth.Context{
		UserID:      "alice",
		Realm:       "usr_alice",
		CanRead:     true,
		AllowedKeys: []digest.Key{digest.Of([]byte("something else"))},
		Method:      auth.MethodTicket,
	}

	rec = doRequest(r, scoped, http.MethodGet, "/"+string(key), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
