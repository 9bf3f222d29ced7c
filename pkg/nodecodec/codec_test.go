package nodecodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wisbric/strata/pkg/digest"
)

func TestEncodeDecodeChunk(t *testing.T) {
	payload := []byte("hello")
	n := &Node{Kind: KindChunk, Payload: payload, DeclaredSize: uint64(len(payload))}

	b, err := Encode(n)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, KindChunk, got.Kind)
	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, uint64(5), got.DeclaredSize)
}

func TestEncodeDecodeInlineFile(t *testing.T) {
	n := &Node{Kind: KindInlineFile, MIME: "text/plain", Payload: []byte("world")}
	b, err := Encode(n)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, "text/plain", got.MIME)
	assert.Equal(t, []byte("world"), got.Payload)
	assert.Equal(t, uint64(5), got.DeclaredSize)
}

func TestEncodeDecodeFile(t *testing.T) {
	c1 := digest.Of([]byte("a"))
	c2 := digest.Of([]byte("b"))
	n := &Node{
		Kind:         KindFile,
		MIME:         "application/octet-stream",
		Children:     []Child{{Digest: c1}, {Digest: c2}},
		DeclaredSize: 2,
	}
	b, err := Encode(n)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	assert.Equal(t, KindFile, got.Kind)
	assert.Equal(t, uint64(2), got.DeclaredSize)
	require.Len(t, got.Children, 2)
	assert.Equal(t, c1, got.Children[0].Digest)
	assert.Equal(t, c2, got.Children[1].Digest)
}

func TestEncodeDecodeCollection(t *testing.T) {
	c1 := digest.Of([]byte("x"))
	n := &Node{
		Kind:         KindCollection,
		Children:     []Child{{Name: "readme.txt", Digest: c1}},
		DeclaredSize: 1,
	}
	b, err := Encode(n)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)
	require.Len(t, got.Children, 1)
	assert.Equal(t, "readme.txt", got.Children[0].Name)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte("xxxxx"))
	require.Error(t, err)
	var me *MalformedNode
	assert.ErrorAs(t, err, &me)
}

func TestDecodeRejectsDuplicateCollectionName(t *testing.T) {
	c1 := digest.Of([]byte("x"))
	c2 := digest.Of([]byte("y"))
	n := &Node{
		Kind:         KindCollection,
		Children:     []Child{{Name: "dup", Digest: c1}, {Name: "dup", Digest: c2}},
		DeclaredSize: 2,
	}
	b, err := Encode(n)
	require.NoError(t, err)

	_, err = Decode(b)
	require.Error(t, err)
	var dn *DuplicateName
	assert.ErrorAs(t, err, &dn)
}

func TestQuickValidate(t *testing.T) {
	n := &Node{Kind: KindChunk, Payload: []byte("z"), DeclaredSize: 1}
	b, err := Encode(n)
	require.NoError(t, err)

	kind, err := QuickValidate(b)
	require.NoError(t, err)
	assert.Equal(t, KindChunk, kind)
}

func TestValidateHashMismatch(t *testing.T) {
	n := &Node{Kind: KindChunk, Payload: []byte("z"), DeclaredSize: 1}
	b, err := Encode(n)
	require.NoError(t, err)

	wrongKey := digest.Of([]byte("not the right bytes"))
	_, err = Validate(b, wrongKey, func(digest.Key) bool { return true }, func(digest.Key) (uint64, bool) { return 0, true })
	require.Error(t, err)
	var hm *digest.HashMismatch
	assert.ErrorAs(t, err, &hm)
}

func TestValidateMissingChildren(t *testing.T) {
	missingChild := digest.Of([]byte("child"))
	n := &Node{Kind: KindFile, MIME: "application/octet-stream", Children: []Child{{Digest: missingChild}}, DeclaredSize: 5}
	b, err := Encode(n)
	require.NoError(t, err)

	key := digest.Of(b)
	_, err = Validate(b, key, func(digest.Key) bool { return false }, func(digest.Key) (uint64, bool) { return 0, false })
	require.Error(t, err)
	var mc *MissingChildren
	require.ErrorAs(t, err, &mc)
	assert.Equal(t, []digest.Key{missingChild}, mc.List)
}

func TestValidateSizeMismatch(t *testing.T) {
	child := digest.Of([]byte("child"))
	n := &Node{Kind: KindFile, MIME: "application/octet-stream", Children: []Child{{Digest: child}}, DeclaredSize: 999}
	b, err := Encode(n)
	require.NoError(t, err)

	key := digest.Of(b)
	_, err = Validate(b, key, func(digest.Key) bool { return true }, func(digest.Key) (uint64, bool) { return 5, true })
	require.Error(t, err)
	var sm *SizeMismatch
	assert.ErrorAs(t, err, &sm)
}

func TestEmptyCollectionConstant(t *testing.T) {
	got, err := Decode(EmptyCollection)
	require.NoError(t, err)
	assert.Equal(t, KindCollection, got.Kind)
	assert.Empty(t, got.Children)
	assert.True(t, EmptyCollectionKey.Valid())
}
