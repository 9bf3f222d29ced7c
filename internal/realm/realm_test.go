package realm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonical(t *testing.T) {
	r, err := Canonical("alice")
	require.NoError(t, err)
	assert.Equal(t, "usr_alice", r)

	_, err = Canonical("")
	assert.ErrorIs(t, err, ErrEmptyUserID)
}

func TestResolveAliases(t *testing.T) {
	assert.Equal(t, "usr_alice", Resolve("@me", "usr_alice"))
	assert.Equal(t, "usr_alice", Resolve("~", "usr_alice"))
	assert.Equal(t, "usr_bob", Resolve("usr_bob", "usr_alice"))
}

func TestPermitted(t *testing.T) {
	assert.True(t, Permitted("@me", "usr_alice"))
	assert.True(t, Permitted("usr_alice", "usr_alice"))
	assert.False(t, Permitted("usr_bob", "usr_alice"))
}

func TestContextRoundtrip(t *testing.T) {
	ctx := NewContext(context.Background(), "usr_alice")
	r, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, "usr_alice", r)
}
