package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoopPublisherDiscardsEvents(t *testing.T) {
	var p Publisher = NoopPublisher{}
	err := p.Publish(context.Background(), "usr_alice", TypeBlobPut, BlobPutPayload{Key: "sha256:x", Kind: "chunk", ByteSize: 10})
	assert.NoError(t, err)
	assert.NoError(t, p.Close())
}
