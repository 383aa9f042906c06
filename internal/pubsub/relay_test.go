package pubsub

import (
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestChannelNamespacesByRoom(t *testing.T) {
	r := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "roomsync:room:", zaptest.NewLogger(t))
	assert.Equal(t, "roomsync:room:abc", r.channel("abc"))
}
