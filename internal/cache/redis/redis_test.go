package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKeyNamespacing(t *testing.T) {
	c := &Client{prefix: DefaultKeyPrefix}
	assert.Equal(t, "bondescrow:writer", c.Key("writer"))
	assert.Equal(t, "bondescrow:lock:writer", NewLockManager(c).lockKey("writer"))
	assert.Equal(t, "bondescrow:ratelimit:1.2.3.4", NewRateLimiter(c, 0, 0).rateLimitKey("1.2.3.4"))
}

func TestRateLimiterWaitDefaults(t *testing.T) {
	rl := NewRateLimiter(&Client{}, 0, 0)
	assert.Equal(t, 1, rl.waitLimit)
	assert.Equal(t, time.Second, rl.waitWindow)

	rl = NewRateLimiter(&Client{}, 20, time.Minute)
	assert.Equal(t, 20, rl.waitLimit)
	assert.Equal(t, time.Minute, rl.waitWindow)
}

func TestHasPattern(t *testing.T) {
	assert.True(t, hasPattern("ch:escrow*"))
	assert.True(t, hasPattern("ch:escrow:Bond?"))
	assert.False(t, hasPattern("ch:escrow"))
	assert.False(t, hasPattern("ch:escrow:BondPosted"))
}

func TestStreamPayload(t *testing.T) {
	got, ok := streamPayload(map[string]any{"payload": "abc"})
	assert.True(t, ok)
	assert.Equal(t, []byte("abc"), got)

	got, ok = streamPayload(map[string]any{"payload": []byte("xyz")})
	assert.True(t, ok)
	assert.Equal(t, []byte("xyz"), got)

	_, ok = streamPayload(map[string]any{"other": "abc"})
	assert.False(t, ok)
	_, ok = streamPayload(map[string]any{"payload": 7})
	assert.False(t, ok)
}

func TestSignalBusMaxLen(t *testing.T) {
	assert.Equal(t, DefaultStreamMaxLen, NewSignalBus(&Client{}).maxLen)
	assert.Equal(t, int64(50), NewSignalBusWithMaxLen(&Client{}, 50).maxLen)
	assert.Equal(t, DefaultStreamMaxLen, NewSignalBusWithMaxLen(&Client{}, -1).maxLen)
}

func TestSlidingWindowScriptEmbedded(t *testing.T) {
	assert.Contains(t, slidingWindowLua, "ZREMRANGEBYSCORE")
	assert.Contains(t, slidingWindowLua, "return {1, count + 1}")
}
