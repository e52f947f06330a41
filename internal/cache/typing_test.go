package cache

import (
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypingExpiresAfterTTL(t *testing.T) {
	c := newCache(t, WithTypingTTL(50*time.Millisecond))
	c.SetTyping("c1", "u2", true)
	require.True(t, c.IsTyping("c1", "u2"))

	require.Eventually(t, func() bool { return !c.IsTyping("c1", "u2") },
		time.Second, 10*time.Millisecond)
}

func TestTypingRefreshExtendsDeadline(t *testing.T) {
	ttl := 200 * time.Millisecond
	c := newCache(t, WithTypingTTL(ttl))
	start := time.Now()
	c.SetTyping("c1", "u2", true)

	time.Sleep(120 * time.Millisecond)
	c.SetTyping("c1", "u2", true)

	// Past the first deadline, the second signal keeps the flag up.
	time.Sleep(time.Until(start.Add(ttl + 50*time.Millisecond)))
	assert.True(t, c.IsTyping("c1", "u2"))

	require.Eventually(t, func() bool { return !c.IsTyping("c1", "u2") },
		time.Second, 10*time.Millisecond)
}

func TestStaleTimerDoesNotClearNewerSignal(t *testing.T) {
	c := newCache(t, WithTypingTTL(time.Hour))
	c.SetTyping("c1", "u2", true)
	firstGen := c.typing["c1"]["u2"].gen

	c.SetTyping("c1", "u2", false)
	c.SetTyping("c1", "u2", true)

	// The timer armed by the first signal fires late.
	c.expireTyping("c1", "u2", firstGen)
	assert.True(t, c.IsTyping("c1", "u2"))
}

func TestTypingFalseClearsImmediately(t *testing.T) {
	c := newCache(t, WithTypingTTL(time.Hour))
	c.SetTyping("c1", "u2", true)
	c.SetTyping("c1", "u3", true)
	c.SetTyping("c1", "u2", false)

	assert.False(t, c.IsTyping("c1", "u2"))
	assert.Equal(t, []model.ID{"u3"}, c.Typing("c1"))
}

func TestResetCancelsTypingTimers(t *testing.T) {
	c := newCache(t, WithTypingTTL(30*time.Millisecond))
	c.SetTyping("c1", "u2", true)
	c.Reset()

	assert.False(t, c.IsTyping("c1", "u2"))
	c.SetTyping("c1", "u2", true)
	time.Sleep(5 * time.Millisecond)
	assert.True(t, c.IsTyping("c1", "u2"), "new signal after reset is live")
}
