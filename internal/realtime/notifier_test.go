package realtime

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupNotifier(t *testing.T) (*Notifier, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewNotifier(rdb), rdb
}

func TestNotifierChannels(t *testing.T) {
	assert.Equal(t, "chat:thread:7", ThreadChannel(7))
	assert.Equal(t, "typing:thread:7", TypingChannel(7))
	assert.Equal(t, "read:thread:7", ReadChannel(7))

	id, ok := parseThreadChannel("chat:thread:12")
	assert.True(t, ok)
	assert.Equal(t, uint(12), id)

	id, ok = parseThreadChannel("read:thread:3")
	assert.True(t, ok)
	assert.Equal(t, uint(3), id)

	_, ok = parseThreadChannel("bogus:channel")
	assert.False(t, ok)
}

func TestNotifierPublishAndSubscribe(t *testing.T) {
	notifier, _ := setupNotifier(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan ThreadEvent, 4)
	require.NoError(t, notifier.StartThreadSubscriber(ctx, func(channel, payload string) {
		var ev ThreadEvent
		if err := json.Unmarshal([]byte(payload), &ev); err == nil {
			got <- ev
		}
	}))
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, notifier.PublishMessage(ctx, 5, ThreadEvent{Type: EventMessageNew, UserID: 1}))
	require.NoError(t, notifier.PublishTyping(ctx, 5, 1, true))
	require.NoError(t, notifier.PublishRead(ctx, 5, 2, []uint{10, 11}))

	types := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case ev := <-got:
			types[ev.Type] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("only %d of 3 events arrived", i)
		}
	}
	assert.True(t, types[EventMessageNew])
	assert.True(t, types[EventTyping])
	assert.True(t, types[EventMessageRead])
}

func TestNotifierNilRedisDegradesGracefully(t *testing.T) {
	notifier := NewNotifier(nil)
	assert.False(t, notifier.Enabled())

	ctx := context.Background()
	assert.NoError(t, notifier.PublishMessage(ctx, 1, ThreadEvent{Type: EventMessageNew}))
	assert.NoError(t, notifier.PublishTyping(ctx, 1, 1, true))
	assert.NoError(t, notifier.StartThreadSubscriber(ctx, nil))
}
