package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// Notifier publishes thread events into Redis channels so every server
// instance can fan them out to its locally connected members. A nil Redis
// client degrades to single-instance operation: publishes become no-ops
// and the caller is expected to broadcast locally.
type Notifier struct {
	rdb *redis.Client
}

// NewNotifier creates a Notifier using the provided Redis client.
func NewNotifier(rdb *redis.Client) *Notifier {
	return &Notifier{rdb: rdb}
}

// Enabled reports whether cross-instance fanout is available.
func (n *Notifier) Enabled() bool {
	return n.rdb != nil
}

// PublishMessage publishes a new-message event to a thread channel.
func (n *Notifier) PublishMessage(ctx context.Context, threadID uint, event ThreadEvent) error {
	return n.publish(ctx, ThreadChannel(threadID), event)
}

// PublishTyping publishes a typing hint. Best effort; the hint expires
// client-side, so a lost publish is not an error worth surfacing.
func (n *Notifier) PublishTyping(ctx context.Context, threadID, userID uint, isTyping bool) error {
	return n.publish(ctx, TypingChannel(threadID), ThreadEvent{
		Type:     EventTyping,
		ThreadID: threadID,
		UserID:   userID,
		IsTyping: isTyping,
	})
}

// PublishRead publishes a read receipt covering the thread for the reader.
func (n *Notifier) PublishRead(ctx context.Context, threadID, readerID uint, messageIDs []uint) error {
	return n.publish(ctx, ReadChannel(threadID), ThreadEvent{
		Type:     EventMessageRead,
		ThreadID: threadID,
		UserID:   readerID,
		Payload:  map[string]any{"message_ids": messageIDs},
	})
}

// PublishDelivered publishes a delivery ack for messages handed to an
// online recipient.
func (n *Notifier) PublishDelivered(ctx context.Context, threadID, recipientID uint, messageIDs []uint) error {
	return n.publish(ctx, ReadChannel(threadID), ThreadEvent{
		Type:     EventMessageDelivered,
		ThreadID: threadID,
		UserID:   recipientID,
		Payload:  map[string]any{"message_ids": messageIDs},
	})
}

func (n *Notifier) publish(ctx context.Context, channel string, event ThreadEvent) error {
	if n.rdb == nil {
		return nil
	}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal thread event: %w", err)
	}
	return n.rdb.Publish(ctx, channel, raw).Err()
}

// StartThreadSubscriber subscribes to all thread channel patterns and calls
// onMessage for each incoming payload. The subscription lives until ctx is
// cancelled.
func (n *Notifier) StartThreadSubscriber(ctx context.Context, onMessage func(channel, payload string)) error {
	if n.rdb == nil {
		return nil
	}
	sub := n.rdb.PSubscribe(ctx, "chat:thread:*", "typing:thread:*", "read:thread:*")
	ch := sub.Channel()

	go func() {
		defer func() { _ = sub.Close() }()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							slog.Error("panic in thread subscriber",
								slog.Any("panic", r),
								slog.String("stack", string(debug.Stack())),
							)
						}
					}()
					onMessage(msg.Channel, msg.Payload)
				}()
			}
		}
	}()

	return nil
}

// ThreadChannel derives the Redis channel name for a thread's messages.
func ThreadChannel(threadID uint) string {
	return "chat:thread:" + strconv.FormatUint(uint64(threadID), 10)
}

// TypingChannel derives the Redis channel name for a thread's typing hints.
func TypingChannel(threadID uint) string {
	return "typing:thread:" + strconv.FormatUint(uint64(threadID), 10)
}

// ReadChannel derives the Redis channel name for a thread's receipts.
func ReadChannel(threadID uint) string {
	return "read:thread:" + strconv.FormatUint(uint64(threadID), 10)
}

func parseThreadChannel(channel string) (uint, bool) {
	var threadID uint
	for _, format := range []string{"chat:thread:%d", "typing:thread:%d", "read:thread:%d"} {
		if _, err := fmt.Sscanf(channel, format, &threadID); err == nil {
			return threadID, true
		}
	}
	return 0, false
}
