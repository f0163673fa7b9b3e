package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/middleware"
	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"
	"github.com/NahoooMac/wedhabesha-sub005/internal/realtime"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// wsIncoming is the frame shape clients send over the live channel.
type wsIncoming struct {
	Type     string `json:"type"` // join, leave, typing, read
	ThreadID uint   `json:"thread_id"`
	IsTyping bool   `json:"is_typing"`
}

// WebSocketChatHandler handles websocket connections on /ws/chat.
func (s *Server) WebSocketChatHandler() fiber.Handler {
	wsLog := observability.NewWSLogger("chat")
	return websocket.New(func(conn *websocket.Conn) {
		ctx := context.Background()
		if rid, ok := conn.Locals("requestid").(string); ok {
			ctx = observability.WithCorrelationID(ctx, rid)
		}

		userIDVal := conn.Locals("userID")
		if userIDVal == nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"unauthorized"}`))
			_ = conn.Close()
			return
		}
		userID := userIDVal.(uint)

		client, err := s.hub.Register(userID, conn)
		if err != nil {
			wsLog.LogError(ctx, userID, "", err, "register")
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"`+err.Error()+`"}`))
			_ = conn.Close()
			return
		}
		s.presence.Register(ctx, userID)
		wsLog.LogConnect(ctx, userID, "")

		client.IncomingHandler = s.handleIncoming

		go client.WritePump()
		client.ReadPump() // blocks until the connection drops

		s.presence.Unregister(ctx, userID)
		wsLog.LogDisconnect(ctx, userID, "", "read pump closed")
	})
}

// handleIncoming dispatches one frame read off a live connection.
func (s *Server) handleIncoming(client *realtime.Client, raw []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var ev wsIncoming
	if err := json.Unmarshal(raw, &ev); err != nil {
		slog.Warn("live channel: malformed frame", slog.Uint64("user_id", uint64(client.UserID)))
		return
	}
	if ev.ThreadID == 0 {
		return
	}

	switch ev.Type {
	case "join":
		s.handleJoin(ctx, client, ev.ThreadID)
	case "leave":
		s.hub.LeaveThread(client.UserID, ev.ThreadID)
	case "typing":
		s.handleTyping(ctx, client, ev.ThreadID, ev.IsTyping)
	case "read":
		if err := s.messages.MarkThreadRead(ctx, ev.ThreadID, client.UserID); err != nil {
			slog.Warn("live channel: mark read failed",
				slog.Uint64("thread_id", uint64(ev.ThreadID)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// handleJoin puts the user in the thread room after a participant check and
// acks pending deliveries for them.
func (s *Server) handleJoin(ctx context.Context, client *realtime.Client, threadID uint) {
	thread, err := s.threadRepo.GetByID(ctx, threadID)
	if err != nil || !thread.HasParticipant(client.UserID) {
		slog.Warn("live channel: join rejected",
			slog.Uint64("user_id", uint64(client.UserID)),
			slog.Uint64("thread_id", uint64(threadID)),
		)
		return
	}

	s.hub.JoinThread(client.UserID, threadID)
	s.presence.Touch(ctx, client.UserID)

	if err := s.messages.MarkThreadDelivered(ctx, threadID, client.UserID); err != nil {
		slog.Warn("live channel: delivery ack failed", slog.String("error", err.Error()))
	}
}

// handleTyping fans out a typing signal. Fire and forget: rate-limit
// overruns and publish failures are silently dropped.
func (s *Server) handleTyping(ctx context.Context, client *realtime.Client, threadID uint, isTyping bool) {
	allowed, err := middleware.CheckRateLimit(ctx, s.redis, "typing",
		fmt.Sprintf("user:%d", client.UserID), 30, time.Minute)
	if err != nil || !allowed {
		return
	}

	if s.notifier != nil && s.notifier.Enabled() {
		if err := s.notifier.PublishTyping(ctx, threadID, client.UserID, isTyping); err == nil {
			return
		}
	}
	s.hub.BroadcastToThread(threadID, realtime.ThreadEvent{
		Type:     realtime.EventTyping,
		ThreadID: threadID,
		UserID:   client.UserID,
		IsTyping: isTyping,
	})
}
