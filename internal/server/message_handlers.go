package server

import (
	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
	"github.com/NahoooMac/wedhabesha-sub005/internal/observability"
	"github.com/NahoooMac/wedhabesha-sub005/internal/service"

	"github.com/gofiber/fiber/v2"
)

// sendMessageRequest is the POST body for sending a message. Attachments may
// arrive either as resolved metadata (from the web app, which uploads first)
// or as opaque refs (from sync clients); refs are stored as-is and resolved
// lazily by the attachment service.
type sendMessageRequest struct {
	LocalID        string                    `json:"local_id"`
	Content        string                    `json:"content"`
	Kind           string                    `json:"kind"`
	Attachments    []service.AttachmentInput `json:"attachments,omitempty"`
	AttachmentRefs []string                  `json:"attachment_refs,omitempty"`
}

// SendMessage handles POST /api/threads/:id/messages
func (s *Server) SendMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	threadID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var req sendMessageRequest
	if parseErr := c.BodyParser(&req); parseErr != nil {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
	}

	attachments := req.Attachments
	for _, ref := range req.AttachmentRefs {
		attachments = append(attachments, service.AttachmentInput{Ref: ref, FileName: ref})
	}

	msg, err := s.messages.SendMessage(ctx, service.SendMessageInput{
		SenderID:    userID,
		ThreadID:    threadID,
		LocalID:     req.LocalID,
		Content:     req.Content,
		Kind:        req.Kind,
		Attachments: attachments,
	})
	if err != nil {
		observability.MessageSendFailures.WithLabelValues(failureCode(err)).Inc()
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func failureCode(err error) string {
	if code := models.ErrorCode(err); code != "" {
		return code
	}
	return models.CodeInternal
}

// DeleteMessage handles DELETE /api/messages/:id
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	messageID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.messages.DeleteMessage(ctx, messageID, userID); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"status": "deleted"})
}
