package server

import (
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/messaging"
	"github.com/NahoooMac/wedhabesha-sub005/internal/models"

	"github.com/gofiber/fiber/v2"
)

// GetThreads handles GET /api/threads
func (s *Server) GetThreads(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	threads, err := s.messages.GetThreads(ctx, userID)
	if err != nil {
		return respondErr(c, err)
	}

	return c.JSON(fiber.Map{
		"threads":      threads,
		"total_unread": totalUnread(threads),
	})
}

func totalUnread(threads []*models.Thread) int {
	flat := make([]models.Thread, len(threads))
	for i, t := range threads {
		flat[i] = *t
	}
	return messaging.TotalUnread(flat)
}

// OpenThread handles POST /api/threads. A couple opens a thread with a
// vendor (or vice versa); opening an existing pair returns the existing
// thread.
func (s *Server) OpenThread(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	var req struct {
		CounterpartID uint `json:"counterpart_id"`
	}
	if parseErr := c.BodyParser(&req); parseErr != nil || req.CounterpartID == 0 {
		return models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("counterpart_id is required"))
	}

	caller, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return respondErr(c, models.NewNotFoundError("User", userID))
	}

	coupleID, vendorID := userID, req.CounterpartID
	if caller.Role == models.RoleVendor {
		coupleID, vendorID = req.CounterpartID, userID
	}

	thread, err := s.messages.OpenThread(ctx, coupleID, vendorID)
	if err != nil {
		return respondErr(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(thread.ProjectFor(userID))
}

// SearchThreads handles GET /api/threads/search?q=
func (s *Server) SearchThreads(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)

	threads, err := s.messages.SearchThreads(ctx, userID, c.Query("q"))
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"threads": threads})
}

// GetThreadMessages handles GET /api/threads/:id/messages
func (s *Server) GetThreadMessages(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	threadID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	page := parsePagination(c, 50)
	msgs, err := s.messages.GetMessages(ctx, threadID, userID, page.Limit, page.Offset)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// SearchMessages handles GET /api/threads/:id/messages/search with q,
// date_from, date_to (RFC 3339) and has_attachments query parameters.
func (s *Server) SearchMessages(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	threadID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	filter := messaging.MessageFilter{
		Query:          c.Query("q"),
		HasAttachments: c.QueryBool("has_attachments", false),
	}
	if from := c.Query("date_from"); from != "" {
		t, parseErr := time.Parse(time.RFC3339, from)
		if parseErr != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("date_from must be RFC 3339"))
		}
		filter.DateFrom = &t
	}
	if to := c.Query("date_to"); to != "" {
		t, parseErr := time.Parse(time.RFC3339, to)
		if parseErr != nil {
			return models.RespondWithError(c, fiber.StatusBadRequest,
				models.NewValidationError("date_to must be RFC 3339"))
		}
		filter.DateTo = &t
	}

	msgs, err := s.messages.SearchMessages(ctx, threadID, userID, filter)
	if err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"messages": msgs})
}

// MarkThreadRead handles PUT /api/threads/:id/read
func (s *Server) MarkThreadRead(c *fiber.Ctx) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	threadID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.messages.MarkThreadRead(ctx, threadID, userID); err != nil {
		return respondErr(c, err)
	}
	return c.JSON(fiber.Map{"status": "read"})
}

// ArchiveThread handles POST /api/threads/:id/archive
func (s *Server) ArchiveThread(c *fiber.Ctx) error {
	return s.setArchived(c, true)
}

// UnarchiveThread handles POST /api/threads/:id/unarchive
func (s *Server) UnarchiveThread(c *fiber.Ctx) error {
	return s.setArchived(c, false)
}

func (s *Server) setArchived(c *fiber.Ctx, archived bool) error {
	ctx := c.UserContext()
	userID := currentUserID(c)
	threadID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	if err := s.messages.ArchiveThread(ctx, threadID, userID, archived); err != nil {
		return respondErr(c, err)
	}

	status := models.ThreadActive
	if archived {
		status = models.ThreadArchived
	}
	return c.JSON(fiber.Map{"status": status})
}
