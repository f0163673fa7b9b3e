package messaging

import (
	"strings"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
)

// MessageFilter narrows a message collection. Zero-valued fields are
// inactive; active predicates combine with AND.
type MessageFilter struct {
	Query          string
	DateFrom       *time.Time
	DateTo         *time.Time
	HasAttachments bool
}

// FilterMessages returns the messages matching every active predicate,
// preserving input order. Text matching is a case-insensitive substring
// check against message content and attachment file names.
func FilterMessages(messages []models.Message, f MessageFilter) []models.Message {
	query := strings.ToLower(strings.TrimSpace(f.Query))

	out := make([]models.Message, 0, len(messages))
	for _, m := range messages {
		if query != "" && !messageMatches(&m, query) {
			continue
		}
		if f.DateFrom != nil && m.CreatedAt.Before(*f.DateFrom) {
			continue
		}
		if f.DateTo != nil && m.CreatedAt.After(*f.DateTo) {
			continue
		}
		if f.HasAttachments && len(m.Attachments) == 0 {
			continue
		}
		out = append(out, m)
	}
	return out
}

// FilterThreads returns the threads whose counterpart name or last message
// preview contains the query, case-insensitively. A blank query returns
// the input unchanged.
func FilterThreads(threads []models.Thread, query string) []models.Thread {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return threads
	}

	out := make([]models.Thread, 0, len(threads))
	for _, t := range threads {
		if strings.Contains(strings.ToLower(t.CounterpartName), q) ||
			strings.Contains(strings.ToLower(t.LastMessagePreview), q) {
			out = append(out, t)
		}
	}
	return out
}

func messageMatches(m *models.Message, query string) bool {
	if strings.Contains(strings.ToLower(m.Content), query) {
		return true
	}
	for _, a := range m.Attachments {
		if strings.Contains(strings.ToLower(a.FileName), query) {
			return true
		}
	}
	return false
}
