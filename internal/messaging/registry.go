package messaging

import (
	"sort"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
)

// PreviewMaxLen is the default cut-off for thread list previews.
const PreviewMaxLen = 50

// TruncatePreview cuts s at max runes and appends an ellipsis. Shorter
// strings pass through unchanged.
func TruncatePreview(s string, max int) string {
	if max <= 0 {
		max = PreviewMaxLen
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}

// SortByActivity returns a new slice ordered by lastMessageAt descending.
// Ties keep their input order so repeated sorts are stable.
func SortByActivity(threads []models.Thread) []models.Thread {
	out := make([]models.Thread, len(threads))
	copy(out, threads)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LastMessageAt.After(out[j].LastMessageAt)
	})
	return out
}

// ReorderOnNewMessage moves the matching thread to the front, updates its
// preview and activity time, and bumps the unread counter when the message
// is inbound. An unknown threadID returns the input unchanged.
func ReorderOnNewMessage(threads []models.Thread, threadID uint, preview string, at time.Time, incrementUnread bool) []models.Thread {
	idx := indexOf(threads, threadID)
	if idx < 0 {
		return threads
	}

	updated := threads[idx]
	updated.LastMessagePreview = TruncatePreview(preview, PreviewMaxLen)
	updated.LastMessageAt = at
	if incrementUnread {
		updated.UnreadCount++
	}

	out := make([]models.Thread, 0, len(threads))
	out = append(out, updated)
	out = append(out, threads[:idx]...)
	out = append(out, threads[idx+1:]...)
	return out
}

// ClearUnread zeroes the unread counter of the matching thread.
func ClearUnread(threads []models.Thread, threadID uint) []models.Thread {
	out := make([]models.Thread, len(threads))
	copy(out, threads)
	for i := range out {
		if out[i].ID == threadID {
			out[i].UnreadCount = 0
		}
	}
	return out
}

// UnreadThreads returns the threads with at least one unread message,
// preserving input order.
func UnreadThreads(threads []models.Thread) []models.Thread {
	var out []models.Thread
	for _, t := range threads {
		if t.UnreadCount > 0 {
			out = append(out, t)
		}
	}
	return out
}

// TotalUnread sums unread counters across all threads.
func TotalUnread(threads []models.Thread) int {
	total := 0
	for _, t := range threads {
		total += t.UnreadCount
	}
	return total
}

// Archive sets or clears the archived flag on the matching thread.
func Archive(threads []models.Thread, threadID uint, archived bool) []models.Thread {
	out := make([]models.Thread, len(threads))
	copy(out, threads)
	for i := range out {
		if out[i].ID == threadID {
			if archived {
				out[i].Status = models.ThreadArchived
			} else {
				out[i].Status = models.ThreadActive
			}
		}
	}
	return out
}

// Remove drops the matching thread from the list.
func Remove(threads []models.Thread, threadID uint) []models.Thread {
	out := make([]models.Thread, 0, len(threads))
	for _, t := range threads {
		if t.ID != threadID {
			out = append(out, t)
		}
	}
	return out
}

func indexOf(threads []models.Thread, threadID uint) int {
	for i, t := range threads {
		if t.ID == threadID {
			return i
		}
	}
	return -1
}
