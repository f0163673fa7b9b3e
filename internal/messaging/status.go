// Package messaging holds the pure conversation-core logic: the message
// status machine, thread list bookkeeping, search filtering and the unread
// reminder scheduler. Nothing in this package touches the database or the
// wire; callers feed it snapshots and events.
package messaging

import "github.com/NahoooMac/wedhabesha-sub005/internal/models"

// CanTransition reports whether a message status change is legal.
//
//	sending -> sent | failed
//	sent    -> delivered | read
//	delivered -> read
//
// read is terminal. failed is terminal for the attempt; a queue replay
// creates a fresh sending record rather than reviving the failed one.
func CanTransition(from, to string) bool {
	switch from {
	case models.StatusSending:
		return to == models.StatusSent || to == models.StatusFailed
	case models.StatusSent:
		return to == models.StatusDelivered || to == models.StatusRead
	case models.StatusDelivered:
		return to == models.StatusRead
	}
	return false
}

// NextStatus returns to if the transition is legal, otherwise from. Status
// events from the live channel can arrive out of order (a read receipt may
// beat a delivery ack), so illegal transitions are ignored, not errors.
func NextStatus(from, to string) string {
	if CanTransition(from, to) {
		return to
	}
	return from
}
