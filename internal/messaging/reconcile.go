package messaging

import "github.com/NahoooMac/wedhabesha-sub005/internal/models"

// ReconcileByLocalID merges an authoritative update into a message list
// using the correlation token minted at send time. A matching LocalID
// replaces the optimistic copy in place (the authoritative record always
// wins, regardless of event interleaving); otherwise the update is
// appended. The input is never mutated.
func ReconcileByLocalID(messages []models.Message, update models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)

	if update.LocalID != "" {
		for i := range out {
			if out[i].LocalID == update.LocalID {
				// A queue replay re-enters at sending; everything else
				// follows the status machine, so a late delivery ack can
				// never step a read message backward.
				if !(out[i].Status == models.StatusFailed && update.Status == models.StatusSending) {
					update.Status = NextStatus(out[i].Status, update.Status)
				}
				out[i] = update
				return out
			}
		}
	}
	return append(out, update)
}
