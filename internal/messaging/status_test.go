package messaging

import (
	"testing"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to string
		want     bool
	}{
		{models.StatusSending, models.StatusSent, true},
		{models.StatusSending, models.StatusFailed, true},
		{models.StatusSent, models.StatusDelivered, true},
		{models.StatusSent, models.StatusRead, true},
		{models.StatusDelivered, models.StatusRead, true},

		{models.StatusSending, models.StatusDelivered, false},
		{models.StatusSending, models.StatusRead, false},
		{models.StatusRead, models.StatusDelivered, false},
		{models.StatusRead, models.StatusSent, false},
		{models.StatusRead, models.StatusSending, false},
		{models.StatusFailed, models.StatusSent, false},
		{models.StatusDelivered, models.StatusSent, false},
		{models.StatusSent, models.StatusSending, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestNextStatusIgnoresIllegalTransitions(t *testing.T) {
	// A read receipt arriving before the delivery ack must stick
	assert.Equal(t, models.StatusRead, NextStatus(models.StatusSent, models.StatusRead))
	assert.Equal(t, models.StatusRead, NextStatus(models.StatusRead, models.StatusDelivered))
	assert.Equal(t, models.StatusDelivered, NextStatus(models.StatusSent, models.StatusDelivered))
}
