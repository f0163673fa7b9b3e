package messaging

import (
	"strings"
	"testing"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messageFixture() []models.Message {
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	return []models.Message{
		{ID: 1, ThreadID: 1, Content: "Can you send the floral quote?", CreatedAt: base},
		{ID: 2, ThreadID: 1, Content: "Sure, attached!", CreatedAt: base.Add(time.Hour), Attachments: []models.Attachment{
			{FileName: "Floral-Quote-2026.pdf", MimeType: "application/pdf"},
		}},
		{ID: 3, ThreadID: 1, Content: "Thanks, looks great", CreatedAt: base.Add(2 * time.Hour)},
		{ID: 4, ThreadID: 1, Content: "", CreatedAt: base.Add(3 * time.Hour), Attachments: []models.Attachment{
			{FileName: "venue-photos.zip", MimeType: "application/zip"},
		}},
	}
}

func TestFilterMessagesByQuery(t *testing.T) {
	msgs := messageFixture()

	out := FilterMessages(msgs, MessageFilter{Query: "floral"})
	require.Len(t, out, 2)
	assert.Equal(t, uint(1), out[0].ID)
	assert.Equal(t, uint(2), out[1].ID) // matched via attachment filename

	for _, m := range out {
		matched := strings.Contains(strings.ToLower(m.Content), "floral")
		for _, a := range m.Attachments {
			matched = matched || strings.Contains(strings.ToLower(a.FileName), "floral")
		}
		assert.True(t, matched)
	}
}

func TestFilterMessagesEmptyQueryIdentity(t *testing.T) {
	msgs := messageFixture()
	assert.Equal(t, msgs, FilterMessages(msgs, MessageFilter{Query: ""}))
	assert.Equal(t, msgs, FilterMessages(msgs, MessageFilter{Query: "   "}))
}

func TestFilterMessagesCaseInsensitive(t *testing.T) {
	out := FilterMessages(messageFixture(), MessageFilter{Query: "FLORAL"})
	assert.Len(t, out, 2)
}

func TestFilterMessagesByDateRange(t *testing.T) {
	msgs := messageFixture()
	from := msgs[1].CreatedAt
	to := msgs[2].CreatedAt

	out := FilterMessages(msgs, MessageFilter{DateFrom: &from, DateTo: &to})
	require.Len(t, out, 2)
	assert.Equal(t, uint(2), out[0].ID)
	assert.Equal(t, uint(3), out[1].ID)
}

func TestFilterMessagesByAttachments(t *testing.T) {
	out := FilterMessages(messageFixture(), MessageFilter{HasAttachments: true})
	require.Len(t, out, 2)
	assert.Equal(t, uint(2), out[0].ID)
	assert.Equal(t, uint(4), out[1].ID)
}

func TestFilterMessagesCombinedPredicates(t *testing.T) {
	msgs := messageFixture()
	from := msgs[2].CreatedAt

	// AND semantics: attachment + date window excludes the earlier PDF
	out := FilterMessages(msgs, MessageFilter{HasAttachments: true, DateFrom: &from})
	require.Len(t, out, 1)
	assert.Equal(t, uint(4), out[0].ID)
}

func TestFilterMessagesPreservesOrder(t *testing.T) {
	out := FilterMessages(messageFixture(), MessageFilter{Query: "e"})
	for i := 1; i < len(out); i++ {
		assert.Less(t, out[i-1].ID, out[i].ID)
	}
}

func TestFilterThreads(t *testing.T) {
	threads := threadFixture()

	byName := FilterThreads(threads, "zema")
	require.Len(t, byName, 1)
	assert.Equal(t, uint(3), byName[0].ID)

	byPreview := FilterThreads(threads, "menu")
	require.Len(t, byPreview, 1)
	assert.Equal(t, uint(2), byPreview[0].ID)

	assert.Equal(t, threads, FilterThreads(threads, ""))
	assert.Empty(t, FilterThreads(threads, "nonexistent"))
}
