package server

import (
	"context"
	"fmt"
	"testing"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
	"github.com/NahoooMac/wedhabesha-sub005/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleIncomingJoinAcksDelivery(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	// Message sent while the vendor is offline stays at sent.
	msg, err := ts.srv.messages.SendMessage(ctx, service.SendMessageInput{
		SenderID: ts.couple.ID,
		ThreadID: ts.thread.ID,
		Content:  "are you free on May 12?",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusSent, msg.Status)

	client, err := ts.srv.hub.Register(ts.vendor.ID, nil)
	require.NoError(t, err)
	defer ts.srv.hub.Unregister(client)

	ts.srv.handleIncoming(client, []byte(fmt.Sprintf(`{"type":"join","thread_id":%d}`, ts.thread.ID)))

	assert.True(t, ts.srv.hub.IsUserViewing(ts.vendor.ID, ts.thread.ID))

	var stored models.Message
	require.NoError(t, ts.db.First(&stored, msg.ID).Error)
	assert.Equal(t, models.StatusDelivered, stored.Status)
}

func TestHandleIncomingJoinRejectsNonParticipant(t *testing.T) {
	ts := setupTestServer(t)
	outsider := &models.User{Name: "Outsider", Email: "out@example.com", Role: models.RoleCouple}
	require.NoError(t, ts.db.Create(outsider).Error)

	client, err := ts.srv.hub.Register(outsider.ID, nil)
	require.NoError(t, err)
	defer ts.srv.hub.Unregister(client)

	ts.srv.handleIncoming(client, []byte(fmt.Sprintf(`{"type":"join","thread_id":%d}`, ts.thread.ID)))
	assert.False(t, ts.srv.hub.IsUserViewing(outsider.ID, ts.thread.ID))
}

func TestHandleIncomingReadClearsUnread(t *testing.T) {
	ts := setupTestServer(t)
	ctx := context.Background()

	_, err := ts.srv.messages.SendMessage(ctx, service.SendMessageInput{
		SenderID: ts.couple.ID,
		ThreadID: ts.thread.ID,
		Content:  "checking in",
	})
	require.NoError(t, err)

	client, err := ts.srv.hub.Register(ts.vendor.ID, nil)
	require.NoError(t, err)
	defer ts.srv.hub.Unregister(client)

	ts.srv.handleIncoming(client, []byte(fmt.Sprintf(`{"type":"read","thread_id":%d}`, ts.thread.ID)))

	var stored models.Thread
	require.NoError(t, ts.db.First(&stored, ts.thread.ID).Error)
	assert.Equal(t, 0, stored.VendorUnread)
}

func TestHandleIncomingLeaveAndMalformed(t *testing.T) {
	ts := setupTestServer(t)

	client, err := ts.srv.hub.Register(ts.vendor.ID, nil)
	require.NoError(t, err)
	defer ts.srv.hub.Unregister(client)

	ts.srv.handleIncoming(client, []byte(fmt.Sprintf(`{"type":"join","thread_id":%d}`, ts.thread.ID)))
	require.True(t, ts.srv.hub.IsUserViewing(ts.vendor.ID, ts.thread.ID))

	ts.srv.handleIncoming(client, []byte(fmt.Sprintf(`{"type":"leave","thread_id":%d}`, ts.thread.ID)))
	assert.False(t, ts.srv.hub.IsUserViewing(ts.vendor.ID, ts.thread.ID))

	// Garbage frames and missing thread ids are dropped without effect.
	ts.srv.handleIncoming(client, []byte(`not json`))
	ts.srv.handleIncoming(client, []byte(`{"type":"join"}`))
}
