package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMSGatewayNotify(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	g := NewSMSGateway(srv.URL, "secret")
	require.NoError(t, g.Notify(context.Background(), "+251911000001", "You have an unread message"))
	assert.Equal(t, "+251911000001", got.To)
	assert.Equal(t, "You have an unread message", got.Body)
}

func TestSMSGatewayNonSuccessIsNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	g := NewSMSGateway(srv.URL, "")
	err := g.Notify(context.Background(), "+251911000001", "hi")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotifier, models.ErrorCode(err))
}

func TestSMSGatewayTransportFailure(t *testing.T) {
	g := NewSMSGateway("http://127.0.0.1:1", "")
	err := g.Notify(context.Background(), "+251911000001", "hi")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotifier, models.ErrorCode(err))
}

func TestSMSGatewayDisabledWithoutURL(t *testing.T) {
	g := NewSMSGateway("", "")
	assert.NoError(t, g.Notify(context.Background(), "+251911000001", "hi"))
}

func TestSMSGatewayEmptyHandle(t *testing.T) {
	g := NewSMSGateway("http://example.invalid", "")
	err := g.Notify(context.Background(), "", "hi")
	require.Error(t, err)
	assert.Equal(t, models.CodeNotifier, models.ErrorCode(err))
}
