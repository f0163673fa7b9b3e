package client

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

func TestAPISenderSendMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/threads/4/messages", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var req sendMessageRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "corr-1", req.LocalID)

		_ = json.NewEncoder(w).Encode(models.Message{
			ID: 11, LocalID: req.LocalID, ThreadID: 4, Content: req.Content, Status: models.StatusSent,
		})
	}))
	defer srv.Close()

	s := NewAPISender(srv.URL, "tok")
	msg, err := s.SendMessage(context.Background(), 4, "corr-1", "hello", models.KindText, nil)
	require.NoError(t, err)
	assert.Equal(t, uint(11), msg.ID)
	assert.Equal(t, models.StatusSent, msg.Status)
}

func TestAPISenderClassifiesErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     any
		wantCode string
	}{
		{"unauthorized", http.StatusUnauthorized, nil, models.CodeAuthExpired},
		{"server error", http.StatusInternalServerError, nil, models.CodeNetwork},
		{"validation with code", http.StatusBadRequest, models.ErrorResponse{Error: "empty", Code: models.CodeEmptyMessage}, models.CodeEmptyMessage},
		{"validation without code", http.StatusUnprocessableEntity, nil, models.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				if tt.body != nil {
					_ = json.NewEncoder(w).Encode(tt.body)
				}
			}))
			defer srv.Close()

			s := NewAPISender(srv.URL, "tok")
			_, err := s.SendMessage(context.Background(), 1, "c", "hi", models.KindText, nil)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, models.ErrorCode(err))
		})
	}
}

func TestAPISenderTransportFailureIsNetworkError(t *testing.T) {
	s := NewAPISender("http://127.0.0.1:1", "tok")
	_, err := s.SendMessage(context.Background(), 1, "c", "hi", models.KindText, nil)
	require.Error(t, err)
	assert.Equal(t, models.CodeNetwork, models.ErrorCode(err))
	assert.True(t, models.IsRetryable(err))
}
