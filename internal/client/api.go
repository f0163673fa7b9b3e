package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/models"
)

// Sender is the durable-write collaborator behind the delivery pipeline.
type Sender interface {
	SendMessage(ctx context.Context, threadID uint, localID, content, kind string, attachmentRefs []string) (*models.Message, error)
	MarkThreadRead(ctx context.Context, threadID uint) error
	DeleteMessage(ctx context.Context, messageID uint) error
	GetMessages(ctx context.Context, threadID uint, limit, offset int) ([]*models.Message, error)
}

// APISender talks to the messaging REST API. Transport-level failures map
// to NETWORK_ERROR (retryable via the offline queue); a 401 maps to
// AUTH_EXPIRED (terminal); 4xx validation responses surface the server's
// error code.
type APISender struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPISender creates a sender for the given base URL, e.g.
// "http://localhost:8460".
func NewAPISender(baseURL, token string) *APISender {
	return &APISender{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

type sendMessageRequest struct {
	LocalID        string   `json:"local_id"`
	Content        string   `json:"content"`
	Kind           string   `json:"kind"`
	AttachmentRefs []string `json:"attachment_refs,omitempty"`
}

func (s *APISender) SendMessage(ctx context.Context, threadID uint, localID, content, kind string, attachmentRefs []string) (*models.Message, error) {
	body := sendMessageRequest{
		LocalID:        localID,
		Content:        content,
		Kind:           kind,
		AttachmentRefs: attachmentRefs,
	}
	var msg models.Message
	err := s.do(ctx, http.MethodPost, fmt.Sprintf("/api/threads/%d/messages", threadID), body, &msg)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *APISender) MarkThreadRead(ctx context.Context, threadID uint) error {
	return s.do(ctx, http.MethodPut, fmt.Sprintf("/api/threads/%d/read", threadID), nil, nil)
}

func (s *APISender) DeleteMessage(ctx context.Context, messageID uint) error {
	return s.do(ctx, http.MethodDelete, fmt.Sprintf("/api/messages/%d", messageID), nil, nil)
}

func (s *APISender) GetMessages(ctx context.Context, threadID uint, limit, offset int) ([]*models.Message, error) {
	var out struct {
		Messages []*models.Message `json:"messages"`
	}
	path := fmt.Sprintf("/api/threads/%d/messages?limit=%d&offset=%d", threadID, limit, offset)
	if err := s.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

func (s *APISender) do(ctx context.Context, method, path string, body, dest any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return models.NewNetworkError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return models.NewAuthExpiredError()
	case resp.StatusCode >= 500:
		return models.NewNetworkError(fmt.Errorf("server returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		var apiErr models.ErrorResponse
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return &models.AppError{Code: apiErr.Code, Message: apiErr.Error}
		}
		return models.NewValidationError(fmt.Sprintf("request rejected with status %d", resp.StatusCode))
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return models.NewNetworkError(err)
	}
	return nil
}
