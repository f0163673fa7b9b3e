package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/NahoooMac/wedhabesha-sub005/internal/cache"
	"github.com/NahoooMac/wedhabesha-sub005/internal/config"
	"github.com/NahoooMac/wedhabesha-sub005/internal/database"
	"github.com/NahoooMac/wedhabesha-sub005/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type testServer struct {
	srv    *Server
	app    *fiber.App
	db     *gorm.DB
	cfg    *config.Config
	couple *models.User
	vendor *models.User
	thread *models.Thread
}

func setupTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{
		JWTSecret:       "test-secret-that-is-long-enough-for-hmac",
		Port:            "0",
		Env:             "test",
		ReminderDelay:   time.Hour,
		OfflineQueueCap: 10,
	}

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	cache.SetClient(nil)

	srv, err := NewServerWithDeps(cfg, db, nil)
	require.NoError(t, err)
	t.Cleanup(srv.reminders.Stop)
	t.Cleanup(srv.presence.Stop)

	app := fiber.New(fiber.Config{
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return models.RespondWithError(c, fiber.StatusInternalServerError, models.NewInternalError(err))
		},
	})
	srv.SetupMiddleware(app)
	srv.SetupRoutes(app)

	couple := &models.User{Name: "Hana & Bereket", Email: "hana@example.com", Role: models.RoleCouple, Phone: "+251911000011"}
	vendor := &models.User{Name: "Zema Photography", Email: "zema@example.com", Role: models.RoleVendor, Phone: "+251911000012"}
	require.NoError(t, db.Create(couple).Error)
	require.NoError(t, db.Create(vendor).Error)

	thread := &models.Thread{CoupleID: couple.ID, VendorID: vendor.ID, Status: models.ThreadActive, LastMessageAt: time.Now()}
	require.NoError(t, db.Create(thread).Error)

	return &testServer{srv: srv, app: app, db: db, cfg: cfg, couple: couple, vendor: vendor, thread: thread}
}

func (ts *testServer) token(t *testing.T, userID uint) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(userID), 10),
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(ts.cfg.JWTSecret))
	require.NoError(t, err)
	return signed
}

func (ts *testServer) request(t *testing.T, method, path string, body any, asUser uint) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if asUser != 0 {
		req.Header.Set("Authorization", "Bearer "+ts.token(t, asUser))
	}
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dest any) {
	t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, dest), "body: %s", raw)
}

func TestHealthEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(t, http.MethodGet, "/health/live", nil, 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.request(t, http.MethodGet, "/health/ready", nil, 0)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var ready struct {
		Status string `json:"status"`
		Checks struct {
			Database string `json:"database"`
			Redis    string `json:"redis"`
		} `json:"checks"`
	}
	decodeBody(t, resp, &ready)
	assert.Equal(t, "healthy", ready.Status)
	assert.Equal(t, "healthy", ready.Checks.Database)
	assert.Equal(t, "disabled", ready.Checks.Redis)
}

func TestAuthRequired(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/threads/", nil, 0)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/api/threads/", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestExpiredTokenSurfacesAuthExpired(t *testing.T) {
	ts := setupTestServer(t)

	claims := jwt.MapClaims{
		"sub": strconv.FormatUint(uint64(ts.couple.ID), 10),
		"exp": time.Now().Add(-time.Hour).Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(ts.cfg.JWTSecret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/threads/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)
	resp, testErr := ts.app.Test(req, -1)
	require.NoError(t, testErr)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	var body models.ErrorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, models.CodeAuthExpired, body.Code)
}

func TestSendAndListMessages(t *testing.T) {
	ts := setupTestServer(t)
	path := fmt.Sprintf("/api/threads/%d/messages", ts.thread.ID)

	resp := ts.request(t, http.MethodPost, path, fiber.Map{
		"local_id": "corr-42",
		"content":  "Can you shoot our melse too?",
	}, ts.couple.ID)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Message
	decodeBody(t, resp, &created)
	assert.Equal(t, "corr-42", created.LocalID)
	assert.Equal(t, models.StatusSent, created.Status)

	resp = ts.request(t, http.MethodGet, path, nil, ts.vendor.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Messages []models.Message `json:"messages"`
	}
	decodeBody(t, resp, &page)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "Can you shoot our melse too?", page.Messages[0].Content)
}

func TestSendMessageEmptyRejected(t *testing.T) {
	ts := setupTestServer(t)
	path := fmt.Sprintf("/api/threads/%d/messages", ts.thread.ID)

	resp := ts.request(t, http.MethodPost, path, fiber.Map{"content": "  "}, ts.couple.ID)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body models.ErrorResponse
	decodeBody(t, resp, &body)
	assert.Equal(t, models.CodeEmptyMessage, body.Code)
}

func TestSendMessageWithAttachmentRefsOnly(t *testing.T) {
	ts := setupTestServer(t)
	path := fmt.Sprintf("/api/threads/%d/messages", ts.thread.ID)

	resp := ts.request(t, http.MethodPost, path, fiber.Map{
		"kind":            models.KindImage,
		"attachment_refs": []string{"upload-7f3a"},
	}, ts.vendor.ID)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Message
	decodeBody(t, resp, &created)
	require.Len(t, created.Attachments, 1)
	assert.Equal(t, "upload-7f3a", created.Attachments[0].Ref)
}

func TestSendMessageNonParticipantForbidden(t *testing.T) {
	ts := setupTestServer(t)
	outsider := &models.User{Name: "Other Couple", Email: "other@example.com", Role: models.RoleCouple}
	require.NoError(t, ts.db.Create(outsider).Error)

	path := fmt.Sprintf("/api/threads/%d/messages", ts.thread.ID)
	resp := ts.request(t, http.MethodPost, path, fiber.Map{"content": "hi"}, outsider.ID)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestThreadListAndUnread(t *testing.T) {
	ts := setupTestServer(t)
	path := fmt.Sprintf("/api/threads/%d/messages", ts.thread.ID)

	for i := 0; i < 2; i++ {
		resp := ts.request(t, http.MethodPost, path, fiber.Map{"content": "ping"}, ts.couple.ID)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := ts.request(t, http.MethodGet, "/api/threads/", nil, ts.vendor.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Threads     []models.Thread `json:"threads"`
		TotalUnread int             `json:"total_unread"`
	}
	decodeBody(t, resp, &list)
	require.Len(t, list.Threads, 1)
	assert.Equal(t, 2, list.TotalUnread)
	assert.Equal(t, ts.couple.Name, list.Threads[0].CounterpartName)

	// Reading clears the counter
	resp = ts.request(t, http.MethodPut, fmt.Sprintf("/api/threads/%d/read", ts.thread.ID), nil, ts.vendor.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.request(t, http.MethodGet, "/api/threads/", nil, ts.vendor.ID)
	decodeBody(t, resp, &list)
	assert.Equal(t, 0, list.TotalUnread)
}

func TestOpenThreadEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	florist := &models.User{Name: "Addis Blooms", Email: "blooms2@example.com", Role: models.RoleVendor}
	require.NoError(t, ts.db.Create(florist).Error)

	resp := ts.request(t, http.MethodPost, "/api/threads/", fiber.Map{
		"counterpart_id": florist.ID,
	}, ts.couple.ID)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created models.Thread
	decodeBody(t, resp, &created)
	assert.Equal(t, florist.ID, created.CounterpartID)

	// Same pair again returns the same thread
	resp = ts.request(t, http.MethodPost, "/api/threads/", fiber.Map{
		"counterpart_id": florist.ID,
	}, ts.couple.ID)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var again models.Thread
	decodeBody(t, resp, &again)
	assert.Equal(t, created.ID, again.ID)
}

func TestOpenThreadRoleMismatch(t *testing.T) {
	ts := setupTestServer(t)
	otherCouple := &models.User{Name: "Liya & Samuel", Email: "liya@example.com", Role: models.RoleCouple}
	require.NoError(t, ts.db.Create(otherCouple).Error)

	resp := ts.request(t, http.MethodPost, "/api/threads/", fiber.Map{
		"counterpart_id": otherCouple.ID,
	}, ts.couple.ID)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDeleteMessageEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	path := fmt.Sprintf("/api/threads/%d/messages", ts.thread.ID)

	resp := ts.request(t, http.MethodPost, path, fiber.Map{"content": "wrong thread"}, ts.couple.ID)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created models.Message
	decodeBody(t, resp, &created)

	// Recipient cannot delete
	resp = ts.request(t, http.MethodDelete, fmt.Sprintf("/api/messages/%d", created.ID), nil, ts.vendor.ID)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = ts.request(t, http.MethodDelete, fmt.Sprintf("/api/messages/%d", created.ID), nil, ts.couple.ID)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = ts.request(t, http.MethodGet, path, nil, ts.couple.ID)
	var page struct {
		Messages []models.Message `json:"messages"`
	}
	decodeBody(t, resp, &page)
	require.Len(t, page.Messages, 1)
	assert.True(t, page.Messages[0].IsDeleted)
	assert.Empty(t, page.Messages[0].Content)
}

func TestArchiveEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(t, http.MethodPost, fmt.Sprintf("/api/threads/%d/archive", ts.thread.ID), nil, ts.couple.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp, &body)
	assert.Equal(t, models.ThreadArchived, body.Status)

	resp = ts.request(t, http.MethodPost, fmt.Sprintf("/api/threads/%d/unarchive", ts.thread.ID), nil, ts.couple.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeBody(t, resp, &body)
	assert.Equal(t, models.ThreadActive, body.Status)
}

func TestSearchMessagesEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	path := fmt.Sprintf("/api/threads/%d/messages", ts.thread.ID)

	for _, content := range []string{"What about the floral arch?", "Confirmed for May 12", "Thanks!"} {
		resp := ts.request(t, http.MethodPost, path, fiber.Map{"content": content}, ts.couple.ID)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := ts.request(t, http.MethodGet, path+"/search?q=floral", nil, ts.vendor.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var page struct {
		Messages []models.Message `json:"messages"`
	}
	decodeBody(t, resp, &page)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "What about the floral arch?", page.Messages[0].Content)

	// Malformed date filter is a 400
	resp = ts.request(t, http.MethodGet, path+"/search?date_from=yesterday", nil, ts.vendor.ID)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestInvalidThreadIDRejected(t *testing.T) {
	ts := setupTestServer(t)

	resp := ts.request(t, http.MethodGet, "/api/threads/nope/messages", nil, ts.couple.ID)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebSocketRequiresToken(t *testing.T) {
	ts := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/ws/chat", nil)
	resp, err := ts.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
