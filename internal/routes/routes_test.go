package routes

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CyberwizD/follow-notifier/internal/models"
	"github.com/CyberwizD/follow-notifier/internal/services"
	"github.com/CyberwizD/follow-notifier/pkg/logger"
	"github.com/CyberwizD/follow-notifier/pkg/metrics"
)

type stubGateway struct {
	calls int
	last  models.NotificationMessage
	err   error
}

func (g *stubGateway) Name() string { return "stub" }

func (g *stubGateway) Send(_ context.Context, msg *models.NotificationMessage) (string, error) {
	g.calls++
	g.last = *msg
	if g.err != nil {
		return "", g.err
	}
	return "projects/demo/messages/42", nil
}

func newTestRouter(gw *stubGateway) http.Handler {
	m := metrics.New("test")
	log := logger.Discard()
	return NewRouter(Deps{
		Builder: services.NewNotificationBuilder(services.BuilderOptions{AndroidChannelID: "followers"}),
		Sender:  services.NewDispatcher(gw, time.Second, m, log),
		Metrics: m,
		Logger:  log,
		Started: time.Now(),
	})
}

func doRequest(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSendNotificationRequiresAllFields(t *testing.T) {
	gw := &stubGateway{}
	h := newTestRouter(gw)

	for _, body := range []string{
		`{}`,
		`{"fcmToken":"X","title":"T"}`,
		`{"fcmToken":"","title":"T","body":"B"}`,
		`not json`,
	} {
		rec := doRequest(h, http.MethodPost, "/api/send-notification", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
		assert.NotEmpty(t, decode(t, rec)["error"], body)
	}
	assert.Zero(t, gw.calls, "no gateway call on validation errors")
}

func TestSendNotificationSuccess(t *testing.T) {
	gw := &stubGateway{}
	h := newTestRouter(gw)

	rec := doRequest(h, http.MethodPost, "/api/send-notification", `{"fcmToken":"X","title":"T","body":"B"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "projects/demo/messages/42", out["messageId"])

	assert.Equal(t, 1, gw.calls)
	assert.Equal(t, "X", gw.last.Token)
	assert.Equal(t, "T", gw.last.Title)
	assert.Equal(t, "B", gw.last.Body)
	require.NotNil(t, gw.last.Android)
	require.NotNil(t, gw.last.Apple)
	assert.NotEmpty(t, rec.Header().Get(HeaderXRequestID))
}

func TestSendNotificationGatewayFailure(t *testing.T) {
	gw := &stubGateway{err: errors.New("requested entity was not found")}
	h := newTestRouter(gw)

	rec := doRequest(h, http.MethodPost, "/api/send-notification", `{"fcmToken":"X","title":"T","body":"B"}`)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	out := decode(t, rec)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "requested entity was not found", out["error"])
}

func TestUnknownEndpoint(t *testing.T) {
	rec := doRequest(newTestRouter(&stubGateway{}), http.MethodGet, "/api/search-places", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Endpoint not found", decode(t, rec)["error"])
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestRouter(&stubGateway{})

	rec := doRequest(h, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode(t, rec)["success"])

	rec = doRequest(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRequestIDIsPropagated(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(HeaderXRequestID, "req-123")
	rec := httptest.NewRecorder()
	newTestRouter(&stubGateway{}).ServeHTTP(rec, req)

	assert.Equal(t, "req-123", rec.Header().Get(HeaderXRequestID))
}
