package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gymbook/internal/config"
	"gymbook/internal/domain/domaintest"
	"gymbook/internal/eligibility"
	"gymbook/internal/models"
	"gymbook/internal/repository"
	"gymbook/internal/schedule"
	"gymbook/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var (
	testNow = time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)
	testDay = time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC)
)

type testEnv struct {
	store  *repository.MemoryStore
	guard  *repository.MemoryGuard
	server *HTTPServer
	ts     *httptest.Server
}

func newTestEnv(t *testing.T, cfg config.APIConfig, guardCfg config.GuardConfig) *testEnv {
	t.Helper()
	logger := zerolog.Nop()

	store := repository.NewMemoryStore()
	domaintest.Seed(t, store, testDay, 2, 9, 10, 11, 12)

	engine := eligibility.NewEngine(eligibility.DefaultRules(), time.UTC)
	bookings := service.NewBookingService(store, engine, nil, &logger)
	audit := service.NewAuditService(store, nil, &logger)
	gen := schedule.NewGenerator(store, config.ScheduleConfig{
		HorizonDays:  2,
		OpenHour:     8,
		CloseHour:    20,
		BlockedHours: []int{13},
		Capacity:     50,
	}, time.UTC, &logger)

	guard := repository.NewMemoryGuard()
	srv := NewHTTPServer(cfg, Deps{
		Bookings:  bookings,
		Audit:     audit,
		Generator: gen,
		Reader:    store,
		Guard:     guard,
		GuardCfg:  guardCfg,
		Now:       func() time.Time { return testNow },
	}, &logger)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{store: store, guard: guard, server: srv, ts: ts}
}

func defaultGuardCfg() config.GuardConfig {
	return config.GuardConfig{IdempotencyTTL: time.Hour, RateLimit: 100, RateLimitWindow: time.Minute}
}

func (e *testEnv) do(t *testing.T, method, path, user, role, body string, headers map[string]string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	if role != "" {
		req.Header.Set(headerUserRole, role)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodGet, "/healthz", "", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", decode[map[string]string](t, resp)["status"])
}

func TestListSlots(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())
	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/slots?from=2025-03-07&to=2025-03-07", "u1", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[struct {
		Slots []slotView `json:"slots"`
	}](t, resp)
	require.Len(t, body.Slots, 4)
	assert.Equal(t, "2025-03-07@09", body.Slots[0].ID)
	assert.Equal(t, 10, body.Slots[1].Hour)
	assert.Equal(t, 1, body.Slots[1].Occupancy)
	assert.Equal(t, 1, body.Slots[1].Available)
	assert.True(t, body.Slots[1].BookedByMe)
	assert.False(t, body.Slots[0].BookedByMe)
}

func TestListSlots_BadRange(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodGet, "/api/v1/slots?from=2025-03-08&to=2025-03-07", "", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/slots?from=07.03.2025", "", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEligibility(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodGet, "/api/v1/slots/2025-03-07/10/eligibility", "u1", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.Equal(t, true, body["eligible"])

	resp = env.do(t, http.MethodGet, "/api/v1/slots/2025-03-05/10/eligibility", "u1", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[map[string]any](t, resp)
	assert.Equal(t, false, body["eligible"])
	assert.Equal(t, string(models.InsufficientLeadTime), body["error"])

	resp = env.do(t, http.MethodGet, "/api/v1/slots/2025-03-07/10/eligibility", "", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/slots/2025-03-07/25/eligibility", "u1", "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBookAndCancel(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	booking := decode[bookingView](t, resp)
	assert.NotEmpty(t, booking.ID)
	assert.Equal(t, "2025-03-07@10", booking.Slot)

	resp = env.do(t, http.MethodGet, "/api/v1/me/bookings", "u1", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mine := decode[struct {
		Bookings []bookingView `json:"bookings"`
	}](t, resp)
	require.Len(t, mine.Bookings, 1)
	assert.Equal(t, booking.ID, mine.Bookings[0].ID)

	resp = env.do(t, http.MethodDelete, "/api/v1/bookings/"+booking.ID, "u2", "", "", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/bookings/"+booking.ID, "u1", "", "", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodDelete, "/api/v1/bookings/"+booking.ID, "u1", "", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	slot, err := env.store.GetSlot(context.Background(), models.NewSlotID(testDay, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, slot.Occupancy)
}

func TestBook_ViolationIs409(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":11}`, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	body := decode[map[string]string](t, resp)
	assert.Equal(t, string(models.AdjacentSessionConflict), body["error"])
	assert.Equal(t, models.AdjacentSessionConflict.Message(), body["message"])
}

func TestBook_FullSlot(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	for _, user := range []string{"u1", "u2"} {
		resp := env.do(t, http.MethodPost, "/api/v1/bookings", user, "", `{"date":"2025-03-07","hour":9}`, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u3", "", `{"date":"2025-03-07","hour":9}`, nil)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, string(models.SlotUnavailable), decode[map[string]string](t, resp)["error"])
}

func TestBook_BadRequests(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "", "", `{"date":"2025-03-07","hour":9}`, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":9,"extra":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"tomorrow","hour":9}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestBook_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())
	headers := map[string]string{headerIdempotencyKey: "req-1"}

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[bookingView](t, resp)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, headers)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	replay := decode[bookingView](t, resp)
	assert.Equal(t, first.ID, replay.ID)

	slot, err := env.store.GetSlot(context.Background(), models.NewSlotID(testDay, 10))
	require.NoError(t, err)
	assert.Equal(t, 1, slot.Occupancy)

	// the same key from another user is a different request
	resp = env.do(t, http.MethodPost, "/api/v1/bookings", "u2", "", `{"date":"2025-03-07","hour":10}`, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, first.ID, decode[bookingView](t, resp).ID)
}

func TestBook_IdempotencyKeyAfterCancel(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())
	headers := map[string]string{headerIdempotencyKey: "req-1"}

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[bookingView](t, resp)

	resp = env.do(t, http.MethodDelete, "/api/v1/bookings/"+first.ID, "u1", "", "", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, headers)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.NotEqual(t, first.ID, decode[bookingView](t, resp).ID)
}

func TestBook_UserRateLimit(t *testing.T) {
	guardCfg := defaultGuardCfg()
	guardCfg.RateLimit = 1
	env := newTestEnv(t, config.APIConfig{}, guardCfg)

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":9}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":12}`, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/bookings", "u2", "", `{"date":"2025-03-07","hour":12}`, nil)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)
}

func TestRecordAudit(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodPost, "/api/v1/audit/events", "u1", "", `{"action":"login","detail":"web"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	event := decode[models.AuditEvent](t, resp)
	assert.Equal(t, "u1", event.Actor)
	assert.Equal(t, models.AuditLogin, event.Action)

	resp = env.do(t, http.MethodPost, "/api/v1/audit/events", "u1", "", `{"action":"booking_created"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/audit/events", "u1", "", `{"action":"admin_action"}`, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/audit/events", "u1", "", `{"action":"dance"}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminEndpointsRequireAdmin(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	for _, tc := range []struct {
		method, path string
	}{
		{http.MethodGet, "/api/v1/admin/audit"},
		{http.MethodPost, "/api/v1/admin/slots/generate"},
		{http.MethodGet, "/api/v1/admin/report"},
		{http.MethodGet, "/api/v1/admin/report.xlsx"},
	} {
		t.Run(tc.path, func(t *testing.T) {
			resp := env.do(t, tc.method, tc.path, "u1", "user", "", nil)
			assert.Equal(t, http.StatusForbidden, resp.StatusCode)

			resp = env.do(t, tc.method, tc.path, "", "", "", nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestAdminAudit(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = env.do(t, http.MethodPost, "/api/v1/audit/events", "u2", "", `{"action":"login"}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/admin/audit?action=booking_created", "boss", "admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[struct {
		Events []models.AuditEvent `json:"events"`
	}](t, resp)
	require.Len(t, body.Events, 1)
	assert.Equal(t, "u1", body.Events[0].Actor)

	resp = env.do(t, http.MethodGet, "/api/v1/admin/audit?limit=1", "boss", "admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body = decode[struct {
		Events []models.AuditEvent `json:"events"`
	}](t, resp)
	require.Len(t, body.Events, 1)
	assert.Equal(t, models.AuditLogin, body.Events[0].Action)

	resp = env.do(t, http.MethodGet, "/api/v1/admin/audit?limit=-1", "boss", "admin", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminGenerate(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodPost, "/api/v1/admin/slots/generate", "boss", "admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 24, decode[map[string]int](t, resp)["created"])

	resp = env.do(t, http.MethodPost, "/api/v1/admin/slots/generate", "boss", "admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 0, decode[map[string]int](t, resp)["created"])
}

func TestAdminReport(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodPost, "/api/v1/bookings", "u1", "", `{"date":"2025-03-07","hour":10}`, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/admin/report?from=2025-03-01&to=2025-03-31", "boss", "admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[map[string]any](t, resp)
	assert.EqualValues(t, 4, body["slots"])
	assert.EqualValues(t, 1, body["bookings"])

	resp = env.do(t, http.MethodGet, "/api/v1/admin/report?from=2025-03-31&to=2025-03-01", "boss", "admin", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAdminReportXLSX(t *testing.T) {
	env := newTestEnv(t, config.APIConfig{}, defaultGuardCfg())

	resp := env.do(t, http.MethodGet, "/api/v1/admin/report.xlsx?from=2025-03-01&to=2025-03-31", "boss", "admin", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, xlsxContentType, resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "usage_2025-03-01_2025-03-31.xlsx")

	f, err := excelize.OpenReader(resp.Body)
	require.NoError(t, err)
	defer f.Close()
	assert.Contains(t, f.GetSheetList(), "Summary")
}

func TestHTTPAuth(t *testing.T) {
	cfg := config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled:      true,
			HeaderAPIKey: "x-api-key",
			HeaderExtra:  "x-api-extra",
			APIKeys: []config.APIClientKey{
				{Key: "front", Extra: "s1", Name: "frontend", Permissions: []string{permReadSlots, permWriteBookings}},
				{Key: "ops", Extra: "s2", Name: "ops"},
			},
		},
	}
	env := newTestEnv(t, cfg, defaultGuardCfg())

	resp := env.do(t, http.MethodGet, "/healthz", "", "", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/slots", "", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/slots", "", "", "", map[string]string{"x-api-key": "front", "x-api-extra": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/slots", "", "", "", map[string]string{"x-api-key": "front", "x-api-extra": "s1"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/admin/report", "boss", "admin", "", map[string]string{"x-api-key": "front", "x-api-extra": "s1"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	// no permissions listed means allow-all
	resp = env.do(t, http.MethodGet, "/api/v1/admin/report", "boss", "admin", "", map[string]string{"x-api-key": "ops", "x-api-extra": "s2"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTPAuth_ClientRateLimit(t *testing.T) {
	cfg := config.APIConfig{RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 2}}
	env := newTestEnv(t, cfg, defaultGuardCfg())

	for i := 0; i < 2; i++ {
		resp := env.do(t, http.MethodGet, "/api/v1/slots", "", "", "", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	resp := env.do(t, http.MethodGet, "/api/v1/slots", "", "", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestRequiredPermissionHTTP(t *testing.T) {
	tests := []struct {
		method, path, want string
	}{
		{http.MethodGet, "/api/v1/slots", permReadSlots},
		{http.MethodGet, "/api/v1/me/bookings", permReadSlots},
		{http.MethodPost, "/api/v1/bookings", permWriteBookings},
		{http.MethodDelete, "/api/v1/bookings/abc", permWriteBookings},
		{http.MethodPost, "/api/v1/audit/events", permWriteBookings},
		{http.MethodGet, "/api/v1/admin/audit", permAdmin},
		{http.MethodGet, "/metrics", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(tt.method, tt.path, nil)
		assert.Equal(t, tt.want, requiredPermissionHTTP(r), tt.path)
	}
}
