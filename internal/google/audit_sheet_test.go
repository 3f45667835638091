package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gymbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

func setupMockServer(t *testing.T) (*http.ServeMux, *AuditSheet) {
	t.Helper()
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	srv, err := sheets.NewService(context.Background(), option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	return mux, NewAuditSheetWithService(srv, "audit_tid", "Audit")
}

func TestAuditSheet_TestConnection(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Audit!A1", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{Values: [][]interface{}{{"ID"}}})
	})

	assert.NoError(t, s.TestConnection(context.Background()))
}

func TestAuditSheet_EnsureHeader(t *testing.T) {
	mux, s := setupMockServer(t)
	var wrote bool
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Audit!A1:E1", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			wrote = true
			var body sheets.ValueRange
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Len(t, body.Values[0], 5)
			_ = json.NewEncoder(w).Encode(sheets.UpdateValuesResponse{})
			return
		}
		_ = json.NewEncoder(w).Encode(sheets.ValueRange{})
	})

	require.NoError(t, s.EnsureHeader(context.Background()))
	assert.True(t, wrote)
}

func TestAuditSheet_AppendEvents(t *testing.T) {
	mux, s := setupMockServer(t)
	var got sheets.ValueRange
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Audit!A:E:append", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "RAW", r.URL.Query().Get("valueInputOption"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(sheets.AppendValuesResponse{
			Updates: &sheets.UpdateValuesResponse{UpdatedRange: "Audit!A2:E3"},
		})
	})

	at := time.Date(2025, 3, 5, 8, 0, 0, 0, time.UTC)
	events := []*models.AuditEvent{
		{ID: "e1", Actor: "u1", Action: models.AuditLogin, CreatedAt: at},
		{ID: "e2", Actor: "u1", Action: models.AuditBookingCreated, Detail: "slot 2025-03-07@09", CreatedAt: at},
	}
	require.NoError(t, s.AppendEvents(context.Background(), events))

	require.Len(t, got.Values, 2)
	assert.Equal(t, "e1", got.Values[0][0])
	assert.Equal(t, "2025-03-05T08:00:00Z", got.Values[0][1])
	assert.Equal(t, "booking_created", got.Values[1][3])

	assert.NoError(t, s.AppendEvents(context.Background(), nil))
}

func TestAuditSheet_AppendEventsError(t *testing.T) {
	mux, s := setupMockServer(t)
	mux.HandleFunc("/v4/spreadsheets/audit_tid/values/Audit!A:E:append", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	err := s.AppendEvents(context.Background(), []*models.AuditEvent{{ID: "e1"}})
	assert.Error(t, err)
}

func TestServiceAccountEmail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"client_email":"gym@project.iam.gserviceaccount.com"}`), 0o600))

	email, err := ServiceAccountEmail(path)
	require.NoError(t, err)
	assert.Equal(t, "gym@project.iam.gserviceaccount.com", email)

	_, err = ServiceAccountEmail(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
