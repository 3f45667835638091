package google

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gymbook/internal/models"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

var auditHeaders = []interface{}{"ID", "Time", "Actor", "Action", "Detail"}

// AuditSheet mirrors audit events into one tab of a spreadsheet, one row per
// event. The database stays the source of truth.
type AuditSheet struct {
	service       *sheets.Service
	spreadsheetID string
	sheetName     string
}

func NewAuditSheet(ctx context.Context, credentialsFile, spreadsheetID, sheetName string) (*AuditSheet, error) {
	// Читаем файл учетных данных сервисного аккаунта
	credentialsJSON, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	config, err := google.JWTConfigFromJSON(credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	srv, err := sheets.NewService(ctx, option.WithHTTPClient(config.Client(ctx)))
	if err != nil {
		return nil, fmt.Errorf("unable to create Sheets service: %w", err)
	}

	return NewAuditSheetWithService(srv, spreadsheetID, sheetName), nil
}

func NewAuditSheetWithService(srv *sheets.Service, spreadsheetID, sheetName string) *AuditSheet {
	return &AuditSheet{service: srv, spreadsheetID: spreadsheetID, sheetName: sheetName}
}

// TestConnection проверяет подключение к таблице
func (s *AuditSheet) TestConnection(ctx context.Context) error {
	_, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, s.sheetName+"!A1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	return nil
}

// EnsureHeader writes the header row when the tab is empty.
func (s *AuditSheet) EnsureHeader(ctx context.Context) error {
	headerRange := fmt.Sprintf("%s!A1:E1", s.sheetName)
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	_, err = s.service.Spreadsheets.Values.Update(s.spreadsheetID, headerRange, &sheets.ValueRange{
		Values: [][]interface{}{auditHeaders},
	}).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return nil
}

// AppendEvents appends one row per event in the given order.
func (s *AuditSheet) AppendEvents(ctx context.Context, events []*models.AuditEvent) error {
	if len(events) == 0 {
		return nil
	}

	values := make([][]interface{}, 0, len(events))
	for _, e := range events {
		values = append(values, auditRowValues(e))
	}

	_, err := s.service.Spreadsheets.Values.Append(s.spreadsheetID, s.sheetName+"!A:E", &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append %d audit rows: %w", len(events), err)
	}
	return nil
}

func auditRowValues(e *models.AuditEvent) []interface{} {
	return []interface{}{
		e.ID,
		e.CreatedAt.UTC().Format(time.RFC3339),
		e.Actor,
		string(e.Action),
		e.Detail,
	}
}

// ServiceAccountEmail returns the address the spreadsheet must be shared with.
func ServiceAccountEmail(credentialsFile string) (string, error) {
	file, err := os.ReadFile(credentialsFile)
	if err != nil {
		return "", err
	}

	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if err := json.Unmarshal(file, &creds); err != nil {
		return "", err
	}

	return creds.ClientEmail, nil
}
