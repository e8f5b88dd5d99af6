package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/jwt"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const (
	sheetRange  = "A:O"
	headerRange = "A1:O1"
)

var sheetHeaders = []interface{}{
	"Timestamp", "Donor Name", "Email", "Phone", "Amount", "Purpose",
	"Payment ID", "Referer", "Language", "Platform", "Browser",
	"Device Type", "Country", "City", "Latitude",
}

// DonationExporter appends donation rows to a human-facing report. It is never authoritative.
type DonationExporter interface {
	Append(ctx context.Context, row []interface{}) (int, error)
	Describe(ctx context.Context) (*SheetInfo, error)
}

type SheetInfo struct {
	Title  string   `json:"title"`
	Sheets []string `json:"sheets"`
}

type SheetsService struct {
	values  *sheets.SpreadsheetsValuesService
	sheets  *sheets.SpreadsheetsService
	sheetID string
}

// NewSheetsService authenticates as a Google service account. ctx scopes the token source and
// should outlive the service.
func NewSheetsService(ctx context.Context, email, privateKey, sheetID string) (*SheetsService, error) {
	conf := &jwt.Config{
		Email:      email,
		PrivateKey: []byte(privateKey),
		Scopes:     []string{sheets.SpreadsheetsScope},
		TokenURL:   google.JWTTokenURL,
	}
	client := conf.Client(ctx)
	client.Timeout = 15 * time.Second

	return newSheetsService(ctx, sheetID, option.WithHTTPClient(client))
}

func newSheetsService(ctx context.Context, sheetID string, opts ...option.ClientOption) (*SheetsService, error) {
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create sheets client: %v", ErrExport, err)
	}
	return &SheetsService{values: svc.Spreadsheets.Values, sheets: svc.Spreadsheets, sheetID: sheetID}, nil
}

// Append adds one row. When the sheet rejects the append with 400 the header row is written
// and the append retried once.
func (s *SheetsService) Append(ctx context.Context, row []interface{}) (int, error) {
	rows, err := s.append(ctx, row)
	if err == nil {
		return rows, nil
	}
	if apiStatus(err) != http.StatusBadRequest {
		return 0, fmt.Errorf("%w: %v", ErrExport, err)
	}

	log.Printf("Sheet append rejected, writing headers and retrying: %v", err)
	if err := s.writeHeaders(ctx); err != nil {
		return 0, fmt.Errorf("%w: failed to write headers: %v", ErrExport, err)
	}
	rows, err = s.append(ctx, row)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrExport, err)
	}
	return rows, nil
}

func (s *SheetsService) append(ctx context.Context, row []interface{}) (int, error) {
	resp, err := s.values.Append(s.sheetID, sheetRange, &sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return 0, err
	}
	if resp.Updates == nil {
		return 0, nil
	}
	return int(resp.Updates.UpdatedRows), nil
}

func (s *SheetsService) writeHeaders(ctx context.Context) error {
	_, err := s.values.Update(s.sheetID, headerRange, &sheets.ValueRange{Values: [][]interface{}{sheetHeaders}}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

// Describe fetches the spreadsheet title and tab names to check access.
func (s *SheetsService) Describe(ctx context.Context) (*SheetInfo, error) {
	ss, err := s.sheets.Get(s.sheetID).
		Fields("properties.title", "sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		switch apiStatus(err) {
		case http.StatusForbidden:
			return nil, fmt.Errorf("%w: permission denied, share the sheet with the service account as Editor", ErrExport)
		case http.StatusNotFound:
			return nil, fmt.Errorf("%w: sheet not found, check GOOGLE_SHEET_ID", ErrExport)
		}
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	info := &SheetInfo{Sheets: []string{}}
	if ss.Properties != nil {
		info.Title = ss.Properties.Title
	}
	for _, sh := range ss.Sheets {
		if sh.Properties != nil {
			info.Sheets = append(info.Sheets, sh.Properties.Title)
		}
	}
	return info, nil
}

// apiStatus returns the HTTP status of a Sheets API error, or 0 for transport failures.
func apiStatus(err error) int {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code
	}
	return 0
}

// DisabledExporter is used when spreadsheet credentials are absent.
type DisabledExporter struct{}

func (DisabledExporter) Append(context.Context, []interface{}) (int, error) {
	return 0, fmt.Errorf("%w: spreadsheet export not configured", ErrExport)
}

func (DisabledExporter) Describe(context.Context) (*SheetInfo, error) {
	return nil, fmt.Errorf("%w: spreadsheet export not configured", ErrExport)
}

// ExportRow lays out one report row in the sheet's column order. Missing values read "Unknown".
func ExportRow(at time.Time, d DonationData, referer string, metadata map[string]string) []interface{} {
	meta := func(key string) string {
		if v, ok := metadata[key]; ok && v != "" {
			return v
		}
		return "Unknown"
	}
	if referer == "" {
		referer = "Unknown"
	}

	return []interface{}{
		at.In(ist).Format("02/01/2006, 15:04:05"),
		d.Donor.Name,
		d.Donor.Email,
		d.Donor.Phone,
		d.Amount,
		d.Purpose,
		d.PaymentID,
		referer,
		meta("language"),
		meta("platform"),
		meta("browser"),
		meta("deviceType"),
		meta("country"),
		meta("city"),
		meta("latitude"),
	}
}
