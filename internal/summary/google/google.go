package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"habitsync/internal/core"
	"habitsync/internal/log"
	"habitsync/internal/summary"

	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Client keeps the monthly summary in a sheet of a Google spreadsheet.
// Resource ids have the form "<spreadsheetID>!<sheet title>".
type Client struct {
	svc   *gsheet.Service
	title string
}

// Ensure interface conformance
var (
	_ summary.Store  = (*Client)(nil)
	_ summary.Reader = (*Client)(nil)
)

// logFor returns the run logger carried by ctx.
func logFor(ctx context.Context) *log.Logger {
	return log.FromContext(ctx).WithComponent(log.ComponentSummary).With(log.FieldBackend, "sheets")
}

// NewFromEnv creates a Sheets summary store authenticated with a service account.
// Credentials come from GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE
// or GOOGLE_APPLICATION_CREDENTIALS.
func NewFromEnv(ctx context.Context, title string) (*Client, error) {
	svc, err := newSheetsService(ctx)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return New(svc, title), nil
}

// New wraps an existing Sheets service. An empty title uses summary.DefaultTitle.
func New(svc *gsheet.Service, title string) *Client {
	title = strings.TrimSpace(title)
	if title == "" {
		title = summary.DefaultTitle
	}
	return &Client{svc: svc, title: title}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context) (*gsheet.Service, error) {
	serviceAccountJSON := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_JSON"))
	serviceAccountFile := strings.TrimSpace(os.Getenv("GOOGLE_SERVICE_ACCOUNT_FILE"))
	if serviceAccountJSON == "" && serviceAccountFile == "" {
		serviceAccountFile = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	var credentialsJSON []byte
	var err error

	switch {
	case serviceAccountJSON != "":
		logFor(ctx).DebugContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(serviceAccountJSON)
	case serviceAccountFile != "":
		logFor(ctx).DebugContext(ctx, "Reading credentials from file", "path", serviceAccountFile)
		credentialsJSON, err = os.ReadFile(serviceAccountFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
	default:
		return nil, &core.ConfigurationError{
			Field:  "GOOGLE_SERVICE_ACCOUNT_JSON",
			Reason: "missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)",
		}
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// FindOrCreate returns the summary sheet of the spreadsheet parentID, adding
// the sheet when no sheet with a matching title exists.
func (c *Client) FindOrCreate(ctx context.Context, parentID string, habits []string) (string, error) {
	spreadsheetID := strings.TrimSpace(parentID)
	if spreadsheetID == "" {
		return "", &core.ConfigurationError{Field: "GOOGLE_SPREADSHEET_ID", Reason: "is required"}
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	ss, err := c.svc.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return "", remoteError("get spreadsheet "+spreadsheetID, err)
	}
	for _, sh := range ss.Sheets {
		if sh.Properties == nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(sh.Properties.Title), c.title) {
			ref := resourceRef(spreadsheetID, sh.Properties.Title)
			logFor(ctx).InfoContext(ctx, "Found existing summary sheet", log.FieldSummaryID, ref)
			if err := c.EnsureSchema(ctx, ref, habits); err != nil {
				return "", err
			}
			return ref, nil
		}
	}

	req := &gsheet.BatchUpdateSpreadsheetRequest{
		Requests: []*gsheet.Request{{
			AddSheet: &gsheet.AddSheetRequest{
				Properties: &gsheet.SheetProperties{Title: c.title},
			},
		}},
	}
	if _, err := c.svc.Spreadsheets.BatchUpdate(spreadsheetID, req).Context(ctx).Do(); err != nil {
		return "", remoteError("add sheet "+c.title, err)
	}
	ref := resourceRef(spreadsheetID, c.title)
	if err := c.writeHeader(ctx, spreadsheetID, c.title, mergeHeader(nil, habits)); err != nil {
		return "", err
	}
	logFor(ctx).InfoContext(ctx, "Created summary sheet", log.FieldSummaryID, ref, "columns", len(habits))
	return ref, nil
}

// EnsureSchema appends any missing habit columns to the header row.
func (c *Client) EnsureSchema(ctx context.Context, resourceID string, habits []string) error {
	spreadsheetID, sheet, err := splitRef(resourceID)
	if err != nil {
		return err
	}
	values, err := c.readValues(ctx, spreadsheetID, a1(sheet, "1:1"))
	if err != nil {
		return err
	}
	var header []string
	if len(values) > 0 {
		header = toStrings(values[0])
	}
	if len(header) > 0 {
		if err := checkHeader(header); err != nil {
			return &core.ConfigurationError{Field: "summary sheet " + resourceID, Reason: err.Error()}
		}
	}
	merged := mergeHeader(header, habits)
	if len(merged) == len(header) {
		return nil
	}
	if err := c.writeHeader(ctx, spreadsheetID, sheet, merged); err != nil {
		return err
	}
	logFor(ctx).InfoContext(ctx, "Added summary columns", log.FieldSummaryID, resourceID, "columns", merged[len(header):])
	return nil
}

// Upsert rewrites the row labelled with the month, or appends a new row.
func (c *Client) Upsert(ctx context.Context, resourceID string, row core.MonthlyRow) error {
	spreadsheetID, sheet, err := splitRef(resourceID)
	if err != nil {
		return err
	}
	values, err := c.readValues(ctx, spreadsheetID, a1(sheet, "A:ZZ"))
	if err != nil {
		return err
	}
	if len(values) == 0 {
		return &core.ConfigurationError{Field: "summary sheet " + resourceID, Reason: "has no header row"}
	}
	header := toStrings(values[0])

	label := row.Month.Label()
	target := len(values) + 1
	var existing []string
	for i := 1; i < len(values); i++ {
		cols := toStrings(values[i])
		if len(cols) > 0 && strings.EqualFold(cols[0], label) {
			target = i + 1
			existing = cols
			break
		}
	}

	line, err := buildRow(header, existing, row)
	if err != nil {
		return &core.ConfigurationError{Field: "summary sheet " + resourceID, Reason: err.Error()}
	}
	rng := a1(sheet, fmt.Sprintf("A%d", target))
	vr := &gsheet.ValueRange{Values: [][]any{line}}
	if _, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return remoteError("write "+rng, err)
	}

	if existing != nil {
		logFor(ctx).InfoContext(ctx, "Updated summary month", log.FieldOperation, log.OpUpsert, log.FieldMonth, label, "range", rng, "averages", row.Averages)
	} else {
		logFor(ctx).InfoContext(ctx, "Added summary month", log.FieldOperation, log.OpUpsert, log.FieldMonth, label, "range", rng, "averages", row.Averages)
	}
	return nil
}

// ListMonths reads every month row of the summary sheet.
func (c *Client) ListMonths(ctx context.Context, resourceID string) ([]core.MonthlyRow, error) {
	spreadsheetID, sheet, err := splitRef(resourceID)
	if err != nil {
		return nil, err
	}
	values, err := c.readValues(ctx, spreadsheetID, a1(sheet, "A:ZZ"))
	if err != nil {
		return nil, err
	}
	return parseRows(values), nil
}

func (c *Client) readValues(ctx context.Context, spreadsheetID, rng string) ([][]any, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, remoteError("read "+rng, err)
	}
	return resp.Values, nil
}

func (c *Client) writeHeader(ctx context.Context, spreadsheetID, sheet string, header []string) error {
	line := make([]any, len(header))
	for i, h := range header {
		line[i] = h
	}
	rng := a1(sheet, "A1")
	vr := &gsheet.ValueRange{Values: [][]any{line}}
	if _, err := c.svc.Spreadsheets.Values.Update(spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do(); err != nil {
		return remoteError("write header "+rng, err)
	}
	return nil
}

func resourceRef(spreadsheetID, sheet string) string {
	return spreadsheetID + "!" + sheet
}

func splitRef(ref string) (spreadsheetID, sheet string, err error) {
	spreadsheetID, sheet, ok := strings.Cut(ref, "!")
	if !ok || strings.TrimSpace(spreadsheetID) == "" || strings.TrimSpace(sheet) == "" {
		return "", "", &core.ConfigurationError{Field: "summary resource id", Reason: fmt.Sprintf("%q is not of the form <spreadsheet>!<sheet>", ref)}
	}
	return strings.TrimSpace(spreadsheetID), sheet, nil
}

// a1 builds an A1 range on a sheet, quoting the sheet title.
func a1(sheet, cells string) string {
	return "'" + strings.ReplaceAll(sheet, "'", "''") + "'!" + cells
}

// remoteError maps a Sheets API failure to a RemoteAccessError.
func remoteError(op string, err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return &core.RemoteAccessError{Op: op, Err: err}
	}
	rae := &core.RemoteAccessError{Op: op, StatusCode: gerr.Code, Message: gerr.Message}
	if len(gerr.Errors) > 0 {
		rae.Code = gerr.Errors[0].Reason
	}
	switch gerr.Code {
	case http.StatusUnauthorized, http.StatusForbidden:
		rae.Err = core.ErrUnauthorized
	case http.StatusNotFound:
		rae.Err = core.ErrNotFound
	case http.StatusTooManyRequests:
		rae.Err = core.ErrRateLimited
	default:
		rae.Err = err
	}
	return rae
}
