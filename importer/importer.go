// Package importer runs the import-excel job: it reads a spreadsheet of
// contacts and upserts every usable row into a group.
//
// The first sheet (or the named one) is read. If the first non-empty row
// names its columns ("name", "phone", "email") those positions are used;
// otherwise columns A, B and C are taken as name, phone and email. A row
// needs at least one well-formed destination to be imported. Contacts
// are upserted by their natural key, so running an import twice does not
// duplicate anything.
package importer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/xraph/herald"
	"github.com/xraph/herald/backoff"
	"github.com/xraph/herald/engine"
	"github.com/xraph/herald/id"
	"github.com/xraph/herald/job"
	"github.com/xraph/herald/queue"
	"github.com/xraph/herald/recipient"
)

// TypeImport is the job type of a spreadsheet import.
const TypeImport = "import-excel"

// Payload is the payload of an import-excel job. File holds the raw
// .xlsx bytes.
type Payload struct {
	UserID    string `json:"user_id"`
	GroupID   string `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
	Sheet     string `json:"sheet,omitempty"`
	File      []byte `json:"file"`
}

// RowError explains why a spreadsheet row was skipped. Row is 1-based as
// shown by spreadsheet programs.
type RowError struct {
	Row   int    `json:"row"`
	Error string `json:"error"`
}

// Result is the result of an import-excel job.
type Result struct {
	GroupID  string     `json:"group_id"`
	Rows     int        `json:"rows"`
	Imported int        `json:"imported"`
	Skipped  int        `json:"skipped"`
	Errors   []RowError `json:"errors,omitempty"`
}

// Importer upserts spreadsheet rows through a recipient.Writer.
type Importer struct {
	writer recipient.Writer
	logger *slog.Logger
}

// New creates an Importer.
func New(writer recipient.Writer, logger *slog.Logger) *Importer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Importer{writer: writer, logger: logger}
}

// Register adds the import-excel job type to eng with a single-lane
// default queue.
func Register(eng *engine.Engine, writer recipient.Writer) *Importer {
	imp := New(writer, eng.Logger())
	engine.Register(eng, job.NewDefinition(TypeImport, imp.Handle))
	eng.QueueManager().SetDefault(queue.Config{
		Type:        TypeImport,
		Concurrency: 1,
		Attempts:    3,
		Backoff:     backoff.FixedPolicy(5 * time.Second),
	})
	return imp
}

type columns struct{ name, phone, email int }

var defaultColumns = columns{name: 0, phone: 1, email: 2}

// Handle runs one import. An unreadable file fails the job permanently;
// store errors are returned so the job is retried.
func (imp *Importer) Handle(ctx context.Context, p Payload) (Result, error) {
	if p.UserID == "" {
		return Result{}, job.Permanent(fmt.Errorf("%w: user id is required", herald.ErrValidation))
	}
	if p.GroupID == "" && p.GroupName == "" {
		return Result{}, job.Permanent(fmt.Errorf("%w: group id or name is required", herald.ErrValidation))
	}

	rows, err := readRows(p.File, p.Sheet)
	if err != nil {
		return Result{}, job.Permanent(err)
	}

	g := &recipient.Group{ID: p.GroupID, UserID: p.UserID, Name: p.GroupName}
	if g.ID == "" {
		// Pin the new group to the job so a retry fills the same one.
		if j, ok := job.FromContext(ctx); ok {
			g.ID = id.GroupIDFor(j.ID)
		}
	}
	if err := imp.writer.EnsureGroup(ctx, g); err != nil {
		if errors.Is(err, herald.ErrGroupNotFound) {
			return Result{}, job.Permanent(err)
		}
		return Result{}, fmt.Errorf("ensure group: %w", err)
	}

	cols, start := detectColumns(rows)
	res := Result{GroupID: g.ID}
	data := rows[start:]

	for i, row := range data {
		rowNum := start + i + 1
		if blank(row) {
			job.ReportProgress(ctx, job.Percent(i+1, len(data)))
			continue
		}
		res.Rows++

		c, rowErr := contactFromRow(p.UserID, row, cols)
		if rowErr != nil {
			res.Skipped++
			res.Errors = append(res.Errors, RowError{Row: rowNum, Error: rowErr.Error()})
		} else {
			saved, err := imp.writer.UpsertContact(ctx, c)
			if err != nil {
				return Result{}, fmt.Errorf("row %d: upsert contact: %w", rowNum, err)
			}
			if err := imp.writer.AddToGroup(ctx, g.ID, saved.ID); err != nil {
				return Result{}, fmt.Errorf("row %d: add to group: %w", rowNum, err)
			}
			res.Imported++
		}
		job.ReportProgress(ctx, job.Percent(i+1, len(data)))
	}

	imp.logger.Info("contacts imported",
		slog.String("user_id", p.UserID),
		slog.String("group_id", g.ID),
		slog.Int("rows", res.Rows),
		slog.Int("imported", res.Imported),
		slog.Int("skipped", res.Skipped),
	)
	return res, nil
}

func readRows(file []byte, sheet string) ([][]string, error) {
	if len(file) == 0 {
		return nil, fmt.Errorf("%w: empty spreadsheet", herald.ErrValidation)
	}
	f, err := excelize.OpenReader(bytes.NewReader(file))
	if err != nil {
		return nil, fmt.Errorf("%w: open spreadsheet: %v", herald.ErrValidation, err)
	}
	defer f.Close() //nolint:errcheck // read-only

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("%w: spreadsheet has no sheets", herald.ErrValidation)
		}
		sheet = sheets[0]
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: read sheet %q: %v", herald.ErrValidation, sheet, err)
	}
	return rows, nil
}

// detectColumns returns the column layout and the index of the first
// data row.
func detectColumns(rows [][]string) (columns, int) {
	for i, row := range rows {
		if blank(row) {
			continue
		}
		cols := columns{name: -1, phone: -1, email: -1}
		for j, v := range row {
			switch strings.ToLower(strings.TrimSpace(v)) {
			case "name", "full name":
				cols.name = j
			case "phone", "mobile", "phone number":
				cols.phone = j
			case "email", "e-mail":
				cols.email = j
			}
		}
		if cols.phone >= 0 || cols.email >= 0 {
			return cols, i + 1
		}
		return defaultColumns, 0
	}
	return defaultColumns, 0
}

func contactFromRow(userID string, row []string, cols columns) (*recipient.Contact, error) {
	c := &recipient.Contact{
		UserID: userID,
		Name:   strings.TrimSpace(cell(row, cols.name)),
		Active: true,
	}
	if phone := recipient.NormalizePhone(cell(row, cols.phone)); phone != "" {
		if !recipient.ValidPhone(phone) {
			return nil, fmt.Errorf("malformed phone %q", phone)
		}
		c.Phone = phone
	}
	if email := recipient.NormalizeEmail(cell(row, cols.email)); email != "" {
		if !recipient.ValidEmail(email) {
			return nil, fmt.Errorf("malformed email %q", email)
		}
		c.Email = email
	}
	if c.Phone == "" && c.Email == "" {
		return nil, errors.New("no phone or email")
	}
	return c, nil
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
