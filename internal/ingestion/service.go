// Package ingestion bulk-imports components from CSV and XLSX uploads.
package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/comptrack/internal/domain"
)

var (
	// ErrUnsupportedFormat is returned when an uploaded file is not supported.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	byteOrderMark = []byte{0xEF, 0xBB, 0xBF}
)

// headerAliases maps a folded header label to the field it fills.
var headerAliases = map[string]domain.Field{
	"serialnumber":   domain.FieldSerialNumber,
	"serial":         domain.FieldSerialNumber,
	"sn":             domain.FieldSerialNumber,
	"type":           domain.FieldType,
	"componenttype":  domain.FieldType,
	"datereceived":   domain.FieldDateReceived,
	"received":       domain.FieldDateReceived,
	"arrivedfrom":    domain.FieldArrivedFrom,
	"origin":         domain.FieldArrivedFrom,
	"primaryfault":   domain.FieldPrimaryFault,
	"secondaryfault": domain.FieldSecondaryFault,
	"status":         domain.FieldStatus,
}

// ComponentWriter is the subset of the inventory coordinator an import drives.
type ComponentWriter interface {
	Create(ctx context.Context, fields map[string]any) (domain.Component, error)
	Update(ctx context.Context, id string, proposed map[string]any) (domain.Component, error)
	Rules() domain.FieldRules
}

// Service turns uploaded rows into created components.
type Service struct {
	writer ComponentWriter
	log    *slog.Logger
}

// NewService creates a new ingestion service.
func NewService(writer ComponentWriter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{writer: writer, log: log}
}

// Request describes the ingestion input.
type Request struct {
	FileName string
	Data     io.Reader
}

// RowError reports why one data row was skipped. Row numbers are 1-based file rows.
type RowError struct {
	Row     int    `json:"row"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Summary returns ingestion level metrics.
type Summary struct {
	TotalRows      int        `json:"totalRows"`
	CreatedRows    int        `json:"createdRows"`
	InvalidRows    int        `json:"invalidRows"`
	CreatedIDs     []string   `json:"createdIds"`
	IgnoredColumns []string   `json:"ignoredColumns"`
	Errors         []RowError `json:"errors"`
}

type tableData struct {
	headers        []string
	rows           [][]string
	headerRowIndex int
}

// Ingest reads the uploaded file and creates one component per valid row. Rows failing
// validation are reported in the summary; any other failure stops the import and is returned
// alongside the rows created so far.
func (s *Service) Ingest(ctx context.Context, req Request) (Summary, error) {
	summary := Summary{
		CreatedIDs:     []string{},
		IgnoredColumns: []string{},
		Errors:         []RowError{},
	}
	if req.Data == nil {
		return summary, errors.New("file data is required")
	}
	payload, err := io.ReadAll(req.Data)
	if err != nil {
		return summary, fmt.Errorf("failed to read upload: %w", err)
	}

	table, err := parseTable(req.FileName, payload)
	if err != nil {
		return summary, err
	}

	columns := make([]domain.Field, len(table.headers))
	mapped := 0
	for i, header := range table.headers {
		field, ok := headerAliases[foldHeader(header)]
		if !ok {
			summary.IgnoredColumns = append(summary.IgnoredColumns, strings.TrimSpace(header))
			continue
		}
		columns[i] = field
		mapped++
	}
	if mapped == 0 {
		return summary, fmt.Errorf("no recognised columns in header row %d", table.headerRowIndex+1)
	}

	rules := s.writer.Rules()
	for i, row := range table.rows {
		if len(cleanRow(row)) == 0 {
			continue
		}
		rowNumber := table.headerRowIndex + i + 2
		summary.TotalRows++

		fields := make(map[string]any)
		var status string
		for col, field := range columns {
			if field == "" || col >= len(row) {
				continue
			}
			value := strings.TrimSpace(row[col])
			if value == "" {
				continue
			}
			if field == domain.FieldStatus {
				status = value
				continue
			}
			fields[string(field)] = value
		}

		if status != "" {
			if _, err := domain.NormalizeField(domain.FieldStatus, status, rules); err != nil {
				s.rowError(ctx, &summary, rowNumber, err)
				continue
			}
		}

		created, err := s.writer.Create(ctx, fields)
		if err != nil {
			if isRowError(err) {
				s.rowError(ctx, &summary, rowNumber, err)
				continue
			}
			return summary, fmt.Errorf("row %d: %w", rowNumber, err)
		}
		// the component is committed even if the status update below fails
		summary.CreatedRows++
		summary.CreatedIDs = append(summary.CreatedIDs, created.ID)
		if status != "" && status != string(created.Status) {
			if _, err := s.writer.Update(ctx, created.ID, map[string]any{string(domain.FieldStatus): status}); err != nil {
				return summary, fmt.Errorf("row %d: set status of %s: %w", rowNumber, created.ID, err)
			}
		}
	}

	s.log.InfoContext(ctx, "ingestion finished",
		"file", req.FileName,
		"total_rows", summary.TotalRows,
		"created_rows", summary.CreatedRows,
		"invalid_rows", summary.InvalidRows,
	)
	return summary, nil
}

func isRowError(err error) bool {
	var validation *domain.ValidationError
	return errors.As(err, &validation)
}

func (s *Service) rowError(ctx context.Context, summary *Summary, rowNumber int, err error) {
	summary.InvalidRows++
	rowErr := RowError{Row: rowNumber, Message: err.Error()}
	var validation *domain.ValidationError
	if errors.As(err, &validation) {
		rowErr.Field = string(validation.Field)
	}
	summary.Errors = append(summary.Errors, rowErr)
	s.log.DebugContext(ctx, "ingestion row rejected", "row", rowNumber, "error", err)
}

func foldHeader(label string) string {
	label = strings.ToLower(strings.TrimSpace(label))
	return strings.NewReplacer(" ", "", "_", "", "-", "", ".", "").Replace(label)
}

func parseTable(fileName string, payload []byte) (tableData, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv":
		return parseCSV(payload)
	case ".xlsx":
		return parseExcel(payload)
	default:
		return tableData{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

func parseCSV(payload []byte) (tableData, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read csv: %w", err)
	}
	return normalizeTable(records)
}

// parseExcel reads the first sheet of the workbook.
func parseExcel(payload []byte) (tableData, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return tableData{}, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return tableData{}, errors.New("excel file has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return tableData{}, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return normalizeTable(rows)
}

// normalizeTable takes the first non-empty row as the header. Blank rows after it are kept so
// row numbers still match the file.
func normalizeTable(records [][]string) (tableData, error) {
	headerIndex := -1
	for idx, row := range records {
		if len(cleanRow(row)) > 0 {
			headerIndex = idx
			break
		}
	}
	if headerIndex < 0 {
		return tableData{}, errors.New("no rows found in file")
	}

	headers := records[headerIndex]
	var rows [][]string
	for idx := headerIndex + 1; idx < len(records); idx++ {
		rows = append(rows, padRow(records[idx], len(headers)))
	}

	return tableData{headers: headers, rows: rows, headerRowIndex: headerIndex}, nil
}

func cleanRow(row []string) []string {
	var cleaned []string
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			cleaned = append(cleaned, cell)
		}
	}
	return cleaned
}

func padRow(row []string, length int) []string {
	if len(row) >= length {
		return row[:length]
	}
	padded := make([]string, length)
	copy(padded, row)
	return padded
}
