// Package export renders the component inventory as an XLSX workbook.
package export

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/comptrack/internal/dashboard"
	"github.com/rpattn/comptrack/internal/domain"
)

const (
	ComponentsSheet = "Components"
	SummarySheet    = "Summary"

	// ContentType is the MIME type of the generated workbook.
	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ComponentHeaders is the header row of the Components sheet.
var ComponentHeaders = []string{
	"ID",
	"Serial Number",
	"Type",
	"Date Received",
	"Arrived From",
	"Primary Fault",
	"Secondary Fault",
	"Status",
	"Last Updated",
}

// Source supplies the data a workbook is built from.
type Source interface {
	List(ctx context.Context, filter domain.ComponentFilter) ([]domain.Component, error)
	Summary(ctx context.Context) (dashboard.KPIs, error)
}

// Service builds workbooks from a Source.
type Service struct {
	source Source
	now    func() time.Time
	loc    *time.Location
}

type Option func(*Service)

// WithClock replaces time.Now for file naming.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLocation sets the zone used to render timestamps.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

func NewService(source Source, opts ...Option) *Service {
	service := &Service{
		source: source,
		now:    time.Now,
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(service)
	}
	return service
}

// FileName is the attachment name for a workbook generated now.
func (s *Service) FileName() string {
	return fmt.Sprintf("components-%s.xlsx", s.now().In(s.loc).Format("20060102-150405"))
}

// WriteWorkbook streams a workbook of the components matching filter to w.
func (s *Service) WriteWorkbook(ctx context.Context, w io.Writer, filter domain.ComponentFilter) (int64, error) {
	components, err := s.source.List(ctx, filter)
	if err != nil {
		return 0, err
	}
	kpis, err := s.source.Summary(ctx)
	if err != nil {
		return 0, err
	}

	f, err := BuildWorkbook(components, kpis, s.loc)
	if err != nil {
		return 0, err
	}
	defer func() { _ = f.Close() }()

	// excelize's WriteTo does not report a byte count
	buf, err := f.WriteToBuffer()
	if err != nil {
		return 0, fmt.Errorf("failed to render workbook: %w", err)
	}
	n, err := buf.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("failed to write workbook: %w", err)
	}
	return n, nil
}

// BuildWorkbook lays out components and kpis on the Components and Summary sheets.
func BuildWorkbook(components []domain.Component, kpis dashboard.KPIs, loc *time.Location) (*excelize.File, error) {
	if loc == nil {
		loc = time.UTC
	}
	f := excelize.NewFile()
	if err := f.SetSheetName(f.GetSheetName(0), ComponentsSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to name sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to add summary sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	if err := writeComponents(f, components, loc, headerStyle); err != nil {
		_ = f.Close()
		return nil, err
	}
	if err := writeSummary(f, kpis, headerStyle); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func writeComponents(f *excelize.File, components []domain.Component, loc *time.Location, headerStyle int) error {
	if err := setRow(f, ComponentsSheet, 1, toRow(ComponentHeaders)); err != nil {
		return err
	}
	if err := f.SetRowStyle(ComponentsSheet, 1, 1, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	for i, c := range components {
		row := []any{
			c.ID,
			c.SerialNumber,
			c.Type,
			c.FieldValue(domain.FieldDateReceived),
			c.ArrivedFrom,
			c.PrimaryFault,
			c.SecondaryFault,
			string(c.Status),
			c.UpdateDate.In(loc).Format(time.RFC3339),
		}
		if err := setRow(f, ComponentsSheet, i+2, row); err != nil {
			return err
		}
	}
	last, err := excelize.ColumnNumberToName(len(ComponentHeaders))
	if err != nil {
		return err
	}
	if err := f.SetColWidth(ComponentsSheet, "A", last, 18); err != nil {
		return fmt.Errorf("failed to size columns: %w", err)
	}
	return nil
}

func writeSummary(f *excelize.File, kpis dashboard.KPIs, headerStyle int) error {
	row := 1
	if err := setRow(f, SummarySheet, row, []any{"Status", "Count"}); err != nil {
		return err
	}
	if err := f.SetRowStyle(SummarySheet, row, row, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	for _, slice := range kpis.StatusOverview {
		row++
		if err := setRow(f, SummarySheet, row, []any{slice.Name, slice.Value}); err != nil {
			return err
		}
	}
	row++
	if err := setRow(f, SummarySheet, row, []any{"Total", kpis.TotalComponents}); err != nil {
		return err
	}

	row += 2
	header := []any{"Type"}
	for _, status := range domain.Statuses {
		header = append(header, string(status))
	}
	header = append(header, "total")
	if err := setRow(f, SummarySheet, row, header); err != nil {
		return err
	}
	if err := f.SetRowStyle(SummarySheet, row, row, headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}
	for _, agg := range kpis.TypeAggregates {
		row++
		values := []any{agg.Type}
		for _, status := range domain.Statuses {
			values = append(values, agg.Count(status))
		}
		values = append(values, agg.Total)
		if err := setRow(f, SummarySheet, row, values); err != nil {
			return err
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("failed to write %s row %d: %w", sheet, row, err)
	}
	return nil
}

func toRow(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
