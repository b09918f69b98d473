package export

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/comptrack/internal/dashboard"
	"github.com/rpattn/comptrack/internal/domain"
)

type stubSource struct {
	components []domain.Component
	err        error
	filter     domain.ComponentFilter
}

func (s *stubSource) List(_ context.Context, filter domain.ComponentFilter) ([]domain.Component, error) {
	s.filter = filter
	if s.err != nil {
		return nil, s.err
	}
	var out []domain.Component
	for _, c := range s.components {
		if filter.Matches(c) {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *stubSource) Summary(context.Context) (dashboard.KPIs, error) {
	return dashboard.Compute(s.components, []string{"Thermal", "Optical"}), nil
}

func sampleComponents() []domain.Component {
	updated := time.Date(2024, time.March, 5, 9, 30, 0, 0, time.UTC)
	return []domain.Component{
		{
			ID:           "c-1",
			SerialNumber: "AB-12",
			Type:         "Thermal",
			DateReceived: domain.NewDate(2024, time.March, 1),
			ArrivedFrom:  "Depot",
			PrimaryFault: "Cracked",
			Status:       domain.StatusFaulty,
			UpdateDate:   updated,
		},
		{
			ID:           "c-2",
			SerialNumber: "CD-34",
			Type:         "Optical",
			ArrivedFrom:  "Field",
			Status:       domain.StatusUsable,
			UpdateDate:   updated.Add(time.Hour),
		},
	}
}

func TestWriteWorkbookRoundTrip(t *testing.T) {
	source := &stubSource{components: sampleComponents()}
	service := NewService(source)

	var buf bytes.Buffer
	n, err := service.WriteWorkbook(context.Background(), &buf, domain.ComponentFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(buf.Len()), n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()

	assert.Equal(t, []string{ComponentsSheet, SummarySheet}, f.GetSheetList())

	rows, err := f.GetRows(ComponentsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, ComponentHeaders, rows[0])
	assert.Equal(t, []string{"c-1", "AB-12", "Thermal", "2024-03-01", "Depot", "Cracked", "", "faulty", "2024-03-05T09:30:00Z"}, rows[1])
	assert.Equal(t, "", rows[2][3], "missing date stays blank")
	assert.Equal(t, "usable", rows[2][7])

	summary, err := f.GetRows(SummarySheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"Status", "Count"}, summary[0])
	assert.Equal(t, []string{"Usable", "1"}, summary[1])
	assert.Equal(t, []string{"Faulty", "1"}, summary[2])
	assert.Equal(t, []string{"Total", "2"}, summary[6])
	assert.Equal(t, []string{"Type", "usable", "faulty", "in-process", "returned", "closed", "total"}, summary[8])
	assert.Equal(t, []string{"Thermal", "0", "1", "0", "0", "0", "1"}, summary[9])
	assert.Equal(t, []string{"Optical", "1", "0", "0", "0", "0", "1"}, summary[10])
}

func TestWriteWorkbookAppliesFilter(t *testing.T) {
	source := &stubSource{components: sampleComponents()}
	service := NewService(source)

	var buf bytes.Buffer
	_, err := service.WriteWorkbook(context.Background(), &buf, domain.ComponentFilter{Status: domain.StatusUsable})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusUsable, source.filter.Status)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rows, err := f.GetRows(ComponentsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "CD-34", rows[1][1])
}

func TestWriteWorkbookPropagatesSourceErrors(t *testing.T) {
	boom := domain.NewStorageError("list components", errors.New("disk gone"))
	service := NewService(&stubSource{err: boom})

	var buf bytes.Buffer
	_, err := service.WriteWorkbook(context.Background(), &buf, domain.ComponentFilter{})
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.Zero(t, buf.Len())
}

type shortWriter struct {
	limit   int
	written int
}

func (w *shortWriter) Write(p []byte) (int, error) {
	room := w.limit - w.written
	if len(p) <= room {
		w.written += len(p)
		return len(p), nil
	}
	w.written += room
	return room, errors.New("client went away")
}

func TestWriteWorkbookReportsBytesSentBeforeFailure(t *testing.T) {
	service := NewService(&stubSource{components: sampleComponents()})

	w := &shortWriter{limit: 512}
	n, err := service.WriteWorkbook(context.Background(), w, domain.ComponentFilter{})
	require.Error(t, err)
	assert.Equal(t, int64(512), n)
}

func TestFileNameUsesClockAndLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	service := NewService(&stubSource{},
		WithClock(func() time.Time { return time.Date(2024, time.March, 5, 23, 15, 0, 0, time.UTC) }),
		WithLocation(loc),
	)
	assert.Equal(t, "components-20240306-011500.xlsx", service.FileName())
}
