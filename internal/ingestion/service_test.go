package ingestion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/comptrack/internal/dashboard"
	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/export"
	"github.com/rpattn/comptrack/internal/inventory"
	"github.com/rpattn/comptrack/internal/logger"
	"github.com/rpattn/comptrack/internal/repository/memory"
)

var testRules = domain.FieldRules{Types: []string{"Thermal", "Optical"}, Location: time.UTC}

func newInventory(t *testing.T) (*inventory.Service, *memory.Store) {
	t.Helper()
	store := memory.NewStore()
	clock := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	service := inventory.NewService(store, testRules,
		inventory.WithClock(func() time.Time { return clock }),
		inventory.WithLogger(logger.Discard()),
	)
	return service, store
}

func TestIngestCSVCreatesComponents(t *testing.T) {
	inv, store := newInventory(t)
	service := NewService(inv, logger.Discard())

	data := "\xEF\xBB\xBFSerial Number,Type,Date Received,Arrived From,Status,Notes\n" +
		"ab-12,Thermal,2024-03-01,Depot,,fragile\n" +
		"cd-34,Sonar,2024-03-02,Depot,,\n" +
		",,,,,\n" +
		"ef-56,Optical,2024-03-03,Field,faulty,\n"

	summary, err := service.Ingest(context.Background(), Request{FileName: "batch.csv", Data: strings.NewReader(data)})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalRows)
	assert.Equal(t, 2, summary.CreatedRows)
	assert.Equal(t, 1, summary.InvalidRows)
	assert.Equal(t, []string{"Notes"}, summary.IgnoredColumns)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, 3, summary.Errors[0].Row)
	assert.Equal(t, "type", summary.Errors[0].Field)
	require.Len(t, summary.CreatedIDs, 2)

	first, err := store.Get(context.Background(), summary.CreatedIDs[0])
	require.NoError(t, err)
	assert.Equal(t, "AB-12", first.SerialNumber)
	assert.Equal(t, domain.NewDate(2024, time.March, 1), first.DateReceived)
	assert.Equal(t, domain.InitialStatus, first.Status)

	faulty, err := inv.Get(context.Background(), summary.CreatedIDs[1])
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFaulty, faulty.Status)
	require.Len(t, faulty.History, 2)
	assert.True(t, faulty.History[0].Changes.IsCreated())
	change, ok := faulty.History[1].Changes.Change(domain.FieldStatus)
	require.True(t, ok)
	assert.Equal(t, "faulty", change.New)
}

func TestIngestRejectsInvalidStatusWithoutCreating(t *testing.T) {
	inv, store := newInventory(t)
	service := NewService(inv, logger.Discard())

	data := "serial,status\nAB-1,broken\n"
	summary, err := service.Ingest(context.Background(), Request{FileName: "x.csv", Data: strings.NewReader(data)})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.InvalidRows)
	assert.Equal(t, "status", summary.Errors[0].Field)

	all, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestIngestXLSXFromExportedWorkbook(t *testing.T) {
	components := []domain.Component{
		{ID: "old-1", SerialNumber: "XL-1", Type: "Thermal", DateReceived: domain.NewDate(2024, time.January, 2), ArrivedFrom: "Depot", Status: domain.StatusUsable, UpdateDate: time.Now()},
		{ID: "old-2", SerialNumber: "XL-2", Type: "Optical", DateReceived: domain.NewDate(2024, time.January, 3), PrimaryFault: "Lens", Status: domain.StatusInProcess, UpdateDate: time.Now()},
	}
	f, err := export.BuildWorkbook(components, dashboard.Compute(components, testRules.Types), time.UTC)
	require.NoError(t, err)
	var buf bytes.Buffer
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	inv, store := newInventory(t)
	service := NewService(inv, logger.Discard())
	summary, err := service.Ingest(context.Background(), Request{FileName: "components.XLSX", Data: &buf})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.CreatedRows)
	assert.Zero(t, summary.InvalidRows)
	assert.Equal(t, []string{"ID", "Last Updated"}, summary.IgnoredColumns)

	all, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	bySerial := map[string]domain.Component{}
	for _, c := range all {
		bySerial[c.SerialNumber] = c
	}
	assert.Equal(t, domain.StatusUsable, bySerial["XL-1"].Status)
	assert.Equal(t, "Lens", bySerial["XL-2"].PrimaryFault)
	assert.Equal(t, domain.NewDate(2024, time.January, 3), bySerial["XL-2"].DateReceived)
}

func TestIngestRejectsUnsupportedFormat(t *testing.T) {
	inv, _ := newInventory(t)
	service := NewService(inv, logger.Discard())
	_, err := service.Ingest(context.Background(), Request{FileName: "data.json", Data: strings.NewReader("{}")})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestIngestRequiresRecognisedColumns(t *testing.T) {
	inv, _ := newInventory(t)
	service := NewService(inv, logger.Discard())
	_, err := service.Ingest(context.Background(), Request{FileName: "data.csv", Data: strings.NewReader("a,b\n1,2\n")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no recognised columns")
}

type failingWriter struct {
	created int
}

func (w *failingWriter) Create(context.Context, map[string]any) (domain.Component, error) {
	w.created++
	if w.created > 1 {
		return domain.Component{}, domain.NewStorageError("put component", errors.New("disk full"))
	}
	return domain.Component{ID: "ok", Status: domain.InitialStatus}, nil
}

func (w *failingWriter) Update(context.Context, string, map[string]any) (domain.Component, error) {
	return domain.Component{}, nil
}

func (w *failingWriter) Rules() domain.FieldRules { return testRules }

func TestIngestStopsOnStorageFailure(t *testing.T) {
	service := NewService(&failingWriter{}, logger.Discard())
	data := "serial\nA\nB\nC\n"
	summary, err := service.Ingest(context.Background(), Request{FileName: "x.csv", Data: strings.NewReader(data)})
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 1, summary.CreatedRows)
	assert.Equal(t, 2, summary.TotalRows)
}

type statusFailingWriter struct {
	updated []string
}

func (w *statusFailingWriter) Create(context.Context, map[string]any) (domain.Component, error) {
	return domain.Component{ID: "c-a", Status: domain.InitialStatus}, nil
}

func (w *statusFailingWriter) Update(_ context.Context, id string, _ map[string]any) (domain.Component, error) {
	w.updated = append(w.updated, id)
	return domain.Component{}, domain.NewStorageError("append", context.DeadlineExceeded)
}

func (w *statusFailingWriter) Rules() domain.FieldRules { return testRules }

func TestIngestReportsCreatedRowWhenStatusUpdateFails(t *testing.T) {
	writer := &statusFailingWriter{}
	service := NewService(writer, logger.Discard())
	data := "serial,status\nA,faulty\nB,faulty\n"
	summary, err := service.Ingest(context.Background(), Request{FileName: "x.csv", Data: strings.NewReader(data)})
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.Contains(t, err.Error(), "c-a")
	assert.Equal(t, []string{"c-a"}, writer.updated)
	assert.Equal(t, 1, summary.CreatedRows)
	assert.Equal(t, []string{"c-a"}, summary.CreatedIDs)
	assert.Equal(t, 1, summary.TotalRows)
}

func multipartRequest(t *testing.T, fileName, content string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = part.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/components/import", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestHTTPHandler(t *testing.T) {
	inv, _ := newInventory(t)
	handler := NewHTTPHandler(NewService(inv, logger.Discard()))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t, "ok.csv", "serial,type\nAB-1,Thermal\n"))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 1, summary.CreatedRows)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, multipartRequest(t, "bad.txt", "serial\nA\n"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad_request")

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/components/import", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	failing := NewHTTPHandler(NewService(&failingWriter{}, logger.Discard()))
	failing.ServeHTTP(rec, multipartRequest(t, "x.csv", "serial\nA\nB\n"))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "storage_failure")
}
