package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/export"
	"github.com/rpattn/comptrack/internal/ingestion"
	"github.com/rpattn/comptrack/internal/inventory"
	"github.com/rpattn/comptrack/internal/logger"
	"github.com/rpattn/comptrack/internal/metrics"
	"github.com/rpattn/comptrack/internal/middleware"
	"github.com/rpattn/comptrack/internal/repository"
	"github.com/rpattn/comptrack/internal/repository/memory"
)

var testRules = domain.FieldRules{Types: []string{"Thermal", "Optical"}, Location: time.UTC}

type fixture struct {
	handler  http.Handler
	store    repository.ComponentStore
	recorder *metrics.Recorder
}

func newFixture(t *testing.T, store repository.ComponentStore) *fixture {
	t.Helper()
	if store == nil {
		store = memory.NewStore(memory.WithLockTimeout(100 * time.Millisecond))
	}
	clock := time.Date(2024, time.March, 5, 9, 0, 0, 0, time.UTC)
	tick := func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	recorder := metrics.New()
	inv := inventory.NewService(store, testRules,
		inventory.WithClock(tick),
		inventory.WithLogger(logger.Discard()),
		inventory.WithMetrics(recorder),
	)
	handler := NewHandler(Config{
		Inventory: inv,
		Importer:  ingestion.NewService(inv, logger.Discard()),
		Metrics:   recorder,
		Logger:    logger.Discard(),
		Location:  time.UTC,
	})
	return &fixture{handler: handler, store: store, recorder: recorder}
}

func (f *fixture) do(t *testing.T, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (f *fixture) create(t *testing.T, body string) domain.Component {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/components", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[domain.Component](t, rec)
}

func TestCreateGetUpdateFlow(t *testing.T) {
	f := newFixture(t, nil)

	created := f.create(t, `{"serialNumber":"ab-12","type":"Thermal","dateReceived":"2024-03-01","arrivedFrom":"Depot"}`)
	assert.Equal(t, "AB-12", created.SerialNumber)
	assert.Equal(t, domain.InitialStatus, created.Status)

	rec := f.do(t, http.MethodPut, "/api/components/"+created.ID, `{"updatedFields":{"status":"usable"}}`, middleware.ActorHeader, "alice")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[domain.Component](t, rec)
	assert.Equal(t, domain.StatusUsable, updated.Status)

	rec = f.do(t, http.MethodPut, "/api/components/"+created.ID, `{"primaryFault":"Cracked lens"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/components/"+created.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[inventory.ComponentWithHistory](t, rec)
	assert.Equal(t, "Cracked lens", got.PrimaryFault)
	require.Len(t, got.History, 3)
	assert.Equal(t, "alice", got.History[1].UpdatedBy)
	assert.Equal(t, "system", got.History[2].UpdatedBy)
	require.NoError(t, domain.ValidateTimeline(got.Component, got.History))

	rec = f.do(t, http.MethodGet, "/api/components/"+created.ID+"/history/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decode[domain.HistoryEntry](t, rec)
	assert.Equal(t, 2, entry.Version)
	assert.Equal(t, domain.StatusUsable, entry.FullState.Status)
	assert.Empty(t, entry.FullState.PrimaryFault)

	rec = f.do(t, http.MethodGet, "/api/components/"+created.ID+"/diff?from=1&to=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "-  status: in-process")
	assert.Contains(t, rec.Body.String(), "+  status: usable")
}

func TestNoopUpdateWritesNothing(t *testing.T) {
	f := newFixture(t, nil)
	created := f.create(t, `{"serialNumber":"AB-12","type":"Thermal","dateReceived":"2024-03-01"}`)

	rec := f.do(t, http.MethodPut, "/api/components/"+created.ID, `{"serialNumber":"ab-12","dateReceived":"2024-03-01T10:00:00"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	history, err := f.store.ListHistory(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestErrorMapping(t *testing.T) {
	f := newFixture(t, nil)
	created := f.create(t, `{"serialNumber":"AB-12","type":"Thermal"}`)

	tests := []struct {
		name   string
		method string
		target string
		body   string
		status int
		code   string
		field  string
	}{
		{"missing component", http.MethodGet, "/api/components/nope", "", http.StatusNotFound, "not_found", ""},
		{"update missing", http.MethodPut, "/api/components/nope", `{"status":"usable"}`, http.StatusNotFound, "not_found", ""},
		{"invalid status", http.MethodPut, "/api/components/" + created.ID, `{"status":"broken"}`, http.StatusUnprocessableEntity, "validation_error", "status"},
		{"invalid type on create", http.MethodPost, "/api/components", `{"type":"Sonar"}`, http.StatusUnprocessableEntity, "validation_error", "type"},
		{"malformed json", http.MethodPost, "/api/components", `{"type":`, http.StatusBadRequest, "bad_request", ""},
		{"bad version", http.MethodGet, "/api/components/" + created.ID + "/history/abc", "", http.StatusBadRequest, "bad_request", ""},
		{"missing version", http.MethodGet, "/api/components/" + created.ID + "/history/9", "", http.StatusNotFound, "not_found", ""},
		{"diff without range", http.MethodGet, "/api/components/" + created.ID + "/diff", "", http.StatusBadRequest, "bad_request", ""},
		{"unknown status filter", http.MethodGet, "/api/components?status=broken", "", http.StatusUnprocessableEntity, "validation_error", "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, tt.method, tt.target, tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			body := decode[errorBody](t, rec)
			assert.Equal(t, tt.code, body.Error.Code)
			assert.Equal(t, tt.field, body.Error.Field)
		})
	}

	history, err := f.store.ListHistory(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1, "failed updates leave no history")
}

func TestInvalidActorIsRejected(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodPost, "/api/components", `{}`, middleware.ActorHeader, strings.Repeat("x", 500))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	all, err := f.store.ListAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestConflictCarriesRetryAfter(t *testing.T) {
	f := newFixture(t, nil)
	created := f.create(t, `{"serialNumber":"LK-1"}`)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- f.store.RunInTx(context.Background(), func(ctx context.Context, tx repository.ComponentTx) error {
			_, err := tx.GetForUpdate(ctx, created.ID)
			close(locked)
			<-release
			return err
		})
	}()
	<-locked

	rec := f.do(t, http.MethodPut, "/api/components/"+created.ID, `{"status":"usable"}`)
	close(release)
	require.NoError(t, <-done)

	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "conflict", decode[errorBody](t, rec).Error.Code)
}

type brokenStore struct {
	repository.ComponentStore
}

func (brokenStore) ListAll(context.Context) ([]domain.Component, error) {
	return nil, domain.NewStorageError("list components", errors.New("connection reset by peer"))
}

func TestStorageFailureIsNeverSuccess(t *testing.T) {
	f := newFixture(t, brokenStore{ComponentStore: memory.NewStore()})

	for _, target := range []string{"/api/components", "/api/dashboard", "/api/backup", "/api/export.xlsx"} {
		rec := f.do(t, http.MethodGet, target, "")
		require.Equal(t, http.StatusInternalServerError, rec.Code, target)
		body := decode[errorBody](t, rec)
		assert.Equal(t, "storage_failure", body.Error.Code, target)
		assert.NotContains(t, body.Error.Message, "connection reset", target)
		assert.Empty(t, rec.Header().Get("Content-Disposition"), target)
	}
}

func TestListFiltersAndIncludesHistory(t *testing.T) {
	f := newFixture(t, nil)
	a := f.create(t, `{"serialNumber":"AA-1","type":"Thermal"}`)
	b := f.create(t, `{"serialNumber":"BB-2","type":"Optical"}`)
	rec := f.do(t, http.MethodPut, "/api/components/"+a.ID, `{"status":"faulty"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/components", "")
	require.Equal(t, http.StatusOK, rec.Code)
	all := decode[[]domain.Component](t, rec)
	require.Len(t, all, 2)
	assert.Equal(t, a.ID, all[0].ID, "most recently updated first")
	assert.Equal(t, b.ID, all[1].ID)

	rec = f.do(t, http.MethodGet, "/api/components?type=Optical", "")
	filtered := decode[[]domain.Component](t, rec)
	require.Len(t, filtered, 1)
	assert.Equal(t, b.ID, filtered[0].ID)

	rec = f.do(t, http.MethodGet, "/api/components?q=aa&include=history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	withHistory := decode[[]inventory.ComponentWithHistory](t, rec)
	require.Len(t, withHistory, 1)
	assert.Len(t, withHistory[0].History, 2)
}

func TestDashboardCounts(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, `{"type":"Thermal"}`)
	f.create(t, `{"type":"Optical"}`)

	rec := f.do(t, http.MethodGet, "/api/dashboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var kpis struct {
		TotalComponents int `json:"totalComponents"`
		TotalInProcess  int `json:"totalInProcess"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &kpis))
	assert.Equal(t, 2, kpis.TotalComponents)
	assert.Equal(t, 2, kpis.TotalInProcess)
}

func TestExportWorkbook(t *testing.T) {
	f := newFixture(t, nil)
	f.create(t, `{"serialNumber":"XL-1","type":"Thermal"}`)

	rec := f.do(t, http.MethodGet, "/api/export.xlsx", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, export.ContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".xlsx")

	wb, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer func() { _ = wb.Close() }()
	rows, err := wb.GetRows(export.ComponentsSheet)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "XL-1", rows[1][1])
}

func TestBackupDownloadAndRestore(t *testing.T) {
	f := newFixture(t, nil)
	kept := f.create(t, `{"serialNumber":"KEEP-1","type":"Thermal"}`)
	rec := f.do(t, http.MethodPut, "/api/components/"+kept.ID, `{"status":"usable"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/backup", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	snapshot := rec.Body.String()

	dropped := f.create(t, `{"serialNumber":"DROP-1"}`)

	rec = f.do(t, http.MethodPost, "/api/backup/restore", snapshot)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = f.do(t, http.MethodGet, "/api/components/"+dropped.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/components/"+kept.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[inventory.ComponentWithHistory](t, rec)
	assert.Equal(t, domain.StatusUsable, got.Status)
	assert.Len(t, got.History, 2)

	rec = f.do(t, http.MethodPost, "/api/backup/restore", `{"formatVersion":99}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	rec = f.do(t, http.MethodGet, "/api/components/"+kept.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code, "rejected restore leaves state untouched")
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, nil)
	created := f.create(t, `{}`)
	f.do(t, http.MethodGet, "/api/components/"+created.ID, "")

	rec := f.do(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "comptrack_components_created_total 1")
	assert.Contains(t, body, `route="GET /api/components/{id}"`)
	assert.Contains(t, body, `route="POST /api/components"`)
}

func TestRequestIDIsEchoed(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(t, http.MethodGet, "/healthz", "", middleware.RequestIDHeader, "req-42")
	assert.Equal(t, "req-42", rec.Header().Get(middleware.RequestIDHeader))

	rec = f.do(t, http.MethodGet, "/healthz", "")
	assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
}
