package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rpattn/comptrack/internal/auth"
	"github.com/rpattn/comptrack/internal/domain"
	"github.com/rpattn/comptrack/internal/logger"
	"github.com/rpattn/comptrack/internal/metrics"
)

type countingSource struct {
	calls atomic.Int32
}

func (s *countingSource) HistoryByIDs(_ context.Context, ids []string) (map[string][]domain.HistoryEntry, error) {
	s.calls.Add(1)
	out := make(map[string][]domain.HistoryEntry, len(ids))
	for _, id := range ids {
		out[id] = []domain.HistoryEntry{{ComponentID: id, Version: 1}}
	}
	return out, nil
}

func TestDataLoaderMiddlewareAttachesLoader(t *testing.T) {
	source := &countingSource{}
	var got map[string][]domain.HistoryEntry
	handler := DataLoaderMiddleware(source)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loader := HistoryLoaderFromContext(r.Context())
		require.NotNil(t, loader)
		var err error
		got, err = loader.LoadMany(r.Context(), []string{"a", "b"})
		require.NoError(t, err)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, got, 2)
	assert.Equal(t, int32(1), source.calls.Load())
	assert.Nil(t, HistoryLoaderFromContext(context.Background()))
}

func TestActorMiddleware(t *testing.T) {
	var seen string
	var present bool
	handler := ActorMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, present = auth.ActorFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(ActorHeader, "  bob ")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.True(t, present)
	assert.Equal(t, "bob", seen)

	present = false
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.False(t, present)
}

func TestLoggingMiddlewareRecordsRoute(t *testing.T) {
	recorder := metrics.New()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /things/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	handler := LoggingMiddleware(logger.Discard(), recorder)(mux)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/things/7", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nowhere", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	metricsRec := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(metricsRec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := metricsRec.Body.String()
	assert.Contains(t, body, `comptrack_http_requests_total{method="GET",route="GET /things/{id}",status="418"} 1`)
	assert.Contains(t, body, `route="unmatched",status="404"`)
}
