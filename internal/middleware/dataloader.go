package middleware

import (
	"context"
	"net/http"

	"github.com/rpattn/comptrack/internal/historyloader"
)

type ctxKey string

const historyLoaderKey ctxKey = "historyLoader"

// DataLoaderMiddleware attaches a fresh history loader to every request context
func DataLoaderMiddleware(source historyloader.HistorySource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loader := historyloader.NewHistoryLoader(source)
			ctx := context.WithValue(r.Context(), historyLoaderKey, loader)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// HistoryLoaderFromContext retrieves the history loader from context
func HistoryLoaderFromContext(ctx context.Context) *historyloader.HistoryLoader {
	if l, ok := ctx.Value(historyLoaderKey).(*historyloader.HistoryLoader); ok {
		return l
	}
	return nil
}
