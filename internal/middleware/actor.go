package middleware

import (
	"net/http"

	"github.com/rpattn/comptrack/internal/auth"
)

// ActorHeader names the client identity recorded as updatedBy.
const ActorHeader = "X-Actor"

// ActorMiddleware moves a valid ActorHeader value into the request context. Requests without
// the header keep the service's system actor; malformed values are rejected with 400.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := auth.NormalizeActor(r.Header.Get(ActorHeader))
		if err != nil {
			http.Error(w, "invalid "+ActorHeader+": "+err.Error(), http.StatusBadRequest)
			return
		}
		if actor != "" {
			r = r.WithContext(auth.ContextWithActor(r.Context(), actor))
		}
		next.ServeHTTP(w, r)
	})
}
