package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/snowskill/snowskill-backend/api/responses"
	"github.com/snowskill/snowskill-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// Edge proxies send their own ids; anything longer or outside this set is
// replaced so it cannot be used to inject into logs or error bodies.
var acceptedRequestID = regexp.MustCompile(`^[A-Za-z0-9._-]{1,64}$`)

// RequestID tags the request, its log lines and any error body with one id.
func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := inboundRequestID(r)
			w.Header().Set(requestIDHeader, reqID)

			ctx := responses.WithRequestID(r.Context(), reqID)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, reqID)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func inboundRequestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); acceptedRequestID.MatchString(id) {
		return id
	}
	return uuid.NewString()
}
