// Package middleware provides the HTTP middleware shared by ForgeBot's
// request surfaces.
package middleware

import (
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/Strob0t/ForgeBot/internal/logger"
)

const headerRequestID = "X-Request-ID"

// validRequestID bounds caller-supplied IDs before they reach logs and
// websocket filters.
var validRequestID = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// RequestID is HTTP middleware that takes X-Request-ID from the request or
// generates one. The ID becomes the request's correlation ID: it is stored
// in the context and echoed on the response.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if !validRequestID.MatchString(id) {
			id = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), id)
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
