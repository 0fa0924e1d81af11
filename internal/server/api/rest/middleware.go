package rest

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// statusRecorder captures the response code for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withObservability tags each request with an id, logs it, and feeds the
// request counters. The id is echoed in X-Request-Id for correlation.
func (h *Handler) withObservability(pattern string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next(rec, r)

		elapsed := time.Since(start)
		if h.metrics != nil {
			h.metrics.RequestsTotal.WithLabelValues(pattern, strconv.Itoa(rec.status)).Inc()
			h.metrics.RequestDuration.WithLabelValues(pattern).Observe(elapsed.Seconds())
		}
		log.Printf("%s %s -> %d (%s) id=%s", r.Method, r.URL.Path, rec.status, elapsed, requestID)
	}
}
