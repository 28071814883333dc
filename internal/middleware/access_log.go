package middleware

import (
	"context"
	"net/http"
	"time"

	"chat_gateway/internal/logging"
)

// AccessLog records one access log entry per request. A nil logger disables it.
// Headers, cookies and bodies are never logged.
func AccessLog(logger *logging.AccessLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logger == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			info := &requestInfo{}
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			ctx := context.WithValue(r.Context(), requestInfoKey, info)
			next.ServeHTTP(rec, r.WithContext(ctx))

			logger.Log(logging.AccessEntry{
				Timestamp:  start.UTC(),
				RequestID:  GetRequestID(r.Context()),
				Method:     r.Method,
				Path:       r.URL.Path,
				Status:     rec.status,
				DurationMS: float64(time.Since(start).Microseconds()) / 1000,
				Bytes:      rec.bytes,
				RemoteAddr: r.RemoteAddr,
				UserAgent:  r.UserAgent(),
				UserID:     info.userID,
			})
		})
	}
}

// statusRecorder captures the status code and body size written by a handler
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int64
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status = code
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
