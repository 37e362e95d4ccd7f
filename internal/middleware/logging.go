// internal/middleware/logging.go
package middleware

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// statusRecorder captures the response code for the request log line.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// RequestLogger logs each plain HTTP request with its method, path,
// response status and elapsed time. Not applied to the websocket
// route, which has its own open/close logging.
func RequestLogger(logger *logrus.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			logger.WithFields(logrus.Fields{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     rec.status,
				"elapsed_ms": time.Since(start).Milliseconds(),
				"remote":     r.RemoteAddr,
			}).Info("http request")
		})
	}
}

// LogSocketOpen marks a websocket upgrade.
func LogSocketOpen(logger *logrus.Logger, connID, remote string) {
	logger.WithFields(logrus.Fields{
		"conn_id": connID,
		"remote":  remote,
	}).Info("websocket connected")
}

// LogSocketClose marks a websocket teardown; err is nil on a clean close.
func LogSocketClose(logger *logrus.Logger, connID, remote string, err error) {
	fields := logrus.Fields{
		"conn_id": connID,
		"remote":  remote,
	}
	if err != nil {
		fields["error"] = err
	}
	logger.WithFields(fields).Info("websocket closed")
}
