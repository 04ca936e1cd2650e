package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("server: write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// reportError logs a server-side failure and sends it to Sentry. Sentry
// calls are no-ops when no client was initialized.
func reportError(r *http.Request, err error, msg string, fields ...zap.Field) {
	reqID := middleware.GetReqID(r.Context())
	zap.L().Error(msg, append(fields, zap.String("request_id", reqID), zap.Error(err))...)

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("route", r.URL.Path)
		scope.SetTag("request_id", reqID)
		scope.SetExtra("message", msg)
		sentry.CaptureException(err)
	})
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("server: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
