package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"orbguard-appscan/pkg/logger"
)

// ScanIDHeader carries the ID of the scan a response describes
const ScanIDHeader = "X-Scan-ID"

// quietRoutes are polled by orchestrators and only logged at debug level
var quietRoutes = map[string]bool{
	"/health": true,
	"/ready":  true,
}

// RequestLogger logs one line per request, tagged with the request ID, the
// matched route pattern, the {package} URL parameter and the scan ID header
// when present. 5xx responses log at error level and 4xx at warn.
func RequestLogger(log *logger.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		fn := func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			reqLog := log.WithRequestID(middleware.GetReqID(r.Context()))
			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				if pattern := rctx.RoutePattern(); pattern != "" {
					route = pattern
				}
				if pkg := rctx.URLParam("package"); pkg != "" {
					reqLog = reqLog.WithPackage(pkg)
				}
			}
			if scanID := ww.Header().Get(ScanIDHeader); scanID != "" {
				reqLog = reqLog.WithScanID(scanID)
			}

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			requestEvent(reqLog, status, route).
				Str("method", r.Method).
				Str("route", route).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("request completed")
		}
		return http.HandlerFunc(fn)
	}
}

func requestEvent(log *logger.Logger, status int, route string) *zerolog.Event {
	switch {
	case status >= http.StatusInternalServerError:
		return log.Error()
	case status >= http.StatusBadRequest:
		return log.Warn()
	case quietRoutes[route]:
		return log.Debug()
	default:
		return log.Info()
	}
}
