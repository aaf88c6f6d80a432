package middleware

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"SurgeGate/internal/metrics"
	pkglog "SurgeGate/pkg/log"
)

// statusWriter captures the status code and body size of a response as it
// streams through to the client.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	n, err := sw.ResponseWriter.Write(b)
	sw.bytes += n
	return n, err
}

// Hijack passes through so WebSocket-style upgrades keep working behind
// the chain.
func (sw *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := sw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Logging logs every request with its resolved identity and records the
// request metrics. Slow requests are flagged automatically by the helper.
//
// Example output:
//
//	🟢 GET /api/v1/catalog?page=2 - 200 (42ms) | RequestID: mgrn0zfqda
//	🐌 [mgrn0zfqda] Slow request detected | GET /api/v1/reports/summary | 1.3s
func Logging(logger *pkglog.LogHelper, m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()

			url := r.URL.Path
			if r.URL.RawQuery != "" {
				url = url + "?" + r.URL.RawQuery
			}

			sw := newStatusWriter(w)
			next.ServeHTTP(sw, r)

			duration := time.Since(startTime)

			logger.RequestWithContext(r.Context(), r.Method, url, sw.status, duration.Milliseconds(),
				"ip", ClientIPFrom(r.Context()),
				"user_agent", r.Header.Get("User-Agent"),
				"bytes", sw.bytes,
			)

			if m != nil {
				m.RecordHTTPRequest(r.Method, routeLabel(r.URL.Path), sw.status, duration)
			}
		})
	}
}

// routeLabel collapses per-resource path segments so metric label
// cardinality stays bounded.
func routeLabel(path string) string {
	const catalogPrefix = "/api/v1/catalog/"
	if strings.HasPrefix(path, catalogPrefix) {
		rest := path[len(catalogPrefix):]
		if rest != "" && rest != "stats" && !strings.Contains(rest, "/") {
			return catalogPrefix + ":id"
		}
	}
	return path
}
