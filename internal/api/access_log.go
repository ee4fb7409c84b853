package api

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"time"
)

// accessLogWriter wraps http.ResponseWriter to capture the status code
type accessLogWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (rw *accessLogWriter) WriteHeader(status int) {
	rw.status = status
	rw.ResponseWriter.WriteHeader(status)
}

func (rw *accessLogWriter) Write(b []byte) (int, error) {
	if rw.status == 0 {
		rw.status = http.StatusOK
	}
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack keeps websocket upgrades working behind the logger.
func (rw *accessLogWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// accessLogger logs every request and records it in the API metrics.
func (s *Server) accessLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &accessLogWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		if s.metrics != nil {
			s.metrics.RecordAPIRequest(r.Method, metricsPath(r.URL.Path), rw.status, duration.Seconds())
		}

		log := s.logger.Debug
		if rw.status >= 500 {
			log = s.logger.Error
		} else if rw.status >= 400 {
			log = s.logger.Warn
		}
		log("request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote", s.clientIP(r),
			"status", rw.status,
			"size", rw.size,
			"duration", duration.Round(time.Millisecond))
	})
}

// metricsPath bounds the label cardinality to the registered routes.
func metricsPath(p string) string {
	switch p {
	case "/healthz", "/readyz", "/metrics", "/api/ruleset", "/api/ruleset/defaults",
		"/api/ruleset/rules", "/api/ruleset/events", "/api/audit":
		return p
	}
	if strings.HasPrefix(p, "/api/") {
		return "/api/other"
	}
	return "other"
}
