/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Seednode/newyear/internal/metrics"
)

// statusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Hijack lets websocket upgrades through.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}

	w.status = http.StatusSwitchingProtocols

	return h.Hijack()
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// instrument records Prometheus metrics for every request and logs it at
// debug level.
func instrument(cfg *Config, log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		elapsed := time.Since(start)
		path := normalizePath(cfg.prefix, r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(wrapped.status),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(elapsed.Seconds())

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.status).
			Str("size", humanReadableSize(wrapped.written)).
			Dur("latency", elapsed.Round(time.Microsecond)).
			Str("remote_addr", realIP(r)).
			Msg("SERVE")
	})
}

// normalizePath collapses parameterized routes to keep metric labels bounded.
func normalizePath(prefix, path string) string {
	path = strings.TrimPrefix(path, prefix)

	patterns := []struct{ prefix, normalized string }{
		{"/assets/", "/assets/*"},
		{"/favicons/", "/favicons/*"},
		{"/api/songs/", "/api/songs/:id"},
		{"/pprof/", "/pprof/*"},
	}
	for _, p := range patterns {
		if strings.HasPrefix(path, p.prefix) && len(path) > len(p.prefix) {
			return p.normalized
		}
	}

	switch path {
	case "/", "/api/barrage", "/api/content", "/api/lottery", "/api/lottery/draw",
		"/api/lottery/register", "/api/lottery/reset", "/api/messages", "/api/songs",
		"/favicon.svg", "/healthz", "/metrics", "/qr", "/robots.txt", "/version", "/ws":
		return path
	}

	return "other"
}

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}
