// Package diag is the per-connection diagnostic observer of the relay path.
//
// Every line carries the connection's correlation id under "conn_id". The
// logger only reads what it is given; it never mutates headers or bodies
// and never returns errors to the caller.
package diag

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"
)

// EmptyBody is logged in place of a zero-length body.
const EmptyBody = "empty"

// Logger writes correlation-id-keyed diagnostic lines.
type Logger struct {
	logger       *slog.Logger
	previewBytes int
}

// New creates a Logger. previewBytes caps how much of a text body is logged.
func New(logger *slog.Logger, previewBytes int) *Logger {
	return &Logger{
		logger:       logger.With("component", "diag"),
		previewBytes: previewBytes,
	}
}

// ConnOpen records the start of an inbound connection.
func (l *Logger) ConnOpen(connID, remote string) {
	l.logger.Info("start deal connect", "conn_id", connID, "remote", remote)
}

// ConnClose records the end of an inbound connection.
func (l *Logger) ConnClose(connID, remote string) {
	l.logger.Info("finish deal connect", "conn_id", connID, "remote", remote)
}

// Request records an inbound request line.
func (l *Logger) Request(connID, method, uri string) {
	l.logger.Info("origin request", "conn_id", connID, "method", method, "uri", uri)
}

// Target records the resolved outbound URL.
func (l *Logger) Target(connID, target string) {
	l.logger.Info("redirect url", "conn_id", connID, "target", target)
}

// Headers records a header set at debug level.
func (l *Logger) Headers(connID, label string, h http.Header) {
	if !l.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.logger.Debug(label+" headers", "conn_id", connID, "headers", h)
}

// Body records a body preview at debug level. See Preview for how the body
// is rendered.
func (l *Logger) Body(connID, label, contentType string, body []byte) {
	if !l.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	l.logger.Debug(label+" body",
		"conn_id", connID,
		"bytes", len(body),
		"preview", Preview(contentType, body, l.previewBytes),
	)
}

// Status records the backend response status.
func (l *Logger) Status(connID string, status int) {
	l.logger.Info("forward response status", "conn_id", connID, "status", status)
}

// Failure records a failed relay stage.
func (l *Logger) Failure(connID, stage string, err error) {
	l.logger.Warn("forward failed", "conn_id", connID, "stage", stage, "err", err)
}

// SessionDone records the outcome of an outbound session's background task.
func (l *Logger) SessionDone(connID string, err error) {
	if err != nil {
		l.logger.Debug("forward connect fail", "conn_id", connID, "err", err)
	}
	l.logger.Debug("forward connect finish", "conn_id", connID)
}

// Preview renders body for logging without ever failing:
//   - image content types yield the content type only
//   - an empty body yields EmptyBody
//   - valid UTF-8 yields the text, cut to limit bytes on a rune boundary
//   - anything else yields a byte count
func Preview(contentType string, body []byte, limit int) string {
	if strings.HasPrefix(contentType, "image") {
		return contentType
	}
	if len(body) == 0 {
		return EmptyBody
	}
	if !utf8.Valid(body) {
		return fmt.Sprintf("<%d bytes binary>", len(body))
	}
	if limit <= 0 || len(body) <= limit {
		return string(body)
	}
	n := limit
	for n > 0 && !utf8.RuneStart(body[n]) {
		n--
	}
	return fmt.Sprintf("%s...(%d bytes total)", body[:n], len(body))
}
