// Package audit provides HTTP middleware recording one audit entry per gateway API call.
// Entries go to a Sink, the gateway keeps nothing itself.
package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/umputun/spendgate/app/enum"
)

// Entry is a single audit record.
type Entry struct {
	Timestamp time.Time        `json:"ts"`
	Action    enum.AuditAction `json:"action"`
	Method    string           `json:"method"`
	Path      string           `json:"path"`
	Actor     string           `json:"actor"`
	ActorType enum.ActorType   `json:"actor_type"`
	Result    enum.AuditResult `json:"result"`
	Status    int              `json:"status"`
	Size      int              `json:"size"` // response body bytes
	IP        string           `json:"ip,omitempty"`
	UserAgent string           `json:"user_agent,omitempty"`
	RequestID string           `json:"request_id,omitempty"`
}

// Sink receives audit entries.
type Sink interface {
	Record(ctx context.Context, entry Entry) error
}

// responseCapture wraps http.ResponseWriter to capture status code and bytes written.
type responseCapture struct {
	http.ResponseWriter
	status       int
	bytesWritten int
}

func newResponseCapture(w http.ResponseWriter) *responseCapture {
	return &responseCapture{ResponseWriter: w, status: http.StatusOK}
}

// WriteHeader captures the status code and delegates to wrapped writer.
func (rc *responseCapture) WriteHeader(code int) {
	rc.status = code
	rc.ResponseWriter.WriteHeader(code)
}

// Write captures bytes written and delegates to wrapped writer.
func (rc *responseCapture) Write(b []byte) (int, error) {
	n, err := rc.ResponseWriter.Write(b)
	rc.bytesWritten += n
	if err != nil {
		return n, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Unwrap returns the underlying ResponseWriter (for http.ResponseController).
func (rc *responseCapture) Unwrap() http.ResponseWriter {
	return rc.ResponseWriter
}

// Flush implements http.Flusher.
func (rc *responseCapture) Flush() {
	if f, ok := rc.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Hijack implements http.Hijacker.
func (rc *responseCapture) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rc.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not implement http.Hijacker")
	}
	conn, rw, err := hj.Hijack()
	if err != nil {
		return nil, nil, fmt.Errorf("hijack: %w", err)
	}
	return conn, rw, nil
}

// Middleware returns middleware recording an entry to sink after the handler completes.
func Middleware(sink Sink) func(http.Handler) http.Handler {
	return newRecorder(sink).middleware
}

// NoopMiddleware returns a pass-through middleware (used when audit is disabled).
func NoopMiddleware(next http.Handler) http.Handler {
	return next
}
