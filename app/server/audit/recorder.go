package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest/realip"

	"github.com/umputun/spendgate/app/enum"
	"github.com/umputun/spendgate/app/server/auth"
)

// recorder builds audit entries and passes them to the sink.
type recorder struct {
	sink Sink
}

func newRecorder(sink Sink) *recorder {
	return &recorder{sink: sink}
}

// middleware wraps the handler and records an entry after it completes, including rejected requests.
func (a *recorder) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rc := newResponseCapture(w)
		next.ServeHTTP(rc, r)

		entry := a.buildEntry(r, rc)
		if err := a.sink.Record(r.Context(), entry); err != nil {
			log.Printf("[WARN] failed to record audit entry: %v", err)
		}
	})
}

// buildEntry creates an audit entry from request and response data.
func (a *recorder) buildEntry(r *http.Request, rc *responseCapture) Entry {
	actor, actorType := a.extractActor(r)
	ip, _ := realip.Get(r) // ignore error, fallback to empty string

	requestID := r.Header.Get("X-Request-ID")
	if requestID == "" {
		requestID = rc.Header().Get("X-Request-ID")
	}

	return Entry{
		Timestamp: time.Now(),
		Action:    a.mapAction(r.Method, r.URL.Path),
		Method:    r.Method,
		Path:      r.URL.Path,
		Actor:     actor,
		ActorType: actorType,
		Result:    a.mapStatus(rc.status),
		Status:    rc.status,
		Size:      rc.bytesWritten,
		IP:        ip,
		UserAgent: r.UserAgent(),
		RequestID: requestID,
	}
}

// extractActor returns the username of the identity attached to the request, or anonymous.
func (a *recorder) extractActor(r *http.Request) (string, enum.ActorType) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		return "anonymous", enum.ActorTypeAnonymous
	}
	return id.Username, enum.ActorTypeUser
}

// mapAction maps account endpoints to their actions, everything else by method.
func (a *recorder) mapAction(method, path string) enum.AuditAction {
	switch {
	case strings.HasSuffix(path, "/user/login"):
		return enum.AuditActionLogin
	case strings.HasSuffix(path, "/user/register"):
		return enum.AuditActionRegister
	case strings.HasSuffix(path, "/user/logout"):
		return enum.AuditActionLogout
	case strings.HasSuffix(path, "/user/activate"):
		return enum.AuditActionActivate
	}

	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return enum.AuditActionWrite
	case http.MethodDelete:
		return enum.AuditActionDelete
	default:
		return enum.AuditActionRead
	}
}

// mapStatus maps HTTP status code to audit result.
func (a *recorder) mapStatus(status int) enum.AuditResult {
	switch {
	case status >= 200 && status < 400:
		return enum.AuditResultSuccess
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return enum.AuditResultDenied
	case status == http.StatusBadGateway:
		return enum.AuditResultUnavailable
	case status >= 500:
		return enum.AuditResultError
	default:
		return enum.AuditResultRejected
	}
}

// LogSink writes audit entries to the logger as json.
type LogSink struct {
	l log.L
}

// NewLogSink makes a LogSink writing to l.
func NewLogSink(l log.L) *LogSink {
	return &LogSink{l: l}
}

// Record writes the entry as a single log line.
func (s *LogSink) Record(_ context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	s.l.Logf("[INFO] audit %s", data)
	return nil
}
