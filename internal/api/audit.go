package api

import (
	"context"
	"net"
	"net/http"
	"strconv"

	"github.com/nerrad567/suntec-core/internal/audit"
	"github.com/nerrad567/suntec-core/internal/identity"
)

// auditChanSize is the buffer of the async audit writer. Entries beyond it
// are dropped so a slow disk never delays a sign-in.
const auditChanSize = 256

// auditLog enqueues an event for the background writer. It is a no-op
// when no audit repository is configured.
func (s *Server) auditLog(r *http.Request, action, uid, email string, details map[string]any) {
	if s.auditRepo == nil {
		return
	}

	ev := &audit.Event{
		Action:     action,
		UID:        uid,
		Email:      email,
		RemoteAddr: clientAddr(r),
		Details:    details,
	}

	select {
	case s.auditCh <- ev:
	default:
		s.logger.Warn("audit channel full, dropping event", "action", action)
	}
}

// clientAddr is the request's remote host without the port.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// drainAuditLog writes queued events serially until ctx is cancelled, then
// flushes what is left.
func (s *Server) drainAuditLog(ctx context.Context) {
	defer close(s.auditDone)

	write := func(ev *audit.Event) {
		if err := s.auditRepo.Create(context.Background(), ev); err != nil {
			s.logger.Error("audit write failed", "action", ev.Action, "error", err)
		}
	}

	for {
		select {
		case ev := <-s.auditCh:
			write(ev)
		case <-ctx.Done():
			for {
				select {
				case ev := <-s.auditCh:
					write(ev)
				default:
					return
				}
			}
		}
	}
}

// requireAdmin rejects callers whose token does not carry the admin role.
// It runs after authMiddleware.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			writeUnauthorized(w, msgNoToken)
			return
		}
		if claims.Role != identity.RoleAdmin {
			writeForbidden(w, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handleListAudit returns a page of authentication events.
//
// Query parameters: action, uid, email, limit (default 50, max 200), offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeNotFound(w, "audit log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action: q.Get("action"),
		UID:    q.Get("uid"),
		Email:  q.Get("email"),
	}
	var ok bool
	if filter.Limit, ok = nonNegative(q.Get("limit")); !ok {
		writeBadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, ok = nonNegative(q.Get("offset")); !ok {
		writeBadRequest(w, "invalid offset")
		return
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit events failed", "error", err)
		writeInternalError(w, msgServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// nonNegative parses an optional query integer. Empty means zero.
func nonNegative(v string) (int, bool) {
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	return n, err == nil && n >= 0
}
