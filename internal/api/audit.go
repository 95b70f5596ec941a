package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-mystrom/internal/audit"
)

// auditWriteTimeout bounds one audit insert. The insert outlives the
// request context so a client disconnect does not drop the record.
const auditWriteTimeout = 5 * time.Second

// recordAudit stores rec when an audit repository is configured. err, when
// non-nil, marks the record failed. Write failures are logged only.
func (s *Server) recordAudit(r *http.Request, rec audit.Record, err error) {
	if s.audit == nil {
		return
	}
	if subject, ok := r.Context().Value(ctxKeySubject).(string); ok {
		rec.Subject = subject
	}
	if err != nil {
		rec.Outcome = audit.OutcomeFailed
		rec.Error = err.Error()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditWriteTimeout)
	defer cancel()
	if writeErr := s.audit.Create(ctx, &rec); writeErr != nil {
		s.logger.Warn("audit write failed", "action", rec.Action, "error", writeErr)
	}
}

// handleListAudit returns recorded actions, newest first.
// Query: action, entry_id, entity_id, limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeNotFound(w, "audit log is not enabled")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		Action:   q.Get("action"),
		EntryID:  q.Get("entry_id"),
		EntityID: q.Get("entity_id"),
	}
	var err error
	if v := q.Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
	}
	if v := q.Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit logs failed", "error", err)
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
