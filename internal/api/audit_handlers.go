package api

import (
	"net/http"
	"strconv"
	"time"

	"grimm.is/ruledesk/internal/audit"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/i18n"
)

const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

// handleAuditQuery handles GET /api/audit.
// Query params: since, until (RFC3339), operation, outcome, user, limit
func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		WriteErrorCtx(w, r, http.StatusNotFound, errors.KindNotFound, i18n.MsgAuditDisabled)
		return
	}

	q := r.URL.Query()
	f := audit.Filter{
		Operation: q.Get("operation"),
		Outcome:   q.Get("outcome"),
		User:      q.Get("user"),
		Limit:     defaultAuditLimit,
	}

	for name, dst := range map[string]*time.Time{"since": &f.Since, "until": &f.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			err = errors.Errorf(errors.KindValidation, "invalid %s %q: want RFC3339", name, v)
			WriteError(w, r, errors.Attr(err, "field", name))
			return
		}
		*dst = t
	}

	if v := q.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 {
			f.Limit = l
		}
	}
	if f.Limit > maxAuditLimit {
		f.Limit = maxAuditLimit
	}

	events, err := s.audit.Query(f)
	if err != nil {
		WriteError(w, r, errors.Wrap(err, errors.KindInternal, "failed to query audit log"))
		return
	}
	count, _ := s.audit.Count()
	if events == nil {
		events = []audit.Event{}
	}

	WriteJSON(w, http.StatusOK, AuditResponse{Events: events, Total: count, Limit: f.Limit})
}
