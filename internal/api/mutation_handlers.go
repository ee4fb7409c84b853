package api

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/i18n"
	"grimm.is/ruledesk/internal/mutation"
	"grimm.is/ruledesk/internal/ruleset"
)

// handleAddRule submits a draft as a new rule. A draft carrying an
// origin_handle is refused; edits go through PUT.
func (s *Server) handleAddRule(w http.ResponseWriter, r *http.Request) {
	draft, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	res, err := s.orchestrator.Add(s.mutationContext(r), draft)
	s.writeMutation(w, r, res, err, http.StatusCreated)
}

// handleEditRule replaces the rule at the draft's origin_handle.
func (s *Server) handleEditRule(w http.ResponseWriter, r *http.Request) {
	draft, ok := decodeDraft(w, r)
	if !ok {
		return
	}
	res, err := s.orchestrator.Edit(s.mutationContext(r), draft)
	s.writeMutation(w, r, res, err, http.StatusCreated)
}

// handleDeleteRule deletes ?family=&table=&chain=&handle=.
func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ref := ruleset.RuleRef{
		Family: q.Get("family"),
		Table:  q.Get("table"),
		Chain:  q.Get("chain"),
	}
	if h := q.Get("handle"); h != "" {
		handle, err := strconv.ParseUint(h, 10, 64)
		if err != nil {
			err = errors.Errorf(errors.KindValidation, "invalid handle %q", h)
			WriteError(w, r, errors.Attr(err, "field", "handle"))
			return
		}
		ref.Handle = handle
	}

	res, err := s.orchestrator.Delete(s.mutationContext(r), ref)
	s.writeMutation(w, r, res, err, http.StatusOK)
}

func decodeDraft(w http.ResponseWriter, r *http.Request) (mutation.Draft, bool) {
	var d mutation.Draft
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		WriteErrorCtx(w, r, http.StatusBadRequest, errors.KindValidation, i18n.MsgBadBody)
		return d, false
	}
	return d, true
}

// limitSubmissions rejects a submission with 429 once its operator, or its
// client address when no operator is named, has used up the window.
func (s *Server) limitSubmissions(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(brand.UserHeader)
		if key == "" {
			key = "ip:" + s.clientIP(r)
		}
		ok, retry := s.limiter.Allow(key)
		if !ok {
			secs := int(math.Ceil(retry.Seconds()))
			s.logger.Warn("submission rate limited", "key", key, "retry_after", secs)
			w.Header().Set("Retry-After", strconv.Itoa(secs))
			WriteErrorCtx(w, r, http.StatusTooManyRequests, errors.KindValidation, i18n.MsgRateLimited, secs)
			return
		}
		next(w, r)
	})
}

// mutationContext detaches the submission from the client connection: a
// disconnect must not stop a delete-then-add sequence halfway. Kernel calls
// keep their own timeout.
func (s *Server) mutationContext(r *http.Request) context.Context {
	ctx := context.WithoutCancel(r.Context())
	if user := r.Header.Get(brand.UserHeader); user != "" {
		ctx = mutation.WithUser(ctx, user)
	}
	return ctx
}

func (s *Server) writeMutation(w http.ResponseWriter, r *http.Request, res *mutation.Result, err error, okStatus int) {
	if res == nil {
		WriteError(w, r, err)
		return
	}

	resp := MutationResponse{
		SubmissionID: res.SubmissionID,
		Operation:    string(res.Operation),
		State:        string(res.State),
		Rule:         res.Target,
		Handle:       res.Handle,
		Error:        errorBody(r, err),
		Trace:        res.Trace.Steps(),
		Snapshot:     snapshotResponse(res.Snapshot),
	}
	if res.RefetchError != nil {
		resp.RefetchError = i18n.GetPrinter(r.Context()).Sprintf(i18n.MsgRefetchFailed) + ": " + res.RefetchError.Error()
	}
	if res.Snapshot != nil {
		setWarningHeaders(w, res.Snapshot.Warnings)
	}

	status := okStatus
	if err != nil {
		status = errors.GetKind(err).HTTPStatus()
	}
	WriteJSON(w, status, resp)
}
