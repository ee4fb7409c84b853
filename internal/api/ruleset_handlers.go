package api

import (
	"net/http"
	"strings"

	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/ruleset"
)

// handleGetRuleset lists the live ruleset. Every call is a fresh kernel listing.
func (s *Server) handleGetRuleset(w http.ResponseWriter, r *http.Request) {
	snap, err := s.client.Fetch(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	setWarningHeaders(w, snap.Warnings)
	WriteJSON(w, http.StatusOK, snapshotResponse(snap))
}

// handleDefaults proposes the context for a new rule and the names to choose from.
func (s *Server) handleDefaults(w http.ResponseWriter, r *http.Request) {
	snap, err := s.client.Fetch(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	setWarningHeaders(w, snap.Warnings)
	WriteJSON(w, http.StatusOK, DefaultsResponse{
		Context: ruleset.ResolveDefaults(snap.Ruleset),
		Choices: ruleset.BuildChoices(snap.Ruleset, s.baseline),
	})
}

// setWarningHeaders adds one header value per warning. Header values cannot
// span lines.
func setWarningHeaders(w http.ResponseWriter, warnings []string) {
	for _, warning := range warnings {
		warning = strings.Join(strings.Fields(warning), " ")
		if warning != "" {
			w.Header().Add(brand.WarningHeader, warning)
		}
	}
}
