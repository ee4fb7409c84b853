package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/ruledesk/internal/audit"
)

func TestAuditQuery_Disabled(t *testing.T) {
	env := newTestEnv(t)
	rr := env.do(t, "GET", "/api/audit", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "not_found", resp.Error.Kind)
}

func TestAuditQuery(t *testing.T) {
	store, err := audit.NewStore(audit.MemoryPath, 30)
	require.NoError(t, err)
	defer store.Close()

	base := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	for i, evt := range []audit.Event{
		{SubmissionID: "a", Operation: "add", Rule: "inet/filter/INPUT#1", Outcome: "succeeded", User: "alice"},
		{SubmissionID: "b", Operation: "edit", Rule: "inet/filter/INPUT#1", Outcome: "failed", ErrorKind: "partial_mutation", User: "bob"},
		{SubmissionID: "c", Operation: "delete", Rule: "inet/filter/INPUT#2", Outcome: "succeeded", User: "alice"},
	} {
		evt.Timestamp = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, store.Record(evt))
	}

	env := newTestEnv(t, func(c *envConfig) { c.server.Audit = store })

	t.Run("all", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/audit", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AuditResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, int64(3), resp.Total)
		assert.Equal(t, defaultAuditLimit, resp.Limit)
		require.Len(t, resp.Events, 3)
		assert.Equal(t, "c", resp.Events[0].SubmissionID, "newest first")
	})

	t.Run("filtered", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/audit?user=alice&operation=add", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AuditResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		require.Len(t, resp.Events, 1)
		assert.Equal(t, "a", resp.Events[0].SubmissionID)
	})

	t.Run("since", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/audit?since=2025-06-15T12:01:00Z", nil)
		require.Equal(t, http.StatusOK, rr.Code)

		var resp AuditResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Len(t, resp.Events, 2)
	})

	t.Run("limit capped", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/audit?limit=5000", nil)
		var resp AuditResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
		assert.Equal(t, maxAuditLimit, resp.Limit)
	})

	t.Run("bad time", func(t *testing.T) {
		rr := env.do(t, "GET", "/api/audit?until=yesterday", nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}
