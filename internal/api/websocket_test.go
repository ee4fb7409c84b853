package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialEvents(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ruleset/events" + query
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	return conn
}

func postDraft(t *testing.T, ts *httptest.Server, body string) {
	t.Helper()
	resp, err := http.Post(ts.URL+"/api/ruleset/rules", "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
}

func readMessage(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg WSMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

const sshDraft = `{"family":"inet","table":"filter","chain":"INPUT","statement":"tcp dport 22 accept"}`

func TestEventsWS_FinishedByDefault(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn := dialEvents(t, ts, "")
	defer conn.Close()

	postDraft(t, ts, sshDraft)

	msg := readMessage(t, conn)
	assert.Equal(t, "mutation.finished", msg.Topic)

	data, err := json.Marshal(msg.Data)
	require.NoError(t, err)
	var finished struct {
		SubmissionID string `json:"submission_id"`
		State        string `json:"state"`
		Handle       uint64 `json:"handle"`
	}
	require.NoError(t, json.Unmarshal(data, &finished))
	assert.Equal(t, "sub-1", finished.SubmissionID)
	assert.Equal(t, "succeeded", finished.State)
	assert.NotZero(t, finished.Handle)
}

func TestEventsWS_TopicQuery(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn := dialEvents(t, ts, "?topics=mutation.step")
	defer conn.Close()

	postDraft(t, ts, sshDraft)

	first := readMessage(t, conn)
	assert.Equal(t, "mutation.step", first.Topic)
	step, ok := first.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "idle", step["state"], "steps arrive in trace order")
}

func TestEventsWS_Subscribe(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	conn := dialEvents(t, ts, "?topics=none")
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(wsControl{Action: "subscribe", Topics: []string{"ruleset.fetched"}}))
	// The control message is applied asynchronously.
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get(ts.URL + "/api/ruleset")
	require.NoError(t, err)
	resp.Body.Close()

	msg := readMessage(t, conn)
	assert.Equal(t, "ruleset.fetched", msg.Topic)
}

func TestEventsWS_NoHub(t *testing.T) {
	env := newTestEnv(t, func(c *envConfig) { c.server.Hub = nil })
	rr := env.do(t, "GET", "/api/ruleset/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestCheckOrigin(t *testing.T) {
	req := httptest.NewRequest("GET", "http://fw.example:8470/api/ruleset/events", nil)
	req.Host = "fw.example:8470"
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "http://fw.example:8470")
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example")
	assert.False(t, upgrader.CheckOrigin(req))
}
