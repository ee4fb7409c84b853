// Package client provides an API client for a remote ruledesk server.
package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"grimm.is/ruledesk/internal/brand"
	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/ruleset"
)

// Response shapes are defined locally to avoid importing the heavy
// internal/api package.

// Snapshot mirrors the API snapshot response.
type Snapshot struct {
	FetchedAt time.Time           `json:"fetched_at"`
	Tables    []ruleset.TableView `json:"tables"`
	Warnings  []string            `json:"warnings,omitempty"`
}

// Defaults mirrors the API defaults response.
type Defaults struct {
	Context ruleset.Context `json:"context"`
	Choices ruleset.Choices `json:"choices"`
}

// Draft mirrors the submitted rule.
type Draft struct {
	Family       string  `json:"family"`
	Table        string  `json:"table"`
	Chain        string  `json:"chain"`
	Statement    string  `json:"statement"`
	Comment      string  `json:"comment,omitempty"`
	OriginHandle *uint64 `json:"origin_handle,omitempty"`
}

// TraceStep mirrors one step of a submission trace.
type TraceStep struct {
	At     time.Time `json:"at"`
	State  string    `json:"state"`
	Action string    `json:"action"`
	Detail string    `json:"detail,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// ErrorBody mirrors the API error object.
type ErrorBody struct {
	Kind       string         `json:"kind"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// MutationResult mirrors the API mutation response.
type MutationResult struct {
	SubmissionID string          `json:"submission_id"`
	Operation    string          `json:"operation"`
	State        string          `json:"state"`
	Rule         ruleset.RuleRef `json:"rule"`
	Handle       uint64          `json:"handle,omitempty"`
	Error        *ErrorBody      `json:"error,omitempty"`
	Trace        []TraceStep     `json:"trace"`
	RefetchError string          `json:"refetch_error,omitempty"`
	Snapshot     *Snapshot       `json:"snapshot,omitempty"`
}

// AuditEvent mirrors one audit record.
type AuditEvent struct {
	ID           int64     `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	User         string    `json:"user,omitempty"`
	SubmissionID string    `json:"submission_id"`
	Operation    string    `json:"operation"`
	Rule         string    `json:"rule"`
	Outcome      string    `json:"outcome"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Handle       uint64    `json:"handle,omitempty"`
}

// AuditQuery narrows QueryAudit. Zero fields are not sent.
type AuditQuery struct {
	Since     time.Time
	Until     time.Time
	Operation string
	Outcome   string
	User      string
	Limit     int
}

// Event is one message of the event feed.
type Event struct {
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// HTTPClient talks to a ruledesk server over HTTP.
type HTTPClient struct {
	baseURL             string
	user                string
	headers             http.Header
	httpClient          *http.Client
	expectedFingerprint string
	SeenFingerprint     string
}

// ClientOption configures the HTTPClient.
type ClientOption func(*HTTPClient)

// WithUser sends the acting operator's name for audit records.
func WithUser(user string) ClientOption {
	return func(c *HTTPClient) {
		c.user = user
	}
}

// WithHeader adds a header to every request, for example a bearer token
// understood by the authenticating proxy in front of the server.
func WithHeader(key, value string) ClientOption {
	return func(c *HTTPClient) {
		c.headers.Add(key, value)
	}
}

// WithFingerprint sets the expected server certificate fingerprint (SHA-256 hex).
func WithFingerprint(fp string) ClientOption {
	return func(c *HTTPClient) {
		c.expectedFingerprint = fp
	}
}

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) {
		c.httpClient.Timeout = d
	}
}

// NewHTTPClient creates a new HTTPClient for the given base URL.
// Self-signed certificates are accepted unless a fingerprint is pinned.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		headers:    http.Header{},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.httpClient.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true, // verified below
			VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
				if len(rawCerts) == 0 {
					return nil
				}
				hash := sha256.Sum256(rawCerts[0])
				fingerprint := hex.EncodeToString(hash[:])

				c.SeenFingerprint = fingerprint

				if c.expectedFingerprint != "" && c.expectedFingerprint != fingerprint {
					return fmt.Errorf("certificate fingerprint mismatch! Expected %s, got %s", c.expectedFingerprint, fingerprint)
				}
				return nil
			},
		},
	}
	return c
}

func (c *HTTPClient) setHeaders(h http.Header) {
	for k, vs := range c.headers {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	h.Set("User-Agent", brand.UserAgent(brand.Version))
	if c.user != "" {
		h.Set(brand.UserHeader, c.user)
	}
}

// doRequest performs an HTTP request and decodes the JSON response into
// result. On an error status the body is still decoded into result when it
// fits, so a failed mutation returns its trace alongside the error.
func (c *HTTPClient) doRequest(ctx context.Context, method, path string, body, result any) (http.Header, error) {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindInternal, "failed to marshal request body")
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	c.setHeaders(req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindTransport, "request failed")
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.Header, errors.Wrap(err, errors.KindTransport, "failed to read response body")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if result != nil {
			_ = json.Unmarshal(respBody, result)
		}
		return resp.Header, apiError(resp.StatusCode, respBody)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return resp.Header, errors.Wrap(err, errors.KindInternal, "failed to decode response")
		}
	}
	return resp.Header, nil
}

// apiError rebuilds the server's error from its JSON body. Bodies that are
// not API errors, such as a proxy's 401 page, become transport errors.
func apiError(status int, body []byte) error {
	var envelope struct {
		Error *ErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error == nil {
		err := errors.Errorf(errors.KindTransport, "API error (status %d): %s", status, strings.TrimSpace(string(body)))
		return errors.Attr(err, "status", status)
	}

	e := envelope.Error
	err := errors.New(errors.ParseKind(e.Kind), e.Message)
	for k, v := range e.Attributes {
		err = errors.Attr(err, k, v)
	}
	return errors.Attr(err, "status", status)
}

// GetRuleset lists the live ruleset.
func (c *HTTPClient) GetRuleset(ctx context.Context) (*Snapshot, error) {
	var snap Snapshot
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/ruleset", nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// GetDefaults returns the proposed context for a new rule.
func (c *HTTPClient) GetDefaults(ctx context.Context) (*Defaults, error) {
	var d Defaults
	if _, err := c.doRequest(ctx, http.MethodGet, "/api/ruleset/defaults", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// AddRule submits d as a new rule.
func (c *HTTPClient) AddRule(ctx context.Context, d Draft) (*MutationResult, error) {
	return c.mutate(ctx, http.MethodPost, "/api/ruleset/rules", d)
}

// EditRule replaces the rule at d.OriginHandle.
func (c *HTTPClient) EditRule(ctx context.Context, d Draft) (*MutationResult, error) {
	return c.mutate(ctx, http.MethodPut, "/api/ruleset/rules", d)
}

// DeleteRule deletes one rule by handle.
func (c *HTTPClient) DeleteRule(ctx context.Context, ref ruleset.RuleRef) (*MutationResult, error) {
	q := url.Values{}
	q.Set("family", ref.Family)
	q.Set("table", ref.Table)
	q.Set("chain", ref.Chain)
	q.Set("handle", strconv.FormatUint(ref.Handle, 10))
	return c.mutate(ctx, http.MethodDelete, "/api/ruleset/rules?"+q.Encode(), nil)
}

func (c *HTTPClient) mutate(ctx context.Context, method, path string, body any) (*MutationResult, error) {
	var res MutationResult
	_, err := c.doRequest(ctx, method, path, body, &res)
	if err != nil && res.SubmissionID == "" {
		return nil, err
	}
	return &res, err
}

// QueryAudit reads recorded submission outcomes.
func (c *HTTPClient) QueryAudit(ctx context.Context, aq AuditQuery) ([]AuditEvent, error) {
	q := url.Values{}
	if !aq.Since.IsZero() {
		q.Set("since", aq.Since.Format(time.RFC3339))
	}
	if !aq.Until.IsZero() {
		q.Set("until", aq.Until.Format(time.RFC3339))
	}
	for k, v := range map[string]string{"operation": aq.Operation, "outcome": aq.Outcome, "user": aq.User} {
		if v != "" {
			q.Set(k, v)
		}
	}
	if aq.Limit > 0 {
		q.Set("limit", strconv.Itoa(aq.Limit))
	}

	path := "/api/audit"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var resp struct {
		Events []AuditEvent `json:"events"`
	}
	if _, err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

// WatchEvents connects to the event feed and calls onEvent for every message
// on the given topics. It blocks until ctx is canceled or the connection drops.
func (c *HTTPClient) WatchEvents(ctx context.Context, topics []string, onEvent func(Event)) error {
	wsURL := strings.Replace(c.baseURL, "http", "ws", 1) + "/api/ruleset/events"
	if len(topics) > 0 {
		wsURL += "?topics=" + url.QueryEscape(strings.Join(topics, ","))
	}

	headers := http.Header{}
	c.setHeaders(headers)

	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 45 * time.Second,
	}
	// Same TLS config as the HTTP client, fingerprint check included
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		dialer.TLSClientConfig = transport.TLSClientConfig
	}

	conn, _, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return errors.Wrap(err, errors.KindTransport, "failed to dial event feed")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var e Event
		if err := conn.ReadJSON(&e); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, errors.KindTransport, "event feed closed")
		}
		onEvent(e)
	}
}
