package api

import (
	"encoding/json"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"grimm.is/ruledesk/internal/errors"
	"grimm.is/ruledesk/internal/i18n"
)

// getClientIP extracts the client IP from the request. X-Forwarded-For and
// X-Real-IP are only honored when the peer is one of the trusted proxies.
func getClientIP(r *http.Request, trusted []netip.Prefix) string {
	peer, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		peer = r.RemoteAddr
	}
	if !trustedPeer(peer, trusted) {
		return peer
	}

	// X-Forwarded-For is a comma-separated list, first is the client
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ip := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(ip) != nil {
			return ip
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" && net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

func trustedPeer(peer string, trusted []netip.Prefix) bool {
	addr, err := netip.ParseAddr(peer)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// clientIP is getClientIP with the server's trusted proxies.
func (s *Server) clientIP(r *http.Request) string {
	return getClientIP(r, s.cfg.TrustedProxies)
}

// ErrorBody describes a failed request. Message is the underlying text, kernel
// output included, and is never translated; Title is localized.
type ErrorBody struct {
	Kind       string         `json:"kind"`
	Title      string         `json:"title"`
	Message    string         `json:"message"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// WriteJSON sends a JSON success response
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// WriteError sends err as a JSON error response with the status of its kind.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	body := errorBody(r, err)
	WriteJSON(w, errors.GetKind(err).HTTPStatus(), ErrorResponse{Error: *body})
}

// WriteErrorCtx sends a localized JSON error response for a failure that has
// no underlying error, such as a malformed request.
func WriteErrorCtx(w http.ResponseWriter, r *http.Request, code int, kind errors.Kind, format string, args ...any) {
	p := i18n.GetPrinter(r.Context())
	msg := p.Sprintf(format, args...)
	WriteJSON(w, code, ErrorResponse{Error: ErrorBody{Kind: kind.String(), Title: msg, Message: msg}})
}

func errorBody(r *http.Request, err error) *ErrorBody {
	if err == nil {
		return nil
	}
	kind := errors.GetKind(err)
	body := &ErrorBody{
		Kind:    kind.String(),
		Title:   i18n.GetPrinter(r.Context()).Sprintf(titleFor(kind)),
		Message: errors.Message(err),
	}
	if kind == errors.KindPartialMutation {
		// The kernel's text for the failed add follows the summary.
		body.Message = err.Error()
	}
	if attrs := errors.GetAttributes(err); len(attrs) > 0 {
		body.Attributes = attrs
	}
	return body
}

func titleFor(kind errors.Kind) string {
	switch kind {
	case errors.KindValidation:
		return i18n.MsgValidation
	case errors.KindKernelRejection:
		return i18n.MsgKernelRejection
	case errors.KindTransport:
		return i18n.MsgTransport
	case errors.KindPartialMutation:
		return i18n.MsgPartialMutation
	case errors.KindNotFound:
		return i18n.MsgNotFound
	default:
		return i18n.MsgInternal
	}
}
