package inbound

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/webhooks"
)

// DefaultMaxBodyBytes caps webhook bodies read by HTTPHandler.
const DefaultMaxBodyBytes int64 = 1 << 20

type HTTPOption func(*HTTPHandler)

func WithMaxBodyBytes(limit int64) HTTPOption {
	return func(h *HTTPHandler) {
		if limit > 0 {
			h.maxBodyBytes = limit
		}
	}
}

// HTTPHandler adapts a Receiver to net/http. The body is read once, unmodified,
// and handed to the receiver as raw bytes.
type HTTPHandler struct {
	receiver     *Receiver
	maxBodyBytes int64
}

func NewHTTPHandler(receiver *Receiver, opts ...HTTPOption) *HTTPHandler {
	h := &HTTPHandler{receiver: receiver, maxBodyBytes: DefaultMaxBodyBytes}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, core.BadInput("inbound: method not allowed", map[string]any{
			"method": r.Method,
		}))
		return
	}
	if h == nil || h.receiver == nil {
		writeError(w, http.StatusInternalServerError, inboundInternal("inbound: receiver is not configured", nil))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, core.InvalidPayload("inbound: payload too large", map[string]any{
				"limit": tooLarge.Limit,
			}))
			return
		}
		writeError(w, http.StatusBadRequest, core.WrapInvalidPayload(err, "inbound: read body failed", nil))
		return
	}

	req := core.InboundRequest{
		Body:      body,
		Signature: r.Header.Get(webhooks.SignatureHeader),
		Headers:   flattenHeaders(r.Header),
		Metadata: map[string]any{
			"remote_addr": r.RemoteAddr,
			"path":        r.URL.Path,
		},
	}
	result, _ := h.receiver.Receive(r.Context(), req)
	writeResult(w, result)
}

func writeResult(w http.ResponseWriter, result core.InboundResult) {
	status := result.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if len(result.Body) > 0 {
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(status)
	if len(result.Body) > 0 {
		_, _ = w.Write(result.Body)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeResult(w, core.InboundResult{StatusCode: status, Body: errorBody(err)})
}

func flattenHeaders(header http.Header) map[string]string {
	out := make(map[string]string, len(header))
	for key, values := range header {
		if len(values) == 0 {
			continue
		}
		out[strings.ToLower(key)] = values[0]
	}
	return out
}
