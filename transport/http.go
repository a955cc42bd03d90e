package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/quotacore/status"
)

// HTTP is a small JSON-over-HTTP Transport, grounded on the original
// project's own sample transport (a minimal reference client, not a
// production-hardened one — no retries, no auth, no connection pooling
// tuning beyond the client's defaults). req and resp are JSON-marshaled
// and unmarshaled directly; callers pass the concrete quotapb request
// and response types.
type HTTP struct {
	Client  *http.Client
	BaseURL string
}

// NewHTTP creates an HTTP transport posting to baseURL with a default
// 10-second client timeout.
func NewHTTP(baseURL string) *HTTP {
	return &HTTP{Client: &http.Client{Timeout: 10 * time.Second}, BaseURL: baseURL}
}

// Do implements the Transport function signature: it POSTs req as JSON
// to path and decodes the response body into resp.
func (h *HTTP) Do(path string) func(ctx context.Context, req, resp any, done func(error)) {
	return func(ctx context.Context, req, resp any, done func(error)) {
		body, err := json.Marshal(req)
		if err != nil {
			done(status.InvalidArgument("marshal request: %v", err))
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.BaseURL+path, bytes.NewReader(body))
		if err != nil {
			done(err)
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("X-Request-Id", uuid.NewString())

		httpResp, err := h.Client.Do(httpReq)
		if err != nil {
			done(err)
			return
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode != http.StatusOK {
			done(httpStatusToError(httpResp.StatusCode))
			return
		}

		done(json.NewDecoder(httpResp.Body).Decode(resp))
	}
}

// httpStatusToError maps an HTTP status code to a status error using an
// explicit table. The original implementation's equivalent switch falls
// through every case (no break statements), so every status silently
// collapses to its catch-all arm — almost certainly a bug, and
// explicitly flagged as one not to copy. This mapping instead returns
// per-code.
func httpStatusToError(code int) error {
	switch {
	case code == http.StatusBadRequest:
		return status.InvalidArgument("http %d", code)
	case code == http.StatusNotFound:
		return status.NotFound("http %d", code)
	case code == http.StatusRequestedRangeNotSatisfiable:
		return status.OutOfRange("http %d", code)
	case code >= 500:
		return fmt.Errorf("http %d: server error", code)
	default:
		return fmt.Errorf("http %d: unexpected status", code)
	}
}
