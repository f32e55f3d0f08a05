// Package forward implements the client for the downstream ledger write API.
package forward

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/ledgerfeed/ledgerfeed/cfg"
	"github.com/ledgerfeed/ledgerfeed/common"
)

// Forwarder submits one record's payload to the write API. Implementations
// do not retry: retry responsibility lives with an outer supervisory wrapper
// (the journal replay tool).
type Forwarder interface {
	// Forward submits a payload to an endpoint. A nil error means the ledger
	// acknowledged the write.
	Forward(ctx context.Context, endpoint string, payload []byte) error
	// Close releases any resources held by the forwarder
	Close() error
}

// ledgerResponse is the write API's acknowledgement body
type ledgerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HTTPForwarder forwards payloads to a ledger gateway over HTTP. Each call
// carries a fixed timeout; payloads above the configured threshold are
// gzip-compressed.
type HTTPForwarder struct {
	baseURL       string
	client        *http.Client
	gzipThreshold int
}

// NewHTTPForwarder creates a forwarder for the configured ledger gateway.
// The per-operation timeout is applied by the caller through ctx; the
// client-level timeout is a hard upper bound.
func NewHTTPForwarder(conf cfg.LedgerConfiguration) (*HTTPForwarder, error) {
	if conf.BaseURL == "" {
		return nil, fmt.Errorf("ledger base URL is required")
	}

	hardTimeout := time.Duration(conf.DeleteTimeoutMS) * time.Millisecond
	if regular := time.Duration(conf.TimeoutMS) * time.Millisecond; regular > hardTimeout {
		hardTimeout = regular
	}

	return &HTTPForwarder{
		baseURL:       strings.TrimRight(conf.BaseURL, "/"),
		gzipThreshold: conf.GzipThresholdBytes,
		client: &http.Client{
			Timeout: hardTimeout + time.Second,
		},
	}, nil
}

// Forward submits a payload. Non-2xx responses and success:false bodies are
// forwarding failures.
func (f *HTTPForwarder) Forward(ctx context.Context, endpoint string, payload []byte) error {
	body := io.Reader(bytes.NewReader(payload))
	compressed := false

	if f.gzipThreshold > 0 && len(payload) > f.gzipThreshold {
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		if _, err := zw.Write(payload); err == nil && zw.Close() == nil {
			body = &buf
			compressed = true
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.baseURL+endpoint, body)
	if err != nil {
		return fmt.Errorf("failed to build forward request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if compressed {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("forward request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read ledger response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ledger returned status %d: %s", resp.StatusCode, truncate(respBody, 256))
	}

	var ack ledgerResponse
	if err := json.Unmarshal(respBody, &ack); err != nil {
		return fmt.Errorf("unparseable ledger response: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("ledger rejected write: %s", ack.Message)
	}

	return nil
}

// Close releases the underlying HTTP connections
func (f *HTTPForwarder) Close() error {
	f.client.CloseIdleConnections()
	return nil
}

// TimeoutFor returns the per-call timeout for an operation. DELETE forwards
// settle chain state and get the longer budget.
func TimeoutFor(conf cfg.LedgerConfiguration, op common.Operation) time.Duration {
	if op == common.OpDelete {
		return time.Duration(conf.DeleteTimeoutMS) * time.Millisecond
	}
	return time.Duration(conf.TimeoutMS) * time.Millisecond
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
