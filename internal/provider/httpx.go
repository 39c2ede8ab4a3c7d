package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const maxResponseBytes = 4 << 20

// doJSON sends body (if non-nil) as JSON and decodes a 2xx response into
// out. Failures come back already categorized.
func doJSON(ctx context.Context, client *http.Client, providerID, method, url string, header http.Header, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Permanent(providerID, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return Permanent(providerID, fmt.Errorf("create request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return &Error{Kind: Classify(ctx.Err()), Provider: providerID, Err: ctx.Err()}
		}
		return Transient(providerID, fmt.Errorf("http request: %w", err))
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return Transient(providerID, fmt.Errorf("read response: %w", err))
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return StatusError(providerID, httpResp.StatusCode, respBody, httpResp.Header)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return Permanent(providerID, fmt.Errorf("unmarshal response: %w", err))
	}
	return nil
}

func defaultClient(c *http.Client, timeout time.Duration) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: timeout}
}
