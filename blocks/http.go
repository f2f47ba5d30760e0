package blocks

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/deepnoodle-ai/blockflow"
)

const httpResponseLimit = 1 << 20 // 1 MiB

// HTTPBlock performs an HTTP request and stores the response in the
// execution state. Network failures surface as transient errors, so the
// error handler retries them under the workflow's retry policy.
type HTTPBlock struct {
	method   string
	url      string
	body     string
	headers  map[string]string
	stateKey string
	client   *http.Client
}

func NewHTTPBlock(def *blockflow.BlockDefinition) (blockflow.Block, error) {
	url, err := requireConfigString(def, "url")
	if err != nil {
		return nil, err
	}
	method, _ := configString(def, "method")
	if method == "" {
		method = http.MethodGet
	}
	body, _ := configString(def, "body")
	stateKey, _ := configString(def, "store")
	if stateKey == "" {
		stateKey = "http_response"
	}
	headers := map[string]string{}
	if raw, ok := def.Config["headers"].(map[string]any); ok {
		for key, value := range raw {
			if s, ok := value.(string); ok {
				headers[key] = s
			}
		}
	}
	timeout := 30 * time.Second
	if raw, ok := configString(def, "timeout"); ok {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("block %q: invalid timeout: %w", def.ID, err)
		}
		timeout = parsed
	}
	return &HTTPBlock{
		method:   strings.ToUpper(method),
		url:      url,
		body:     body,
		headers:  headers,
		stateKey: stateKey,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

func (b *HTTPBlock) Execute(ctx context.Context, ec *blockflow.ExecutionContext) (*blockflow.BlockResult, error) {
	var body io.Reader
	if b.body != "" {
		body = strings.NewReader(b.body)
	}
	req, err := http.NewRequestWithContext(ctx, b.method, b.url, body)
	if err != nil {
		return nil, blockflow.NewValidationError("invalid http request: %v", err)
	}
	for key, value := range b.headers {
		req.Header.Set(key, value)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		// url.Error classifies as transient, making the request retryable.
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, httpResponseLimit))
	if err != nil {
		return nil, blockflow.NewTransientError("failed to read response body: %v", err)
	}

	output := map[string]any{
		"status_code": resp.StatusCode,
		"body":        string(data),
	}
	ec.SetState(b.stateKey, output)

	status := blockflow.BlockStatusSuccess
	if resp.StatusCode >= 400 {
		status = blockflow.BlockStatusFailure
	}
	return &blockflow.BlockResult{Status: status, Output: output}, nil
}
