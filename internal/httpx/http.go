package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/internal/common"
)

const maxErrorBody = 512

// StatusError is returned for non-2xx responses so callers can classify by code.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("non-2xx status: %d", e.Code)
	}
	return fmt.Sprintf("non-2xx status: %d: %s", e.Code, e.Body)
}

func (e *StatusError) StatusCode() int { return e.Code }

// SendJSON posts body as JSON to a full URL with optional headers and returns the raw response body.
// Callers decide the URL and headers.
func SendJSON(ctx context.Context, client *http.Client, url string, body any, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	bs, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("encode json: %w", err)
	}
	h := map[string]string{"Content-Type": "application/json"}
	for k, v := range headers {
		h[k] = v
	}
	return Send(ctx, client, http.MethodPost, url, bs, h, logger)
}

// Send performs a request with a raw payload. Transport failures are wrapped
// with common.ErrTransientNetwork; non-2xx responses come back as *StatusError.
func Send(ctx context.Context, client *http.Client, method, url string, payload []byte, headers map[string]string, logger *slog.Logger) ([]byte, int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 45 * time.Second}
	}

	reqID := uuid.New().String()
	itemID := common.ItemIDFromContext(ctx)
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		logger.Error("http.build_request_error", "req_id", reqID, "error", err)
		return nil, 0, fmt.Errorf("build request: %w", err)
	}
	req.ContentLength = int64(len(payload))
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	logger.Info("http.request",
		"req_id", reqID,
		"item_id", itemID,
		"method", method,
		"url", url,
		"content_length", len(payload),
	)

	resp, err := client.Do(req)
	if err != nil {
		logger.Error("http.send_error", "req_id", reqID, "item_id", itemID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		if ctx.Err() != nil {
			return nil, 0, fmt.Errorf("%s %s: %w", method, url, ctx.Err())
		}
		return nil, 0, fmt.Errorf("%s %s: %w: %v", method, url, common.ErrTransientNetwork, err)
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			logger.Warn("http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w: %v", common.ErrTransientNetwork, err)
	}

	logger.Info("http.response",
		"req_id", reqID,
		"item_id", itemID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode/100 != 2 {
		snippet := string(raw)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return raw, resp.StatusCode, &StatusError{Code: resp.StatusCode, Body: snippet}
	}
	return raw, resp.StatusCode, nil
}
