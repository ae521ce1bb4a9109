package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/httpx"
	"github.com/joseph-ayodele/connect-cards/internal/pipeline"
)

// Config for the presigned upload service.
type Config struct {
	PresignURL string
	APIKey     string
	Timeout    time.Duration
}

// Client requests write-capable temporary destinations and transfers image bytes to them.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}
}

type presignRequest struct {
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	OrgID       string `json:"orgId"`
	LocationID  string `json:"locationId,omitempty"`
}

type presignResponse struct {
	UploadURL  string `json:"uploadUrl"`
	StorageKey string `json:"storageKey"`
}

func (c *Client) RequestUpload(ctx context.Context, req pipeline.UploadRequest) (pipeline.UploadTicket, error) {
	body := presignRequest{
		FileName:    req.FileName,
		ContentType: req.ContentType,
		Size:        req.Size,
		OrgID:       req.Org.OrgID,
		LocationID:  req.Org.LocationID,
	}
	raw, _, err := httpx.SendJSON(ctx, c.http, c.cfg.PresignURL, body, c.headers(), c.logger)
	if err != nil {
		return pipeline.UploadTicket{}, rejected("request upload url", err)
	}
	var resp presignResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return pipeline.UploadTicket{}, common.NewAppError(common.CodeTransientNetwork, "decode presign response", err)
	}
	if resp.UploadURL == "" || resp.StorageKey == "" {
		return pipeline.UploadTicket{}, common.NewAppError(common.CodeTransientNetwork, "presign response missing uploadUrl or storageKey", common.ErrTransientNetwork)
	}
	return pipeline.UploadTicket{UploadURL: resp.UploadURL, StorageKey: resp.StorageKey}, nil
}

// Transfer PUTs raw bytes; presigned URLs carry their own authorization.
func (c *Client) Transfer(ctx context.Context, uploadURL string, data []byte, contentType string) error {
	headers := map[string]string{"Content-Type": contentType}
	if _, _, err := httpx.Send(ctx, c.http, http.MethodPut, uploadURL, data, headers, c.logger); err != nil {
		return rejected("transfer image", err)
	}
	return nil
}

// rejected turns a client error from the upload service, credentials included,
// into an upload rejection. Throttling and network errors keep their codes.
func rejected(msg string, err error) error {
	switch common.Classify(err) {
	case common.CodeExtractionValidation, common.CodeUnauthorized:
		return common.NewAppError(common.CodeUploadRejected, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (c *Client) headers() map[string]string {
	if c.cfg.APIKey == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}
