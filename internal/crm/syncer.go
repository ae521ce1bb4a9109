package crm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/httpx"
)

// Contact is what gets pushed to the CRM after a card is saved.
type Contact struct {
	RecordID   uuid.UUID
	OrgID      string
	LocationID string
	BatchID    string
	Fields     entity.CardFields
}

// Syncer pushes one contact to the CRM.
type Syncer interface {
	Sync(ctx context.Context, c Contact) error
}

type Config struct {
	WebhookURL  string
	APIKey      string
	Timeout     time.Duration
	MaxAttempts int
}

// NewSyncer returns a webhook syncer, or a noop when no webhook is configured.
func NewSyncer(cfg Config, logger *slog.Logger) Syncer {
	if strings.TrimSpace(cfg.WebhookURL) == "" {
		return noopSyncer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookSyncer{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

type noopSyncer struct{}

func (noopSyncer) Sync(context.Context, Contact) error { return nil }

type webhookSyncer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func (w *webhookSyncer) Sync(ctx context.Context, c Contact) error {
	payload, err := Payload(c)
	if err != nil {
		return err
	}
	headers := map[string]string{"Content-Type": "application/json"}
	if w.cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + w.cfg.APIKey
	}
	return common.WithRetry(ctx, func() error {
		_, _, err := httpx.Send(ctx, w.client, http.MethodPost, w.cfg.WebhookURL, payload, headers, w.logger)
		return err
	}, common.RetryOptions{MaxAttempts: w.cfg.MaxAttempts, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second}, w.logger)
}

// Payload encodes a contact as the webhook JSON body.
func Payload(c Contact) ([]byte, error) {
	f := c.Fields
	body := map[string]any{
		"recordId":   c.RecordID.String(),
		"orgId":      c.OrgID,
		"locationId": c.LocationID,
		"source":     "connect-card",
		"contact": map[string]any{
			"firstName":  f.FirstName,
			"lastName":   f.LastName,
			"email":      f.Email,
			"phone":      f.Phone,
			"address1":   f.Address,
			"city":       f.City,
			"state":      f.State,
			"postalCode": f.PostalCode,
		},
		"visitStatus": f.VisitStatus,
		"tags":        toList(append(append([]string{}, f.Interests...), f.Keywords...)),
	}
	if c.BatchID != "" {
		body["batchId"] = c.BatchID
	}
	if f.Notes != "" {
		body["notes"] = f.Notes
	}
	s, err := structpb.NewStruct(body)
	if err != nil {
		return nil, fmt.Errorf("build crm payload: %w", err)
	}
	return protojson.Marshal(s)
}

func toList(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
