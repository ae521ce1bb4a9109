package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/connect-cards/internal/common"
	"github.com/joseph-ayodele/connect-cards/internal/entity"
	"github.com/joseph-ayodele/connect-cards/internal/extract"
	"github.com/joseph-ayodele/connect-cards/internal/httpx"
	"github.com/joseph-ayodele/connect-cards/internal/llm"
)

// ExtractCardFields implements extract.FieldExtractor with a vision chat/completions call.
// Images travel inline as data URLs so the model never needs storage credentials.
func (c *Client) ExtractCardFields(ctx context.Context, images []extract.ImageRef) (entity.CardFields, []byte, error) {
	rid := uuid.New().String()
	start := time.Now()

	sides := make([]string, 0, len(images))
	content := []map[string]any{}
	for _, img := range images {
		sides = append(sides, img.Side)
		content = append(content, map[string]any{
			"type": "image_url",
			"image_url": map[string]any{
				"url":    dataURL(img.ContentType, img.Data),
				"detail": c.cfg.ImageDetail,
			},
		})
	}
	content = append([]map[string]any{{"type": "text", "text": llm.BuildUserPrompt(sides)}}, content...)

	c.logger.Info("llm.extract.start",
		"req_id", rid,
		"item_id", common.ItemIDFromContext(ctx),
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"images", len(images),
	)

	schema := llm.BuildCardJSONSchema()
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": llm.BuildSystemPrompt()},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
			{"role": "user", "content": content},
		},
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, status, err := httpx.SendJSON(ctx, c.http, endpoint, body, headers, c.logger)
	if err != nil {
		c.logger.Error("llm.extract.http_error",
			"req_id", rid, "status", status, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return entity.CardFields{}, nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.logger.Error("llm.extract.decode_error", "req_id", rid, "error", err, "raw_bytes", len(raw))
		return entity.CardFields{}, raw, common.NewAppError(common.CodeTransientNetwork, "decode openai response", err)
	}
	if len(cc.Choices) == 0 {
		c.logger.Error("llm.extract.no_choices", "req_id", rid, "raw", string(raw))
		return entity.CardFields{}, raw, common.NewAppError(common.CodeTransientNetwork, "no choices in openai response", common.ErrTransientNetwork)
	}
	rawContent := []byte(strings.TrimSpace(cc.Choices[0].Message.Content))

	// Validate strictly first.
	if err := llm.ValidateCardJSON(rawContent); err != nil {
		if !c.cfg.LenientOptional {
			c.logger.Error("llm.extract.schema_validation_failed", "req_id", rid, "error", err, "content", string(rawContent))
			return entity.CardFields{}, rawContent, common.NewAppError(common.CodeExtractionValidation, "card fields failed validation", err)
		}
		cleaned, dropped, sErr := llm.SanitizeOptionalFields(rawContent)
		if sErr != nil {
			c.logger.Error("llm.extract.sanitize_failed", "req_id", rid, "error", sErr)
			return entity.CardFields{}, rawContent, common.NewAppError(common.CodeExtractionValidation, "card fields unreadable", fmt.Errorf("%w: %v", common.ErrValidation, sErr))
		}
		if vErr := llm.ValidateCardJSON(cleaned); vErr != nil {
			c.logger.Error("llm.extract.schema_validation_failed", "req_id", rid, "error", vErr, "content", string(cleaned))
			return entity.CardFields{}, cleaned, common.NewAppError(common.CodeExtractionValidation, "card fields failed validation", vErr)
		}
		c.logger.Warn("llm.extract.lenient_sanitize_applied", "req_id", rid, "dropped", dropped)
		rawContent = cleaned
	}

	var out entity.CardFields
	if err := json.Unmarshal(rawContent, &out); err != nil {
		c.logger.Error("llm.extract.unmarshal_failed", "req_id", rid, "error", err)
		return entity.CardFields{}, rawContent, common.NewAppError(common.CodeExtractionValidation, "unmarshal card fields", fmt.Errorf("%w: %v", common.ErrValidation, err))
	}

	c.logger.Info("llm.extract.ok",
		"req_id", rid,
		"name", out.DisplayName(),
		"has_email", out.Email != "",
		"has_phone", out.Phone != "",
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, rawContent, nil
}

func dataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "image/jpeg"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}
