package llm

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/joseph-ayodele/connect-cards/internal/common"
)

// BuildCardJSONSchema returns a JSON-Schema (draft 2020-12 subset) as a generic map.
// It is sent to the model as the output contract and used locally to validate.
// A card is usable when at least a name, email or phone was read.
func BuildCardJSONSchema() map[string]any {
	str := func() map[string]any { return map[string]any{"type": "string", "minLength": 1} }
	list := func() map[string]any {
		return map[string]any{"type": "array", "items": str()}
	}
	props := map[string]any{
		"first_name":   str(),
		"last_name":    str(),
		"email":        map[string]any{"type": "string", "pattern": `^[^@\s]+@[^@\s]+\.[^@\s]+$`},
		"phone":        map[string]any{"type": "string", "pattern": `^\+?[0-9 ().-]{7,}$`},
		"address":      str(),
		"city":         str(),
		"state":        str(),
		"postal_code":  str(),
		"visit_status": str(),
		"interests":    list(),
		"keywords":     list(),
		"notes":        str(),
	}
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
		"anyOf": []any{
			map[string]any{"required": []string{"first_name"}},
			map[string]any{"required": []string{"last_name"}},
			map[string]any{"required": []string{"email"}},
			map[string]any{"required": []string{"phone"}},
		},
	}
}

var (
	cardSchemaOnce sync.Once
	cardSchema     *jsonschema.Schema
	cardSchemaErr  error
)

func compiledCardSchema() (*jsonschema.Schema, error) {
	cardSchemaOnce.Do(func() {
		b, err := json.Marshal(BuildCardJSONSchema())
		if err != nil {
			cardSchemaErr = fmt.Errorf("marshal card schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("card.json", bytes.NewReader(b)); err != nil {
			cardSchemaErr = fmt.Errorf("add card schema: %w", err)
			return
		}
		cardSchema, cardSchemaErr = compiler.Compile("card.json")
	})
	return cardSchema, cardSchemaErr
}

// ValidateCardJSON checks model output against the card schema. A document that
// does not match wraps common.ErrValidation and names the offending fields.
func ValidateCardJSON(data []byte) error {
	schema, err := compiledCardSchema()
	if err != nil {
		return err
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("%w: card fields are not json: %v", common.ErrValidation, err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s", common.ErrValidation, describeViolations(err))
	}
	return nil
}

// describeViolations flattens a schema error into "field: reason" pairs.
func describeViolations(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var parts []string
	seen := map[string]bool{}
	for _, e := range ve.BasicOutput().Errors {
		if e.Error == "" || strings.HasPrefix(e.Error, "doesn't validate with") {
			continue
		}
		field := strings.TrimPrefix(e.InstanceLocation, "/")
		if field == "" {
			field = "card"
		}
		p := field + ": " + e.Error
		if !seen[p] {
			seen[p] = true
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return ve.Error()
	}
	return strings.Join(parts, "; ")
}
