package llm

import (
	"encoding/json"
	"fmt"
	"maps"
	"regexp"
	"strings"
)

var (
	reEmail      = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	rePhoneChars = regexp.MustCompile(`[^0-9+]`)

	stringFields = []string{
		"first_name", "last_name", "email", "phone", "address", "city",
		"state", "postal_code", "visit_status", "notes",
	}
	listFields = []string{"interests", "keywords"}
)

// SanitizeOptionalFields trims, coerces or drops fields the model got slightly
// wrong so the document can still validate. It never invents values.
func SanitizeOptionalFields(doc []byte) ([]byte, []string, error) {
	var m map[string]any
	if err := json.Unmarshal(doc, &m); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var dropped []string
	drop := func(k, why string) {
		delete(m, k)
		dropped = append(dropped, k+"("+why+")")
	}

	allowed := map[string]struct{}{}
	for _, k := range stringFields {
		allowed[k] = struct{}{}
	}
	for _, k := range listFields {
		allowed[k] = struct{}{}
	}
	for k := range maps.Clone(m) {
		if _, ok := allowed[k]; !ok {
			drop(k, "unknown")
		}
	}

	for _, k := range stringFields {
		v, ok := m[k]
		if !ok {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			drop(k, "type")
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "null") || strings.EqualFold(s, "n/a") {
			drop(k, "empty")
			continue
		}
		m[k] = s
	}

	if v, ok := m["email"].(string); ok {
		e := strings.ToLower(strings.ReplaceAll(v, " ", ""))
		if !reEmail.MatchString(e) {
			drop("email", "invalid")
		} else {
			m["email"] = e
		}
	}
	if v, ok := m["phone"].(string); ok {
		if digits := rePhoneChars.ReplaceAllString(v, ""); len(digits) < 7 {
			drop("phone", "short")
		}
	}

	// lists may come back as a comma separated string
	for _, k := range listFields {
		v, ok := m[k]
		if !ok {
			continue
		}
		var items []any
		switch t := v.(type) {
		case string:
			for _, part := range strings.Split(t, ",") {
				items = append(items, part)
			}
		case []any:
			items = t
		default:
			drop(k, "type")
			continue
		}
		clean := make([]string, 0, len(items))
		for _, it := range items {
			if s, ok := it.(string); ok && strings.TrimSpace(s) != "" {
				clean = append(clean, strings.TrimSpace(s))
			}
		}
		if len(clean) == 0 {
			drop(k, "empty")
			continue
		}
		m[k] = clean
	}

	b, err := json.Marshal(m)
	if err != nil {
		return nil, dropped, fmt.Errorf("sanitize: encode: %w", err)
	}
	return b, dropped, nil
}
