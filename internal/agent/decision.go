package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Decision is the model's per-step output, decoded from the strict-JSON
// protocol. Type is "final" or "tool_call"; anything else (or unparseable
// output) ends the run with a fallback answer.
type Decision struct {
	Type     string
	Answer   string
	Notes    string
	Remember []string
	Tool     string
	Args     map[string]interface{}
	Why      string
}

type rawDecision struct {
	Type     string                 `json:"type"`
	Answer   json.RawMessage        `json:"answer"`
	Notes    string                 `json:"notes"`
	Remember []string               `json:"remember"`
	Tool     string                 `json:"tool"`
	Args     map[string]interface{} `json:"args"`
	Why      string                 `json:"why"`
}

// ParseDecision decodes the model output. Models occasionally wrap the JSON
// object in prose, so when the text is not a bare object the first balanced
// brace span is tried before giving up.
func ParseDecision(text string) (*Decision, error) {
	text = strings.TrimSpace(text)

	payload := text
	if !strings.HasPrefix(payload, "{") || !strings.HasSuffix(payload, "}") {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return nil, fmt.Errorf("model did not return JSON: %s", truncate(text, 300))
		}
		payload = text[start : end+1]
	}

	var raw rawDecision
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("model returned invalid JSON: %w", err)
	}

	d := &Decision{
		Type:     raw.Type,
		Notes:    raw.Notes,
		Remember: raw.Remember,
		Tool:     raw.Tool,
		Args:     raw.Args,
		Why:      raw.Why,
	}

	// The answer must reach callers as a string even when the model emits
	// an object or array.
	if len(raw.Answer) > 0 {
		var s string
		if err := json.Unmarshal(raw.Answer, &s); err == nil {
			d.Answer = s
		} else {
			var v interface{}
			if err := json.Unmarshal(raw.Answer, &v); err == nil {
				if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
					d.Answer = string(pretty)
				} else {
					d.Answer = string(raw.Answer)
				}
			} else {
				d.Answer = string(raw.Answer)
			}
		}
	}

	return d, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
