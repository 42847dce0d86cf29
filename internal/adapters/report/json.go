package report

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// jsonParser handles JSON reports, either a bare array of issues or an
// object with an "issues" key.
type jsonParser struct{}

func (p *jsonParser) Format() string { return "json" }

func (p *jsonParser) Detect(content []byte) bool {
	trimmed := bytes.TrimSpace(content)
	return len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') && json.Valid(trimmed)
}

func (p *jsonParser) Parse(content []byte) ([]rawIssue, error) {
	trimmed := bytes.TrimSpace(content)

	if trimmed[0] == '[' {
		var issues []rawIssue
		if err := json.Unmarshal(trimmed, &issues); err != nil {
			return nil, fmt.Errorf("invalid issue array: %w", err)
		}
		return issues, nil
	}

	var wrapper struct {
		Issues []rawIssue `json:"issues"`
	}
	if err := json.Unmarshal(trimmed, &wrapper); err != nil {
		return nil, fmt.Errorf("invalid report object: %w", err)
	}
	return wrapper.Issues, nil
}
