package report

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// yamlParser handles YAML reports with the same shape as the JSON format.
// It is the detection fallback, so Detect only requires the document to
// unmarshal into something issue-like.
type yamlParser struct{}

func (p *yamlParser) Format() string { return "yaml" }

func (p *yamlParser) Detect(content []byte) bool {
	issues, err := p.Parse(content)
	return err == nil && len(issues) > 0
}

func (p *yamlParser) Parse(content []byte) ([]rawIssue, error) {
	var issues []rawIssue
	if err := yaml.Unmarshal(content, &issues); err == nil {
		return issues, nil
	}

	var wrapper struct {
		Issues []rawIssue `yaml:"issues"`
	}
	if err := yaml.Unmarshal(content, &wrapper); err != nil {
		return nil, fmt.Errorf("invalid yaml report: %w", err)
	}
	return wrapper.Issues, nil
}
