// Package report converts ingested migration reports of several formats
// into a normalized, stably-ordered issue list. Parsing is deterministic
// and performs no LLM calls: the same input always yields the same output.
package report

import (
	"fmt"
	"strings"

	"github.com/forgeworks/anvil/internal/core/domain"
)

// rawIssue is the parser-level shape before normalization.
type rawIssue struct {
	Title    string   `json:"title" yaml:"title"`
	Severity string   `json:"severity" yaml:"severity"`
	Effort   string   `json:"effort" yaml:"effort"`
	Files    []string `json:"files" yaml:"files"`
	Hint     string   `json:"hint" yaml:"hint"`
}

// Parser handles one report format.
type Parser interface {
	// Format names the format this parser handles.
	Format() string
	// Detect reports whether the content looks like this format.
	Detect(content []byte) bool
	// Parse extracts raw issues in discovery order.
	Parse(content []byte) ([]rawIssue, error)
}

// Registry routes report content to format-specific parsers feeding one
// common normalizer.
type Registry struct {
	parsers []Parser
}

// NewRegistry builds the registry with all known formats. Detection order
// matters: JSON is unambiguous, markdown is checked before YAML because
// many markdown documents are also valid YAML.
func NewRegistry() *Registry {
	return &Registry{
		parsers: []Parser{
			&jsonParser{},
			&markdownParser{},
			&yamlParser{},
		},
	}
}

// Parse converts report content into normalized issues. format may name a
// parser explicitly or be empty for detection.
func (r *Registry) Parse(content []byte, format string) ([]domain.Issue, string, error) {
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, "", &domain.ValidationError{Field: "report", Reason: "must not be empty"}
	}

	var parser Parser
	if format != "" {
		for _, p := range r.parsers {
			if p.Format() == format {
				parser = p
				break
			}
		}
		if parser == nil {
			return nil, "", &domain.ValidationError{Field: "format", Reason: fmt.Sprintf("unknown report format %q", format)}
		}
	} else {
		for _, p := range r.parsers {
			if p.Detect(content) {
				parser = p
				break
			}
		}
		if parser == nil {
			return nil, "", &domain.ValidationError{Field: "report", Reason: "unrecognized report format"}
		}
	}

	raw, err := parser.Parse(content)
	if err != nil {
		return nil, "", fmt.Errorf("failed to parse %s report: %w", parser.Format(), err)
	}
	issues, err := normalize(raw)
	if err != nil {
		return nil, "", err
	}
	return issues, parser.Format(), nil
}

// normalize applies defaults, drops empty entries, orders by severity then
// discovery index, and assigns stable ids.
func normalize(raw []rawIssue) ([]domain.Issue, error) {
	issues := make([]domain.Issue, 0, len(raw))
	for _, ri := range raw {
		title := strings.TrimSpace(ri.Title)
		if title == "" {
			continue
		}
		issues = append(issues, domain.Issue{
			Title:         title,
			Severity:      normalizeSeverity(ri.Severity),
			Effort:        normalizeEffort(ri.Effort),
			AffectedFiles: cleanFiles(ri.Files),
			Hint:          strings.TrimSpace(ri.Hint),
			Status:        domain.TaskStatusPending,
		})
	}
	if len(issues) == 0 {
		return nil, &domain.ValidationError{Field: "report", Reason: "no issues found in report"}
	}

	domain.SortIssues(issues)
	for i := range issues {
		issues[i].ID = fmt.Sprintf("ISS-%03d", i+1)
	}
	return issues, nil
}

func normalizeSeverity(s string) domain.Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mandatory", "critical", "required", "high":
		return domain.SeverityMandatory
	case "recommended", "medium", "moderate":
		return domain.SeverityRecommended
	case "optional", "low", "minor":
		return domain.SeverityOptional
	default:
		return domain.SeverityRecommended
	}
}

func normalizeEffort(s string) domain.Effort {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "small", "s", "low":
		return domain.EffortSmall
	case "large", "l", "high":
		return domain.EffortLarge
	default:
		return domain.EffortMedium
	}
}

func cleanFiles(files []string) []string {
	var out []string
	for _, f := range files {
		f = strings.TrimSpace(f)
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}
