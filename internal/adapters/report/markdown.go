package report

import (
	"bufio"
	"bytes"
	"strings"
)

// markdownParser handles human-written markdown reports. Each level-2
// heading opens an issue; key-value bullets beneath it carry the fields
// and any remaining prose becomes the hint.
//
//	## Replace deprecated crypto API
//	- Severity: mandatory
//	- Effort: small
//	- Files: internal/auth/token.go, internal/auth/session.go
//
//	Use the maintained replacement package instead.
type markdownParser struct{}

func (p *markdownParser) Format() string { return "markdown" }

func (p *markdownParser) Detect(content []byte) bool {
	trimmed := bytes.TrimSpace(content)
	return bytes.HasPrefix(trimmed, []byte("#")) || bytes.Contains(trimmed, []byte("\n## "))
}

func (p *markdownParser) Parse(content []byte) ([]rawIssue, error) {
	var issues []rawIssue
	var current *rawIssue
	var hintLines []string

	flush := func() {
		if current != nil {
			current.Hint = strings.TrimSpace(strings.Join(hintLines, "\n"))
			issues = append(issues, *current)
		}
		current = nil
		hintLines = nil
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "## ") {
			flush()
			current = &rawIssue{Title: strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))}
			continue
		}
		if current == nil {
			continue
		}

		if key, value, ok := parseBullet(trimmed); ok {
			switch key {
			case "severity":
				current.Severity = value
			case "effort":
				current.Effort = value
			case "files", "affected files":
				for _, f := range strings.Split(value, ",") {
					current.Files = append(current.Files, strings.TrimSpace(f))
				}
			default:
				hintLines = append(hintLines, trimmed)
			}
			continue
		}
		if trimmed != "" {
			hintLines = append(hintLines, trimmed)
		}
	}
	flush()

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return issues, nil
}

// parseBullet extracts "key: value" from "- Key: value" or "- **Key:** value".
func parseBullet(line string) (key, value string, ok bool) {
	if !strings.HasPrefix(line, "- ") && !strings.HasPrefix(line, "* ") {
		return "", "", false
	}
	body := strings.ReplaceAll(line[2:], "**", "")
	idx := strings.Index(body, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(body[:idx])), strings.TrimSpace(body[idx+1:]), true
}
