// Package scanner detects and masks secret-looking substrings in page
// bodies. The transform is stateless: scanning and masking are pure text
// operations, independent of the provisioning workflow.
package scanner

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type Pattern struct {
	Name string
	re   *regexp.Regexp
}

func CompilePattern(name, expr string) (Pattern, error) {
	re, err := regexp.Compile(expr)
	if err != nil {
		return Pattern{}, fmt.Errorf("pattern %s: %w", name, err)
	}
	return Pattern{Name: name, re: re}, nil
}

func mustPattern(name, expr string) Pattern {
	p, err := CompilePattern(name, expr)
	if err != nil {
		panic(err)
	}
	return p
}

func defaultPatterns() []Pattern {
	return []Pattern{
		mustPattern("AWS Key", `AKIA[0-9A-Z]{16}`),
		mustPattern("AWS Secret", `(?i)(?:aws_secret_access_key|AWS_SECRET_ACCESS_KEY)\s*[:=]\s*([A-Za-z0-9/+=]{40})`),
		mustPattern("GitHub Token", `ghp_[a-zA-Z0-9]{36}`),
		mustPattern("API Key", `(?i)(?:api[_\s-]?key|apikey)\s*[:=]\s*["']?([a-zA-Z0-9_\-]{8,})["']?`),
		mustPattern("Password", `(?i)(?:password|passwd|pwd|pass)\s*[:=]\s*["']?([a-zA-Z0-9!@#$%^&*_\-]{3,})["']?`),
		mustPattern("SSH Key", `-----BEGIN (?:RSA|OPENSSH|DSA|EC) PRIVATE KEY-----`),
	}
}

// Finding is one detected secret with its byte offsets in the scanned text.
type Finding struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

type Scanner struct {
	patterns []Pattern
}

// New builds a scanner with the built-in patterns plus any extras loaded
// from configuration.
func New(extra ...Pattern) *Scanner {
	return &Scanner{patterns: append(defaultPatterns(), extra...)}
}

// Detect reports every pattern match. When a pattern has a capture group
// the finding covers that group, otherwise the whole match.
func (s *Scanner) Detect(content string) []Finding {
	var findings []Finding
	for _, pattern := range s.patterns {
		for _, loc := range pattern.re.FindAllStringSubmatchIndex(content, -1) {
			start, end := loc[0], loc[1]
			if pattern.re.NumSubexp() > 0 && loc[2] >= 0 {
				start, end = loc[2], loc[3]
			}
			findings = append(findings, Finding{
				Type:  pattern.Name,
				Text:  content[start:end],
				Start: start,
				End:   end,
			})
		}
	}
	return findings
}

// Mask replaces each finding with asterisks, capped at 20 characters, and
// applies replacements right-to-left so earlier offsets stay valid.
func Mask(content string, findings []Finding) string {
	if len(findings) == 0 {
		return content
	}
	ordered := make([]Finding, len(findings))
	copy(ordered, findings)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Start > ordered[j].Start })
	for _, finding := range ordered {
		width := len(finding.Text)
		if width > 20 {
			width = 20
		}
		content = content[:finding.Start] + strings.Repeat("*", width) + content[finding.End:]
	}
	return content
}
