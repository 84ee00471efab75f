package validation

import (
	"bytes"
	"fmt"
	"regexp"
	"unicode/utf8"
)

// MaxCodeSize is the hard cap on submitted source, inclusive.
const MaxCodeSize = 1 << 20

// maxNonPrintableRatio is the tolerated share of non-printable bytes.
const maxNonPrintableRatio = 0.01

// Severity of a detected violation. A single critical violation rejects
// the submission; everything else is logged and execution proceeds.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Violation is one rule hit.
type Violation struct {
	Type        string   `json:"type"`
	Line        int      `json:"line"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
}

// Result is the outcome of validating one submission.
type Result struct {
	Violations []Violation
}

// OK reports whether no rule fired at all.
func (r Result) OK() bool {
	return len(r.Violations) == 0
}

// Rejected reports whether any critical violation fired.
func (r Result) Rejected() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// RejectReason returns the first critical violation's description.
func (r Result) RejectReason() string {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return v.Description
		}
	}
	return ""
}

type patternRule struct {
	name     string
	severity Severity
	re       *regexp.Regexp
	desc     string
}

// Validator is the pre-compilation security gate.
type Validator struct {
	common []patternRule
	byLang map[string][]patternRule
}

// NewValidator compiles the rule sets.
func NewValidator() *Validator {
	return &Validator{
		common: []patternRule{
			{"dangerous_call", SeverityCritical, regexp.MustCompile(`\beval\s*\(`), "call to eval"},
			{"dangerous_call", SeverityCritical, regexp.MustCompile(`\bsystem\s*\(`), "call to system"},
			{"dangerous_call", SeverityCritical, regexp.MustCompile(`\bpopen\s*\(`), "call to popen"},
			{"dangerous_call", SeverityCritical, regexp.MustCompile(`\bexec[lv]p?e?\s*\(`), "call to exec family"},
			{"xss", SeverityMedium, regexp.MustCompile(`(?i)<script[\s>]`), "script tag in source"},
			{"xss", SeverityMedium, regexp.MustCompile(`(?i)\bon(load|click|error|mouseover)\s*=`), "inline event handler"},
			{"sql_injection", SeverityHigh, regexp.MustCompile(`(?i)\bunion\s+select\b`), "SQL union select pattern"},
			{"sql_injection", SeverityHigh, regexp.MustCompile(`(?i)\bdrop\s+table\b`), "SQL drop table pattern"},
			{"path_traversal", SeverityMedium, regexp.MustCompile(`\.\./\.\./`), "path traversal sequence"},
			{"hardcoded_secret", SeverityLow, regexp.MustCompile(`(?i)\b(password|secret|api_?key|token)\s*=\s*["'][^"']{8,}["']`), "possible hardcoded credential"},
		},
		byLang: map[string][]patternRule{
			"python": {
				{"suspicious_import", SeverityCritical, regexp.MustCompile(`(?m)^\s*(import\s+subprocess|from\s+subprocess\b)`), "imports subprocess"},
				{"suspicious_import", SeverityCritical, regexp.MustCompile(`\b__import__\s*\(`), "dynamic import"},
				{"suspicious_import", SeverityCritical, regexp.MustCompile(`\bos\.(system|popen|exec[lv]p?e?)\b`), "os process spawning"},
				{"suspicious_import", SeverityHigh, regexp.MustCompile(`(?m)^\s*(import\s+socket|from\s+socket\b)`), "imports socket"},
			},
			"java": {
				{"suspicious_import", SeverityCritical, regexp.MustCompile(`Runtime\.getRuntime\s*\(\)`), "uses Runtime.getRuntime()"},
				{"suspicious_import", SeverityCritical, regexp.MustCompile(`\bProcessBuilder\b`), "uses ProcessBuilder"},
				{"suspicious_import", SeverityHigh, regexp.MustCompile(`\bjava\.net\.Socket\b`), "opens raw sockets"},
			},
			"go": {
				{"suspicious_import", SeverityCritical, regexp.MustCompile(`"os/exec"`), "imports os/exec"},
				{"suspicious_import", SeverityHigh, regexp.MustCompile(`"net"`), "imports net"},
			},
			"c": {
				{"suspicious_import", SeverityHigh, regexp.MustCompile(`\bfork\s*\(`), "calls fork"},
				{"suspicious_import", SeverityHigh, regexp.MustCompile(`#include\s*<sys/socket\.h>`), "includes socket headers"},
			},
			"cpp": {
				{"suspicious_import", SeverityHigh, regexp.MustCompile(`\bfork\s*\(`), "calls fork"},
				{"suspicious_import", SeverityHigh, regexp.MustCompile(`#include\s*<sys/socket\.h>`), "includes socket headers"},
			},
		},
	}
}

// Validate runs every rule over the source independently and returns all
// hits. Callers decide rejection via Result.Rejected.
func (v *Validator) Validate(code []byte, language string) Result {
	var res Result

	if len(code) > MaxCodeSize {
		res.Violations = append(res.Violations, Violation{
			Type:        "size",
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("source is %d bytes, limit %d", len(code), MaxCodeSize),
		})
		return res
	}

	if !utf8.Valid(code) {
		res.Violations = append(res.Violations, Violation{
			Type:        "encoding",
			Severity:    SeverityCritical,
			Description: "source is not valid UTF-8",
		})
		return res
	}

	if ratio := nonPrintableRatio(code); ratio >= maxNonPrintableRatio {
		res.Violations = append(res.Violations, Violation{
			Type:        "encoding",
			Severity:    SeverityCritical,
			Description: fmt.Sprintf("%.1f%% non-printable bytes", ratio*100),
		})
		return res
	}

	rules := v.common
	if langRules, ok := v.byLang[language]; ok {
		rules = append(append([]patternRule{}, rules...), langRules...)
	}

	lines := bytes.Split(code, []byte("\n"))
	for _, rule := range rules {
		for i, line := range lines {
			if rule.re.Match(line) {
				res.Violations = append(res.Violations, Violation{
					Type:        rule.name,
					Line:        i + 1,
					Severity:    rule.severity,
					Description: rule.desc,
				})
				break // one hit per rule is enough
			}
		}
	}

	return res
}

func nonPrintableRatio(code []byte) float64 {
	if len(code) == 0 {
		return 0
	}
	count := 0
	for _, b := range code {
		if b == '\n' || b == '\r' || b == '\t' {
			continue
		}
		if b < 0x20 || b == 0x7f {
			count++
		}
	}
	return float64(count) / float64(len(code))
}
