package redaction

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// Category groups sensitive findings.
type Category string

const (
	CategoryCredential Category = "credential"
	CategoryInternal   Category = "internal"
	CategoryCustom     Category = "custom"
)

// SensitiveFinding is one detected sensitive region.
type SensitiveFinding struct {
	PatternID   string   `json:"patternId"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Value       string   `json:"value"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	MaskedValue string   `json:"maskedValue"`
}

// SensitivePattern is one catalog entry.
type SensitivePattern struct {
	ID          string
	Category    Category
	Description string
	re          *regexp.Regexp
}

func sensitivePattern(id string, cat Category, desc, expr string) SensitivePattern {
	return SensitivePattern{ID: id, Category: cat, Description: desc, re: regexp.MustCompile(expr)}
}

func builtinPatterns() []SensitivePattern {
	return []SensitivePattern{
		// Credentials
		sensitivePattern("cred-openai", CategoryCredential, "OpenAI API key", `\bsk-[A-Za-z0-9_-]{20,}\b`),
		sensitivePattern("cred-google", CategoryCredential, "Google API key", `\bAIza[A-Za-z0-9_-]{35}\b`),
		sensitivePattern("cred-anthropic", CategoryCredential, "Anthropic API key", `\bsk-ant-[A-Za-z0-9_-]{20,}\b`),
		sensitivePattern("cred-github", CategoryCredential, "GitHub token", `\bgh[pou]_[A-Za-z0-9]{36,}\b`),
		sensitivePattern("cred-slack", CategoryCredential, "Slack token", `\bxox[bp]-[A-Za-z0-9-]{10,}\b`),
		sensitivePattern("cred-aws-key", CategoryCredential, "AWS access key", `\bAKIA[0-9A-Z]{16}\b`),
		sensitivePattern("cred-aws-secret", CategoryCredential, "AWS secret key",
			`(?i)aws_secret_access_key\s*[=:]\s*["']?[A-Za-z0-9/+=]{30,}["']?`),
		sensitivePattern("cred-jwt", CategoryCredential, "JWT token",
			`\beyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\b`),
		sensitivePattern("cred-pem", CategoryCredential, "PEM private key",
			`-----BEGIN\s+(RSA\s+|EC\s+|OPENSSH\s+)?PRIVATE\s+KEY-----`),
		sensitivePattern("cred-db-uri", CategoryCredential, "Database connection URI",
			`\b(mongodb|postgres|postgresql|mysql|redis|mssql)://[^\s"']+`),
		sensitivePattern("cred-password", CategoryCredential, "Password assignment",
			`(?i)\b(password|passwd)\s*[=:]\s*["']?[^\s"',;]{4,}["']?`),

		// Internal system information
		sensitivePattern("int-localhost", CategoryInternal, "Localhost URL",
			`\bhttps?://(localhost|127\.0\.0\.1)(:\d+)?[^\s"']*`),
		sensitivePattern("int-private-ip", CategoryInternal, "Private network address",
			`\b(10\.\d{1,3}\.\d{1,3}\.\d{1,3}|172\.(1[6-9]|2\d|3[01])\.\d{1,3}\.\d{1,3}|192\.168\.\d{1,3}\.\d{1,3})\b`),
		sensitivePattern("int-unix-path", CategoryInternal, "Internal filesystem path",
			`(?:^|\s)(/etc|/var|/home)/[^\s"']+`),
		sensitivePattern("int-windows-path", CategoryInternal, "Windows user path",
			`[Cc]:\\Users\\[^\s"']+`),
		sensitivePattern("int-env-var", CategoryInternal, "Environment variable reference",
			`\$\{[A-Z_][A-Z0-9_]*\}|\$[A-Z_][A-Z0-9_]{2,}\b`),
	}
}

// Detector scans text against the built-in credential and internal catalogs
// plus any custom patterns supplied at construction.
type Detector struct {
	mu       sync.RWMutex
	patterns []SensitivePattern
}

// CustomPattern is a caller-supplied detection pattern.
type CustomPattern struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description"`
	Pattern     string `yaml:"pattern"`
}

// NewDetector builds a detector from the built-in catalog plus custom
// patterns. An invalid custom pattern is an error.
func NewDetector(custom []CustomPattern) (*Detector, error) {
	d := &Detector{patterns: builtinPatterns()}
	for _, c := range custom {
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling custom pattern %s: %w", c.ID, err)
		}
		d.patterns = append(d.patterns, SensitivePattern{
			ID:          c.ID,
			Category:    CategoryCustom,
			Description: c.Description,
			re:          re,
		})
	}
	return d, nil
}

// Detect scans text, de-duplicating by (start, end, pattern).
func (d *Detector) Detect(text string) []SensitiveFinding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	var findings []SensitiveFinding
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			key := fmt.Sprintf("%d:%d:%s", loc[0], loc[1], p.ID)
			if seen[key] {
				continue
			}
			seen[key] = true
			value := text[loc[0]:loc[1]]
			findings = append(findings, SensitiveFinding{
				PatternID:   p.ID,
				Category:    p.Category,
				Description: p.Description,
				Value:       value,
				Start:       loc[0],
				End:         loc[1],
				MaskedValue: MaskValue(value),
			})
		}
	}
	sort.Slice(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })
	return findings
}
