// Package secrets redacts credentials from text before it leaves the process,
// chiefly conversation snippets sent to extraction providers.
//
// A fixed set of regular expressions covers the common provider keys and
// inline credentials. The gitleaks default ruleset can be layered on top for
// broader coverage at a higher per-call cost.
package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Rule replaces every match of Pattern with Replacement. Replacement may
// reference capture groups.
type Rule struct {
	ID          string
	Pattern     *regexp.Regexp
	Replacement string
}

// DefaultRules returns the built-in rules. More specific rules come first, and
// generic key=value rules never match a value that is already a marker.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:          "env-secret",
			Pattern:     regexp.MustCompile(`(OPENAI_API_KEY|ANTHROPIC_API_KEY|OPENROUTER_API_KEY|GEMINI_API_KEY|GOOGLE_API_KEY|AWS_SECRET_ACCESS_KEY|GITHUB_TOKEN)\s*=\s*([^\s]+)`),
			Replacement: "$1=[REDACTED:env-secret]",
		},
		{
			ID:          "anthropic-key",
			Pattern:     regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			Replacement: "[REDACTED:anthropic-key]",
		},
		{
			ID:          "openrouter-key",
			Pattern:     regexp.MustCompile(`sk-or-(?:v1-)?[a-zA-Z0-9]{20,}`),
			Replacement: "[REDACTED:openrouter-key]",
		},
		{
			ID:          "openai-key",
			Pattern:     regexp.MustCompile(`sk-(?:proj-)?[a-zA-Z0-9_-]{20,}`),
			Replacement: "[REDACTED:openai-key]",
		},
		{
			ID:          "google-api-key",
			Pattern:     regexp.MustCompile(`AIza[0-9A-Za-z_-]{35}`),
			Replacement: "[REDACTED:google-api-key]",
		},
		{
			ID:          "bearer-token",
			Pattern:     regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.=]{20,}`),
			Replacement: "[REDACTED:bearer-token]",
		},
		{
			ID:          "api-key",
			Pattern:     regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*["']?([^"'\s\[]{8,})["']?`),
			Replacement: "$1=[REDACTED:api-key]",
		},
		{
			ID:          "token",
			Pattern:     regexp.MustCompile(`(?i)(token|auth[_-]?token)\s*[:=]\s*["']?([^"'\s\[]{8,})["']?`),
			Replacement: "$1=[REDACTED:token]",
		},
		{
			ID:          "password",
			Pattern:     regexp.MustCompile(`(?i)(password|passwd|pwd)\s*[:=]\s*["']?([^"'\s\[]{4,})["']?`),
			Replacement: "$1=[REDACTED:password]",
		},
		{
			ID:          "private-key",
			Pattern:     regexp.MustCompile(`-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----[\s\S]*?-----END (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`),
			Replacement: "[REDACTED:private-key]",
		},
	}
}

// Result is the outcome of a Scrub call.
type Result struct {
	Text string

	// Redactions counts replacements per rule id.
	Redactions map[string]int
}

// Total returns the number of replacements made.
func (r Result) Total() int {
	n := 0
	for _, c := range r.Redactions {
		n += c
	}
	return n
}

// Rules returns the ids of the rules that fired, sorted.
func (r Result) Rules() []string {
	ids := make([]string, 0, len(r.Redactions))
	for id := range r.Redactions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Scrubber redacts secrets. It is safe for concurrent use.
type Scrubber struct {
	rules []Rule

	// gitleaks detectors keep per-scan state.
	mu       sync.Mutex
	gitleaks *detect.Detector
}

// Option configures a Scrubber.
type Option func(*options)

type options struct {
	rules    []Rule
	gitleaks bool
}

// WithRules replaces the built-in rules.
func WithRules(rules []Rule) Option {
	return func(o *options) { o.rules = rules }
}

// WithGitleaks runs the gitleaks default ruleset after the regex rules.
func WithGitleaks(enabled bool) Option {
	return func(o *options) { o.gitleaks = enabled }
}

// New creates a Scrubber.
func New(opts ...Option) (*Scrubber, error) {
	o := options{rules: DefaultRules()}
	for _, opt := range opts {
		opt(&o)
	}

	for i, r := range o.rules {
		if r.ID == "" || r.Pattern == nil {
			return nil, fmt.Errorf("rule %d: id and pattern are required", i)
		}
	}

	s := &Scrubber{rules: o.rules}
	if o.gitleaks {
		d, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, fmt.Errorf("load gitleaks rules: %w", err)
		}
		s.gitleaks = d
	}
	return s, nil
}

// Scrub returns content with every detected secret replaced by a
// [REDACTED:<rule>] marker.
func (s *Scrubber) Scrub(content string) Result {
	res := Result{Text: content, Redactions: map[string]int{}}
	if content == "" {
		return res
	}

	for _, r := range s.rules {
		n := len(r.Pattern.FindAllStringIndex(res.Text, -1))
		if n == 0 {
			continue
		}
		res.Text = r.Pattern.ReplaceAllString(res.Text, r.Replacement)
		res.Redactions[r.ID] += n
	}

	if s.gitleaks != nil {
		res.Text = s.scrubGitleaks(res.Text, res.Redactions)
	}
	return res
}

// String is Scrub without the report.
func (s *Scrubber) String(content string) string {
	return s.Scrub(content).Text
}

func (s *Scrubber) scrubGitleaks(content string, counts map[string]int) string {
	s.mu.Lock()
	findings := s.gitleaks.DetectString(content)
	s.mu.Unlock()

	// Longest secrets first so a short secret never splits a longer one.
	sort.SliceStable(findings, func(i, j int) bool {
		return len(findings[i].Secret) > len(findings[j].Secret)
	})
	for _, f := range findings {
		if f.Secret == "" || strings.Contains(f.Secret, "[REDACTED:") || !strings.Contains(content, f.Secret) {
			continue
		}
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
		counts[f.RuleID]++
	}
	return content
}
