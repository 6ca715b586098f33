// Package contentfilter screens task titles against a case-insensitive
// block-list of regular expressions.
package contentfilter

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultPatterns is the built-in block-list. Matching is case-insensitive.
var DefaultPatterns = []string{
	`kill\s+yourself`,
	`kill\s+your\s+self`,
	`suicid`,
	`die\s+yourself`,
	`go\s+die`,
}

// Filter holds compiled patterns. The zero value matches nothing.
type Filter struct {
	patterns []*regexp.Regexp
}

// New compiles patterns case-insensitively.
func New(patterns ...string) (*Filter, error) {
	f := &Filter{}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, fmt.Errorf("compile pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// Default returns a filter over DefaultPatterns.
func Default() *Filter {
	f, err := New(DefaultPatterns...)
	if err != nil {
		panic(err)
	}
	return f
}

type fileFormat struct {
	Patterns []string `yaml:"patterns"`
}

// LoadFile returns the default filter extended with the patterns listed under
// the "patterns" key of a YAML file. An empty path yields Default().
func LoadFile(path string) (*Filter, error) {
	if path == "" {
		return Default(), nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read content filter file: %w", err)
	}
	var ff fileFormat
	if err := yaml.Unmarshal(b, &ff); err != nil {
		return nil, fmt.Errorf("parse content filter file: %w", err)
	}
	return New(append(append([]string(nil), DefaultPatterns...), ff.Patterns...)...)
}

// Match returns the first pattern matching text, or "".
func (f *Filter) Match(text string) string {
	if f == nil {
		return ""
	}
	for _, re := range f.patterns {
		if re.MatchString(text) {
			return re.String()
		}
	}
	return ""
}

// Prohibited reports whether any pattern matches text.
func (f *Filter) Prohibited(text string) bool { return f.Match(text) != "" }

// Redact replaces matched spans with asterisks, for logging.
func (f *Filter) Redact(text string) string {
	if f == nil {
		return text
	}
	for _, re := range f.patterns {
		text = re.ReplaceAllStringFunc(text, func(m string) string {
			return strings.Repeat("*", len([]rune(m)))
		})
	}
	return text
}

// Len reports the number of compiled patterns.
func (f *Filter) Len() int {
	if f == nil {
		return 0
	}
	return len(f.patterns)
}
