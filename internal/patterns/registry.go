package patterns

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	yaml "gopkg.in/yaml.v2"

	sherrors "github.com/scan-io-git/sweeper/pkg/shared/errors"
)

// Column names of the CSV pattern source.
const (
	ColumnRuleName = "Rule Name"
	ColumnRegex    = "Regular Expression"
)

// Pattern is a named detector.
type Pattern struct {
	Name string
	Expr *regexp.Regexp
}

// Match is a single detector hit in a text blob.
type Match struct {
	Rule    string
	Snippet string
}

// Registry is the ordered, read-only set of detectors loaded for a run.
type Registry struct {
	patterns []Pattern
}

type yamlRule struct {
	Name  string `yaml:"name"`
	Regex string `yaml:"regex"`
}

// Load reads detectors from a CSV file with "Rule Name" and "Regular Expression"
// columns, or from a YAML list of {name, regex} entries. Any problem with the
// source is returned as a ConfigError.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, sherrors.NewConfigError(path, fmt.Errorf("failed to open pattern source: %w", err))
	}
	defer f.Close()

	var rules [][2]string
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		rules, err = readYAML(f)
	default:
		rules, err = readCSV(f)
	}
	if err != nil {
		return nil, sherrors.NewConfigError(path, err)
	}

	r, err := compile(rules)
	if err != nil {
		return nil, sherrors.NewConfigError(path, err)
	}
	return r, nil
}

// New compiles in-memory rules keyed by name. Without an explicit order the
// rules are sorted by name.
func New(rules map[string]string, order ...string) (*Registry, error) {
	if len(order) == 0 {
		for name := range rules {
			order = append(order, name)
		}
		sort.Strings(order)
	}
	pairs := make([][2]string, 0, len(order))
	for _, name := range order {
		pairs = append(pairs, [2]string{name, rules[name]})
	}
	return compile(pairs)
}

func readCSV(r io.Reader) ([][2]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("pattern source is empty")
		}
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	nameIdx, exprIdx := -1, -1
	for i, col := range header {
		switch strings.TrimSpace(strings.TrimPrefix(col, "\ufeff")) {
		case ColumnRuleName:
			nameIdx = i
		case ColumnRegex:
			exprIdx = i
		}
	}
	if nameIdx < 0 || exprIdx < 0 {
		return nil, fmt.Errorf("missing required columns %q and %q", ColumnRuleName, ColumnRegex)
	}

	var rules [][2]string
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("malformed row %d: %w", line, err)
		}
		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if nameIdx >= len(record) || exprIdx >= len(record) {
			return nil, fmt.Errorf("row %d has %d columns, want at least %d", line, len(record), max(nameIdx, exprIdx)+1)
		}
		rules = append(rules, [2]string{strings.TrimSpace(record[nameIdx]), record[exprIdx]})
	}
	return rules, nil
}

func readYAML(r io.Reader) ([][2]string, error) {
	var entries []yamlRule
	if err := yaml.NewDecoder(r).Decode(&entries); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("pattern source is empty")
		}
		return nil, fmt.Errorf("failed to decode YAML patterns: %w", err)
	}
	rules := make([][2]string, 0, len(entries))
	for _, e := range entries {
		rules = append(rules, [2]string{strings.TrimSpace(e.Name), e.Regex})
	}
	return rules, nil
}

func compile(rules [][2]string) (*Registry, error) {
	seen := make(map[string]struct{}, len(rules))
	r := &Registry{patterns: make([]Pattern, 0, len(rules))}
	for _, rule := range rules {
		name, expr := rule[0], rule[1]
		if name == "" {
			return nil, fmt.Errorf("rule with expression %q has no name", expr)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate rule name %q", name)
		}
		if strings.TrimSpace(expr) == "" {
			return nil, fmt.Errorf("rule %q has an empty expression", name)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("rule %q: invalid expression: %w", name, err)
		}
		seen[name] = struct{}{}
		r.patterns = append(r.patterns, Pattern{Name: name, Expr: re})
	}
	return r, nil
}

// Len returns the number of loaded detectors.
func (r *Registry) Len() int { return len(r.patterns) }

// Patterns returns a copy of the detectors in load order.
func (r *Registry) Patterns() []Pattern {
	out := make([]Pattern, len(r.patterns))
	copy(out, r.patterns)
	return out
}

// Match evaluates every detector against text and returns one Match per
// detector that occurs anywhere in it.
func (r *Registry) Match(text string) []Match {
	if text == "" {
		return nil
	}
	var matches []Match
	for _, p := range r.patterns {
		loc := p.Expr.FindStringIndex(text)
		if loc == nil {
			continue
		}
		matches = append(matches, Match{Rule: p.Name, Snippet: text[loc[0]:loc[1]]})
	}
	return matches
}
