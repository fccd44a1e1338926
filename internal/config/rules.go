package config

import (
	"fmt"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// RuleKind tags the predicate form of an ignore or backup exemption rule.
type RuleKind string

const (
	// RuleName matches the basename with filepath.Match glob syntax.
	RuleName RuleKind = "Name"
	// RulePath matches the relative path with doublestar glob syntax.
	RulePath RuleKind = "Path"
	// RuleRegex matches the whole relative path with an RE2 expression.
	RuleRegex RuleKind = "Regex"
)

// Rule is one ordered predicate from an `ignore` or `backup_not` list,
// written as "<Name|Path|Regex> <pattern>".
type Rule struct {
	Kind    RuleKind
	Pattern string
	re      *regexp.Regexp
}

// ParseRule compiles a single rule spec. Bad patterns fail here, at load
// time, not during the run.
func ParseRule(spec string) (Rule, error) {
	kind, pattern, found := strings.Cut(strings.TrimSpace(spec), " ")
	pattern = strings.TrimSpace(pattern)
	if !found || pattern == "" {
		return Rule{}, fmt.Errorf("rule %q: want \"<Name|Path|Regex> <pattern>\"", spec)
	}

	switch RuleKind(kind) {
	case RuleName:
		if _, err := filepath.Match(pattern, "probe"); err != nil {
			return Rule{}, fmt.Errorf("rule %q: %w", spec, err)
		}
		return Rule{Kind: RuleName, Pattern: pattern}, nil
	case RulePath:
		if !doublestar.ValidatePattern(pattern) {
			return Rule{}, fmt.Errorf("rule %q: invalid pattern", spec)
		}
		return Rule{Kind: RulePath, Pattern: pattern}, nil
	case RuleRegex:
		// Anchored: the whole relative path must match.
		re, err := regexp.Compile("^(?:" + pattern + ")$")
		if err != nil {
			return Rule{}, fmt.Errorf("rule %q: %w", spec, err)
		}
		return Rule{Kind: RuleRegex, Pattern: pattern, re: re}, nil
	default:
		return Rule{}, fmt.Errorf("rule %q: unknown kind %q", spec, kind)
	}
}

// ParseRules compiles an ordered rule list, failing on the first bad spec.
func ParseRules(specs []string) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, spec := range specs {
		rule, err := ParseRule(spec)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Match reports whether the rule matches the slash-separated relative path.
func (r Rule) Match(relPath string) bool {
	switch r.Kind {
	case RuleName:
		ok, _ := filepath.Match(r.Pattern, path.Base(relPath))
		return ok
	case RulePath:
		ok, _ := doublestar.Match(r.Pattern, relPath)
		return ok
	case RuleRegex:
		return r.re.MatchString(relPath)
	}
	return false
}

// MatchAny reports whether any rule in the list matches relPath.
func MatchAny(rules []Rule, relPath string) bool {
	for _, rule := range rules {
		if rule.Match(relPath) {
			return true
		}
	}
	return false
}
