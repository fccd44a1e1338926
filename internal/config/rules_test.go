package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule_Errors(t *testing.T) {
	tests := []struct {
		name string
		spec string
	}{
		{name: "unknown kind", spec: "Glob *.tmp"},
		{name: "missing pattern", spec: "Name"},
		{name: "blank pattern", spec: "Name   "},
		{name: "bad regex", spec: "Regex ("},
		{name: "bad name glob", spec: "Name [a-"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRule(tt.spec)
			assert.Error(t, err)
		})
	}
}

func TestRuleMatch(t *testing.T) {
	tests := []struct {
		name string
		spec string
		path string
		want bool
	}{
		{name: "name glob hits basename", spec: "Name *.tmp", path: "a/b/c.tmp", want: true},
		{name: "name glob misses", spec: "Name *.tmp", path: "a/b/c.txt", want: false},
		{name: "name glob is not a path glob", spec: "Name b/*.tmp", path: "b/c.tmp", want: false},
		{name: "path glob with doublestar", spec: "Path build/**", path: "build/x/y.o", want: true},
		{name: "path glob matches the dir itself", spec: "Path build/**", path: "build", want: true},
		{name: "path glob respects segments", spec: "Path build/**", path: "builds/x.o", want: false},
		{name: "regex is anchored", spec: "Regex .*~", path: "notes.txt~", want: true},
		{name: "regex anchoring rejects partial", spec: "Regex .*~", path: "notes.txt~x", want: false},
		{name: "regex full path", spec: `Regex tmp/.*\.log`, path: "tmp/a/b.log", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule, err := ParseRule(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.want, rule.Match(tt.path))
		})
	}
}

func TestMatchAny_OrderIndependent(t *testing.T) {
	rules, err := ParseRules([]string{"Name *.tmp", "Path build/**", "Regex .*~"})
	require.NoError(t, err)

	assert.True(t, MatchAny(rules, "x.tmp"))
	assert.True(t, MatchAny(rules, "build/obj/a.o"))
	assert.True(t, MatchAny(rules, "draft~"))
	assert.False(t, MatchAny(rules, "src/main.go"))
	assert.False(t, MatchAny(nil, "anything"))
}
