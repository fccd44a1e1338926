package utils

import (
	"path/filepath"
	"testing"
)

func TestResolvePath(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantError bool
	}{
		{
			name:      "empty path",
			input:     "",
			wantError: true,
		},
		{
			name:      "relative path",
			input:     "./test",
			wantError: false,
		},
		{
			name:      "absolute path",
			input:     "/tmp/test",
			wantError: false,
		},
		{
			name:      "home path",
			input:     "~/test",
			wantError: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ResolvePath(tt.input)
			if (err != nil) != tt.wantError {
				t.Errorf("ResolvePath(%q) error = %v, wantError %v", tt.input, err, tt.wantError)
			}
			if !tt.wantError && result == "" {
				t.Errorf("ResolvePath(%q) returned empty string", tt.input)
			}
		})
	}
}

func TestNormalizeRel(t *testing.T) {
	root := filepath.Join("/", "data", "root")

	tests := []struct {
		name      string
		path      string
		want      string
		wantError bool
	}{
		{
			name: "root itself",
			path: root,
			want: ".",
		},
		{
			name: "nested file",
			path: filepath.Join(root, "a", "b.txt"),
			want: "a/b.txt",
		},
		{
			name:      "escapes root",
			path:      filepath.Join("/", "data", "other"),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeRel(root, tt.path)
			if (err != nil) != tt.wantError {
				t.Fatalf("NormalizeRel(%q) error = %v, wantError %v", tt.path, err, tt.wantError)
			}
			if !tt.wantError && got != tt.want {
				t.Errorf("NormalizeRel(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestDenormalizeRel(t *testing.T) {
	root := filepath.Join("/", "data", "root")

	if got := DenormalizeRel(root, "."); got != root {
		t.Errorf("DenormalizeRel(root, \".\") = %q, want %q", got, root)
	}
	want := filepath.Join(root, "a", "b.txt")
	if got := DenormalizeRel(root, "a/b.txt"); got != want {
		t.Errorf("DenormalizeRel = %q, want %q", got, want)
	}
}
