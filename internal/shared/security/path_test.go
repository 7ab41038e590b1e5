package security

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestResolveWithin(t *testing.T) {
	base := t.TempDir()

	tests := []struct {
		name  string
		elems []string
		want  string
	}{
		{"verdict file", []string{"example.com_443.json"}, filepath.Join(base, "example.com_443.json")},
		{"nested", []string{"2026", "example.com_443.json"}, filepath.Join(base, "2026", "example.com_443.json")},
		{"dot dot in middle", []string{"a", "b", "..", "c"}, filepath.Join(base, "a", "c")},
		{"absolute element is joined", []string{"/etc/passwd"}, filepath.Join(base, "etc", "passwd")},
		{"no elements", nil, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveWithin(base, tt.elems...)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestResolveWithinBlocksEscape(t *testing.T) {
	base := t.TempDir()
	for _, elems := range [][]string{
		{".."},
		{"..", "etc", "passwd"},
		{"a", "..", "..", "etc"},
		{"../outside.json"},
	} {
		if _, err := ResolveWithin(base, elems...); !errors.Is(err, ErrPathEscape) {
			t.Errorf("%v: expected ErrPathEscape, got %v", elems, err)
		}
	}
}

func TestResolveWithinEmptyBase(t *testing.T) {
	if _, err := ResolveWithin("", "file.json"); err == nil {
		t.Fatal("expected error for empty base directory")
	}
}
