package engine

import (
	"errors"
	"testing"

	apperrors "github.com/khanhnv2901/tlsinspect/internal/shared/errors"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		in   string
		want Target
	}{
		{"example.com", Target{"example.com", 443}},
		{"  example.com  ", Target{"example.com", 443}},
		{"example.com:8443", Target{"example.com", 8443}},
		{"https://example.com/login?x=1", Target{"example.com", 443}},
		{"https://example.com:9443/", Target{"example.com", 9443}},
		{"example.com/path", Target{"example.com", 443}},
		{"192.0.2.1:443", Target{"192.0.2.1", 443}},
		{"[2001:db8::1]:8443", Target{"2001:db8::1", 8443}},
		{"[2001:db8::1]", Target{"2001:db8::1", 443}},
		{"2001:db8::1", Target{"2001:db8::1", 443}},
	}
	for _, tt := range tests {
		got, err := ParseTarget(tt.in)
		if err != nil {
			t.Errorf("ParseTarget(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseTargetErrors(t *testing.T) {
	tests := []struct {
		in   string
		want error
	}{
		{"", apperrors.ErrInvalidTarget},
		{"example.com:http", apperrors.ErrInvalidPort},
		{"example.com:0", apperrors.ErrInvalidPort},
		{"example.com:70000", apperrors.ErrInvalidPort},
		{"bad_host!:443", apperrors.ErrInvalidHostname},
		{"-leading.example.com", apperrors.ErrInvalidHostname},
	}
	for _, tt := range tests {
		_, err := ParseTarget(tt.in)
		if !errors.Is(err, apperrors.ErrInvalidTarget) || !errors.Is(err, tt.want) {
			t.Errorf("ParseTarget(%q): expected %v, got %v", tt.in, tt.want, err)
		}
	}
}

func TestParseTargets(t *testing.T) {
	got, err := ParseTargets([]string{"a.example.com", "b.example.com:8443"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[1].Port != 8443 {
		t.Errorf("unexpected targets %+v", got)
	}
	if _, err := ParseTargets([]string{"ok.example.com", ""}); err == nil {
		t.Error("an invalid entry should fail the batch")
	}
}

func TestTargetString(t *testing.T) {
	if got := (Target{"2001:db8::1", 443}).String(); got != "[2001:db8::1]:443" {
		t.Errorf("unexpected %s", got)
	}
}
