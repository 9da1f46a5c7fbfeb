package render

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		width int
		want  []string
	}{
		{"fits", "Song 2", 11, []string{"Song 2"}},
		{"two words", "Bohemian Rhapsody", 11, []string{"Bohemian", "Rhapsody"}},
		{"long word", "Supercalifragilistic", 11, []string{"Supercalifr", "agilistic"}},
		{"long word fills line", "ab Supercalifragilistic", 11, []string{"ab Supercal", "ifragilisti", "c"}},
		{"collapses space", "  Light   Rain  ", 10, []string{"Light Rain"}},
		{"empty", "", 11, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Wrap(tt.in, tt.width)); diff != "" {
				t.Errorf("Wrap(%q, %d) mismatch (-want +got):\n%s", tt.in, tt.width, diff)
			}
		})
	}
}

func TestWrapLines_DropsOverflow(t *testing.T) {
	got := WrapLines("one two three four five six", 11, 2)
	if diff := cmp.Diff([]string{"one two", "three four"}, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Blur", "Blur"},
		{"Fifteen chars!!", "Fifteen chars!!"},
		{"The Rolling Stones", "The Rolling St..."},
		{"Сигур Рос и друзья", "Сигур Рос и др..."},
	}
	for _, tt := range tests {
		if got := Truncate(tt.in, 15); got != tt.want {
			t.Errorf("Truncate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
