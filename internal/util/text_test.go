package util

import "testing"

func TestArchiveText(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		maxRunes int
		want     string
	}{
		{name: "plain label", input: "Children of Dune", want: "Children of Dune"},
		{name: "nul byte", input: "Du\x00ne", want: "Dune"},
		{name: "invalid utf8", input: string([]byte{'D', 0xff, 'u', 'n', 'e'}), want: "Dune"},
		{name: "whitespace runs", input: "  Frank\t\n Herbert \r\n", want: "Frank Herbert"},
		{name: "control characters", input: "Dune\x1b[0m", want: "Dune [0m"},
		{name: "truncated", input: "Dune Messiah", maxRunes: 4, want: "Dune"},
		{name: "no trailing space when cut", input: "Dune Messiah", maxRunes: 5, want: "Dune"},
		{name: "multibyte runes", input: "Żuławski Ōe", maxRunes: 8, want: "Żuławski"},
		{name: "empty", input: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ArchiveText(tt.input, tt.maxRunes); got != tt.want {
				t.Fatalf("ArchiveText(%q, %d) = %q, want %q", tt.input, tt.maxRunes, got, tt.want)
			}
		})
	}
}
