package validation

import (
	"strings"
	"testing"
)

func TestIsValidRef(t *testing.T) {
	tests := []struct {
		name string
		ref  string
		want bool
	}{
		{name: "simple", ref: "rosewood-catering", want: true},
		{name: "with digits", ref: "studio-54", want: true},
		{name: "single char", ref: "a", want: true},
		{name: "empty", ref: "", want: false},
		{name: "uppercase", ref: "Rosewood", want: false},
		{name: "underscore", ref: "rose_wood", want: false},
		{name: "leading hyphen", ref: "-rosewood", want: false},
		{name: "trailing hyphen", ref: "rosewood-", want: false},
		{name: "space", ref: "rose wood", want: false},
		{name: "too long", ref: strings.Repeat("a", 65), want: false},
		{name: "max length", ref: strings.Repeat("a", 64), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidRef(tt.ref); got != tt.want {
				t.Fatalf("IsValidRef(%q) = %v, want %v", tt.ref, got, tt.want)
			}
		})
	}
}
