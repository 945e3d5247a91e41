package htmlsanitize_test

import (
	"testing"

	"github.com/dalemusser/classroll/internal/app/system/htmlsanitize"
)

func TestPlainText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"plain", "5e B", "5e B"},
		{"accents kept", "Français & Histoire", "Français & Histoire"},
		{"tags stripped", "<b>Maths</b> <i>avancées</i>", "Maths avancées"},
		{"script dropped", "Physique<script>alert('x')</script>", "Physique"},
		{"style dropped", "<style>p{}</style>Chimie", "Chimie"},
		{"handler dropped", `<span onclick="x()">SVT</span>`, "SVT"},
		{"entities decoded", "Sciences &amp; Techno", "Sciences & Techno"},
		{"whitespace collapsed", "  4e \n\t  A  ", "4e A"},
		{"only markup", "<img src=x onerror=alert(1)>", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := htmlsanitize.PlainText(tt.input); got != tt.want {
				t.Errorf("PlainText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
