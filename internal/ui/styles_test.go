package ui

import (
	"os"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

func TestInit_NonTerminalDisablesColor(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	Init(f)

	if got := lipgloss.ColorProfile(); got != termenv.Ascii {
		t.Fatalf("color profile = %v, want Ascii", got)
	}
	if got := RenderFail("boom"); got != "boom" {
		t.Errorf("RenderFail() = %q, want plain text", got)
	}
	if IsTerminal(f) {
		t.Error("a regular file is not a terminal")
	}
	if got := Width(f, 80); got != 80 {
		t.Errorf("Width() = %d, want fallback 80", got)
	}
}
