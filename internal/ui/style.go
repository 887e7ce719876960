// Package ui provides shared terminal styling for the TUI and headless output.
package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ragchat/internal/model"
)

// Color palette (256-color).
var (
	ClrBrand  = lipgloss.Color("39")  // blue
	ClrMuted  = lipgloss.Color("245") // gray
	ClrSubtle = lipgloss.Color("242") // darker gray
	ClrGreen  = lipgloss.Color("114")
	ClrRed    = lipgloss.Color("203")
	ClrCyan   = lipgloss.Color("81") // citations
	ClrYellow = lipgloss.Color("220")
)

var (
	Bold   = lipgloss.NewStyle().Bold(true)
	Brand  = lipgloss.NewStyle().Foreground(ClrBrand).Bold(true)
	Muted  = lipgloss.NewStyle().Foreground(ClrMuted)
	Subtle = lipgloss.NewStyle().Foreground(ClrSubtle)
	Green  = lipgloss.NewStyle().Foreground(ClrGreen)
	Red    = lipgloss.NewStyle().Foreground(ClrRed)
	Cyan   = lipgloss.NewStyle().Foreground(ClrCyan)
	Yellow = lipgloss.NewStyle().Foreground(ClrYellow)

	UserTurn  = lipgloss.NewStyle().Foreground(ClrYellow).Bold(true)
	ModelTurn = lipgloss.NewStyle().Foreground(ClrBrand).Bold(true)

	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ClrSubtle).
		Padding(1, 2)
)

// Prompt renders an input prompt like "ask> ".
func Prompt(mode string) string {
	return Brand.Render(mode+">") + " "
}

func Error(msg string) string {
	return Red.Render("error: " + msg)
}

// Info formats an informational label with details.
func Info(label, detail string) string {
	return Brand.Render(label) + " " + Muted.Render(detail)
}

func Dim(text string) string {
	return Subtle.Render(text)
}

// Citation renders one grounding chunk as "[title] snippet".
func Citation(chunk model.GroundingChunk, maxSnippet int) string {
	rc := chunk.RetrievedContext
	if rc == nil {
		return ""
	}
	label := strings.TrimSpace(rc.Title)
	if label == "" {
		label = strings.TrimSpace(rc.URI)
	}
	if label == "" {
		label = "source"
	}
	out := Cyan.Render("[" + label + "]")
	if snippet := Truncate(strings.Join(strings.Fields(rc.Text), " "), maxSnippet); snippet != "" {
		out += " " + Muted.Render(snippet)
	}
	return out
}

// Citations renders every chunk that carries retrieved context, one per line.
func Citations(chunks []model.GroundingChunk, maxSnippet int) []string {
	lines := make([]string, 0, len(chunks))
	for _, ch := range chunks {
		if line := Citation(ch, maxSnippet); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Truncate shortens s to width runes, marking the cut with "...".
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	r := []rune(strings.TrimSpace(s))
	if len(r) <= width {
		return string(r)
	}
	if width <= 3 {
		return string(r[:width])
	}
	return string(r[:width-3]) + "..."
}
