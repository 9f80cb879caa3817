package output

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/tanq16/danzod/internal/types"
)

var (
	successStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("37"))            // dark green
	success2Style = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))             // green
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))             // red
	warningStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))            // yellow
	pendingStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))            // blue
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))            // cyan
	debugStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))           // light grey
	streamStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))           // grey
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69")) // purple
)

var StyleSymbols = map[string]string{
	"pass":    "✓",
	"fail":    "✗",
	"warning": "!",
	"pending": "◉",
	"info":    "ℹ",
	"arrow":   "→",
	"bullet":  "•",
	"hline":   "━",
}

func PrintSuccess(text string) {
	fmt.Println(successStyle.Render(text))
}
func PrintError(text string) {
	fmt.Println(errorStyle.Render(text))
}
func PrintWarning(text string) {
	fmt.Println(warningStyle.Render(text))
}
func PrintInfo(text string) {
	fmt.Println(infoStyle.Render(text))
}
func PrintHeader(text string) {
	fmt.Println(headerStyle.Render(text))
}

// styleFor picks the color of a file line from its status.
func styleFor(s types.Status) lipgloss.Style {
	switch {
	case s == types.StatusFinished:
		return successStyle
	case s == types.StatusFailed || s == types.StatusOffline || s == types.StatusAborted:
		return errorStyle
	case s.Deferred():
		return warningStyle
	case s.Active():
		return infoStyle
	default:
		return pendingStyle
	}
}

func indicatorFor(s types.Status) string {
	switch {
	case s == types.StatusFinished:
		return successStyle.Render(StyleSymbols["pass"])
	case s == types.StatusFailed || s == types.StatusOffline || s == types.StatusAborted:
		return errorStyle.Render(StyleSymbols["fail"])
	case s.Deferred():
		return warningStyle.Render(StyleSymbols["warning"])
	case s.Active():
		return infoStyle.Render(StyleSymbols["arrow"])
	default:
		return pendingStyle.Render(StyleSymbols["pending"])
	}
}
