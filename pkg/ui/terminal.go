package ui

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Banner printed at the start of a run
const Banner = `
  ┌─┐┌─┐┌┐ ┌┬┐  ┌┬┐┬─┐┌─┐┬┌┐┌
  ├┬┘│ ┬├┴┐ ││   │ ├┬┘├─┤││││
  ┴└─└─┘└─┘─┴┘   ┴ ┴└─┴ ┴┴┘└┘
`

var (
	cyanStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	yellowStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	redStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	greenStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	magentaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
	dimStyle     = lipgloss.NewStyle().Faint(true)
	labelStyle   = lipgloss.NewStyle().Bold(true).Width(14)
)

// Style functions for terminal output
var (
	Cyan    = cyanStyle.Render
	Yellow  = yellowStyle.Render
	Red     = redStyle.Render
	Green   = greenStyle.Render
	Magenta = magentaStyle.Render
	Dim     = dimStyle.Render
)

var (
	outputMu sync.Mutex
	output   io.Writer = os.Stdout
	quiet    bool
)

// SetOutput redirects all printed output
func SetOutput(w io.Writer) {
	outputMu.Lock()
	defer outputMu.Unlock()
	output = w
}

// Output returns the current output writer
func Output() io.Writer {
	outputMu.Lock()
	defer outputMu.Unlock()
	return output
}

// SetQuiet suppresses everything except errors
func SetQuiet(q bool) {
	outputMu.Lock()
	defer outputMu.Unlock()
	quiet = q
}

// IsQuiet reports whether quiet mode is on
func IsQuiet() bool {
	outputMu.Lock()
	defer outputMu.Unlock()
	return quiet
}

func printf(force bool, format string, args ...interface{}) {
	outputMu.Lock()
	defer outputMu.Unlock()
	if quiet && !force {
		return
	}
	fmt.Fprintf(output, format, args...)
}

// PrintBanner prints the banner
func PrintBanner() {
	printf(false, "%s\n", Cyan(Banner))
}

// PrintError prints an error message. It is shown in quiet mode.
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		printf(true, "%s\n", Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		printf(true, "%s\n", Red(msg))
	}
}

// PrintSuccess prints a success message
func PrintSuccess(msg string) {
	printf(false, "%s\n", Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	printf(false, "%s %s\n", Cyan(labelStyle.Render(label+":")), Yellow(value))
}

// PrintWarning prints a warning message
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		printf(false, "%s\n", Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		printf(false, "%s\n", Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message
func PrintHighlight(msg string) {
	printf(false, "%s\n", Magenta(msg))
}

// PrintResult prints a final result line. It is shown in quiet mode.
func PrintResult(label string, value string) {
	printf(true, "%s %s\n", label+":", value)
}
