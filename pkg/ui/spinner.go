package ui

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"golang.org/x/term"
)

// SpinnerRefreshRate is the animation interval of spinners
const SpinnerRefreshRate = 150 * time.Millisecond

// Spinner shows activity while a blocking task runs
type Spinner interface {
	Start()
	Stop()
	UpdateSuffix(suffix string)
}

type realSpinner struct {
	s *spinner.Spinner
}

func (rs *realSpinner) Start()                     { rs.s.Start() }
func (rs *realSpinner) Stop()                      { rs.s.Stop() }
func (rs *realSpinner) UpdateSuffix(suffix string) { rs.s.Suffix = suffix }

type noopSpinner struct{}

func (noopSpinner) Start()              {}
func (noopSpinner) Stop()               {}
func (noopSpinner) UpdateSuffix(string) {}

var newSpinner = func(w io.Writer) Spinner {
	s := spinner.New(spinner.CharSets[14], SpinnerRefreshRate, spinner.WithWriter(w))
	return &realSpinner{s}
}

// StartSpinner starts a spinner with message on the current output. Nothing
// is drawn in quiet mode or when the output is not a terminal.
func StartSpinner(message string) Spinner {
	if IsQuiet() {
		return noopSpinner{}
	}
	out := Output()
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return noopSpinner{}
	}

	s := newSpinner(out)
	s.UpdateSuffix(" " + message)
	s.Start()
	return s
}
