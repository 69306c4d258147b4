package prompt

import (
	"io"
	"os"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner shows progress on stderr while a slow network step runs. It does
// nothing when stderr is not a terminal.
type Spinner struct {
	s *spinner.Spinner
}

// NewSpinner returns a Spinner with message as its suffix.
func NewSpinner(message string) *Spinner {
	if !isTerminal(os.Stderr) {
		return &Spinner{}
	}
	return newSpinner(message, os.Stderr)
}

func newSpinner(message string, w io.Writer) *Spinner {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = " " + message
	return &Spinner{s: s}
}

func (sp *Spinner) Start() {
	if sp.s != nil {
		sp.s.Start()
	}
}

func (sp *Spinner) Stop() {
	if sp.s != nil {
		sp.s.Stop()
	}
}

// Update changes the message shown next to the spinner.
func (sp *Spinner) Update(message string) {
	if sp.s != nil {
		sp.s.Lock()
		sp.s.Suffix = " " + message
		sp.s.Unlock()
	}
}
