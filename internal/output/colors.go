// Package output renders run progress and summaries for the terminal.
package output

import (
	"github.com/fatih/color"
)

// Status symbols using Unicode characters for visual clarity.
const (
	SymbolRunning   = "●" // Filled circle for running
	SymbolSucceeded = "✓" // Check mark for success
	SymbolFailed    = "✗" // X mark for failure
	SymbolSkipped   = "○" // Empty circle for skipped
	SymbolAborted   = "⚠" // Warning sign for aborted
)

// Outcome is the coarse result of a context or stage.
type Outcome int

const (
	Running Outcome = iota
	Succeeded
	Failed
	Skipped
	Aborted
)

// Symbol returns the symbol for o.
func (o Outcome) Symbol() string {
	switch o {
	case Running:
		return SymbolRunning
	case Succeeded:
		return SymbolSucceeded
	case Failed:
		return SymbolFailed
	case Aborted:
		return SymbolAborted
	default:
		return SymbolSkipped
	}
}

func (o Outcome) String() string {
	switch o {
	case Running:
		return "Running"
	case Succeeded:
		return "Succeeded"
	case Failed:
		return "Failed"
	case Aborted:
		return "Aborted"
	default:
		return "Skipped"
	}
}

// Colorize applies the color of o to s. It returns s unchanged when color
// is disabled.
func (o Outcome) Colorize(s string) string {
	switch o {
	case Running:
		return color.New(color.FgHiGreen).Sprint(s)
	case Succeeded:
		return color.GreenString(s)
	case Failed:
		return color.RedString(s)
	case Aborted:
		return color.YellowString(s)
	default:
		return color.New(color.Faint).Sprint(s)
	}
}
