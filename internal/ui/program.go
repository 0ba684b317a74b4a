package ui

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// ProgramOptions contains options for creating a Program
type ProgramOptions struct {
	Plain bool // Use plain text output instead of TUI
}

// Program manages the run display and bridges phase transitions and log
// records into it.
type Program struct {
	model      *Model
	teaProgram *tea.Program
	isTerminal bool
	plain      bool
}

// NewProgram creates a new run display with the given options
func NewProgram(opts ProgramOptions) *Program {
	model := newModel()

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))

	var teaProgram *tea.Program
	if opts.Plain || !isTerminal {
		// Plain mode or non-terminal mode - disable TUI rendering
		teaProgram = tea.NewProgram(model, tea.WithInput(nil), tea.WithoutRenderer())
	} else {
		// We don't use alt screen to keep previous output visible
		teaProgram = tea.NewProgram(model)
	}

	return &Program{
		model:      model,
		teaProgram: teaProgram,
		isTerminal: isTerminal,
		plain:      opts.Plain,
	}
}

// IsTUIEnabled returns whether the TUI is enabled
func (p *Program) IsTUIEnabled() bool {
	return p.isTerminal && !p.plain
}

// Start runs the display (blocks until Finish or quit)
func (p *Program) Start() error {
	_, err := p.teaProgram.Run()
	return err
}

// Phase reports a state transition. Implements the orchestrator's
// Reporter interface.
func (p *Program) Phase(name, detail string) {
	p.teaProgram.Send(phaseMsg{Name: name, Detail: detail})

	if p.shouldShowPlainOutput() {
		fmt.Fprintf(os.Stderr, "[%s] %s\n", name, detail)
	}
}

// Finish reports the run outcome and stops the display.
func (p *Program) Finish(outcome string, failed bool) {
	p.teaProgram.Send(doneMsg{Outcome: outcome, Failed: failed})

	if p.shouldShowPlainOutput() {
		fmt.Fprintln(os.Stderr, outcome)
	}
}

// LogRecord forwards a slog record into the display. Used as the
// callback for log.UseCallback while the TUI owns the terminal.
func (p *Program) LogRecord(record slog.Record) {
	var sb strings.Builder
	sb.WriteString(record.Message)
	record.Attrs(func(a slog.Attr) bool {
		sb.WriteString(fmt.Sprintf(" %s=%v", a.Key, a.Value.Any()))
		return true
	})
	p.teaProgram.Send(logMsg{Line: sb.String()})
}

// Quit stops the display without an outcome line.
func (p *Program) Quit() {
	p.teaProgram.Quit()
}

// shouldShowPlainOutput returns true if plain text output should be shown
func (p *Program) shouldShowPlainOutput() bool {
	return p.plain || !p.isTerminal
}
