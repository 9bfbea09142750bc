// Package color styles terminal output for the coordkit CLI.
// It respects the NO_COLOR environment variable (https://no-color.org/) and
// turns itself off when stdout is not a terminal.
package color

import (
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/muesli/termenv"
)

var state struct {
	once       sync.Once
	enabled    atomic.Bool
	overridden atomic.Bool
}

// Init decides once whether to emit escape sequences. Enable and Disable
// override the decision.
func Init(noColorFlag bool) {
	state.once.Do(func() {
		if state.overridden.Load() {
			return
		}
		out := termenv.NewOutput(os.Stdout)
		state.enabled.Store(!noColorFlag && !out.EnvNoColor() && out.Profile != termenv.Ascii)
	})
}

// Enabled returns true if color output is enabled.
func Enabled() bool {
	Init(false)
	return state.enabled.Load()
}

// Disable turns off color output.
func Disable() {
	state.overridden.Store(true)
	state.enabled.Store(false)
}

// Enable turns on color output.
func Enable() {
	state.overridden.Store(true)
	state.enabled.Store(true)
}

func styled(s string, fn func(termenv.Style) termenv.Style) string {
	if !Enabled() {
		return s
	}
	return fn(termenv.String(s)).String()
}

func fg(c termenv.ANSIColor) func(termenv.Style) termenv.Style {
	return func(st termenv.Style) termenv.Style { return st.Foreground(c) }
}

// Success formats a success message in green.
func Success(s string) string { return styled(s, fg(termenv.ANSIGreen)) }

// Successf formats a success message with printf-style arguments.
func Successf(format string, args ...any) string { return Success(fmt.Sprintf(format, args...)) }

// Error formats an error message in red.
func Error(s string) string { return styled(s, fg(termenv.ANSIRed)) }

// Warning formats a warning message in yellow.
func Warning(s string) string { return styled(s, fg(termenv.ANSIYellow)) }

// Warningf formats a warning message with printf-style arguments.
func Warningf(format string, args ...any) string { return Warning(fmt.Sprintf(format, args...)) }

// Info formats an informational message in cyan.
func Info(s string) string { return styled(s, fg(termenv.ANSICyan)) }

// Key formats a resource key or map name.
func Key(s string) string { return styled(s, fg(termenv.ANSIBlue)) }

// Header formats a header in bold.
func Header(s string) string {
	return styled(s, func(st termenv.Style) termenv.Style { return st.Bold() })
}

// Dim formats secondary information.
func Dim(s string) string {
	return styled(s, func(st termenv.Style) termenv.Style { return st.Faint() })
}

// Code formats command strings.
func Code(s string) string {
	return styled(s, func(st termenv.Style) termenv.Style { return st.Bold().Faint() })
}
