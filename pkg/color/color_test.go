package color

import (
	"strings"
	"testing"
)

func restore(t *testing.T) {
	t.Helper()
	origEnabled := state.enabled.Load()
	origOverridden := state.overridden.Load()
	t.Cleanup(func() {
		state.enabled.Store(origEnabled)
		state.overridden.Store(origOverridden)
	})
}

func TestEnableDisable(t *testing.T) {
	restore(t)

	Enable()
	if !Enabled() {
		t.Error("expected colors to be enabled after Enable()")
	}

	Disable()
	if Enabled() {
		t.Error("expected colors to be disabled after Disable()")
	}
}

func TestStyledWhenEnabled(t *testing.T) {
	restore(t)
	Enable()

	tests := []struct {
		name string
		fn   func(string) string
		code string
	}{
		{"Success", Success, "\x1b[32m"},
		{"Error", Error, "\x1b[31m"},
		{"Warning", Warning, "\x1b[33m"},
		{"Info", Info, "\x1b[36m"},
		{"Key", Key, "\x1b[34m"},
		{"Header", Header, "\x1b[1m"},
		{"Dim", Dim, "\x1b[2m"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.fn("text")
			if !strings.HasPrefix(got, tt.code) {
				t.Errorf("%s(text) = %q, want prefix %q", tt.name, got, tt.code)
			}
			if !strings.Contains(got, "text") || !strings.HasSuffix(got, "\x1b[0m") {
				t.Errorf("%s(text) = %q, want text followed by reset", tt.name, got)
			}
		})
	}
}

func TestPlainWhenDisabled(t *testing.T) {
	restore(t)
	Disable()

	for _, fn := range []func(string) string{Success, Error, Warning, Info, Key, Header, Dim, Code} {
		if got := fn("plain"); got != "plain" {
			t.Errorf("expected unstyled output, got %q", got)
		}
	}
}

func TestFormatted(t *testing.T) {
	restore(t)
	Disable()

	if got := Successf("%d locks", 3); got != "3 locks" {
		t.Errorf("Successf = %q", got)
	}
	if got := Warningf("%s expired", "cfg"); got != "cfg expired" {
		t.Errorf("Warningf = %q", got)
	}
}
