package model

import (
	"fmt"
	"strings"
)

// LockState represents the current state of a lock file.
type LockState string

const (
	LockStateFree    LockState = "free"
	LockStateHeld    LockState = "held"
	LockStateExpired LockState = "expired"
)

// BackoffKind is the function mapping attempt number to inter-attempt delay.
type BackoffKind string

const (
	// BackoffConstant waits delay between every attempt.
	BackoffConstant BackoffKind = "constant"
	// BackoffLinear waits delay*n after the n-th failed attempt.
	BackoffLinear BackoffKind = "linear"
	// BackoffExponential waits delay*2^(n-1) after the n-th failed attempt.
	BackoffExponential BackoffKind = "exponential"
)

// ParseBackoffKind converts a config string into a BackoffKind.
// An empty string selects BackoffConstant.
func ParseBackoffKind(s string) (BackoffKind, error) {
	switch k := BackoffKind(strings.ToLower(strings.TrimSpace(s))); k {
	case "":
		return BackoffConstant, nil
	case BackoffConstant, BackoffLinear, BackoffExponential:
		return k, nil
	default:
		return "", fmt.Errorf("unknown backoff kind %q", s)
	}
}
