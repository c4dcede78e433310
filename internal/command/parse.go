package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"nerdalert/internal/alert"
)

var (
	ErrBadNumber      = errors.New("amount is not a number")
	ErrUnknownUnit    = errors.New("unknown time unit")
	ErrNegativeAmount = errors.New("negative amount")
)

// Tokenize splits a command line on whitespace. Quotes and backslashes are
// ordinary characters, so operator text like "don't" reaches templates intact.
func Tokenize(s string) []string {
	f := strings.Fields(s)
	if len(f) == 0 {
		return nil
	}
	return f
}

// unitSeconds maps a unit word to its length in seconds. The word only needs
// to start with the unit name, so "minutes" and "Minute(s)" both work.
func unitSeconds(unit string) (int, bool) {
	u := strings.ToLower(unit)
	switch {
	case strings.HasPrefix(u, "second"):
		return 1, true
	case strings.HasPrefix(u, "minute"):
		return 60, true
	case strings.HasPrefix(u, "hour"):
		return 3600, true
	}
	return 0, false
}

// ParseEvent reads "<key> [amount unit]" (the arguments after "event").
//
// Only the three-argument form carries a duration; every other arity means 0
// seconds. A malformed amount or unit also yields 0 seconds, with the reason
// returned as a non-fatal error so the caller can log it. A negative amount is
// clamped to 0.
func ParseEvent(args []string) (alert.Event, error) {
	if len(args) == 0 {
		return alert.Event{}, ErrUsage
	}
	ev := alert.Event{Key: args[0], Args: append([]string{}, args[1:]...)}
	if len(args) != 3 {
		return ev, nil
	}

	n, err := strconv.ParseInt(strings.TrimSpace(args[1]), 10, 32)
	if err != nil {
		return ev, fmt.Errorf("%w: %q", ErrBadNumber, args[1])
	}
	mult, ok := unitSeconds(args[2])
	if !ok {
		return ev, fmt.Errorf("%w: %q", ErrUnknownUnit, args[2])
	}
	if n < 0 {
		return ev, fmt.Errorf("%w: %d", ErrNegativeAmount, n)
	}
	ev.Seconds = int(n) * mult
	return ev, nil
}
