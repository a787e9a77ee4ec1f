package models

import (
	"fmt"
	"strings"
)

// RepeatMode controls how window navigation wraps or repeats.
type RepeatMode int

const (
	RepeatModeOff RepeatMode = iota // Stop after the last window
	RepeatModeOne                   // Repeat the current window indefinitely
	RepeatModeAll                   // Wrap around to the first window
)

// RepeatModes lists every repeat mode
var RepeatModes = []RepeatMode{RepeatModeOff, RepeatModeOne, RepeatModeAll}

func (m RepeatMode) String() string {
	switch m {
	case RepeatModeOff:
		return "off"
	case RepeatModeOne:
		return "one"
	case RepeatModeAll:
		return "all"
	default:
		return fmt.Sprintf("RepeatMode(%d)", int(m))
	}
}

// ParseRepeatMode parses "off", "one" or "all" (case-insensitive)
func ParseRepeatMode(s string) (RepeatMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "":
		return RepeatModeOff, nil
	case "one":
		return RepeatModeOne, nil
	case "all":
		return RepeatModeAll, nil
	default:
		return RepeatModeOff, fmt.Errorf("unknown repeat mode %q", s)
	}
}
