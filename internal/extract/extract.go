// Package extract maps API validation error messages to tool indexes.
//
// The upstream error format is an informal contract: today the message
// embeds a dotted path like "tools.3.custom.input_schema". Each message
// shape lives in its own Strategy so that a format change upstream is
// contained here and never reaches the correlator.
package extract

import (
	"regexp"
	"strconv"
)

// Strategy recognizes one error-message shape and extracts the tool index
// from it. Implementations must not panic on arbitrary input; "no match"
// is an ordinary outcome, not an error.
type Strategy interface {
	Name() string
	ToolIndex(message string) (int, bool)
}

// dottedPath matches the "tools.<digits>." path fragment the messages API
// emits for schema-validation failures.
type dottedPath struct {
	re *regexp.Regexp
}

func (dottedPath) Name() string { return "dotted-path" }

func (s dottedPath) ToolIndex(message string) (int, bool) {
	m := s.re.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		// Digits too large for int; treat as unrecognized.
		return 0, false
	}
	return n, true
}

// DefaultStrategies is the chain tried in order by ToolIndex.
func DefaultStrategies() []Strategy {
	return []Strategy{
		dottedPath{re: regexp.MustCompile(`\btools\.(\d+)\.`)},
	}
}

// ToolIndex runs the default strategy chain against the message and
// returns the first recognized tool index.
func ToolIndex(message string) (int, bool) {
	for _, s := range DefaultStrategies() {
		if idx, ok := s.ToolIndex(message); ok {
			return idx, true
		}
	}
	return 0, false
}
