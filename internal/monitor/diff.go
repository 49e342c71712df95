package monitor

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// DefaultBusyDiffThreshold is the diff size above which a window counts
// as busy even without a progress indicator on screen.
const DefaultBusyDiffThreshold = 100

// busyIndicators is the progress vocabulary. Any of these in the current
// text marks the window busy regardless of diff size.
var busyIndicators = []string{
	"generating...",
	"thinking...",
	"typing...",
	"•••",
	"...",
}

// Diff returns a unified diff with two lines of context between the
// previous and current value. The empty string is the implicit baseline
// for a never-seen title; two empty strings diff to nothing.
func Diff(previous, current string) string {
	if previous == "" && current == "" {
		return ""
	}
	ud := difflib.UnifiedDiff{
		A:       difflib.SplitLines(previous),
		B:       difflib.SplitLines(current),
		Context: 2,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return ""
	}
	return text
}

// IsBusy infers whether the window is still producing output: true when
// the current text contains a busy indicator, or when the observation
// diff exceeds threshold.
func IsBusy(textDiff, currentText string, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultBusyDiffThreshold
	}
	lower := strings.ToLower(currentText)
	for _, indicator := range busyIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return len(textDiff) > threshold
}
