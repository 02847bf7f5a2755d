package engine

import (
	"strings"
	"time"
	"unicode"

	"github.com/driftline/gardener/internal/store"
)

// assessConfidence estimates how much to trust a user correction against a
// stored memory. Starts at 0.5 and accumulates evidence: recent memories are
// easier for the user to remember accurately, a good verification track
// record raises trust, a concrete correction ("the red one", "left drawer")
// beats a vague one, and a memory that was shaky to begin with is easier to
// overturn. Capped at 1.0.
func (e *Engine) assessConfidence(node *store.MemoryNode, correction string) float64 {
	conf := 0.5

	age := time.Since(time.UnixMilli(node.TsEnd))
	switch {
	case age < time.Hour:
		conf += 0.3
	case age < 24*time.Hour:
		conf += 0.2
	case age < 7*24*time.Hour:
		conf += 0.1
	}

	if accuracy, err := e.DB.UserAccuracy(); err == nil {
		switch {
		case accuracy > 0.9:
			conf += 0.2
		case accuracy > 0.7:
			conf += 0.1
		}
	}

	if isSpecificCorrection(correction) {
		conf += 0.1
	}

	if node.PriorConfidence != nil && *node.PriorConfidence < 0.5 {
		conf += 0.1
	}

	if conf > 1.0 {
		conf = 1.0
	}
	return conf
}

// isSpecificCorrection heuristically detects concrete detail: numbers, or
// attribute words like colors, sides, and sizes.
func isSpecificCorrection(text string) bool {
	for _, r := range text {
		if unicode.IsDigit(r) {
			return true
		}
	}
	lower := strings.ToLower(text)
	for _, kw := range []string{
		"red", "blue", "green", "yellow", "black", "white",
		"left", "right", "top", "bottom", "upper", "lower",
		"small", "large", "big", "tiny",
	} {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}
