package failure

import (
	"regexp"
	"strings"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

var (
	pathRe      = regexp.MustCompile(`/[^\s]+`)
	lineColRe   = regexp.MustCompile(`\d+:\d+`)
	timestampRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[\sT]\d{2}:\d{2}:\d{2}`)
	hexRe       = regexp.MustCompile(`0x[0-9a-f]+`)
)

// canonicalPatterns is checked in order; the first substring found wins.
var canonicalPatterns = []string{
	"timeout",
	"out of memory",
	"connection refused",
	"permission denied",
	"not found",
	"failed to",
	"error:",
	"exception:",
}

const fallbackPatternLen = 100

// Normalize lowercases msg and replaces paths, line:col pairs, timestamps and
// hex addresses with placeholders.
func Normalize(msg string) string {
	n := strings.ToLower(msg)
	n = pathRe.ReplaceAllString(n, "[PATH]")
	n = lineColRe.ReplaceAllString(n, "[LINE]")
	n = timestampRe.ReplaceAllString(n, "[TIMESTAMP]")
	n = hexRe.ReplaceAllString(n, "[HEX]")
	return n
}

// Pattern returns the coarse pattern of an error message: the first canonical
// phrase contained in the normalised text, else its first 100 characters.
func Pattern(msg string) string {
	if msg == "" {
		return ""
	}

	normalized := Normalize(msg)
	for _, p := range canonicalPatterns {
		if strings.Contains(normalized, p) {
			return p
		}
	}

	return Truncate(normalized, fallbackPatternLen)
}

// Classify assigns a failure type by keyword, in fixed precedence.
func Classify(msg string) model.FailureType {
	m := strings.ToLower(msg)
	switch {
	case m == "":
		return model.FailureUnknown
	case strings.Contains(m, "timeout"):
		return model.FailureTimeout
	case strings.Contains(m, "memory") || strings.Contains(m, "oom"):
		return model.FailureMemory
	case strings.Contains(m, "test") && strings.Contains(m, "fail"):
		return model.FailureTest
	case strings.Contains(m, "compile") || strings.Contains(m, "syntax"):
		return model.FailureCompilation
	case strings.Contains(m, "connection") || strings.Contains(m, "network"):
		return model.FailureNetwork
	default:
		return model.FailureUnknown
	}
}
