// Package failure turns raw CI failure output into comparable identifiers.
package failure

import (
	"crypto/sha1" //nolint:gosec // Content identity, not security.
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/ericfisherdev/releaseintel/internal/domain/model"
)

// maxSignatureLines is the number of trailing error lines kept in a signature.
const maxSignatureLines = 10

var (
	errorKeywordRe  = regexp.MustCompile(`(?i)(error|exception|traceback|failed|fatal)`)
	isoTimestampRe  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[\sT]\d{2}:\d{2}:\d{2}`)
	bracketedDateRe = regexp.MustCompile(`\[\d{4}-\d{2}-\d{2}.*?\]`)
)

// Signature is the normalised tail of a failure log and its content hash.
// Paths and line numbers are not stripped, so two failures that differ only
// by path hash differently. Pattern is the coarse counterpart.
type Signature struct {
	Text string
	Hash string
}

// IsZero reports whether no error lines were found.
func (s Signature) IsZero() bool {
	return s.Hash == ""
}

// ExtractSignature keeps the last ten lines mentioning an error keyword,
// strips timestamps and bracketed dates, lowercases them and hashes the result.
// Logs without error lines yield the zero Signature.
func ExtractSignature(log string) Signature {
	if log == "" {
		return Signature{}
	}

	var matched []string
	for _, line := range strings.Split(log, "\n") {
		if errorKeywordRe.MatchString(line) {
			matched = append(matched, line)
		}
	}
	if len(matched) > maxSignatureLines {
		matched = matched[len(matched)-maxSignatureLines:]
	}

	normalized := make([]string, 0, len(matched))
	for _, line := range matched {
		line = isoTimestampRe.ReplaceAllString(line, "")
		line = bracketedDateRe.ReplaceAllString(line, "")
		line = strings.ToLower(strings.TrimSpace(line))
		if line != "" {
			normalized = append(normalized, line)
		}
	}
	if len(normalized) == 0 {
		return Signature{}
	}

	text := strings.Join(normalized, "\n")
	sum := sha1.Sum([]byte(text)) //nolint:gosec
	return Signature{Text: text, Hash: hex.EncodeToString(sum[:])}
}

// SignatureFor is the signature recorded for a failed step. It is taken over
// the full raw log, never a stored excerpt, and falls back to message only
// when the log yields nothing. Ingestion and live analysis must both call it
// so identical failures hash identically across repositories.
func SignatureFor(log, message string) Signature {
	if sig := ExtractSignature(log); !sig.IsZero() {
		return sig
	}
	return ExtractSignature(message)
}

const (
	excerptTailChars     = 2000
	excerptErrorLines    = 8
	excerptFallbackLines = 12
)

// LogExcerpt reduces a raw step log to the lines worth storing: the last eight
// error-looking lines of the log tail, or its last twelve lines when none match.
// The result never exceeds model.MaxLogExcerpt runes.
func LogExcerpt(raw string) string {
	if raw == "" {
		return ""
	}

	tail := raw
	if len(tail) > excerptTailChars {
		tail = tail[len(tail)-excerptTailChars:]
	}

	var lines []string
	for _, line := range strings.Split(tail, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}

	var interesting []string
	for i := len(lines) - 1; i >= 0 && len(interesting) < excerptErrorLines; i-- {
		if errorKeywordRe.MatchString(lines[i]) {
			interesting = append(interesting, strings.TrimSpace(lines[i]))
		}
	}

	var excerpt string
	if len(interesting) > 0 {
		for i, j := 0, len(interesting)-1; i < j; i, j = i+1, j-1 {
			interesting[i], interesting[j] = interesting[j], interesting[i]
		}
		excerpt = strings.Join(interesting, "\n")
	} else {
		if len(lines) > excerptFallbackLines {
			lines = lines[len(lines)-excerptFallbackLines:]
		}
		excerpt = strings.Join(lines, "\n")
	}

	return Truncate(excerpt, model.MaxLogExcerpt)
}

// Truncate returns at most n runes of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
