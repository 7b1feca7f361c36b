// Package input turns raw phone number lines into the ordered work list for a run.
package input

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/teranos/upilookup/am"
	"github.com/teranos/upilookup/errors"
)

// WorkItem is one phone number queued for lookup.
type WorkItem struct {
	PhoneNumber   string `json:"phone_number"`
	SequenceIndex int    `json:"sequence_index"`
}

// ValidationError records a rejected input line. It never becomes a WorkItem.
type ValidationError struct {
	Line   int    `json:"line"` // 1-based
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("line %d: %q %s", e.Line, e.Value, e.Reason)
}

// Unwrap lets errors.Is(err, errors.ErrValidation) match.
func (e ValidationError) Unwrap() error {
	return errors.ErrValidation
}

// Report is the result of normalizing one input.
type Report struct {
	Items      []WorkItem        `json:"items"`
	Invalid    []ValidationError `json:"invalid,omitempty"`
	Duplicates int               `json:"duplicates"`
	TotalLines int               `json:"total_lines"`
}

// Normalizer validates and deduplicates raw lines.
type Normalizer struct {
	minDigits int
	maxDigits int
	pattern   *regexp.Regexp
}

// NewNormalizer builds a normalizer from input config.
// A non-empty Pattern takes precedence over the digit bounds.
func NewNormalizer(cfg am.InputConfig) (*Normalizer, error) {
	n := &Normalizer{minDigits: cfg.MinDigits, maxDigits: cfg.MaxDigits}
	if cfg.Pattern != "" {
		re, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid input pattern %q", cfg.Pattern)
		}
		n.pattern = re
	}
	if n.pattern == nil && (n.minDigits < 1 || n.maxDigits < n.minDigits) {
		return nil, errors.Newf("invalid digit bounds [%d, %d]", n.minDigits, n.maxDigits)
	}
	return n, nil
}

// Normalize trims, validates and deduplicates lines, keeping first-occurrence order.
// Blank lines are skipped silently. Empty input yields an empty report.
func (n *Normalizer) Normalize(lines []string) Report {
	report := Report{
		Items:      make([]WorkItem, 0, len(lines)),
		TotalLines: len(lines),
	}
	seen := make(map[string]struct{}, len(lines))

	for i, raw := range lines {
		value := strings.TrimSpace(raw)
		if value == "" {
			continue
		}

		if reason := n.reject(value); reason != "" {
			report.Invalid = append(report.Invalid, ValidationError{Line: i + 1, Value: value, Reason: reason})
			continue
		}

		if _, dup := seen[value]; dup {
			report.Duplicates++
			continue
		}
		seen[value] = struct{}{}

		report.Items = append(report.Items, WorkItem{
			PhoneNumber:   value,
			SequenceIndex: len(report.Items),
		})
	}

	return report
}

// reject returns why value is invalid, or "" when it is acceptable.
func (n *Normalizer) reject(value string) string {
	if n.pattern != nil {
		if !n.pattern.MatchString(value) {
			return fmt.Sprintf("does not match pattern %s", n.pattern.String())
		}
		return ""
	}

	for _, r := range value {
		if r < '0' || r > '9' {
			return "contains non-digit characters"
		}
	}
	if len(value) < n.minDigits || len(value) > n.maxDigits {
		if n.minDigits == n.maxDigits {
			return fmt.Sprintf("must be exactly %d digits, got %d", n.minDigits, len(value))
		}
		return fmt.Sprintf("must be %d-%d digits, got %d", n.minDigits, n.maxDigits, len(value))
	}
	return ""
}

// ReadLines splits r into raw lines. Windows line endings are tolerated.
func ReadLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lines = append(lines, strings.TrimRight(scanner.Text(), "\r"))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read input lines")
	}
	return lines, nil
}
