// Package filter holds the blocked-term list used to reject model output.
package filter

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// BlockList is a flat, case-insensitive set of blocked terms.
// It is built once at startup and never mutated, so it is safe to share.
type BlockList struct {
	terms []string
}

// New creates a block list from the given terms.
// Blank terms are dropped; the rest are lower-cased once here.
func New(terms ...string) *BlockList {
	bl := &BlockList{terms: make([]string, 0, len(terms))}
	seen := make(map[string]struct{}, len(terms))
	for _, term := range terms {
		term = strings.ToLower(strings.TrimSpace(term))
		if term == "" {
			continue
		}
		if _, dup := seen[term]; dup {
			continue
		}
		seen[term] = struct{}{}
		bl.terms = append(bl.terms, term)
	}
	return bl
}

// Load reads a CSV file where every cell of every row is a blocked term.
// An empty path yields an empty list.
func Load(path string) (*BlockList, error) {
	if path == "" {
		return New(), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open blocked terms file: %w", err)
	}
	defer f.Close()

	return Parse(f)
}

// Parse reads blocked terms in CSV form from r.
// Rows may have any number of fields.
func Parse(r io.Reader) (*BlockList, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var terms []string
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse blocked terms: %w", err)
		}
		terms = append(terms, row...)
	}

	return New(terms...), nil
}

// Contains reports whether text contains any blocked term, ignoring case.
// A nil or empty list never matches.
func (bl *BlockList) Contains(text string) bool {
	_, ok := bl.Match(text)
	return ok
}

// Match returns the first blocked term found in text.
func (bl *BlockList) Match(text string) (string, bool) {
	if bl == nil || len(bl.terms) == 0 {
		return "", false
	}
	lowered := strings.ToLower(text)
	for _, term := range bl.terms {
		if strings.Contains(lowered, term) {
			return term, true
		}
	}
	return "", false
}

// Len returns the number of distinct terms.
func (bl *BlockList) Len() int {
	if bl == nil {
		return 0
	}
	return len(bl.terms)
}
