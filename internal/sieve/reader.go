// Package sieve reads the candidate files produced by the upstream sieve:
// one record per coprime center, listing the offsets on each side of N that
// survived pre-sieving and still have unknown primality.
package sieve

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// CandidateSet holds the unknown offsets around one center. Offsets are
// positive magnitudes, strictly increasing, Low for N-offset and High for
// N+offset.
type CandidateSet struct {
	Index uint64
	Low   []uint32
	High  []uint32
}

var headerRe = regexp.MustCompile(`^([0-9]+) : -([0-9]+) \+([0-9]+)$`)

// Reader consumes candidate records in order. It must be advanced exactly
// once per coprime center.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader wraps r. Lines can be long for large sieve windows, so the
// scanner buffer is widened well past the bufio default.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	return &Reader{sc: sc}
}

// Next parses the next record and verifies it belongs to expected.
// Returns ErrFormat for any malformed record and ErrSequenceMismatch when
// the record's center index is not the expected one.
func (r *Reader) Next(expected uint64) (*CandidateSet, error) {
	raw, err := r.readLine()
	if err != nil {
		return nil, err
	}
	cs, err := parseRecord(raw)
	if err != nil {
		return nil, fmt.Errorf("line %d: %w", r.line, err)
	}
	if cs.Index != expected {
		return nil, fmt.Errorf("line %d: %w: record %d, expected %d",
			r.line, ErrSequenceMismatch, cs.Index, expected)
	}
	return cs, nil
}

// Skip discards n records without parsing the offset lists. Used by range
// workers sharing one candidate file to seek to their subrange.
func (r *Reader) Skip(n int) error {
	for i := 0; i < n; i++ {
		if _, err := r.readLine(); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reader) readLine() (string, error) {
	if !r.sc.Scan() {
		if err := r.sc.Err(); err != nil {
			return "", err
		}
		return "", fmt.Errorf("%w: unexpected end of candidate stream", ErrFormat)
	}
	r.line++
	return r.sc.Text(), nil
}

func parseRecord(raw string) (*CandidateSet, error) {
	parts := strings.Split(raw, "|")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: want 3 fields, got %d", ErrFormat, len(parts))
	}
	m := headerRe.FindStringSubmatch(strings.TrimSpace(parts[0]))
	if m == nil {
		return nil, fmt.Errorf("%w: bad header %q", ErrFormat, strings.TrimSpace(parts[0]))
	}
	idx, err := strconv.ParseUint(m[1], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: center index: %v", ErrFormat, err)
	}
	lowCount, err := strconv.Atoi(m[2])
	if err != nil {
		return nil, fmt.Errorf("%w: low count: %v", ErrFormat, err)
	}
	highCount, err := strconv.Atoi(m[3])
	if err != nil {
		return nil, fmt.Errorf("%w: high count: %v", ErrFormat, err)
	}

	low, err := parseOffsets(parts[1])
	if err != nil {
		return nil, err
	}
	high, err := parseOffsets(parts[2])
	if err != nil {
		return nil, err
	}
	if len(low) != lowCount {
		return nil, fmt.Errorf("%w: header declares %d low offsets, list has %d",
			ErrFormat, lowCount, len(low))
	}
	if len(high) != highCount {
		return nil, fmt.Errorf("%w: header declares %d high offsets, list has %d",
			ErrFormat, highCount, len(high))
	}
	return &CandidateSet{Index: idx, Low: low, High: high}, nil
}

func parseOffsets(field string) ([]uint32, error) {
	fields := strings.Fields(field)
	out := make([]uint32, 0, len(fields))
	prev := uint64(0)
	for _, f := range fields {
		// Sieve output stores low offsets as negative distances; accept
		// either sign and keep the magnitude.
		f = strings.TrimPrefix(f, "-")
		v, err := strconv.ParseUint(f, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: offset %q: %v", ErrFormat, f, err)
		}
		if v == 0 || v <= prev {
			return nil, fmt.Errorf("%w: offsets must be positive and increasing, got %d after %d",
				ErrFormat, v, prev)
		}
		prev = v
		out = append(out, uint32(v))
	}
	return out, nil
}
