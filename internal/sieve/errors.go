package sieve

import "errors"

var (
	// ErrFormat reports a malformed candidate record, including a mismatch
	// between the declared unknown counts and the parsed offset lists.
	// Always fatal: the upstream sieve output is corrupt.
	ErrFormat = errors.New("malformed candidate record")

	// ErrSequenceMismatch reports a record whose center index disagrees with
	// the index the caller expected. The stream and the center loop must
	// advance in lockstep; drift silently misattributes results.
	ErrSequenceMismatch = errors.New("candidate stream out of sequence")
)
