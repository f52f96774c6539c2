package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

// Candidate files are named after the full parameter set so a file can never
// be replayed against the wrong range:
//
//	{mstart}_{P}_{D}_{minc}_s{SL}_l{sieveRange}M.txt
var unknownFileRe = regexp.MustCompile(`^(\d+)_(\d+)_(\d+)_(\d+)_s(\d+)_l(\d+)M\.txt$`)

// UnknownFileName derives the candidate file name for these parameters.
func (p *Params) UnknownFileName() string {
	return fmt.Sprintf("%d_%d_%d_%d_s%d_l%dM.txt",
		p.MStart, p.P, p.D, p.MInc, p.SieveLength, p.SieveRangeM)
}

// ParseUnknownFileName recovers the numeric parameters from a candidate file
// name (directory prefixes are ignored).
func ParseUnknownFileName(path string) (*Params, error) {
	base := baseName(path)
	m := unknownFileRe.FindStringSubmatch(base)
	if m == nil {
		return nil, fmt.Errorf("%q does not match the unknown file naming convention", base)
	}
	n := make([]uint64, 6)
	for i := range n {
		v, err := strconv.ParseUint(m[i+1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("unknown file %q: %w", base, err)
		}
		n[i] = v
	}
	return &Params{
		MStart:      n[0],
		P:           n[1],
		D:           n[2],
		MInc:        n[3],
		SieveLength: int(n[4]),
		SieveRangeM: n[5],
	}, nil
}

func baseName(path string) string {
	return filepath.Base(path)
}
