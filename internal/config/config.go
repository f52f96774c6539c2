// Package config holds the run parameters and the naming convention that
// ties a parameter set to its sieve output file.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"primegap/internal/primes"
)

// Params selects one verification run: the center range, the primorial
// constant, the sieve geometry, and where candidates and results live.
type Params struct {
	MStart uint64 `yaml:"mstart"`
	MInc   uint64 `yaml:"minc"`
	P      uint64 `yaml:"p"`
	D      uint64 `yaml:"d"`

	// SieveLength is the half-window SL around each center.
	SieveLength int `yaml:"sieve_length"`
	// SieveRangeM is the pre-sieve prime bound in millions; it must match
	// the sieve run that produced the candidate file.
	SieveRangeM uint64 `yaml:"sieve_range"`

	MinMerit float64 `yaml:"min_merit"`

	// SieveOnly skips all primality testing; candidates are only read and
	// accounted. Useful for benchmarking the sieve.
	SieveOnly bool `yaml:"sieve_only"`
	// Estimate enables the per-center expected-gap model.
	Estimate bool `yaml:"estimate"`

	UnknownFile   string `yaml:"unknown_file"`
	DBPath        string `yaml:"prime_db"`
	CertifierPath string `yaml:"certifier"`

	// Workers splits the range into that many disjoint subranges sharing
	// the result store. 1 keeps the strictly ordered single-threaded run.
	Workers int `yaml:"workers"`
}

// SieveRange is the pre-sieve prime bound in absolute terms.
func (p *Params) SieveRange() uint64 {
	return p.SieveRangeM * 1_000_000
}

// FromFile reads Params from a YAML file.
func FromFile(path string) (*Params, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var p Params
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &p, nil
}

// Validate fills defaults, ties the unknown file name to the parameters,
// and rejects inconsistent runs. When only the unknown file is given, the
// numeric parameters are inferred from its name.
func (p *Params) Validate() error {
	if p.UnknownFile != "" && p.MStart == 0 && p.P == 0 {
		inferred, err := ParseUnknownFileName(p.UnknownFile)
		if err != nil {
			return err
		}
		p.MStart = inferred.MStart
		p.MInc = inferred.MInc
		p.P = inferred.P
		p.D = inferred.D
		p.SieveLength = inferred.SieveLength
		p.SieveRangeM = inferred.SieveRangeM
	}

	switch {
	case p.MStart == 0:
		return fmt.Errorf("mstart is required")
	case p.MInc == 0:
		return fmt.Errorf("minc is required")
	case p.P == 0:
		return fmt.Errorf("p is required")
	case p.D == 0:
		return fmt.Errorf("d is required")
	case p.SieveLength <= 1:
		return fmt.Errorf("sieve length %d too small", p.SieveLength)
	case p.SieveRangeM == 0:
		return fmt.Errorf("sieve range is required")
	}
	if p.P > primes.SmallPrimeBound {
		return fmt.Errorf("prime bound %d exceeds %d", p.P, primes.SmallPrimeBound)
	}

	if p.MinMerit == 0 {
		p.MinMerit = 10
	}
	if p.DBPath == "" {
		p.DBPath = "prime-gaps.db"
	}
	if p.Workers == 0 {
		p.Workers = 1
	}
	if p.Workers < 0 {
		return fmt.Errorf("workers must be positive, got %d", p.Workers)
	}
	if p.Estimate && p.Workers > 1 {
		return fmt.Errorf("estimation requires a single worker")
	}

	name := p.UnknownFileName()
	if p.UnknownFile == "" {
		p.UnknownFile = name
	} else if base := baseName(p.UnknownFile); base != name {
		return fmt.Errorf("unknown file %q does not match parameters (want %q)", base, name)
	}
	return nil
}
