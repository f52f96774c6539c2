package oracle

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// protocolToken is the prefix the certifier's first status line must carry.
const protocolToken = "PFGW"

// Certifier invokes an external heavy-duty primality prover once per call.
// The number is passed in its compact "m*P#/D+i" form; exit status 0 means
// prime. There is no timeout: a hung certifier stalls the run, which in
// practice is fatal anyway.
type Certifier struct {
	path string
	log  *zap.Logger
}

// NewCertifier wraps the prover binary at path.
func NewCertifier(path string, log *zap.Logger) *Certifier {
	return &Certifier{path: path, log: log}
}

// IsPrime runs one certification of the number written as label.
func (c *Certifier) IsPrime(ctx context.Context, label string) (bool, error) {
	cmd := exec.CommandContext(ctx, c.path, "-e1", "-q"+label)
	out, err := cmd.CombinedOutput()

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		// Exit 0: prime, still subject to the protocol check below.
	case errors.As(err, &exitErr):
		// Nonzero exit signals composite, not failure.
	default:
		return false, fmt.Errorf("certifier %s: %w", c.path, err)
	}

	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	if !strings.HasPrefix(line, protocolToken) {
		return false, fmt.Errorf("%w: %s said %q for %s", ErrProtocol, c.path, line, label)
	}
	prime := err == nil
	c.log.Debug("certifier verdict", zap.String("label", label), zap.Bool("prime", prime))
	return prime, nil
}
