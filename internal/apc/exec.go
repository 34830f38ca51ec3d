package apc

import (
	"context"
	"fmt"
	"os/exec"
)

// DefaultClientPath is where Debian-family packages install apcaccess.
const DefaultClientPath = "/sbin/apcaccess"

// ExecSource runs the apcaccess binary and returns its stdout.
type ExecSource struct {
	path string
}

// NewExecSource returns an ExecSource running the binary at path,
// or DefaultClientPath when path is empty.
func NewExecSource(path string) *ExecSource {
	if path == "" {
		path = DefaultClientPath
	}
	return &ExecSource{path: path}
}

// Fetch runs the client once and returns its output.
func (s *ExecSource) Fetch(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, s.path).Output()
	if err != nil {
		return "", fmt.Errorf("running %s: %w", s.path, err)
	}
	return string(out), nil
}

// Close is a no-op; each Fetch spawns its own process.
func (s *ExecSource) Close() error {
	return nil
}
