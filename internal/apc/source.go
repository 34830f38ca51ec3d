// Package apc fetches raw status text from apcupsd, either by running the
// apcaccess binary or by speaking to the daemon's Network Information
// Server directly.  Both produce the same "KEY : VALUE [unit]" report that
// internal/report parses.
package apc

import "context"

// Source produces one raw status report per Fetch call.
type Source interface {
	Fetch(ctx context.Context) (string, error)
	Close() error
}
