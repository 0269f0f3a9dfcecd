package identity

import "fmt"

// ConfigError reports a missing directory credential. It aborts the whole
// resolve batch: no partial lookups run under half-configured credentials.
type ConfigError struct {
	Missing string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("identity: missing %s", e.Missing)
}

// UnavailableError wraps a transport-level failure talking to the directory
// service. It is propagated, never swallowed; no cache writes have happened
// for the failed chunk.
type UnavailableError struct {
	Err error
}

func (e UnavailableError) Error() string {
	return fmt.Sprintf("identity: directory unavailable: %v", e.Err)
}

func (e UnavailableError) Unwrap() error { return e.Err }
