package chain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDiscoveryFailed     = errors.New("all RPC endpoints failed")
	ErrNoPrivateKey        = errors.New("private key is not configured")
	ErrNetwork             = errors.New("network error")
	ErrBroadcast           = errors.New("broadcast rejected")
	ErrConfirmationTimeout = errors.New("confirmation timeout")
	ErrReverted            = errors.New("transaction reverted")
)

// ProbeFailure is one failed liveness probe.
type ProbeFailure struct {
	URL string
	Err error
}

// DiscoveryError lists every candidate that was tried. It matches ErrDiscoveryFailed.
type DiscoveryError struct {
	Attempts []ProbeFailure
}

func (e *DiscoveryError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrDiscoveryFailed.Error() + ": no candidates configured"
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s (%v)", a.URL, a.Err))
	}
	return ErrDiscoveryFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (e *DiscoveryError) Is(target error) bool { return target == ErrDiscoveryFailed }
