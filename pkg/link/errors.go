package link

import (
	"errors"

	"github.com/bft-labs/atlink/pkg/lifecycle"
)

// Sentinel errors returned by clients, servers and sessions.
var (
	// ErrNotConnected is returned by Send when no live session exists.
	ErrNotConnected = errors.New("link: not connected")

	// ErrNotRunning is returned by operations that need a started peer.
	ErrNotRunning = errors.New("link: not running")

	// ErrShutdownTimeout is returned by Stop when workers do not finish in time.
	ErrShutdownTimeout = lifecycle.ErrShutdownTimeout

	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("link: invalid configuration")

	// ErrReadTimeout ends a receive loop when no bytes arrive within the
	// read timeout.
	ErrReadTimeout = errors.New("link: read timeout")
)
