package engine

import "errors"

var (
	// ErrConfiguration marks a validation failure that must abort before any
	// worker starts: an unresolvable CPU spec, a missing stop condition, an
	// unrecognized option value.
	ErrConfiguration = errors.New("engine: configuration error")

	// ErrConstruction marks a per-socket construction failure (bind/connect/
	// TLS handshake). The worker drops the socket and continues; if none
	// remain it exits early and reports empty stats.
	ErrConstruction = errors.New("engine: construction error")
)
