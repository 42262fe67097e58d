// Package consensuserrors declares sentinel errors grouped by the
// project's error taxonomy: configuration, transient-local, network,
// protocol, and internal-invariant errors. Sentinel values let callers use
// errors.Is; the transport wraps the network sentinels with %w, and the
// queue panics with ErrAuthorCountUnderflow.
package consensuserrors

import "errors"

// Configuration errors are fatal at startup: malformed file, missing
// required field, bind failure.
var (
	ErrMissingField  = errors.New("consensuserrors: missing required configuration field")
	ErrMalformedFile = errors.New("consensuserrors: malformed configuration file")
	ErrBindFailure   = errors.New("consensuserrors: failed to bind listener")
)

// Transient-local errors are reported to the submitter; nothing is mutated.
var (
	ErrQueueFull          = errors.New("consensuserrors: queue full")
	ErrPerUserLimit       = errors.New("consensuserrors: per-user transaction limit reached")
	ErrInFuture           = errors.New("consensuserrors: transaction creation time too far in the future")
	ErrExpired            = errors.New("consensuserrors: transaction expired")
	ErrDuplicateTransaction = errors.New("consensuserrors: transaction already queued")
)

// Network errors drop the connection and emit a terminated event;
// reconnection is driven by the periodic reconcile tick.
var (
	ErrConnectFailed     = errors.New("consensuserrors: connect failed")
	ErrHandshakeTimeout  = errors.New("consensuserrors: handshake timed out")
	ErrHandshakeMismatch = errors.New("consensuserrors: handshake signature mismatch")
	ErrDecryptFailure    = errors.New("consensuserrors: decrypt failure")
	ErrFrameDecodeFailure = errors.New("consensuserrors: frame decode failure")
	ErrFrameTooLarge     = errors.New("consensuserrors: length-prefix overflow")
	ErrIdleTimeout       = errors.New("consensuserrors: idle timeout")
	ErrPeerReset         = errors.New("consensuserrors: peer reset connection")
)

// Protocol errors drop the offending message and log at debug; they never
// mutate local state.
var (
	ErrSignatureMismatch  = errors.New("consensuserrors: signature mismatch")
	ErrWrongParentHash    = errors.New("consensuserrors: wrong parent hash")
	ErrWrongHeight        = errors.New("consensuserrors: wrong height")
	ErrStaleViewChange    = errors.New("consensuserrors: stale view-change proof")
	ErrUnknownMessageTag  = errors.New("consensuserrors: unknown message tag")
)

// Internal invariant violations indicate a programming bug and are always
// panics, never returned as errors; these sentinels exist so the panic
// payload is recognizable and greppable in logs if recovered at a process
// boundary.
var (
	ErrAuthorCountUnderflow = errors.New("consensuserrors: author count underflow")
	ErrQueueDesync          = errors.New("consensuserrors: queue map/fifo desync")
)
