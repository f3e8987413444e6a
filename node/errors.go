package node

import "errors"

// Error taxonomy (spec.md §7). Transport and deserialization failures are
// logged and dropped inside the reception loop rather than surfaced here;
// these are the errors returned to callers of the public operations.
var (
	// ErrNoResponse reports that a specific remote peer did not reply
	// within the timeout.
	ErrNoResponse = errors.New("node: no response")
	// ErrNodeNotFound reports that a locate operation exhausted its
	// attempts without finding the target.
	ErrNodeNotFound = errors.New("node: target not found")
	// ErrUnresponsiveNetwork reports that a wave or publish did not
	// accumulate enough responses before the global deadline.
	ErrUnresponsiveNetwork = errors.New("node: unresponsive network")
	// ErrOffGrid reports that an operation requiring an active network
	// was invoked before the node finished bootstrapping.
	ErrOffGrid = errors.New("node: off grid")
	// ErrOutOfBounds reports an invalid numeric argument.
	ErrOutOfBounds = errors.New("node: argument out of bounds")
	// ErrShuttingDown reports that the node is tearing down.
	ErrShuttingDown = errors.New("node: shutting down")
)
