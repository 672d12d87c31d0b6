package node

import "errors"

// ErrMissingIntegrity is returned by the inbound pipeline's integrity
// step when a node configured for enforced authentication receives an
// event with no Integrity block at all (spec §4.6 step 2).
var ErrMissingIntegrity = errors.New("node: event carries no integrity block")

// ErrBadSignature is returned when a present signature fails
// verification (spec §4.6 step 3).
var ErrBadSignature = errors.New("node: signature verification failed")

// senderRejectedError reports that the accept policy refused an
// event's sender (spec §4.11).
type senderRejectedError struct{ sender string }

func (e *senderRejectedError) Error() string {
	return "node: sender " + e.sender + " not accepted"
}

// ErrSenderNotAccepted builds the accept-policy rejection reason for
// sender.
func ErrSenderNotAccepted(sender string) error {
	return &senderRejectedError{sender: sender}
}

// remoteHandlerError wraps the error string a remote node's completion
// signal carried back, so a local Send().Return() caller sees the
// remote handler's failure rather than a bare string mismatch.
type remoteHandlerError struct{ message string }

func (e *remoteHandlerError) Error() string { return e.message }

// ErrRemoteHandler wraps message as the error a remote handler failed
// with, decoded off a completion signal reply.
func ErrRemoteHandler(message string) error {
	return &remoteHandlerError{message: message}
}
