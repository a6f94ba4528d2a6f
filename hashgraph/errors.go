package hashgraph

import "errors"

// Distinct validation error kinds, checked with errors.Is by callers that
// need to tell a bad remote event (drop and continue) from a local storage
// problem (fatal).
var (
	ErrInvalidSignature = errors.New("hashgraph: invalid event signature")
	ErrHashMismatch     = errors.New("hashgraph: event id does not match hash of serialized event")
	ErrParentMissing    = errors.New("hashgraph: parent event not found")
	ErrSelfParentForked = errors.New("hashgraph: self-parent creator mismatch")
	ErrOtherParentSame  = errors.New("hashgraph: other-parent creator matches event creator")
)
