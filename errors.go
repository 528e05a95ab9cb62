package dnsdisco

import "errors"

var (
	// ErrClosed indicates the instance has been destroyed.
	ErrClosed = errors.New("dnsdisco: instance is closed")
	// ErrAlreadyListening indicates Listen was called more than once.
	ErrAlreadyListening = errors.New("dnsdisco: already listening")
	// ErrConfig indicates an unparseable tracker address or other
	// invalid configuration.
	ErrConfig = errors.New("dnsdisco: invalid configuration")
	// ErrProbeFailed indicates no probe reply arrived within the retry
	// budget.
	ErrProbeFailed = errors.New("dnsdisco: probe failed")
	// ErrQueryFailed indicates no fan-out leg of a visit produced a
	// decodable response.
	ErrQueryFailed = errors.New("dnsdisco: query failed")
	// ErrInconsistentObservation indicates whoami's trackers disagreed
	// on the caller's observed host/port.
	ErrInconsistentObservation = errors.New("dnsdisco: inconsistent remote port/host")
)
