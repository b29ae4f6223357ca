package buildapi

import "errors"

var (
	// ErrAuthFailed means self-serve rejected our credentials. Fatal, never
	// retried.
	ErrAuthFailed = errors.New("authentication failed")

	// ErrRevisionNotSchedulable means the revision does not exist in
	// self-serve, e.g. a commit marked DONTBUILD. Callers treat it as
	// "zero jobs, nothing to trigger".
	ErrRevisionNotSchedulable = errors.New("revision not schedulable")

	// ErrMissingJobStatus means the detailed status lookup for a completed
	// request returned nothing.
	ErrMissingJobStatus = errors.New("missing job status")

	// ErrMalformedJobStatus means the detailed status lacks the properties
	// section it is expected to carry.
	ErrMalformedJobStatus = errors.New("malformed job status")

	// ErrUnexpectedStatus means a job record carried a status code outside
	// the known set. Surfaced for human inspection, not retried.
	ErrUnexpectedStatus = errors.New("unexpected job status")
)
