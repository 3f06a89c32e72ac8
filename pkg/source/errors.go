package source

import "errors"

// Caller-misuse errors, returned synchronously with no state change.
var (
	ErrBusy             = errors.New("source: handler busy, transaction already in progress")
	ErrNotActive        = errors.New("source: no active transaction to cancel")
	ErrSourceFileNotFound = errors.New("source: source file does not exist")
	ErrUnknownRemote    = errors.New("source: no MIB entry for destination entity")
)
