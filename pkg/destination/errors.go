package destination

import "errors"

var (
	ErrNotActive = errors.New("destination: no active transaction to cancel")
)
