package socketcan

import "errors"

// ErrNotDataFrame is returned by ReadFrame for RTR and error frames,
// which carry no DroneCAN payload. Callers skip these without backoff.
var ErrNotDataFrame = errors.New("socketcan: not a data frame")
