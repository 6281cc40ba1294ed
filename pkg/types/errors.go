package types

import "errors"

// ErrUnknownKind is returned when a file name does not map to a known kind.
var ErrUnknownKind = errors.New("unknown file kind")
