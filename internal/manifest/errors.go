package manifest

import "errors"

// ErrIncompatibleVersion is returned when a manifest parses but carries a
// format version this build does not understand.
var ErrIncompatibleVersion = errors.New("incompatible manifest version")
