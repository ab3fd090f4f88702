package wire

import "errors"

// ErrBadFrame is returned when a buffer is too short, or its magic prefix
// does not match, to be a Kapua packet at all.
var ErrBadFrame = errors.New("wire: not a Kapua packet")
