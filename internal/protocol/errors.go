package protocol

import "errors"

// ErrUnknownType marks a message whose type discriminator is not part of the
// protocol. Receivers log and drop these rather than failing the connection.
var ErrUnknownType = errors.New("unknown message type")
