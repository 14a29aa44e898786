package amqp

import "github.com/pkg/errors"

// ErrProtocolViolation is returned (wrapped) by the codec whenever a byte
// sequence cannot possibly be a well-formed AMQP 0-9-1 frame: a bad
// frame-end octet, a length that runs past the available bytes, or a
// malformed field-table tag.
var ErrProtocolViolation = errors.New("amqp: protocol violation")
