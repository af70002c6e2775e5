package core

import "errors"

var (
	// Capture file errors (fatal for the file)
	ErrUnrecognizedFormat = errors.New("sqlnet: not a recognized capture format")
	ErrTruncatedRecord    = errors.New("sqlnet: truncated capture record")
	ErrRecordTooLarge     = errors.New("sqlnet: capture record exceeds maximum size")

	// Payload decoding errors (recoverable per frame)
	ErrPacketTooShort = errors.New("sqlnet: packet too short")
	ErrBadLength      = errors.New("sqlnet: bad length prefix")
	ErrMalformedName  = errors.New("sqlnet: malformed name")

	// Reassembly invariant violations
	ErrEmptyPacket           = errors.New("sqlnet: empty packet")
	ErrOutOfRange            = errors.New("sqlnet: payload index out of range")
	ErrTruncatedConversation = errors.New("sqlnet: conversation is truncated")
)
