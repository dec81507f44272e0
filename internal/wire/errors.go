package wire

import "errors"

var (
	// ErrNotIPv6 is returned when the datagram is not IPv6.
	ErrNotIPv6 = errors.New("not an IPv6 datagram")
	// ErrNotICMPv6 is returned when the datagram does not carry ICMPv6.
	ErrNotICMPv6 = errors.New("not an ICMPv6 message")
	// ErrTruncated is returned when a message is shorter than its fixed part.
	ErrTruncated = errors.New("message is truncated")
	// ErrOptionZeroLength is returned for an option with the length field
	// set to zero.
	ErrOptionZeroLength = errors.New("option with zero length")
	// ErrOptionTruncated is returned when an option runs past the end of
	// the message.
	ErrOptionTruncated = errors.New("option exceeds message length")
	// ErrOptionMalformed is returned when an option body has an
	// unexpected size or contents.
	ErrOptionMalformed = errors.New("malformed option")
)
