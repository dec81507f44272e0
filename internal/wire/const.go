// Package wire implements the IPv6 Neighbor Discovery wire format
// (RFC 4861, RFC 4862, RFC 6775 context option).
package wire

const (
	// HopLimit is the only hop limit accepted on and used for ND packets.
	HopLimit = 255

	IPv6HeaderLen   = 40
	ICMPHeaderLen   = 4
	NSLen           = 20
	NALen           = 20
	RALen           = 12
	RSLen           = 4
	OptionHeaderLen = 2
	// OptionUnit is the granularity of the option length field.
	OptionUnit = 8

	// InfiniteLifetime is the all-ones lifetime value meaning "forever".
	InfiniteLifetime = 0xffffffff
)

// Type is an ICMPv6 message type.
type Type uint8

const (
	TypeRouterSolicitation    Type = 133
	TypeRouterAdvertisement   Type = 134
	TypeNeighborSolicitation  Type = 135
	TypeNeighborAdvertisement Type = 136
	TypeRedirect              Type = 137
)

// String returns a short label for the type, used in logs and metrics.
func (m Type) String() string {
	switch m {
	case TypeRouterSolicitation:
		return "rs"
	case TypeRouterAdvertisement:
		return "ra"
	case TypeNeighborSolicitation:
		return "ns"
	case TypeNeighborAdvertisement:
		return "na"
	case TypeRedirect:
		return "redirect"
	default:
		return "other"
	}
}

// IsND reports whether the type belongs to Neighbor Discovery.
func (m Type) IsND() bool {
	return m >= TypeRouterSolicitation && m <= TypeRedirect
}

// OptionType is an ND option type.
type OptionType uint8

const (
	OptSourceLinkAddr    OptionType = 1
	OptTargetLinkAddr    OptionType = 2
	OptPrefixInformation OptionType = 3
	OptRedirectedHeader  OptionType = 4
	OptMTU               OptionType = 5
	OptRouteInformation  OptionType = 24
	OptSixLoWPANContext  OptionType = 34
)

// Neighbor Advertisement flags, as found in the first octet after the
// ICMPv6 header.
const (
	FlagRouter    uint8 = 0x80
	FlagSolicited uint8 = 0x40
	FlagOverride  uint8 = 0x20
)

// Router Advertisement flags.
const (
	FlagManaged uint8 = 0x80
	FlagOther   uint8 = 0x40
)

// Prefix Information flags.
const (
	PrefixFlagOnLink     uint8 = 0x80
	PrefixFlagAutonomous uint8 = 0x40
)
