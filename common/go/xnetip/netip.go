package xnetip

import (
	"fmt"
	"net"
	"net/netip"
)

var (
	// AllNodes is the link-local all-nodes multicast group.
	AllNodes = netip.AddrFrom16([16]byte{0: 0xff, 1: 0x02, 15: 0x01})
	// AllRouters is the link-local all-routers multicast group.
	AllRouters = netip.AddrFrom16([16]byte{0: 0xff, 1: 0x02, 15: 0x02})
	// LinkLocalPrefix is the fe80::/64 prefix used for link-local addresses.
	LinkLocalPrefix = netip.PrefixFrom(netip.AddrFrom16([16]byte{0: 0xfe, 1: 0x80}), 64)
)

// SolicitedNode returns the solicited-node multicast address for the given
// unicast address: ff02::1:ffXX:XXXX, where the low 24 bits are taken from
// the address.
func SolicitedNode(addr netip.Addr) netip.Addr {
	src := addr.As16()

	dst := [16]byte{0: 0xff, 1: 0x02, 11: 0x01, 12: 0xff}
	copy(dst[13:], src[13:])

	return netip.AddrFrom16(dst)
}

// IsSolicitedNode reports whether the address belongs to the
// ff02::1:ff00:0/104 solicited-node multicast range.
func IsSolicitedNode(addr netip.Addr) bool {
	if !addr.Is6() || addr.Is4In6() {
		return false
	}

	b := addr.As16()
	for idx := 2; idx < 11; idx++ {
		if b[idx] != 0 {
			return false
		}
	}

	return b[0] == 0xff && b[1] == 0x02 && b[11] == 0x01 && b[12] == 0xff
}

// InterfaceID derives the modified EUI-64 interface identifier from a
// link-layer address, as described in RFC 4291 Appendix A.
//
// Both EUI-48 and EUI-64 link addresses are supported.
func InterfaceID(linkAddr net.HardwareAddr) ([8]byte, error) {
	var iid [8]byte

	switch len(linkAddr) {
	case 6:
		copy(iid[:3], linkAddr[:3])
		iid[3] = 0xff
		iid[4] = 0xfe
		copy(iid[5:], linkAddr[3:])
	case 8:
		copy(iid[:], linkAddr)
	default:
		return iid, fmt.Errorf("unsupported link address length %d: must be EUI-48 or EUI-64", len(linkAddr))
	}

	// Flip the universal/local bit.
	iid[0] ^= 0x02
	return iid, nil
}

// FromPrefix combines a /64 prefix with an interface identifier.
func FromPrefix(prefix netip.Prefix, iid [8]byte) (netip.Addr, error) {
	if !prefix.Addr().Is6() {
		return netip.Addr{}, fmt.Errorf("prefix %s is not an IPv6 prefix", prefix)
	}
	if prefix.Bits() != 64 {
		return netip.Addr{}, fmt.Errorf("prefix %s must be exactly 64 bits long", prefix)
	}

	b := prefix.Masked().Addr().As16()
	copy(b[8:], iid[:])

	return netip.AddrFrom16(b), nil
}

// LinkLocal returns the fe80::/64 address derived from the link address.
func LinkLocal(linkAddr net.HardwareAddr) (netip.Addr, error) {
	iid, err := InterfaceID(linkAddr)
	if err != nil {
		return netip.Addr{}, err
	}

	return FromPrefix(LinkLocalPrefix, iid)
}

// MulticastLinkAddr maps an IPv6 multicast address to its Ethernet
// multicast address (RFC 2464 section 7): 33:33 followed by the low 32 bits.
func MulticastLinkAddr(addr netip.Addr) net.HardwareAddr {
	b := addr.As16()
	return net.HardwareAddr{0x33, 0x33, b[12], b[13], b[14], b[15]}
}
