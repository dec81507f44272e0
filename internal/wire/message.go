package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/yanet-platform/ndisc/common/go/xpacket"
)

// NeighborSolicitation is the fixed part of an NS message.
type NeighborSolicitation struct {
	Target netip.Addr
	// Options is the raw option stream.
	Options []byte
}

// ParseNeighborSolicitation decodes an NS message body.
func ParseNeighborSolicitation(body []byte) (*NeighborSolicitation, error) {
	if len(body) < NSLen {
		return nil, fmt.Errorf("%w: neighbor solicitation of %d bytes", ErrTruncated, len(body))
	}

	return &NeighborSolicitation{
		Target:  netip.AddrFrom16([16]byte(body[4:20])),
		Options: body[NSLen:],
	}, nil
}

// NeighborAdvertisement is the fixed part of an NA message.
type NeighborAdvertisement struct {
	Flags   uint8
	Target  netip.Addr
	Options []byte
}

func (m *NeighborAdvertisement) Router() bool {
	return m.Flags&FlagRouter != 0
}

func (m *NeighborAdvertisement) Solicited() bool {
	return m.Flags&FlagSolicited != 0
}

func (m *NeighborAdvertisement) Override() bool {
	return m.Flags&FlagOverride != 0
}

// ParseNeighborAdvertisement decodes an NA message body.
func ParseNeighborAdvertisement(body []byte) (*NeighborAdvertisement, error) {
	if len(body) < NALen {
		return nil, fmt.Errorf("%w: neighbor advertisement of %d bytes", ErrTruncated, len(body))
	}

	return &NeighborAdvertisement{
		Flags:   body[0],
		Target:  netip.AddrFrom16([16]byte(body[4:20])),
		Options: body[NALen:],
	}, nil
}

// RouterAdvertisement is the fixed part of an RA message.
type RouterAdvertisement struct {
	CurHopLimit uint8
	Flags       uint8
	// RouterLifetime is in seconds, zero meaning "not a default router".
	RouterLifetime uint16
	// ReachableTime and RetransTimer are in milliseconds, zero meaning
	// unspecified.
	ReachableTime uint32
	RetransTimer  uint32
	Options       []byte
}

// ParseRouterAdvertisement decodes an RA message body.
func ParseRouterAdvertisement(body []byte) (*RouterAdvertisement, error) {
	if len(body) < RALen {
		return nil, fmt.Errorf("%w: router advertisement of %d bytes", ErrTruncated, len(body))
	}

	return &RouterAdvertisement{
		CurHopLimit:    body[0],
		Flags:          body[1],
		RouterLifetime: binary.BigEndian.Uint16(body[2:4]),
		ReachableTime:  binary.BigEndian.Uint32(body[4:8]),
		RetransTimer:   binary.BigEndian.Uint32(body[8:12]),
		Options:        body[RALen:],
	}, nil
}

// MarshalNeighborSolicitation builds an NS body. A nil linkAddr omits the
// source link-layer address option.
func MarshalNeighborSolicitation(target netip.Addr, linkAddr net.HardwareAddr) []byte {
	b := make([]byte, 4, NSLen+OptionHeaderLen+len(linkAddr)+OptionUnit)
	target16 := target.As16()
	b = append(b, target16[:]...)
	if linkAddr != nil {
		b = AppendLinkAddrOption(b, OptSourceLinkAddr, linkAddr)
	}

	return b
}

// MarshalNeighborAdvertisement builds an NA body. A nil linkAddr omits the
// target link-layer address option.
func MarshalNeighborAdvertisement(flags uint8, target netip.Addr, linkAddr net.HardwareAddr) []byte {
	b := make([]byte, 4, NALen+OptionHeaderLen+len(linkAddr)+OptionUnit)
	b[0] = flags
	target16 := target.As16()
	b = append(b, target16[:]...)
	if linkAddr != nil {
		b = AppendLinkAddrOption(b, OptTargetLinkAddr, linkAddr)
	}

	return b
}

// MarshalRouterSolicitation builds an RS body. A nil linkAddr omits the
// source link-layer address option.
func MarshalRouterSolicitation(linkAddr net.HardwareAddr) []byte {
	b := make([]byte, RSLen, RSLen+OptionHeaderLen+len(linkAddr)+OptionUnit)
	if linkAddr != nil {
		b = AppendLinkAddrOption(b, OptSourceLinkAddr, linkAddr)
	}

	return b
}

// MarshalRouterAdvertisement builds an RA body followed by the already
// encoded options.
func MarshalRouterAdvertisement(ra *RouterAdvertisement) []byte {
	b := make([]byte, 0, RALen+len(ra.Options))
	b = append(b, ra.CurHopLimit, ra.Flags)
	b = binary.BigEndian.AppendUint16(b, ra.RouterLifetime)
	b = binary.BigEndian.AppendUint32(b, ra.ReachableTime)
	b = binary.BigEndian.AppendUint32(b, ra.RetransTimer)
	return append(b, ra.Options...)
}

// Serialize wraps an ND message body into an IPv6 datagram with hop limit
// 255 and a valid ICMPv6 checksum.
func Serialize(src netip.Addr, dst netip.Addr, typ Type, body []byte) ([]byte, error) {
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   HopLimit,
		SrcIP:      src.AsSlice(),
		DstIP:      dst.AsSlice(),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(uint8(typ), 0),
	}
	if err := icmp.SetNetworkLayerForChecksum(ip); err != nil {
		return nil, fmt.Errorf("failed to set network layer for checksum: %w", err)
	}

	data, err := xpacket.Serialize(ip, icmp, gopacket.Payload(body))
	if err != nil {
		return nil, fmt.Errorf("failed to serialize %s: %w", typ, err)
	}

	return data, nil
}

// SerializeInto is Serialize writing into buf when it has the capacity,
// so a received datagram can be rewritten in place.
func SerializeInto(buf []byte, src netip.Addr, dst netip.Addr, typ Type, body []byte) ([]byte, error) {
	// The body may alias buf, so it is serialized first.
	data, err := Serialize(src, dst, typ, body)
	if err != nil {
		return nil, err
	}

	return append(buf[:0], data...), nil
}

// Seconds converts a lifetime in seconds into a duration.
func Seconds(v uint32) time.Duration {
	return time.Duration(v) * time.Second
}

// Milliseconds converts a value in milliseconds into a duration.
func Milliseconds(v uint32) time.Duration {
	return time.Duration(v) * time.Millisecond
}
