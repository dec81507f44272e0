package wire

import (
	"encoding/binary"
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
)

// Message is a decoded ICMPv6 datagram.
type Message struct {
	Src      netip.Addr
	Dst      netip.Addr
	HopLimit uint8
	Type     Type
	Code     uint8
	// Body is the message past the 4-byte ICMPv6 header. It aliases the
	// parsed buffer.
	Body []byte
	// Len is the datagram length including the IPv6 header.
	Len int
}

// Parse decodes an IPv6 datagram carrying ICMPv6.
func Parse(data []byte) (*Message, error) {
	if len(data) < IPv6HeaderLen {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if data[0]>>4 != 6 {
		return nil, ErrNotIPv6
	}
	// Zero payload length marks a jumbogram, which never carries ND.
	payloadLen := int(binary.BigEndian.Uint16(data[4:6]))
	if payloadLen > len(data)-IPv6HeaderLen {
		return nil, fmt.Errorf("%w: payload length %d, %d bytes present", ErrTruncated, payloadLen, len(data)-IPv6HeaderLen)
	}

	pkt := gopacket.NewPacket(data, layers.LayerTypeIPv6, gopacket.DecodeOptions{
		Lazy:   true,
		NoCopy: true,
	})

	ipLayer := pkt.Layer(layers.LayerTypeIPv6)
	if ipLayer == nil {
		return nil, ErrNotIPv6
	}
	ip := ipLayer.(*layers.IPv6)

	icmpLayer := pkt.Layer(layers.LayerTypeICMPv6)
	if icmpLayer == nil {
		if ip.NextHeader != layers.IPProtocolICMPv6 {
			return nil, ErrNotICMPv6
		}
		if errLayer := pkt.ErrorLayer(); errLayer != nil {
			return nil, fmt.Errorf("%w: %w", ErrTruncated, errLayer.Error())
		}
		return nil, fmt.Errorf("%w: ICMPv6 header", ErrTruncated)
	}
	icmp := icmpLayer.(*layers.ICMPv6)

	src, ok := netip.AddrFromSlice(ip.SrcIP)
	if !ok {
		return nil, ErrNotIPv6
	}
	dst, ok := netip.AddrFromSlice(ip.DstIP)
	if !ok {
		return nil, ErrNotIPv6
	}

	return &Message{
		Src:      src,
		Dst:      dst,
		HopLimit: ip.HopLimit,
		Type:     Type(icmp.TypeCode.Type()),
		Code:     icmp.TypeCode.Code(),
		Body:     icmp.Payload,
		Len:      IPv6HeaderLen + len(ip.Payload),
	}, nil
}

// ParseHeader decodes just the IPv6 header and returns the source and
// destination addresses.
func ParseHeader(data []byte) (src netip.Addr, dst netip.Addr, err error) {
	var ip layers.IPv6
	if err := ip.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return netip.Addr{}, netip.Addr{}, fmt.Errorf("failed to decode IPv6 header: %w", err)
	}

	src, ok := netip.AddrFromSlice(ip.SrcIP)
	if !ok {
		return netip.Addr{}, netip.Addr{}, ErrNotIPv6
	}
	dst, ok = netip.AddrFromSlice(ip.DstIP)
	if !ok {
		return netip.Addr{}, netip.Addr{}, ErrNotIPv6
	}

	return src, dst, nil
}
