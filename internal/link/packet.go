// Package link carries IPv6 datagrams between the ND engine and Ethernet
// interfaces.
package link

import (
	"bytes"
	"errors"
	"net"
)

var (
	// ErrNoLinkAddr is returned when a unicast datagram has no resolved
	// destination link-layer address.
	ErrNoLinkAddr = errors.New("no destination link-layer address")
	// ErrUnknownInterface is returned when no sender serves the packet's
	// interface.
	ErrUnknownInterface = errors.New("unknown interface")
	// ErrClosed is returned when sending on a closed link.
	ErrClosed = errors.New("link is closed")
)

// Packet is an IPv6 datagram together with its link-layer addressing.
type Packet struct {
	// IfIndex is the interface the packet was received on or is to be
	// sent through.
	IfIndex int
	// Data is the IPv6 datagram, starting at the IPv6 header.
	Data        []byte
	SrcLinkAddr net.HardwareAddr
	DstLinkAddr net.HardwareAddr
}

// NewPacket creates a packet for the given interface.
func NewPacket(ifindex int, data []byte) *Packet {
	return &Packet{
		IfIndex: ifindex,
		Data:    data,
	}
}

// SwapLinkAddrs exchanges source and destination link-layer addresses,
// turning a received packet into a reply skeleton.
func (m *Packet) SwapLinkAddrs() {
	m.SrcLinkAddr, m.DstLinkAddr = m.DstLinkAddr, m.SrcLinkAddr
}

// Clone returns a deep copy of the packet.
func (m *Packet) Clone() *Packet {
	return &Packet{
		IfIndex:     m.IfIndex,
		Data:        bytes.Clone(m.Data),
		SrcLinkAddr: bytes.Clone(m.SrcLinkAddr),
		DstLinkAddr: bytes.Clone(m.DstLinkAddr),
	}
}

// Sender transmits packets on a link.
type Sender interface {
	Send(pkt *Packet) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(pkt *Packet) error

func (m SenderFunc) Send(pkt *Packet) error {
	return m(pkt)
}
