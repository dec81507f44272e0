//go:build linux

package link

import (
	"fmt"
	"net"

	"github.com/gopacket/gopacket/pcapgo"
	"golang.org/x/sys/unix"
)

var _ frameHandle = (*afPacketHandle)(nil)

// afPacketHandle reads through pcapgo and writes through a separate
// AF_PACKET socket bound to no protocol, so it never receives.
type afPacketHandle struct {
	*pcapgo.EthernetHandle
	fd   int
	addr unix.SockaddrLinklayer
}

// WritePacketData sends a complete Ethernet frame.
func (m *afPacketHandle) WritePacketData(data []byte) error {
	return unix.Sendto(m.fd, data, 0, &m.addr)
}

func (m *afPacketHandle) Close() {
	m.EthernetHandle.Close()
	unix.Close(m.fd)
}

func openEthernet(name string, snapLen int) (frameHandle, error) {
	iface, err := net.InterfaceByName(name)
	if err != nil {
		return nil, err
	}

	handle, err := pcapgo.NewEthernetHandle(name)
	if err != nil {
		return nil, err
	}

	// Solicited-node groups are joined by the kernel only for its own
	// addresses, so the socket listens to every frame. Foreign traffic is
	// filtered by destination in the engine.
	if err := handle.SetPromiscuous(true); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to enable promiscuous mode: %w", err)
	}
	if err := handle.SetCaptureLength(snapLen); err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to set capture length: %w", err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to open send socket: %w", err)
	}

	return &afPacketHandle{
		EthernetHandle: handle,
		fd:             fd,
		addr: unix.SockaddrLinklayer{
			Protocol: htons(unix.ETH_P_IPV6),
			Ifindex:  iface.Index,
			Halen:    6,
		},
	}, nil
}

func htons(v uint16) uint16 {
	return v<<8 | v>>8
}
