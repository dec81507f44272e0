package nd

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/wire"
)

// HandleInput processes a received IPv6 datagram.
//
// Datagrams other than ND messages are ignored without being counted. ND
// messages addressed neither to an own address nor to a joined group are
// dropped before any state is touched.
//
// Replies may reuse the packet buffer, so the caller must not touch the
// packet afterwards.
func (m *Engine) HandleInput(pkt *link.Packet) Verdict {
	msg, err := wire.Parse(pkt.Data)
	if errors.Is(err, wire.ErrNotICMPv6) {
		return VerdictIgnore
	}
	if err != nil {
		return m.drop(pkt, err)
	}
	if !msg.Type.IsND() {
		return VerdictIgnore
	}
	m.stats.Received(msg.Type.String())

	m.mu.Lock()
	out, err := m.dispatchLocked(pkt, msg)
	m.mu.Unlock()

	m.transmit(out)
	if err != nil {
		return m.drop(pkt, err)
	}
	return VerdictOK
}

func (m *Engine) dispatchLocked(pkt *link.Packet, msg *wire.Message) ([]outbound, error) {
	st, err := m.ifaceLocked(pkt.IfIndex)
	if err != nil {
		return nil, err
	}

	handler, ok := m.handlers[msg.Type]
	if !ok {
		return nil, DropUnsupportedType
	}
	if !isForUs(st, msg.Dst) {
		return nil, fmt.Errorf("%w: %s", DropNotForUs, msg.Dst)
	}
	return handler(st, pkt, msg)
}

// isForUs reports whether dst is an address of the interface or a group
// it joined.
func isForUs(st *ifaceState, dst netip.Addr) bool {
	if dst.IsMulticast() {
		return st.iface.IsMember(dst)
	}
	_, ok := st.iface.LookupAddr(dst)
	return ok
}

func (m *Engine) drop(pkt *link.Packet, err error) Verdict {
	reason := reasonOf(err)
	m.stats.Dropped(reason)
	m.log.Debugw("dropped packet",
		zap.Int("ifindex", pkt.IfIndex),
		zap.String("reason", string(reason)),
		zap.Error(err),
	)
	return VerdictDrop
}

// checkHeader validates the fields every ND message shares.
func checkHeader(msg *wire.Message, minLen int) error {
	if msg.Len < minLen {
		return fmt.Errorf("%w: %d bytes", DropShortPacket, msg.Len)
	}
	if msg.Code != 0 {
		return DropBadCode
	}
	if msg.HopLimit != wire.HopLimit {
		return fmt.Errorf("%w: %d", DropBadHopLimit, msg.HopLimit)
	}
	return nil
}

// optionError turns an option walk failure into a drop reason.
func optionError(err error) error {
	var reason DropReason
	if errors.As(err, &reason) {
		return err
	}
	return fmt.Errorf("%w: %w", DropBadOption, err)
}

// linkAddrLen is the length of link addresses carried in options.
func linkAddrLen(st *ifaceState) int {
	if n := len(st.iface.LinkAddr()); n > 0 {
		return n
	}
	return 6
}

// updateFromSolicitationLocked records a link address announced by a
// neighbour in NS or RA.
//
// A new neighbour becomes Stale. An Incomplete one gets its link address,
// becomes Stale and has its queued datagram flushed. A changed link address
// also makes the entry Stale.
func (m *Engine) updateFromSolicitationLocked(st *ifaceState, addr netip.Addr, linkAddr net.HardwareAddr, isRouter bool) ([]outbound, error) {
	ifindex := st.iface.Index()

	h, n := m.lookupLocked(ifindex, addr)
	if n == nil {
		var err error
		h, n, err = m.allocateLocked(ifindex, addr)
		if err != nil {
			return nil, err
		}
		if err := m.setLinkAddrLocked(n, linkAddr); err != nil {
			m.removeLocked(h, n)
			return nil, err
		}
		n.isRouter = isRouter
		m.setStateLocked(h, n, st, Stale)
		return nil, nil
	}

	if isRouter {
		n.isRouter = true
	}

	if n.state == Incomplete || !n.linkAddr.IsValid() {
		if err := m.setLinkAddrLocked(n, linkAddr); err != nil {
			return nil, err
		}
		m.setStateLocked(h, n, st, Stale)
		return m.flushPendingLocked(st, n), nil
	}

	if !bytes.Equal(m.linkAddrLocked(n), linkAddr) {
		if err := m.setLinkAddrLocked(n, linkAddr); err != nil {
			return nil, err
		}
		m.setStateLocked(h, n, st, Stale)
	}
	return nil, nil
}

// replyNALocked rewrites pkt in place into a Neighbor Advertisement for
// target carrying our link address.
func (m *Engine) replyNALocked(st *ifaceState, pkt *link.Packet, src netip.Addr, dst netip.Addr, target netip.Addr, flags uint8) (outbound, error) {
	body := wire.MarshalNeighborAdvertisement(flags, target, st.iface.LinkAddr())
	data, err := wire.SerializeInto(pkt.Data, src, dst, wire.TypeNeighborAdvertisement, body)
	if err != nil {
		return outbound{}, err
	}

	pkt.Data = data
	pkt.SwapLinkAddrs()
	pkt.SrcLinkAddr = st.iface.LinkAddr()
	if dst.IsMulticast() {
		pkt.DstLinkAddr = xnetip.MulticastLinkAddr(dst)
	}
	return outbound{pkt: pkt, kind: "na"}, nil
}
