package nd

import (
	"bytes"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/netif"
	"github.com/yanet-platform/ndisc/internal/wire"
)

// buildLocked wraps an ND message body into a datagram leaving the
// interface. Multicast destinations get their mapped link address.
func (m *Engine) buildLocked(st *ifaceState, src netip.Addr, dst netip.Addr, typ wire.Type, body []byte) (*link.Packet, error) {
	data, err := wire.Serialize(src, dst, typ, body)
	if err != nil {
		return nil, err
	}

	pkt := link.NewPacket(st.iface.Index(), data)
	pkt.SrcLinkAddr = st.iface.LinkAddr()
	if dst.IsMulticast() {
		pkt.DstLinkAddr = xnetip.MulticastLinkAddr(dst)
	}
	return pkt, nil
}

// resolveLocked sends one solicitation for target, creating an Incomplete
// entry if there is none, and queues pending on it.
//
// A resolved entry gets pending sent right away.
func (m *Engine) resolveLocked(st *ifaceState, src netip.Addr, dst netip.Addr, target netip.Addr, pending *link.Packet) ([]outbound, error) {
	ifindex := st.iface.Index()

	h, n := m.lookupLocked(ifindex, target)
	if n != nil && n.state != Incomplete {
		if pending == nil {
			return nil, nil
		}
		pending.SrcLinkAddr = st.iface.LinkAddr()
		pending.DstLinkAddr = bytes.Clone(m.linkAddrLocked(n))
		return []outbound{{pkt: pending, kind: "data"}}, nil
	}

	// The solicitation is built first, so that a missing source address
	// leaves no entry behind.
	ns, err := m.buildNSLocked(st, src, dst, target, false)
	if err != nil {
		if pending != nil {
			m.stats.Dropped(reasonOf(err))
		}
		return nil, err
	}

	if n == nil {
		h, n, err = m.allocateLocked(ifindex, target)
		if err != nil {
			if pending != nil {
				m.stats.Dropped(DropNeighbourPoolFull)
			}
			return nil, err
		}
		m.setStateLocked(h, n, st, Incomplete)
	}

	if pending != nil {
		if n.pending != nil {
			m.stats.Dropped(DropPendingReplaced)
		}
		n.pending = pending
	}

	if !st.limiter.AllowN(m.clock.Now(), 1) {
		m.log.Debugw("NS rate limited",
			zap.Int("ifindex", ifindex),
			zap.Stringer("target", target),
		)
		return nil, nil
	}
	return []outbound{{pkt: ns, kind: "ns"}}, nil
}

// nextHopLocked returns the address to resolve for dst: dst itself when it
// is link-local, on-link or there is no default router, otherwise the
// default router.
func (m *Engine) nextHopLocked(st *ifaceState, dst netip.Addr) netip.Addr {
	if dst.IsLinkLocalUnicast() {
		return dst
	}
	if _, ok := st.prefixes.lookup(dst); ok {
		return dst
	}
	if router, ok := m.defaultRouterLocked(st); ok {
		return router
	}
	return dst
}

// PrepareForSend fills in the link-layer addressing of an outgoing
// datagram.
//
// When the next hop is resolved the packet is returned ready to send.
// Otherwise the engine keeps the packet until resolution completes and
// returns nil; a later packet to the same next hop replaces it.
func (m *Engine) PrepareForSend(pkt *link.Packet) (*link.Packet, error) {
	src, dst, err := wire.ParseHeader(pkt.Data)
	if err != nil {
		m.stats.Dropped(DropMalformed)
		return nil, err
	}

	m.mu.Lock()
	st, err := m.ifaceLocked(pkt.IfIndex)
	if err != nil {
		m.mu.Unlock()
		m.stats.Dropped(reasonOf(err))
		return nil, err
	}

	if dst.IsMulticast() {
		pkt.SrcLinkAddr = st.iface.LinkAddr()
		pkt.DstLinkAddr = xnetip.MulticastLinkAddr(dst)
		m.mu.Unlock()
		return pkt, nil
	}

	nextHop := m.nextHopLocked(st, dst)
	h, n := m.lookupLocked(pkt.IfIndex, nextHop)
	if n != nil && n.state != Incomplete {
		if n.state == Stale {
			m.setStateLocked(h, n, st, Delay)
		}
		pkt.SrcLinkAddr = st.iface.LinkAddr()
		pkt.DstLinkAddr = bytes.Clone(m.linkAddrLocked(n))
		m.mu.Unlock()
		return pkt, nil
	}

	// The datagram's own source is preferred for the solicitation when the
	// interface owns it.
	nsSrc := netip.Addr{}
	if addr, ok := st.iface.LookupAddr(src); ok && addr.State != netif.Tentative {
		nsSrc = src
	}
	out, err := m.resolveLocked(st, nsSrc, netip.Addr{}, nextHop, pkt)
	m.mu.Unlock()

	m.transmit(out)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", nextHop, err)
	}
	return nil, nil
}

// SendNS sends a Neighbor Solicitation for target.
//
// With pending set, the engine keeps it on the target's cache entry until
// the target is resolved. An invalid src is chosen by the interface and an
// invalid dst means the target's solicited-node group. A DAD solicitation
// is sent from the unspecified address.
func (m *Engine) SendNS(ifindex int, pending *link.Packet, src netip.Addr, dst netip.Addr, target netip.Addr, dad bool) error {
	m.mu.Lock()
	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		m.mu.Unlock()
		return err
	}

	var out []outbound
	switch {
	case dad:
		var pkt *link.Packet
		pkt, err = m.buildNSLocked(st, netip.Addr{}, dst, target, true)
		if err == nil {
			out = append(out, outbound{pkt: pkt, kind: "ns"})
		}
	case pending != nil:
		out, err = m.resolveLocked(st, src, dst, target, pending)
	default:
		var pkt *link.Packet
		pkt, err = m.buildNSLocked(st, src, dst, target, false)
		if err == nil {
			if dst.IsValid() && !dst.IsMulticast() {
				if _, n := m.lookupLocked(ifindex, dst); n != nil {
					pkt.DstLinkAddr = bytes.Clone(m.linkAddrLocked(n))
				}
			}
			out = append(out, outbound{pkt: pkt, kind: "ns"})
		}
	}
	m.mu.Unlock()

	m.transmit(out)
	if err != nil {
		return fmt.Errorf("failed to send NS for %s: %w", target, err)
	}
	return nil
}
