package nd

import (
	"bytes"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/wire"
)

// setStateLocked moves the entry into state, resetting the solicitation
// count and arming the timer that state runs.
func (m *Engine) setStateLocked(h Handle, n *neighbour, st *ifaceState, state State) {
	n.reachable.stop()
	n.retransmit.stop()

	if n.state != state {
		m.log.Debugw("neighbour state changed",
			zap.Int("ifindex", n.key.ifindex),
			zap.Stringer("addr", n.key.addr),
			zap.Stringer("from", n.state),
			zap.Stringer("to", state),
		)
	}
	n.state = state
	n.solicitCount = 0
	n.updatedAt = m.clock.Now()

	fire := func(seq uint64) {
		m.onNeighbourTimer(h, seq)
	}
	switch state {
	case Incomplete, Probe:
		m.armLocked(&n.retransmit, st.iface.RetransTimer(), fire)
	case Reachable:
		m.armLocked(&n.reachable, st.iface.BaseReachableTime(), fire)
	case Stale:
		m.armLocked(&n.reachable, m.cfg.StaleTime, fire)
	case Delay:
		m.armLocked(&n.reachable, m.cfg.DelayFirstProbeTime, fire)
	}
}

func (m *Engine) onNeighbourTimer(h Handle, seq uint64) {
	m.mu.Lock()
	out := m.neighbourTimerLocked(h, seq)
	m.mu.Unlock()

	m.transmit(out)
}

func (m *Engine) neighbourTimerLocked(h Handle, seq uint64) []outbound {
	if m.closed {
		return nil
	}

	n := m.neighbours.get(h)
	if n == nil || m.index[n.key] != h {
		return nil
	}
	if n.reachable.seq != seq && n.retransmit.seq != seq {
		return nil
	}
	st, ok := m.ifaces[n.key.ifindex]
	if !ok {
		return nil
	}

	switch n.state {
	case Incomplete:
		if n.solicitCount >= m.cfg.MaxMulticastSolicit {
			m.log.Debugw("address resolution failed",
				zap.Int("ifindex", n.key.ifindex),
				zap.Stringer("addr", n.key.addr),
			)
			m.removeLocked(h, n)
			return nil
		}
		n.solicitCount++
		m.armLocked(&n.retransmit, st.iface.RetransTimer(), func(seq uint64) {
			m.onNeighbourTimer(h, seq)
		})

		pkt, err := m.buildNSLocked(st, netip.Addr{}, netip.Addr{}, n.key.addr, false)
		if err != nil {
			m.log.Debugw("failed to retransmit NS", zap.Stringer("addr", n.key.addr), zap.Error(err))
			return nil
		}
		return []outbound{{pkt: pkt, kind: "ns"}}

	case Probe:
		if n.solicitCount >= m.cfg.MaxUnicastSolicit {
			m.log.Debugw("neighbour unreachable",
				zap.Int("ifindex", n.key.ifindex),
				zap.Stringer("addr", n.key.addr),
			)
			if router, ok := m.defaultRouterLocked(st); ok && router == n.key.addr {
				m.removeRouterLocked(st, router)
			}
			m.removeLocked(h, n)
			return nil
		}
		n.solicitCount++
		m.armLocked(&n.retransmit, st.iface.RetransTimer(), func(seq uint64) {
			m.onNeighbourTimer(h, seq)
		})

		pkt, err := m.buildNSLocked(st, netip.Addr{}, n.key.addr, n.key.addr, false)
		if err != nil {
			m.log.Debugw("failed to send probe", zap.Stringer("addr", n.key.addr), zap.Error(err))
			return nil
		}
		pkt.DstLinkAddr = bytes.Clone(m.linkAddrLocked(n))
		return []outbound{{pkt: pkt, kind: "ns"}}

	case Reachable:
		m.setStateLocked(h, n, st, Stale)
	case Stale:
		m.removeLocked(h, n)
	case Delay:
		m.setStateLocked(h, n, st, Probe)
	}

	return nil
}

// buildNSLocked builds a Neighbor Solicitation.
//
// An invalid dst means the target's solicited-node group. An invalid src
// is chosen by the interface. DAD solicitations come from the unspecified
// address and carry no link address option.
func (m *Engine) buildNSLocked(st *ifaceState, src netip.Addr, dst netip.Addr, target netip.Addr, dad bool) (*link.Packet, error) {
	var linkAddr net.HardwareAddr
	if dad {
		src = netip.IPv6Unspecified()
	} else {
		if !src.IsValid() {
			addr, ok := st.iface.SelectSourceAddr(target)
			if !ok {
				return nil, ErrNoSourceAddr
			}
			src = addr
		}
		linkAddr = st.iface.LinkAddr()
	}
	if !dst.IsValid() {
		dst = xnetip.SolicitedNode(target)
	}

	body := wire.MarshalNeighborSolicitation(target, linkAddr)
	return m.buildLocked(st, src, dst, wire.TypeNeighborSolicitation, body)
}

// flushPendingLocked hands the queued datagram over for transmission to
// the now known link address.
func (m *Engine) flushPendingLocked(st *ifaceState, n *neighbour) []outbound {
	if n.pending == nil {
		return nil
	}

	pkt := n.pending
	n.pending = nil
	pkt.SrcLinkAddr = st.iface.LinkAddr()
	pkt.DstLinkAddr = bytes.Clone(m.linkAddrLocked(n))
	return []outbound{{pkt: pkt, kind: "data"}}
}
