package nd

import (
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/wire"
)

// SolicitRouters starts sending Router Solicitations on the interface.
//
// Up to MaxRtrSolicitations are sent, RtrSolicitationInterval apart; the
// first RA received stops them.
func (m *Engine) SolicitRouters(ifindex int) error {
	m.mu.Lock()
	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	st.rsCount = 0
	if m.cfg.MaxRtrSolicitations == 0 {
		m.mu.Unlock()
		return nil
	}
	out, err := m.sendRSLocked(st)
	m.mu.Unlock()

	m.transmit(out)
	return err
}

func (m *Engine) sendRSLocked(st *ifaceState) ([]outbound, error) {
	st.rs.stop()

	// Without a usable address the solicitation comes from the
	// unspecified address and must not carry our link address.
	src, ok := st.iface.SelectSourceAddr(xnetip.AllRouters)
	var linkAddr net.HardwareAddr
	if ok {
		linkAddr = st.iface.LinkAddr()
	} else {
		src = netip.IPv6Unspecified()
	}

	pkt, err := m.buildLocked(st, src, xnetip.AllRouters, wire.TypeRouterSolicitation, wire.MarshalRouterSolicitation(linkAddr))
	if err != nil {
		return nil, err
	}

	st.rsCount++
	if st.rsCount < m.cfg.MaxRtrSolicitations {
		ifindex := st.iface.Index()
		m.armLocked(&st.rs, m.cfg.RtrSolicitationInterval, func(seq uint64) {
			m.onRSTimer(ifindex, seq)
		})
	}

	m.log.Debugw("sending RS",
		zap.Int("ifindex", st.iface.Index()),
		zap.Stringer("src", src),
		zap.Int("count", st.rsCount),
	)
	return []outbound{{pkt: pkt, kind: "rs"}}, nil
}

func (m *Engine) onRSTimer(ifindex int, seq uint64) {
	m.mu.Lock()
	var out []outbound
	if st, ok := m.ifaces[ifindex]; ok && !m.closed && st.rs.seq == seq {
		var err error
		out, err = m.sendRSLocked(st)
		if err != nil {
			m.log.Debugw("failed to send RS", zap.Int("ifindex", ifindex), zap.Error(err))
		}
	}
	m.mu.Unlock()

	m.transmit(out)
}
