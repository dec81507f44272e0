package nd

import (
	"bytes"
	"net"

	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/wire"
)

// An advertisement must carry at least one option header.
const minNALen = wire.IPv6HeaderLen + wire.ICMPHeaderLen + wire.NALen + wire.OptionHeaderLen

// handleNA processes a Neighbor Advertisement.
func (m *Engine) handleNA(st *ifaceState, pkt *link.Packet, msg *wire.Message) ([]outbound, error) {
	if err := checkHeader(msg, minNALen); err != nil {
		return nil, err
	}

	na, err := wire.ParseNeighborAdvertisement(msg.Body)
	if err != nil {
		return nil, err
	}
	if na.Target.IsMulticast() {
		return nil, DropMulticastTarget
	}
	if na.Solicited() && msg.Dst.IsMulticast() {
		return nil, DropSolicitedToMulticast
	}

	var targetLinkAddr net.HardwareAddr
	err = wire.WalkOptions(na.Options, func(opt wire.Option) error {
		if opt.Type != wire.OptTargetLinkAddr {
			return nil
		}

		addr, err := opt.LinkAddr(linkAddrLen(st))
		if err != nil {
			return err
		}
		targetLinkAddr = addr
		return nil
	})
	if err != nil {
		return nil, optionError(err)
	}

	if target, ok := st.iface.LookupAddr(na.Target); ok {
		return nil, m.dad.ownAdvertisement(m, st, target)
	}

	return m.updateFromAdvertisementLocked(st, na, targetLinkAddr)
}

// updateFromAdvertisementLocked applies an advertisement to the target's
// cache entry (RFC 4861, section 7.2.5).
func (m *Engine) updateFromAdvertisementLocked(st *ifaceState, na *wire.NeighborAdvertisement, linkAddr net.HardwareAddr) ([]outbound, error) {
	h, n := m.lookupLocked(st.iface.Index(), na.Target)
	if n == nil {
		return nil, DropNoNeighbour
	}

	if n.state == Incomplete {
		if linkAddr == nil {
			return nil, DropNoLinkAddr
		}
		if err := m.setLinkAddrLocked(n, linkAddr); err != nil {
			return nil, err
		}
		if na.Solicited() {
			m.setStateLocked(h, n, st, Reachable)
		} else {
			m.setStateLocked(h, n, st, Stale)
		}
		n.isRouter = na.Router()
		return m.flushPendingLocked(st, n), nil
	}

	changed := linkAddr != nil && !bytes.Equal(m.linkAddrLocked(n), linkAddr)
	if changed && !na.Override() {
		if n.state == Reachable {
			m.setStateLocked(h, n, st, Stale)
		}
		return nil, DropOverrideMismatch
	}

	if changed {
		if err := m.setLinkAddrLocked(n, linkAddr); err != nil {
			return nil, err
		}
	}
	switch {
	case na.Solicited():
		m.setStateLocked(h, n, st, Reachable)
	case changed:
		m.setStateLocked(h, n, st, Stale)
	}

	if n.isRouter && !na.Router() {
		m.removeRouterLocked(st, na.Target)
	}
	n.isRouter = na.Router()
	return m.flushPendingLocked(st, n), nil
}
