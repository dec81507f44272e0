package nd

import (
	"net"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/netif"
	"github.com/yanet-platform/ndisc/internal/wire"
)

const minNSLen = wire.IPv6HeaderLen + wire.ICMPHeaderLen + wire.NSLen

// handleNS processes a Neighbor Solicitation, answering it in place when
// the target is ours.
func (m *Engine) handleNS(st *ifaceState, pkt *link.Packet, msg *wire.Message) ([]outbound, error) {
	if err := checkHeader(msg, minNSLen); err != nil {
		return nil, err
	}

	ns, err := wire.ParseNeighborSolicitation(msg.Body)
	if err != nil {
		return nil, err
	}
	if ns.Target.IsMulticast() {
		return nil, DropMulticastTarget
	}

	var sourceLinkAddr net.HardwareAddr
	err = wire.WalkOptions(ns.Options, func(opt wire.Option) error {
		if opt.Type != wire.OptSourceLinkAddr {
			return nil
		}
		if msg.Src.IsUnspecified() {
			return DropUnspecifiedLinkAddr
		}

		addr, err := opt.LinkAddr(linkAddrLen(st))
		if err != nil {
			return err
		}
		sourceLinkAddr = addr
		return nil
	})
	if err != nil {
		return nil, optionError(err)
	}

	target, ok := st.iface.LookupAddr(ns.Target)
	if !ok {
		return nil, DropUnknownTarget
	}

	if msg.Src.IsUnspecified() {
		return m.dad.unspecifiedSolicitation(m, st, pkt, msg, target)
	}

	if m.isOwnAddrLocked(msg.Src) {
		return nil, DropDuplicateSource
	}
	// Another node resolving our tentative address is not a collision.
	if target.State == netif.Tentative {
		return nil, DropTentativeTarget
	}

	if !xnetip.IsSolicitedNode(msg.Dst) {
		if _, ok := st.iface.LookupAddr(msg.Dst); !ok {
			return nil, DropUnknownTarget
		}
	}

	var out []outbound
	if sourceLinkAddr != nil {
		out, err = m.updateFromSolicitationLocked(st, msg.Src, sourceLinkAddr, false)
		if err != nil {
			return nil, err
		}
	}

	reply, err := m.replyNALocked(st, pkt, ns.Target, msg.Src, ns.Target, wire.FlagSolicited|wire.FlagOverride)
	if err != nil {
		return out, err
	}
	return append(out, reply), nil
}
