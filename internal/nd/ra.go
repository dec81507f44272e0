package nd

import (
	"net"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/netif"
	"github.com/yanet-platform/ndisc/internal/wire"
)

const minRALen = wire.IPv6HeaderLen + wire.ICMPHeaderLen + wire.RALen

// twoHours bounds how far an unauthenticated RA may shorten the valid
// lifetime of an autoconfigured address (RFC 4862, section 5.5.3).
const twoHours = 2 * time.Hour

// raOptions is the decoded option stream of an RA.
type raOptions struct {
	linkAddr net.HardwareAddr
	mtu      uint32
	prefixes []*wire.PrefixInformation
	contexts []*wire.SixLoWPANContext
}

func decodeRAOptions(st *ifaceState, b []byte) (*raOptions, error) {
	opts := &raOptions{}
	err := wire.WalkOptions(b, func(opt wire.Option) error {
		switch opt.Type {
		case wire.OptSourceLinkAddr:
			addr, err := opt.LinkAddr(linkAddrLen(st))
			if err != nil {
				return err
			}
			opts.linkAddr = addr
		case wire.OptMTU:
			mtu, err := opt.MTU()
			if err != nil {
				return err
			}
			opts.mtu = mtu
		case wire.OptPrefixInformation:
			pi, err := opt.PrefixInformation()
			if err != nil {
				return err
			}
			opts.prefixes = append(opts.prefixes, pi)
		case wire.OptSixLoWPANContext:
			ctx, err := opt.SixLoWPANContext()
			if err != nil {
				return err
			}
			opts.contexts = append(opts.contexts, ctx)
		}
		// Route information and unknown options are skipped.
		return nil
	})
	if err != nil {
		return nil, err
	}
	return opts, nil
}

// handleRA processes a Router Advertisement. The whole option stream is
// validated before anything is applied.
func (m *Engine) handleRA(st *ifaceState, pkt *link.Packet, msg *wire.Message) ([]outbound, error) {
	if err := checkHeader(msg, minRALen); err != nil {
		return nil, err
	}
	if !msg.Src.IsLinkLocalUnicast() {
		return nil, DropNotLinkLocalSource
	}

	ra, err := wire.ParseRouterAdvertisement(msg.Body)
	if err != nil {
		return nil, err
	}
	opts, err := decodeRAOptions(st, ra.Options)
	if err != nil {
		return nil, optionError(err)
	}

	ifindex := st.iface.Index()
	m.log.Debugw("received RA",
		zap.Int("ifindex", ifindex),
		zap.Stringer("router", msg.Src),
		zap.Uint16("lifetime", ra.RouterLifetime),
	)

	if ra.CurHopLimit != 0 {
		st.iface.SetHopLimit(ra.CurHopLimit)
	}
	if ra.ReachableTime != 0 {
		st.iface.SetBaseReachableTime(wire.Milliseconds(ra.ReachableTime))
	}
	if ra.RetransTimer != 0 {
		st.iface.SetRetransTimer(wire.Milliseconds(ra.RetransTimer))
	}
	if opts.mtu != 0 {
		if err := st.iface.SetMTU(opts.mtu); err != nil {
			m.log.Debugw("ignored advertised MTU", zap.Int("ifindex", ifindex), zap.Error(err))
		}
	}

	var out []outbound
	if opts.linkAddr != nil {
		flushed, err := m.updateFromSolicitationLocked(st, msg.Src, opts.linkAddr, true)
		if err != nil {
			m.stats.Dropped(reasonOf(err))
			m.log.Debugw("failed to update router neighbour", zap.Stringer("router", msg.Src), zap.Error(err))
		}
		out = append(out, flushed...)
	} else if _, n := m.lookupLocked(ifindex, msg.Src); n != nil {
		n.isRouter = true
	}

	for _, pi := range opts.prefixes {
		out = append(out, m.handlePrefixLocked(st, pi)...)
	}
	for _, ctx := range opts.contexts {
		m.updateContextLocked(st, ctx)
	}

	if err := m.updateRouterLocked(st, msg.Src, ra.RouterLifetime); err != nil {
		m.stats.Dropped(reasonOf(err))
	}

	st.rs.stop()
	return out, nil
}

func lifetime(v uint32) time.Duration {
	if v == wire.InfiniteLifetime {
		return netif.Infinite
	}
	return wire.Seconds(v)
}

// handlePrefixLocked applies a Prefix Information option.
func (m *Engine) handlePrefixLocked(st *ifaceState, pi *wire.PrefixInformation) []outbound {
	if pi.Prefix.Addr().IsLinkLocalUnicast() {
		m.log.Debugw("ignored link-local prefix", zap.Stringer("prefix", pi.Prefix))
		return nil
	}

	if pi.OnLink {
		infinite := pi.ValidLifetime == wire.InfiniteLifetime
		if err := m.updatePrefixLocked(st, pi.Prefix, wire.Seconds(pi.ValidLifetime), infinite); err != nil {
			m.stats.Dropped(reasonOf(err))
		}
	}

	if !pi.Autonomous {
		return nil
	}
	out, err := m.autoconfLocked(st, pi)
	if err != nil {
		m.log.Debugw("failed to autoconfigure address",
			zap.Int("ifindex", st.iface.Index()),
			zap.Stringer("prefix", pi.Prefix),
			zap.Error(err),
		)
	}
	return out
}

// autoconfLocked forms or refreshes the stateless address for an
// autonomous prefix (RFC 4862, section 5.5.3).
func (m *Engine) autoconfLocked(st *ifaceState, pi *wire.PrefixInformation) ([]outbound, error) {
	if pi.PreferredLifetime > pi.ValidLifetime {
		return nil, nil
	}
	if pi.Prefix.Bits() != 64 {
		m.log.Debugw("ignored autonomous prefix of unsupported length", zap.Stringer("prefix", pi.Prefix))
		return nil, nil
	}

	iid, err := xnetip.InterfaceID(st.iface.LinkAddr())
	if err != nil {
		return nil, err
	}
	addr, err := xnetip.FromPrefix(pi.Prefix, iid)
	if err != nil {
		return nil, err
	}

	valid := lifetime(pi.ValidLifetime)
	preferred := lifetime(pi.PreferredLifetime)

	existing, ok := st.iface.LookupAddr(addr)
	if !ok {
		if valid == 0 {
			return nil, nil
		}
		if err := st.iface.AddAddr(addr, netif.OriginAutoconf, netif.Tentative, valid, preferred); err != nil {
			return nil, err
		}
		return m.dad.start(m, st, addr)
	}
	if existing.Origin != netif.OriginAutoconf {
		return nil, nil
	}

	remaining := existing.ValidRemaining(m.clock.Now())
	switch {
	case valid > twoHours || valid > remaining:
	case remaining <= twoHours:
		valid = remaining
	default:
		valid = twoHours
	}
	st.iface.SetAddrLifetimes(addr, valid, preferred)
	return nil, nil
}

type contextEntry struct {
	cid       uint8
	prefix    netip.Prefix
	compress  bool
	expiresAt time.Time
	timer     timerSlot
}

// updateContextLocked applies a 6LoWPAN Context option. A zero lifetime
// removes the context.
func (m *Engine) updateContextLocked(st *ifaceState, ctx *wire.SixLoWPANContext) {
	ifindex := st.iface.Index()

	c, ok := st.contexts[ctx.CID]
	if ctx.Lifetime == 0 {
		if ok {
			c.timer.stop()
			delete(st.contexts, ctx.CID)
			m.log.Infow("removed context", zap.Int("ifindex", ifindex), zap.Uint8("cid", ctx.CID))
		}
		return
	}

	if !ok {
		if len(st.contexts) >= m.cfg.MaxContexts {
			m.log.Warnw("context table is full", zap.Int("ifindex", ifindex), zap.Uint8("cid", ctx.CID))
			return
		}
		c = &contextEntry{cid: ctx.CID}
		st.contexts[ctx.CID] = c
		m.log.Infow("added context",
			zap.Int("ifindex", ifindex),
			zap.Uint8("cid", ctx.CID),
			zap.Stringer("prefix", ctx.Prefix),
		)
	}

	c.prefix = ctx.Prefix
	c.compress = ctx.Compress
	c.expiresAt = m.clock.Now().Add(ctx.Lifetime)
	cid := ctx.CID
	m.armLocked(&c.timer, ctx.Lifetime, func(seq uint64) {
		m.onContextTimer(ifindex, cid, seq)
	})
}

func (m *Engine) onContextTimer(ifindex int, cid uint8, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	st, ok := m.ifaces[ifindex]
	if !ok {
		return
	}
	c, ok := st.contexts[cid]
	if !ok || c.timer.seq != seq {
		return
	}

	c.timer.stop()
	delete(st.contexts, cid)
	m.log.Infow("context lifetime expired", zap.Int("ifindex", ifindex), zap.Uint8("cid", cid))
}

// Contexts returns the 6LoWPAN compression contexts of the interface
// ordered by context identifier.
func (m *Engine) Contexts(ifindex int) ([]ContextInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		return nil, err
	}

	out := make([]ContextInfo, 0, len(st.contexts))
	for cid := range uint8(16) {
		c, ok := st.contexts[cid]
		if !ok {
			continue
		}
		out = append(out, ContextInfo{
			IfIndex:   ifindex,
			CID:       c.cid,
			Prefix:    c.prefix,
			Compress:  c.compress,
			ExpiresAt: c.expiresAt,
		})
	}
	return out, nil
}
