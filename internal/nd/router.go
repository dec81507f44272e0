package nd

import (
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"
)

// InfiniteRouterLifetime is the router lifetime treated as never expiring.
const InfiniteRouterLifetime = 0xffff

type routerEntry struct {
	addr      netip.Addr
	infinite  bool
	expiresAt time.Time
	timer     timerSlot
}

// updateRouterLocked applies an advertised router lifetime: zero removes
// the router, InfiniteRouterLifetime pins it and any other value (re)arms
// its expiry.
func (m *Engine) updateRouterLocked(st *ifaceState, addr netip.Addr, lifetime uint16) error {
	idx := slices.IndexFunc(st.routers, func(r *routerEntry) bool {
		return r.addr == addr
	})

	if lifetime == 0 {
		if idx >= 0 {
			m.removeRouterLocked(st, addr)
		}
		return nil
	}

	var r *routerEntry
	if idx >= 0 {
		r = st.routers[idx]
	} else {
		if len(st.routers) >= m.cfg.MaxRouters {
			m.log.Warnw("router list is full",
				zap.Int("ifindex", st.iface.Index()),
				zap.Stringer("router", addr),
			)
			return DropRouterListFull
		}

		r = &routerEntry{addr: addr}
		st.routers = append(st.routers, r)
		m.stats.routers.Inc()

		m.log.Infow("added router",
			zap.Int("ifindex", st.iface.Index()),
			zap.Stringer("router", addr),
			zap.Uint16("lifetime", lifetime),
		)
	}

	if lifetime == InfiniteRouterLifetime {
		r.timer.stop()
		r.infinite = true
		r.expiresAt = time.Time{}
		return nil
	}

	d := time.Duration(lifetime) * time.Second
	r.infinite = false
	r.expiresAt = m.clock.Now().Add(d)
	ifindex := st.iface.Index()
	m.armLocked(&r.timer, d, func(seq uint64) {
		m.onRouterTimer(ifindex, addr, seq)
	})
	return nil
}

// removeRouterLocked removes a router, reporting whether it was listed.
func (m *Engine) removeRouterLocked(st *ifaceState, addr netip.Addr) bool {
	idx := slices.IndexFunc(st.routers, func(r *routerEntry) bool {
		return r.addr == addr
	})
	if idx < 0 {
		return false
	}

	st.routers[idx].timer.stop()
	st.routers = slices.Delete(st.routers, idx, idx+1)
	m.stats.routers.Dec()

	m.log.Infow("removed router",
		zap.Int("ifindex", st.iface.Index()),
		zap.Stringer("router", addr),
	)
	return true
}

func (m *Engine) onRouterTimer(ifindex int, addr netip.Addr, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	st, ok := m.ifaces[ifindex]
	if !ok {
		return
	}
	for _, r := range st.routers {
		if r.addr == addr && r.timer.seq == seq {
			m.log.Debugw("router lifetime expired", zap.Int("ifindex", ifindex), zap.Stringer("router", addr))
			m.removeRouterLocked(st, addr)
			return
		}
	}
}

// defaultRouterLocked picks the first router known to be reachable or
// probably reachable, falling back to the first router at all.
func (m *Engine) defaultRouterLocked(st *ifaceState) (netip.Addr, bool) {
	if len(st.routers) == 0 {
		return netip.Addr{}, false
	}

	for _, r := range st.routers {
		_, n := m.lookupLocked(st.iface.Index(), r.addr)
		if n != nil && n.state != Incomplete {
			return r.addr, true
		}
	}
	return st.routers[0].addr, true
}

// Routers returns the default router list of the interface in the order
// routers were learned.
func (m *Engine) Routers(ifindex int) ([]RouterInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		return nil, err
	}

	out := make([]RouterInfo, 0, len(st.routers))
	for _, r := range st.routers {
		out = append(out, RouterInfo{
			IfIndex:   ifindex,
			Addr:      r.addr,
			Infinite:  r.infinite,
			ExpiresAt: r.expiresAt,
		})
	}
	return out, nil
}

// DefaultRouter returns the router used for off-link destinations.
func (m *Engine) DefaultRouter(ifindex int) (netip.Addr, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		return netip.Addr{}, false
	}
	return m.defaultRouterLocked(st)
}
