package nd

import (
	"bytes"
	"fmt"
	"net"
	"net/netip"
	"slices"

	"go.uber.org/zap"
)

func (m *Engine) lookupLocked(ifindex int, addr netip.Addr) (Handle, *neighbour) {
	h, ok := m.index[neighbourKey{ifindex: ifindex, addr: addr}]
	if !ok {
		return Handle{}, nil
	}
	return h, m.neighbours.get(h)
}

// allocateLocked creates a cache entry. Callers look the address up first,
// so there is at most one entry per interface and address.
func (m *Engine) allocateLocked(ifindex int, addr netip.Addr) (Handle, *neighbour, error) {
	h, n, ok := m.neighbours.alloc()
	if !ok {
		return Handle{}, nil, fmt.Errorf("%w: %d entries", ErrNeighbourPoolFull, m.neighbours.cap())
	}

	n.key = neighbourKey{ifindex: ifindex, addr: addr}
	n.updatedAt = m.clock.Now()
	m.index[n.key] = h
	m.stats.neighbours.Set(float64(m.neighbours.len()))

	m.log.Debugw("created neighbour",
		zap.Int("ifindex", ifindex),
		zap.Stringer("addr", addr),
		zap.Stringer("handle", h),
	)
	return h, n, nil
}

// removeLocked unlinks the entry from the cache and drops the cache's own
// reference. External holders keep the entry alive until they release it.
func (m *Engine) removeLocked(h Handle, n *neighbour) {
	if m.index[n.key] == h {
		delete(m.index, n.key)
	}
	n.reachable.stop()
	n.retransmit.stop()

	m.log.Debugw("removed neighbour",
		zap.Int("ifindex", n.key.ifindex),
		zap.Stringer("addr", n.key.addr),
		zap.Stringer("state", n.state),
	)
	_ = m.releaseLocked(h)
}

func (m *Engine) releaseLocked(h Handle) error {
	err := m.neighbours.release(h, func(n *neighbour) {
		m.freeLocked(h, n)
	})
	m.stats.neighbours.Set(float64(m.neighbours.len()))
	return err
}

func (m *Engine) freeLocked(h Handle, n *neighbour) {
	if m.index[n.key] == h {
		delete(m.index, n.key)
	}
	n.reachable.stop()
	n.retransmit.stop()

	if n.pending != nil {
		reason := DropNeighbourRemoved
		if n.state == Incomplete {
			reason = DropResolutionFailed
		}
		m.stats.Dropped(reason)
		n.pending = nil
	}
	if n.linkAddr.IsValid() {
		_ = m.linkAddrs.release(n.linkAddr, nil)
		n.linkAddr = Handle{}
	}
}

// setLinkAddrLocked attaches a link address record on first use and
// overwrites it afterwards.
func (m *Engine) setLinkAddrLocked(n *neighbour, addr net.HardwareAddr) error {
	if rec := m.linkAddrs.get(n.linkAddr); rec != nil {
		*rec = bytes.Clone(addr)
		return nil
	}

	h, rec, ok := m.linkAddrs.alloc()
	if !ok {
		return fmt.Errorf("%w: %d records", ErrLinkAddrPoolFull, m.linkAddrs.cap())
	}
	*rec = bytes.Clone(addr)
	n.linkAddr = h
	return nil
}

func (m *Engine) linkAddrLocked(n *neighbour) net.HardwareAddr {
	rec := m.linkAddrs.get(n.linkAddr)
	if rec == nil {
		return nil
	}
	return *rec
}

func (m *Engine) infoLocked(n *neighbour) NeighbourInfo {
	return NeighbourInfo{
		IfIndex:   n.key.ifindex,
		Addr:      n.key.addr,
		LinkAddr:  bytes.Clone(m.linkAddrLocked(n)),
		State:     n.state,
		IsRouter:  n.isRouter,
		Pending:   n.pending != nil,
		UpdatedAt: n.updatedAt,
	}
}

func (m *Engine) flushLocked(ifindex int) {
	for key, h := range m.index {
		if key.ifindex != ifindex {
			continue
		}
		if n := m.neighbours.get(h); n != nil {
			m.removeLocked(h, n)
		}
	}
}

// Lookup returns the cache entry for addr on the interface.
func (m *Engine) Lookup(ifindex int, addr netip.Addr) (NeighbourInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, n := m.lookupLocked(ifindex, addr)
	if n == nil {
		return NeighbourInfo{}, false
	}
	return m.infoLocked(n), true
}

// LookupByLinkAddr returns the first cache entry on the interface, in
// address order, resolved to the given link address.
func (m *Engine) LookupByLinkAddr(ifindex int, linkAddr net.HardwareAddr) (NeighbourInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var found *neighbour
	for key, h := range m.index {
		if key.ifindex != ifindex {
			continue
		}
		n := m.neighbours.get(h)
		if n == nil || !bytes.Equal(m.linkAddrLocked(n), linkAddr) {
			continue
		}
		if found == nil || key.addr.Less(found.key.addr) {
			found = n
		}
	}

	if found == nil {
		return NeighbourInfo{}, false
	}
	return m.infoLocked(found), true
}

// Neighbours returns every cache entry ordered by interface and address.
func (m *Engine) Neighbours() []NeighbourInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]NeighbourInfo, 0, len(m.index))
	for _, h := range m.index {
		if n := m.neighbours.get(h); n != nil {
			out = append(out, m.infoLocked(n))
		}
	}
	slices.SortFunc(out, func(a, b NeighbourInfo) int {
		if a.IfIndex != b.IfIndex {
			return a.IfIndex - b.IfIndex
		}
		return a.Addr.Compare(b.Addr)
	})
	return out
}

// Hold takes a reference on a cache entry, keeping it allocated after it
// is removed from the cache until Release.
func (m *Engine) Hold(ifindex int, addr netip.Addr) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, n := m.lookupLocked(ifindex, addr)
	if n == nil {
		return Handle{}, fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	if err := m.neighbours.acquire(h); err != nil {
		return Handle{}, err
	}
	return h, nil
}

// Release drops a reference taken by Hold.
func (m *Engine) Release(h Handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.releaseLocked(h)
}

// RemoveNeighbour removes a cache entry.
func (m *Engine) RemoveNeighbour(ifindex int, addr netip.Addr) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, n := m.lookupLocked(ifindex, addr)
	if n == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, addr)
	}
	m.removeLocked(h, n)
	return nil
}

// Flush removes every cache entry of the interface.
func (m *Engine) Flush(ifindex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.ifaceLocked(ifindex); err != nil {
		return err
	}
	m.flushLocked(ifindex)
	return nil
}
