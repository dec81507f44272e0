package nd

import (
	"net/netip"
	"slices"
	"time"

	"go.uber.org/zap"
)

type prefixEntry struct {
	prefix    netip.Prefix
	infinite  bool
	expiresAt time.Time
	timer     timerSlot
}

// prefixList is the on-link prefix list with properties of a prefix trie
// implemented using maps.
//
// Each index corresponds to a prefix length, so a longest-prefix match is a
// walk from /128 down to /0 probing one map per length.
type prefixList [129]map[netip.Prefix]*prefixEntry

func newPrefixList() *prefixList {
	list := &prefixList{}
	for idx := range list {
		list[idx] = map[netip.Prefix]*prefixEntry{}
	}
	return list
}

// lookup returns the entry with the longest prefix containing addr.
func (m *prefixList) lookup(addr netip.Addr) (*prefixEntry, bool) {
	for bits := addr.BitLen(); bits >= 0; bits-- {
		prefix, err := addr.Prefix(bits)
		if err != nil {
			return nil, false
		}
		if entry, ok := m[bits][prefix]; ok {
			return entry, true
		}
	}
	return nil, false
}

func (m *prefixList) get(prefix netip.Prefix) (*prefixEntry, bool) {
	prefix = prefix.Masked()
	entry, ok := m[prefix.Bits()][prefix]
	return entry, ok
}

func (m *prefixList) insert(entry *prefixEntry) {
	entry.prefix = entry.prefix.Masked()
	m[entry.prefix.Bits()][entry.prefix] = entry
}

func (m *prefixList) remove(prefix netip.Prefix) (*prefixEntry, bool) {
	prefix = prefix.Masked()
	entry, ok := m[prefix.Bits()][prefix]
	if ok {
		delete(m[prefix.Bits()], prefix)
	}
	return entry, ok
}

// len returns the total number of prefixes across all lengths.
func (m *prefixList) len() int {
	n := 0
	for idx := range m {
		n += len(m[idx])
	}
	return n
}

// entries returns every entry, longest prefixes first and then by address.
func (m *prefixList) entries() []*prefixEntry {
	out := make([]*prefixEntry, 0, m.len())
	for idx := len(m) - 1; idx >= 0; idx-- {
		start := len(out)
		for _, entry := range m[idx] {
			out = append(out, entry)
		}
		slices.SortFunc(out[start:], func(a, b *prefixEntry) int {
			return a.prefix.Addr().Compare(b.prefix.Addr())
		})
	}
	return out
}

// updatePrefixLocked applies the valid lifetime of an on-link prefix: zero
// removes it, InfiniteLifetime pins it and any other value (re)arms its
// expiry.
func (m *Engine) updatePrefixLocked(st *ifaceState, prefix netip.Prefix, valid time.Duration, infinite bool) error {
	prefix = prefix.Masked()
	ifindex := st.iface.Index()

	if !infinite && valid == 0 {
		if entry, ok := st.prefixes.remove(prefix); ok {
			entry.timer.stop()
			m.stats.prefixes.Dec()
			m.log.Infow("removed prefix", zap.Int("ifindex", ifindex), zap.Stringer("prefix", prefix))
		}
		return nil
	}

	entry, ok := st.prefixes.get(prefix)
	if !ok {
		if st.prefixes.len() >= m.cfg.MaxPrefixes {
			m.log.Warnw("prefix list is full",
				zap.Int("ifindex", ifindex),
				zap.Stringer("prefix", prefix),
			)
			return DropPrefixListFull
		}

		entry = &prefixEntry{prefix: prefix}
		st.prefixes.insert(entry)
		m.stats.prefixes.Inc()

		m.log.Infow("added prefix",
			zap.Int("ifindex", ifindex),
			zap.Stringer("prefix", prefix),
			zap.Duration("lifetime", valid),
			zap.Bool("infinite", infinite),
		)
	}

	if infinite {
		entry.timer.stop()
		entry.infinite = true
		entry.expiresAt = time.Time{}
		return nil
	}

	entry.infinite = false
	entry.expiresAt = m.clock.Now().Add(valid)
	m.armLocked(&entry.timer, valid, func(seq uint64) {
		m.onPrefixTimer(ifindex, prefix, seq)
	})
	return nil
}

func (m *Engine) onPrefixTimer(ifindex int, prefix netip.Prefix, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	st, ok := m.ifaces[ifindex]
	if !ok {
		return
	}
	entry, ok := st.prefixes.get(prefix)
	if !ok || entry.timer.seq != seq {
		return
	}

	st.prefixes.remove(prefix)
	entry.timer.stop()
	m.stats.prefixes.Dec()
	m.log.Infow("prefix lifetime expired", zap.Int("ifindex", ifindex), zap.Stringer("prefix", prefix))
}

// Prefixes returns the on-link prefix list of the interface, longest
// prefixes first.
func (m *Engine) Prefixes(ifindex int) ([]PrefixInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		return nil, err
	}

	entries := st.prefixes.entries()
	out := make([]PrefixInfo, 0, len(entries))
	for _, entry := range entries {
		out = append(out, PrefixInfo{
			IfIndex:   ifindex,
			Prefix:    entry.prefix,
			Infinite:  entry.infinite,
			ExpiresAt: entry.expiresAt,
		})
	}
	return out, nil
}

// IsOnLink reports whether addr is covered by an on-link prefix of the
// interface. Link-local addresses are always on-link.
func (m *Engine) IsOnLink(ifindex int, addr netip.Addr) bool {
	if addr.IsLinkLocalUnicast() {
		return true
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		return false
	}
	_, ok := st.prefixes.lookup(addr)
	return ok
}
