// Package netif keeps the per-interface state the ND engine consults:
// unicast addresses with their lifecycle, multicast groups and the
// parameters routers may change.
package netif

import (
	"cmp"
	"errors"
	"fmt"
	"math/bits"
	"net"
	"net/netip"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
)

// MinMTU is the IPv6 minimum link MTU.
const MinMTU = 1280

var (
	ErrAddrExists    = errors.New("address already exists")
	ErrTooManyAddrs  = errors.New("address table is full")
	ErrInvalidAddr   = errors.New("not a unicast IPv6 address")
	ErrInvalidGroup  = errors.New("not an IPv6 multicast address")
	ErrMTUOutOfRange = errors.New("MTU out of range")
)

type options struct {
	Log    *zap.SugaredLogger
	Clock  clockwork.Clock
	Config *Config
}

func newOptions() *options {
	return &options{
		Log:    zap.NewNop().Sugar(),
		Clock:  clockwork.NewRealClock(),
		Config: DefaultConfig(),
	}
}

// Option configures an Interface.
type Option func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock sets the clock driving address lifetimes.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// WithConfig sets interface parameters and limits.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		o.Config = cfg
	}
}

type addrEntry struct {
	Addr
	// seq invalidates lifetime callbacks that fired before being stopped.
	seq            uint64
	validTimer     clockwork.Timer
	preferredTimer clockwork.Timer
}

func (m *addrEntry) stopTimers() {
	if m.validTimer != nil {
		m.validTimer.Stop()
		m.validTimer = nil
	}
	if m.preferredTimer != nil {
		m.preferredTimer.Stop()
		m.preferredTimer = nil
	}
	m.seq++
}

// Interface is a single IPv6-enabled network interface.
type Interface struct {
	index    int
	name     string
	linkAddr net.HardwareAddr
	maxAddrs int
	clock    clockwork.Clock
	log      *zap.SugaredLogger

	mu            sync.RWMutex
	linkMTU       uint32
	mtu           uint32
	hopLimit      uint8
	baseReachable time.Duration
	retrans       time.Duration
	addrs         map[netip.Addr]*addrEntry
	groups        map[netip.Addr]struct{}
}

// New creates an interface with the given link MTU. The interface joins
// the all-nodes group.
func New(index int, name string, linkAddr net.HardwareAddr, mtu uint32, options ...Option) *Interface {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	m := &Interface{
		index:         index,
		name:          name,
		linkAddr:      linkAddr,
		maxAddrs:      opts.Config.MaxAddrs,
		clock:         opts.Clock,
		log:           opts.Log.With(zap.String("iface", name)),
		linkMTU:       mtu,
		mtu:           mtu,
		hopLimit:      opts.Config.HopLimit,
		baseReachable: opts.Config.BaseReachableTime,
		retrans:       opts.Config.RetransTimer,
		addrs:         map[netip.Addr]*addrEntry{},
		groups:        map[netip.Addr]struct{}{xnetip.AllNodes: {}},
	}

	return m
}

func (m *Interface) Index() int {
	return m.index
}

func (m *Interface) Name() string {
	return m.name
}

// LinkAddr returns the interface hardware address.
func (m *Interface) LinkAddr() net.HardwareAddr {
	return m.linkAddr
}

// MTU returns the current IPv6 MTU.
func (m *Interface) MTU() uint32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.mtu
}

// SetMTU sets the IPv6 MTU, which must lie between MinMTU and the link
// MTU.
func (m *Interface) SetMTU(mtu uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if mtu < MinMTU || mtu > m.linkMTU {
		return fmt.Errorf("%w: %d not in [%d, %d]", ErrMTUOutOfRange, mtu, MinMTU, m.linkMTU)
	}
	m.mtu = mtu
	return nil
}

// SetLinkMTU updates the link MTU after the device changed, clamping the
// current MTU to it.
func (m *Interface) SetLinkMTU(mtu uint32) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.linkMTU = mtu
	if m.mtu > mtu {
		m.mtu = mtu
	}
}

func (m *Interface) HopLimit() uint8 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.hopLimit
}

func (m *Interface) SetHopLimit(hopLimit uint8) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.hopLimit = hopLimit
}

// BaseReachableTime returns how long a confirmed neighbour stays
// reachable.
func (m *Interface) BaseReachableTime() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.baseReachable
}

func (m *Interface) SetBaseReachableTime(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.baseReachable = d
}

// RetransTimer returns the interval between retransmitted solicitations.
func (m *Interface) RetransTimer() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.retrans
}

func (m *Interface) SetRetransTimer(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.retrans = d
}

// AddAddr assigns a unicast address and joins its solicited-node group.
func (m *Interface) AddAddr(addr netip.Addr, origin Origin, state AddrState, valid time.Duration, preferred time.Duration) error {
	if !addr.Is6() || addr.Is4In6() || addr.IsMulticast() || addr.IsUnspecified() || addr.IsLoopback() {
		return fmt.Errorf("%w: %s", ErrInvalidAddr, addr)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.addrs[addr]; ok {
		return fmt.Errorf("%w: %s", ErrAddrExists, addr)
	}
	if len(m.addrs) >= m.maxAddrs {
		return fmt.Errorf("%w: %d addresses", ErrTooManyAddrs, len(m.addrs))
	}

	e := &addrEntry{
		Addr: Addr{
			Addr:   addr,
			State:  state,
			Origin: origin,
		},
	}
	m.addrs[addr] = e
	m.setLifetimesLocked(e, valid, preferred)
	m.groups[xnetip.SolicitedNode(addr)] = struct{}{}

	m.log.Infow("added address",
		zap.Stringer("addr", addr),
		zap.Stringer("state", state),
		zap.Stringer("origin", origin),
	)
	return nil
}

// RemoveAddr removes a unicast address, reporting whether it existed.
func (m *Interface) RemoveAddr(addr netip.Addr) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.addrs[addr]
	if !ok {
		return false
	}
	m.removeLocked(e)
	return true
}

func (m *Interface) removeLocked(e *addrEntry) {
	e.stopTimers()
	delete(m.addrs, e.Addr.Addr)

	group := xnetip.SolicitedNode(e.Addr.Addr)
	shared := false
	for addr := range m.addrs {
		if xnetip.SolicitedNode(addr) == group {
			shared = true
			break
		}
	}
	if !shared {
		delete(m.groups, group)
	}

	m.log.Infow("removed address", zap.Stringer("addr", e.Addr.Addr))
}

// LookupAddr returns the address if it is assigned to the interface.
func (m *Interface) LookupAddr(addr netip.Addr) (Addr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.addrs[addr]
	if !ok {
		return Addr{}, false
	}
	return e.Addr, true
}

// SetAddrState changes the state of an address, reporting whether it
// exists. Promoting an address whose preferred lifetime already ran out
// makes it Deprecated.
func (m *Interface) SetAddrState(addr netip.Addr, state AddrState) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.addrs[addr]
	if !ok {
		return false
	}

	if state == Preferred && !e.PreferredUntil.IsZero() && !m.clock.Now().Before(e.PreferredUntil) {
		state = Deprecated
	}
	if e.State != state {
		m.log.Infow("address state changed",
			zap.Stringer("addr", addr),
			zap.Stringer("from", e.State),
			zap.Stringer("to", state),
		)
	}
	e.State = state
	return true
}

// SetAddrLifetimes restarts the lifetimes of an address, reporting whether
// it exists.
func (m *Interface) SetAddrLifetimes(addr netip.Addr, valid time.Duration, preferred time.Duration) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.addrs[addr]
	if !ok {
		return false
	}
	m.setLifetimesLocked(e, valid, preferred)
	return true
}

func (m *Interface) setLifetimesLocked(e *addrEntry, valid time.Duration, preferred time.Duration) {
	e.stopTimers()
	seq := e.seq
	addr := e.Addr.Addr
	now := m.clock.Now()

	if preferred > valid {
		preferred = valid
	}

	e.ValidUntil = time.Time{}
	if valid != Infinite {
		e.ValidUntil = now.Add(valid)
		e.validTimer = m.clock.AfterFunc(valid, func() {
			m.onValidExpired(addr, seq)
		})
	}

	e.PreferredUntil = time.Time{}
	switch {
	case preferred == Infinite:
		if e.State == Deprecated {
			e.State = Preferred
		}
	case preferred <= 0:
		e.PreferredUntil = now
		if e.State == Preferred {
			e.State = Deprecated
		}
	default:
		e.PreferredUntil = now.Add(preferred)
		if e.State == Deprecated {
			e.State = Preferred
		}
		e.preferredTimer = m.clock.AfterFunc(preferred, func() {
			m.onPreferredExpired(addr, seq)
		})
	}
}

func (m *Interface) onValidExpired(addr netip.Addr, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.addrs[addr]
	if !ok || e.seq != seq {
		return
	}

	m.log.Infow("address valid lifetime expired", zap.Stringer("addr", addr))
	m.removeLocked(e)
}

func (m *Interface) onPreferredExpired(addr netip.Addr, seq uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.addrs[addr]
	if !ok || e.seq != seq {
		return
	}

	e.preferredTimer = nil
	if e.State == Preferred {
		e.State = Deprecated
		m.log.Infow("address deprecated", zap.Stringer("addr", addr))
	}
}

// Addrs returns all assigned addresses ordered by address.
func (m *Interface) Addrs() []Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Addr, 0, len(m.addrs))
	for _, e := range m.addrs {
		out = append(out, e.Addr)
	}
	slices.SortFunc(out, func(a, b Addr) int {
		return a.Addr.Compare(b.Addr)
	})
	return out
}

// SelectSourceAddr picks a source address for the destination: never a
// tentative one, matching scope first, then preferred over deprecated,
// then the longest common prefix.
func (m *Interface) SelectSourceAddr(dst netip.Addr) (netip.Addr, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	linkScope := dst.IsLinkLocalUnicast() || dst.IsLinkLocalMulticast() || dst.IsInterfaceLocalMulticast()

	type rank struct {
		scope     int
		preferred int
		common    int
	}
	compare := func(a, b rank) int {
		return cmp.Or(
			cmp.Compare(a.scope, b.scope),
			cmp.Compare(a.preferred, b.preferred),
			cmp.Compare(a.common, b.common),
		)
	}

	var best netip.Addr
	var bestRank rank
	for addr, e := range m.addrs {
		if e.State == Tentative {
			continue
		}

		r := rank{common: commonPrefixLen(addr, dst)}
		if addr.IsLinkLocalUnicast() == linkScope {
			r.scope = 1
		}
		if e.State == Preferred {
			r.preferred = 1
		}

		if !best.IsValid() || compare(r, bestRank) > 0 || (compare(r, bestRank) == 0 && addr.Less(best)) {
			best, bestRank = addr, r
		}
	}

	return best, best.IsValid()
}

func commonPrefixLen(a netip.Addr, b netip.Addr) int {
	a16, b16 := a.As16(), b.As16()
	n := 0
	for idx := range a16 {
		x := a16[idx] ^ b16[idx]
		if x != 0 {
			return n + bits.LeadingZeros8(x)
		}
		n += 8
	}
	return n
}

// JoinGroup joins a multicast group. Joining twice is a no-op.
func (m *Interface) JoinGroup(group netip.Addr) error {
	if !group.Is6() || !group.IsMulticast() {
		return fmt.Errorf("%w: %s", ErrInvalidGroup, group)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.groups[group] = struct{}{}
	return nil
}

// LeaveGroup leaves a multicast group.
func (m *Interface) LeaveGroup(group netip.Addr) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.groups, group)
}

// IsMember reports whether the interface listens to the group.
func (m *Interface) IsMember(group netip.Addr) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.groups[group]
	return ok
}

// Groups returns the joined multicast groups ordered by address.
func (m *Interface) Groups() []netip.Addr {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]netip.Addr, 0, len(m.groups))
	for group := range m.groups {
		out = append(out, group)
	}
	slices.SortFunc(out, netip.Addr.Compare)
	return out
}

// Close stops every address lifetime timer.
func (m *Interface) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range m.addrs {
		e.stopTimers()
	}
}
