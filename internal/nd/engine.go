// Package nd implements IPv6 Neighbor Discovery for hosts: the neighbour
// cache and its reachability state machine, NS/NA/RA processing, router
// and prefix lists, duplicate address detection and next-hop resolution
// for outgoing datagrams.
package nd

import (
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/netif"
	"github.com/yanet-platform/ndisc/internal/wire"
)

// Interface is the per-interface state the engine reads and updates.
//
// *netif.Interface implements it.
type Interface interface {
	Index() int
	Name() string
	LinkAddr() net.HardwareAddr
	MTU() uint32
	SetMTU(mtu uint32) error
	SetHopLimit(hopLimit uint8)
	BaseReachableTime() time.Duration
	SetBaseReachableTime(d time.Duration)
	RetransTimer() time.Duration
	SetRetransTimer(d time.Duration)
	AddAddr(addr netip.Addr, origin netif.Origin, state netif.AddrState, valid time.Duration, preferred time.Duration) error
	RemoveAddr(addr netip.Addr) bool
	LookupAddr(addr netip.Addr) (netif.Addr, bool)
	SetAddrState(addr netip.Addr, state netif.AddrState) bool
	SetAddrLifetimes(addr netip.Addr, valid time.Duration, preferred time.Duration) bool
	SelectSourceAddr(dst netip.Addr) (netip.Addr, bool)
	JoinGroup(group netip.Addr) error
	IsMember(group netip.Addr) bool
}

// Verdict is the outcome of processing a received datagram.
type Verdict int

const (
	// VerdictOK means the datagram was consumed.
	VerdictOK Verdict = iota
	// VerdictDrop means the datagram was rejected.
	VerdictDrop
	// VerdictIgnore means the datagram is not Neighbor Discovery traffic.
	// Nothing is counted for it.
	VerdictIgnore
)

func (m Verdict) String() string {
	switch m {
	case VerdictOK:
		return "ok"
	case VerdictIgnore:
		return "ignore"
	default:
		return "drop"
	}
}

type options struct {
	Log        *zap.SugaredLogger
	Clock      clockwork.Clock
	Registerer prometheus.Registerer
}

func newOptions() *options {
	return &options{
		Log:        zap.NewNop().Sugar(),
		Clock:      clockwork.NewRealClock(),
		Registerer: prometheus.NewRegistry(),
	}
}

// Option configures the engine.
type Option func(*options)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) Option {
	return func(o *options) {
		o.Log = log
	}
}

// WithClock sets the clock driving every timer.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.Clock = clock
	}
}

// WithRegisterer sets where the engine metrics are registered.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) {
		o.Registerer = reg
	}
}

type neighbourKey struct {
	ifindex int
	addr    netip.Addr
}

// timerSlot is a one-shot timer with the token its callback must present.
type timerSlot struct {
	timer clockwork.Timer
	seq   uint64
}

func (m *timerSlot) stop() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.seq = 0
}

type neighbour struct {
	key          neighbourKey
	linkAddr     Handle
	state        State
	isRouter     bool
	solicitCount int
	pending      *link.Packet
	updatedAt    time.Time
	// reachable runs in Reachable, Stale and Delay.
	reachable timerSlot
	// retransmit runs in Incomplete and Probe.
	retransmit timerSlot
}

// outbound is a packet to send once the engine lock is released.
type outbound struct {
	pkt  *link.Packet
	kind string
}

type ifaceState struct {
	iface    Interface
	routers  []*routerEntry
	prefixes *prefixList
	contexts map[uint8]*contextEntry
	dad      map[netip.Addr]*dadEntry
	rs       timerSlot
	rsCount  int
	limiter  *rate.Limiter
}

type handlerFunc func(st *ifaceState, pkt *link.Packet, msg *wire.Message) ([]outbound, error)

// Engine is the Neighbor Discovery engine shared by all interfaces.
//
// A single mutex guards every table; timers and handlers take it, and
// packets are sent only after it is released.
type Engine struct {
	cfg    *Config
	sender link.Sender
	clock  clockwork.Clock
	log    *zap.SugaredLogger
	stats  *stats
	dad    dadStrategy

	mu         sync.Mutex
	closed     bool
	seq        uint64
	ifaces     map[int]*ifaceState
	neighbours *arena[neighbour]
	linkAddrs  *arena[net.HardwareAddr]
	index      map[neighbourKey]Handle
	handlers   map[wire.Type]handlerFunc
}

// NewEngine creates an engine sending through sender.
func NewEngine(cfg *Config, sender link.Sender, options ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	stats, err := newStats(opts.Registerer)
	if err != nil {
		return nil, err
	}

	m := &Engine{
		cfg:        cfg,
		sender:     sender,
		clock:      opts.Clock,
		log:        opts.Log,
		stats:      stats,
		dad:        newDADStrategy(cfg.DAD),
		ifaces:     map[int]*ifaceState{},
		neighbours: newArena[neighbour](cfg.MaxNeighbours),
		linkAddrs:  newArena[net.HardwareAddr](cfg.MaxLinkAddrs),
		index:      map[neighbourKey]Handle{},
	}
	m.handlers = map[wire.Type]handlerFunc{
		wire.TypeNeighborSolicitation:  m.handleNS,
		wire.TypeNeighborAdvertisement: m.handleNA,
		wire.TypeRouterAdvertisement:   m.handleRA,
	}

	return m, nil
}

// AddInterface starts serving an interface.
func (m *Engine) AddInterface(iface Interface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if _, ok := m.ifaces[iface.Index()]; ok {
		return fmt.Errorf("%w: %d", ErrInterfaceExists, iface.Index())
	}

	limit := rate.Inf
	if m.cfg.SolicitRate > 0 {
		limit = rate.Limit(m.cfg.SolicitRate)
	}

	m.ifaces[iface.Index()] = &ifaceState{
		iface:    iface,
		prefixes: newPrefixList(),
		contexts: map[uint8]*contextEntry{},
		dad:      map[netip.Addr]*dadEntry{},
		limiter:  rate.NewLimiter(limit, m.cfg.SolicitBurst),
	}

	m.log.Infow("added interface",
		zap.Int("ifindex", iface.Index()),
		zap.String("name", iface.Name()),
		zap.Stringer("link_addr", iface.LinkAddr()),
	)
	return nil
}

// RemoveInterface stops serving an interface, dropping every entry
// learned on it.
func (m *Engine) RemoveInterface(ifindex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.ifaces[ifindex]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoInterface, ifindex)
	}

	m.flushLocked(ifindex)
	m.teardownInterfaceLocked(st)
	delete(m.ifaces, ifindex)

	m.log.Infow("removed interface", zap.Int("ifindex", ifindex))
	return nil
}

func (m *Engine) teardownInterfaceLocked(st *ifaceState) {
	for _, r := range st.routers {
		r.timer.stop()
	}
	m.stats.routers.Sub(float64(len(st.routers)))
	st.routers = nil

	for _, p := range st.prefixes.entries() {
		p.timer.stop()
	}
	m.stats.prefixes.Sub(float64(st.prefixes.len()))
	st.prefixes = newPrefixList()

	for _, c := range st.contexts {
		c.timer.stop()
	}
	clear(st.contexts)

	for _, d := range st.dad {
		d.timer.stop()
	}
	clear(st.dad)

	st.rs.stop()
}

// Close stops every timer. Subsequent operations fail with ErrClosed.
func (m *Engine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true

	for ifindex, st := range m.ifaces {
		m.flushLocked(ifindex)
		m.teardownInterfaceLocked(st)
	}
}

func (m *Engine) ifaceLocked(ifindex int) (*ifaceState, error) {
	if m.closed {
		return nil, ErrClosed
	}
	st, ok := m.ifaces[ifindex]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrNoInterface, ifindex)
	}
	return st, nil
}

// armLocked (re)starts a timer; fire receives the token issued for this
// arming.
func (m *Engine) armLocked(slot *timerSlot, d time.Duration, fire func(seq uint64)) {
	slot.stop()
	m.seq++
	seq := m.seq
	slot.seq = seq
	slot.timer = m.clock.AfterFunc(d, func() {
		fire(seq)
	})
}

func (m *Engine) transmit(out []outbound) {
	for _, o := range out {
		if err := m.sender.Send(o.pkt); err != nil {
			m.stats.Dropped(DropSendFailed)
			m.log.Warnw("failed to send packet",
				zap.String("kind", o.kind),
				zap.Int("ifindex", o.pkt.IfIndex),
				zap.Error(err),
			)
			continue
		}
		m.stats.Sent(o.kind)
	}
}

// isOwnAddrLocked reports whether any served interface owns addr.
func (m *Engine) isOwnAddrLocked(addr netip.Addr) bool {
	for _, st := range m.ifaces {
		if _, ok := st.iface.LookupAddr(addr); ok {
			return true
		}
	}
	return false
}
