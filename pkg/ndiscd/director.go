package ndiscd

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/nd"
	"github.com/yanet-platform/ndisc/internal/netif"
)

// Link is a network attachment serving a single interface.
//
// *link.Ethernet implements it.
type Link interface {
	link.Sender
	// Run reads datagrams until the context is canceled.
	Run(ctx context.Context, handler func(pkt *link.Packet)) error
	// Opened is closed once the link is able to send.
	Opened() <-chan struct{}
	Close()
}

type options struct {
	Log      *zap.SugaredLogger
	LogLevel *zap.AtomicLevel
	source   linkSource
	newLink  func(attrs netlink.LinkAttrs, capture *link.Capture) Link
}

func newOptions() *options {
	return &options{
		Log: zap.NewNop().Sugar(),
	}
}

// DirectorOption is a function that configures the ND daemon director.
type DirectorOption func(*options)

// WithLog sets the logger for the director.
func WithLog(log *zap.SugaredLogger) DirectorOption {
	return func(o *options) {
		o.Log = log
	}
}

// WithAtomicLogLevel sets the atomic logger level for the director.
//
// This level can be changed at runtime.
func WithAtomicLogLevel(level *zap.AtomicLevel) DirectorOption {
	return func(o *options) {
		o.LogLevel = level
	}
}

func withLinkSource(source linkSource) DirectorOption {
	return func(o *options) {
		o.source = source
	}
}

func withLinkFactory(newLink func(attrs netlink.LinkAttrs, capture *link.Capture) Link) DirectorOption {
	return func(o *options) {
		o.newLink = newLink
	}
}

// binding is a served link.
type binding struct {
	cfg    *InterfaceConfig
	attrs  netlink.LinkAttrs
	iface  *netif.Interface
	link   Link
	cancel context.CancelFunc
}

// Director is the ND daemon director.
//
// It discovers the configured links, runs neighbour discovery on each of
// them and follows link changes until stopped.
type Director struct {
	cfg      *Config
	log      *zap.SugaredLogger
	logLevel *zap.AtomicLevel
	source   linkSource
	newLink  func(attrs netlink.LinkAttrs, capture *link.Capture) Link
	registry *prometheus.Registry
	capture  *link.Capture
	mux      *link.Mux
	engine   *nd.Engine
	monitor  *LinkMonitor

	mu       sync.Mutex
	ctx      context.Context
	wg       *errgroup.Group
	bindings map[int]*binding
}

// NewDirector creates a new ND daemon director using specified config.
func NewDirector(cfg *Config, options ...DirectorOption) (*Director, error) {
	opts := newOptions()
	for _, o := range options {
		o(opts)
	}

	log := opts.Log
	log.Infof("initializing ND daemon ...")
	log.Debugw("parsed config", zap.Any("config", cfg))

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := link.NewMux()
	engine, err := nd.NewEngine(cfg.ND, mux,
		nd.WithLog(log),
		nd.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create ND engine: %w", err)
	}

	var capture *link.Capture
	if cfg.Capture.Path != "" {
		capture, err = link.OpenCapture(cfg.Capture.Path, uint32(cfg.Capture.SnapLen.Bytes()))
		if err != nil {
			engine.Close()
			return nil, err
		}
		log.Infow("capturing frames", zap.String("path", cfg.Capture.Path))
	}

	source := opts.source
	if source == nil {
		source = netlinkSource{log: log}
	}
	newLink := opts.newLink
	if newLink == nil {
		newLink = func(attrs netlink.LinkAttrs, capture *link.Capture) Link {
			return link.NewEthernet(attrs.Name, attrs.Index, attrs.HardwareAddr,
				link.WithLog(log),
				link.WithCapture(capture),
				link.WithSnapLen(int(cfg.Capture.SnapLen.Bytes())),
			)
		}
	}

	m := &Director{
		cfg:      cfg,
		log:      log,
		logLevel: opts.LogLevel,
		source:   source,
		newLink:  newLink,
		registry: registry,
		capture:  capture,
		mux:      mux,
		engine:   engine,
		bindings: map[int]*binding{},
	}
	m.monitor = newLinkMonitor(source, m, log)

	return m, nil
}

// Engine returns the ND engine driven by this director.
func (m *Director) Engine() *nd.Engine {
	return m.engine
}

// Run runs the director until the specified context is canceled.
func (m *Director) Run(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)

	m.mu.Lock()
	m.ctx = ctx
	m.wg = wg
	m.mu.Unlock()

	defer m.shutdown()

	// Bootstrap synchronously, attaching every link present now.
	if err := m.monitor.update(); err != nil {
		return err
	}

	wg.Go(func() error {
		return m.monitor.Run(ctx)
	})
	if m.cfg.Metrics.Endpoint != "" {
		wg.Go(func() error {
			return m.runMetricsServer(ctx)
		})
	}

	return wg.Wait()
}

func (m *Director) shutdown() {
	m.mu.Lock()
	indices := make([]int, 0, len(m.bindings))
	for idx := range m.bindings {
		indices = append(indices, idx)
	}
	m.mu.Unlock()

	for _, idx := range indices {
		m.detach(idx)
	}

	m.engine.Close()
	if err := m.capture.Close(); err != nil {
		m.log.Warnw("failed to close capture", zap.Error(err))
	}
}

// LinkAdded starts serving a new link if it matches the configuration.
func (m *Director) LinkAdded(attrs netlink.LinkAttrs) {
	if err := m.attach(attrs); err != nil {
		m.log.Warnw("failed to attach link",
			zap.String("name", attrs.Name),
			zap.Int("ifindex", attrs.Index),
			zap.Error(err),
		)
	}
}

// LinkRemoved stops serving a link that disappeared.
func (m *Director) LinkRemoved(attrs netlink.LinkAttrs) {
	m.detach(attrs.Index)
}

// LinkChanged applies a link change to the interface serving it.
//
// A renamed link or a new hardware address restarts the interface from
// scratch.
func (m *Director) LinkChanged(prev netlink.LinkAttrs, next netlink.LinkAttrs) {
	b, ok := m.binding(next.Index)
	if !ok {
		m.LinkAdded(next)
		return
	}

	if prev.Name != next.Name || prev.HardwareAddr.String() != next.HardwareAddr.String() {
		m.detach(next.Index)
		m.LinkAdded(next)
		return
	}

	log := m.log.With(zap.String("name", next.Name), zap.Int("ifindex", next.Index))

	if prev.MTU != next.MTU {
		b.iface.SetLinkMTU(uint32(next.MTU))
		log.Infow("link MTU changed", zap.Int("mtu", next.MTU))
	}

	wasUp := prev.Flags&net.FlagUp != 0
	isUp := next.Flags&net.FlagUp != 0
	switch {
	case wasUp && !isUp:
		log.Infow("link went down, flushing neighbours")
		if err := m.engine.Flush(next.Index); err != nil {
			log.Warnw("failed to flush neighbours", zap.Error(err))
		}
	case !wasUp && isUp:
		log.Infow("link went up")
		if b.cfg.SolicitRouters {
			if err := m.engine.SolicitRouters(next.Index); err != nil {
				log.Warnw("failed to solicit routers", zap.Error(err))
			}
		}
	}
}

func (m *Director) binding(ifindex int) (*binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bindings[ifindex]
	return b, ok
}

func (m *Director) attach(attrs netlink.LinkAttrs) error {
	cfg, ok := m.cfg.Match(attrs.Name)
	if !ok {
		m.log.Debugw("skipped link", zap.String("name", attrs.Name))
		return nil
	}
	if len(attrs.HardwareAddr) != 6 {
		return fmt.Errorf("link %q has no Ethernet address", attrs.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.wg == nil {
		return fmt.Errorf("director is not running")
	}
	if _, ok := m.bindings[attrs.Index]; ok {
		return nil
	}

	iface := netif.New(attrs.Index, attrs.Name, attrs.HardwareAddr, uint32(attrs.MTU),
		netif.WithLog(m.log),
		netif.WithConfig(m.cfg.Netif),
	)
	if err := m.engine.AddInterface(iface); err != nil {
		iface.Close()
		return fmt.Errorf("failed to add interface: %w", err)
	}

	lnk := m.newLink(attrs, m.capture)
	m.mux.Add(attrs.Index, lnk)

	ctx, cancel := context.WithCancel(m.ctx)
	b := &binding{
		cfg:    cfg,
		attrs:  attrs,
		iface:  iface,
		link:   lnk,
		cancel: cancel,
	}
	m.bindings[attrs.Index] = b

	m.log.Infow("attached link",
		zap.String("name", attrs.Name),
		zap.Int("ifindex", attrs.Index),
		zap.Stringer("link_addr", attrs.HardwareAddr),
		zap.Int("mtu", attrs.MTU),
	)

	m.wg.Go(func() error {
		m.serve(ctx, b)
		return nil
	})
	return nil
}

func (m *Director) detach(ifindex int) {
	m.mu.Lock()
	b, ok := m.bindings[ifindex]
	delete(m.bindings, ifindex)
	m.mu.Unlock()

	if !ok {
		return
	}

	b.cancel()
	m.mux.Remove(ifindex)
	if err := m.engine.RemoveInterface(ifindex); err != nil {
		m.log.Debugw("failed to remove interface", zap.Int("ifindex", ifindex), zap.Error(err))
	}
	b.link.Close()
	b.iface.Close()

	m.log.Infow("detached link", zap.String("name", b.attrs.Name), zap.Int("ifindex", ifindex))
}

// serve runs the link and configures the interface once the link is able
// to send. A failed link is detached.
func (m *Director) serve(ctx context.Context, b *binding) {
	wg, runCtx := errgroup.WithContext(ctx)
	wg.Go(func() error {
		return b.link.Run(runCtx, m.handleInput)
	})
	wg.Go(func() error {
		select {
		case <-b.link.Opened():
		case <-runCtx.Done():
			return nil
		}
		m.configure(b)
		return nil
	})

	err := wg.Wait()
	if ctx.Err() != nil {
		return
	}

	m.log.Warnw("link failed",
		zap.String("name", b.attrs.Name),
		zap.Int("ifindex", b.attrs.Index),
		zap.Error(err),
	)
	m.detach(b.attrs.Index)
}

func (m *Director) handleInput(pkt *link.Packet) {
	m.engine.HandleInput(pkt)
}

// configure assigns the link-local, static and imported addresses, then
// starts router solicitation.
func (m *Director) configure(b *binding) {
	idx := b.attrs.Index
	log := m.log.With(zap.String("name", b.attrs.Name), zap.Int("ifindex", idx))

	linkLocal, err := xnetip.LinkLocal(b.attrs.HardwareAddr)
	if err != nil {
		log.Warnw("failed to derive link-local address", zap.Error(err))
	} else if err := m.engine.AddAddress(idx, linkLocal, netif.OriginLinkLocal, netif.Infinite, netif.Infinite); err != nil {
		log.Warnw("failed to add link-local address", zap.Error(err))
	}

	for _, addr := range b.cfg.Addresses {
		if err := m.engine.AddAddress(idx, addr, netif.OriginManual, netif.Infinite, netif.Infinite); err != nil {
			log.Warnw("failed to add address", zap.Stringer("addr", addr), zap.Error(err))
		}
	}

	if b.cfg.ImportKernelAddrs {
		if err := m.importKernelAddrs(b); err != nil {
			log.Warnw("failed to import kernel addresses", zap.Error(err))
		}
	}

	if b.cfg.SolicitRouters && b.attrs.Flags&net.FlagUp != 0 {
		if err := m.engine.SolicitRouters(idx); err != nil {
			log.Warnw("failed to solicit routers", zap.Error(err))
		}
	}
}

// importKernelAddrs adopts the global addresses the kernel has already
// verified. Link-local addresses are skipped since the daemon derives its
// own.
func (m *Director) importKernelAddrs(b *binding) error {
	addrs, err := m.source.AddrList(&netlink.Device{LinkAttrs: b.attrs})
	if err != nil {
		return fmt.Errorf("failed to list addresses: %w", err)
	}

	for _, a := range addrs {
		if a.IPNet == nil {
			continue
		}
		addr, ok := netip.AddrFromSlice(a.IP)
		if !ok || !addr.Is6() || addr.Is4In6() || addr.IsLinkLocalUnicast() {
			continue
		}
		if a.Flags&(unix.IFA_F_TENTATIVE|unix.IFA_F_DADFAILED) != 0 {
			continue
		}

		valid := kernelLifetime(a.ValidLft)
		if valid == 0 {
			continue
		}
		preferred := kernelLifetime(a.PreferedLft)

		if err := b.iface.AddAddr(addr, netif.OriginKernel, netif.Preferred, valid, preferred); err != nil {
			m.log.Debugw("skipped kernel address", zap.Stringer("addr", addr), zap.Error(err))
		}
	}

	return nil
}

// kernelLifetime converts a netlink address lifetime in seconds.
func kernelLifetime(v int) time.Duration {
	if v < 0 || uint64(v) >= math.MaxUint32 {
		return netif.Infinite
	}
	return time.Duration(v) * time.Second
}
