package ndiscd

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"golang.org/x/sys/unix"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/nd"
	"github.com/yanet-platform/ndisc/internal/netif"
	"github.com/yanet-platform/ndisc/internal/wire"
)

var (
	eth0MAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	eth1MAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x11}
	peerMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
)

const directorConfig = `
nd:
  dad: disabled
interfaces:
  - name: "eth*"
    addresses:
      - "2001:db8::1"
    import_kernel_addrs: true
metrics:
  endpoint: ""
`

type fakeSource struct {
	mu      sync.Mutex
	links   []netlink.Link
	addrs   map[int][]netlink.Addr
	updates chan<- netlink.LinkUpdate
}

func (m *fakeSource) setLinks(links ...netlink.Link) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.links = links
}

func (m *fakeSource) LinkList() ([]netlink.Link, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.links, nil
}

func (m *fakeSource) AddrList(link netlink.Link) ([]netlink.Addr, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.addrs[link.Attrs().Index], nil
}

func (m *fakeSource) Subscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.updates = ch
	return nil
}

// notify pokes the monitor as a netlink notification would.
func (m *fakeSource) notify(t *testing.T) {
	require.Eventually(t, func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.updates != nil
	}, 5*time.Second, time.Millisecond)

	m.mu.Lock()
	ch := m.updates
	m.mu.Unlock()
	ch <- netlink.LinkUpdate{}
}

type fakeLink struct {
	attrs  netlink.LinkAttrs
	opened chan struct{}
	fail   chan error

	mu      sync.Mutex
	handler func(pkt *link.Packet)
	sent    []*link.Packet
	closed  bool
}

func newFakeLink(attrs netlink.LinkAttrs) *fakeLink {
	return &fakeLink{
		attrs:  attrs,
		opened: make(chan struct{}),
		fail:   make(chan error, 1),
	}
}

func (m *fakeLink) Run(ctx context.Context, handler func(pkt *link.Packet)) error {
	m.mu.Lock()
	m.handler = handler
	m.mu.Unlock()
	close(m.opened)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-m.fail:
		return err
	}
}

func (m *fakeLink) Opened() <-chan struct{} {
	return m.opened
}

func (m *fakeLink) Send(pkt *link.Packet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return link.ErrClosed
	}
	m.sent = append(m.sent, pkt.Clone())
	return nil
}

func (m *fakeLink) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
}

func (m *fakeLink) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.closed
}

func (m *fakeLink) sentTypes() []wire.Type {
	m.mu.Lock()
	defer m.mu.Unlock()

	types := make([]wire.Type, 0, len(m.sent))
	for _, pkt := range m.sent {
		msg, err := wire.Parse(pkt.Data)
		if err == nil {
			types = append(types, msg.Type)
		}
	}
	return types
}

func (m *fakeLink) input(pkt *link.Packet) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()

	handler(pkt)
}

type directorEnv struct {
	t        *testing.T
	director *Director
	source   *fakeSource
	cancel   context.CancelFunc
	errCh    chan error

	mu    sync.Mutex
	links map[int]*fakeLink
}

func newDirectorEnv(t *testing.T, links ...netlink.Link) *directorEnv {
	cfg, err := ParseConfig([]byte(directorConfig))
	require.NoError(t, err)

	m := &directorEnv{
		t:      t,
		source: &fakeSource{addrs: map[int][]netlink.Addr{}},
		errCh:  make(chan error, 1),
		links:  map[int]*fakeLink{},
	}
	m.source.setLinks(links...)

	newLink := func(attrs netlink.LinkAttrs, capture *link.Capture) Link {
		m.mu.Lock()
		defer m.mu.Unlock()

		l := newFakeLink(attrs)
		m.links[attrs.Index] = l
		return l
	}

	m.director, err = NewDirector(cfg,
		WithLog(zaptest.NewLogger(t).Sugar()),
		withLinkSource(m.source),
		withLinkFactory(newLink),
	)
	require.NoError(t, err)

	return m
}

func (m *directorEnv) run() {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	go func() {
		m.errCh <- m.director.Run(ctx)
	}()
}

func (m *directorEnv) stop() {
	m.cancel()
	select {
	case err := <-m.errCh:
		require.ErrorIs(m.t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		m.t.Fatal("director did not stop")
	}
}

func (m *directorEnv) link(ifindex int) (*fakeLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.links[ifindex]
	return l, ok
}

func (m *directorEnv) waitLink(ifindex int) *fakeLink {
	m.t.Helper()

	var l *fakeLink
	require.Eventually(m.t, func() bool {
		var ok bool
		l, ok = m.link(ifindex)
		return ok
	}, 5*time.Second, time.Millisecond)
	return l
}

func (m *directorEnv) iface(ifindex int) (*netif.Interface, bool) {
	b, ok := m.director.binding(ifindex)
	if !ok {
		return nil, false
	}
	return b.iface, true
}

func (m *directorEnv) waitAddr(ifindex int, addr netip.Addr) netif.Addr {
	m.t.Helper()

	var got netif.Addr
	require.Eventually(m.t, func() bool {
		iface, ok := m.iface(ifindex)
		if !ok {
			return false
		}
		got, ok = iface.LookupAddr(addr)
		return ok && got.State == netif.Preferred
	}, 5*time.Second, time.Millisecond, "waiting for %s", addr)
	return got
}

func ethLink(index int, name string, mac net.HardwareAddr) *netlink.Device {
	return &netlink.Device{
		LinkAttrs: netlink.LinkAttrs{
			Index:        index,
			Name:         name,
			MTU:          1500,
			HardwareAddr: mac,
			Flags:        net.FlagUp | net.FlagMulticast,
		},
	}
}

func ipNet(addr string) *net.IPNet {
	return &net.IPNet{IP: net.ParseIP(addr), Mask: net.CIDRMask(64, 128)}
}

func TestDirectorAttachesMatchingLinks(t *testing.T) {
	loopback := &netlink.Device{LinkAttrs: netlink.LinkAttrs{Index: 1, Name: "lo", MTU: 65536}}
	dummy := ethLink(4, "dummy0", net.HardwareAddr{0x02, 0, 0, 0, 0, 0x44})
	m := newDirectorEnv(t, loopback, ethLink(2, "eth0", eth0MAC), dummy)
	m.source.addrs[2] = []netlink.Addr{
		{IPNet: ipNet("2001:db8::10"), ValidLft: 0xffffffff, PreferedLft: 0xffffffff},
		{IPNet: ipNet("2001:db8::11"), Flags: unix.IFA_F_TENTATIVE, ValidLft: 0xffffffff, PreferedLft: 0xffffffff},
		{IPNet: ipNet("fe80::1"), ValidLft: 0xffffffff, PreferedLft: 0xffffffff},
		{IPNet: ipNet("2001:db8::12"), ValidLft: 3600, PreferedLft: 1800},
	}

	m.run()
	defer m.stop()

	eth0 := m.waitLink(2)

	linkLocal, err := xnetip.LinkLocal(eth0MAC)
	require.NoError(t, err)
	addr := m.waitAddr(2, linkLocal)
	require.Equal(t, netif.OriginLinkLocal, addr.Origin)

	addr = m.waitAddr(2, netip.MustParseAddr("2001:db8::1"))
	require.Equal(t, netif.OriginManual, addr.Origin)

	addr = m.waitAddr(2, netip.MustParseAddr("2001:db8::10"))
	require.Equal(t, netif.OriginKernel, addr.Origin)
	require.True(t, addr.ValidUntil.IsZero())

	addr = m.waitAddr(2, netip.MustParseAddr("2001:db8::12"))
	require.False(t, addr.ValidUntil.IsZero())
	require.False(t, addr.PreferredUntil.IsZero())

	iface, ok := m.iface(2)
	require.True(t, ok)
	_, ok = iface.LookupAddr(netip.MustParseAddr("2001:db8::11"))
	require.False(t, ok)
	_, ok = iface.LookupAddr(netip.MustParseAddr("fe80::1"))
	require.False(t, ok)

	require.Eventually(t, func() bool {
		types := eth0.sentTypes()
		return len(types) > 0 && types[0] == wire.TypeRouterSolicitation
	}, 5*time.Second, time.Millisecond)

	_, ok = m.link(1)
	require.False(t, ok)
	_, ok = m.link(4)
	require.False(t, ok)
}

func TestDirectorFollowsLinkChanges(t *testing.T) {
	m := newDirectorEnv(t, ethLink(2, "eth0", eth0MAC))
	m.run()
	defer m.stop()

	eth0 := m.waitLink(2)
	linkLocal, err := xnetip.LinkLocal(eth0MAC)
	require.NoError(t, err)
	m.waitAddr(2, linkLocal)

	// A solicitation from a peer creates a stale neighbour.
	peer := netip.MustParseAddr("fe80::2")
	data, err := wire.Serialize(peer, xnetip.SolicitedNode(linkLocal), wire.TypeNeighborSolicitation,
		wire.MarshalNeighborSolicitation(linkLocal, peerMAC))
	require.NoError(t, err)
	pkt := link.NewPacket(2, data)
	pkt.SrcLinkAddr = peerMAC
	pkt.DstLinkAddr = xnetip.MulticastLinkAddr(xnetip.SolicitedNode(linkLocal))
	eth0.input(pkt)

	engine := m.director.Engine()
	info, ok := engine.Lookup(2, peer)
	require.True(t, ok)
	require.Equal(t, nd.Stale, info.State)

	// MTU shrink.
	changed := ethLink(2, "eth0", eth0MAC)
	changed.MTU = 1400
	m.source.setLinks(changed)
	m.source.notify(t)

	iface, ok := m.iface(2)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		return iface.MTU() == 1400
	}, 5*time.Second, time.Millisecond)

	// Link down flushes neighbours.
	down := ethLink(2, "eth0", eth0MAC)
	down.MTU = 1400
	down.Flags &^= net.FlagUp
	m.source.setLinks(down)
	m.source.notify(t)

	require.Eventually(t, func() bool {
		_, ok := engine.Lookup(2, peer)
		return !ok
	}, 5*time.Second, time.Millisecond)

	// A new matching link is attached.
	m.source.setLinks(down, ethLink(3, "eth1", eth1MAC))
	m.source.notify(t)
	m.waitLink(3)

	// A removed link is detached.
	m.source.setLinks(ethLink(3, "eth1", eth1MAC))
	m.source.notify(t)

	require.Eventually(t, func() bool {
		_, ok := m.iface(2)
		return !ok
	}, 5*time.Second, time.Millisecond)
	require.True(t, eth0.isClosed())
	_, err = engine.Routers(2)
	require.ErrorIs(t, err, nd.ErrNoInterface)
}

func TestDirectorDetachesFailedLink(t *testing.T) {
	m := newDirectorEnv(t, ethLink(2, "eth0", eth0MAC))
	m.run()
	defer m.stop()

	eth0 := m.waitLink(2)
	linkLocal, err := xnetip.LinkLocal(eth0MAC)
	require.NoError(t, err)
	m.waitAddr(2, linkLocal)

	eth0.fail <- errors.New("socket gone")

	require.Eventually(t, func() bool {
		_, ok := m.iface(2)
		return !ok
	}, 5*time.Second, time.Millisecond)
	require.True(t, eth0.isClosed())
}

func TestDirectorStopClosesLinks(t *testing.T) {
	m := newDirectorEnv(t, ethLink(2, "eth0", eth0MAC))
	m.run()

	eth0 := m.waitLink(2)
	m.stop()

	require.True(t, eth0.isClosed())
	_, ok := m.iface(2)
	require.False(t, ok)
	require.ErrorIs(t, m.director.Engine().SolicitRouters(2), nd.ErrClosed)
}

func TestMetricsHandler(t *testing.T) {
	m := newDirectorEnv(t, ethLink(2, "eth0", eth0MAC))
	m.run()
	defer m.stop()

	m.waitLink(2)

	scrape := func() (int, string) {
		rec := httptest.NewRecorder()
		m.director.metricsHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		return rec.Code, rec.Body.String()
	}

	require.Eventually(t, func() bool {
		code, body := scrape()
		return code == http.StatusOK && strings.Contains(body, `ndisc_nd_sent_total{type="rs"} 1`)
	}, 5*time.Second, 10*time.Millisecond)

	_, body := scrape()
	require.Contains(t, body, "go_goroutines")
}

func TestLogLevelHandler(t *testing.T) {
	cfg, err := ParseConfig([]byte(directorConfig))
	require.NoError(t, err)

	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	director, err := NewDirector(cfg, WithAtomicLogLevel(&level))
	require.NoError(t, err)
	defer director.engine.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPut, "/log/level", strings.NewReader(`{"level":"debug"}`))
	req.Header.Set("Content-Type", "application/json")
	director.metricsHandler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, zapcore.DebugLevel, level.Level())
}

func TestKernelLifetime(t *testing.T) {
	require.Equal(t, netif.Infinite, kernelLifetime(0xffffffff))
	require.Equal(t, netif.Infinite, kernelLifetime(-1))
	require.Equal(t, time.Duration(0), kernelLifetime(0))
	require.Equal(t, time.Hour, kernelLifetime(3600))
}
