package ndiscd

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// linkSource is the part of netlink the daemon uses.
type linkSource interface {
	LinkList() ([]netlink.Link, error)
	AddrList(link netlink.Link) ([]netlink.Addr, error)
	Subscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error
}

type netlinkSource struct {
	log *zap.SugaredLogger
}

func (m netlinkSource) LinkList() ([]netlink.Link, error) {
	return netlink.LinkList()
}

func (m netlinkSource) AddrList(link netlink.Link) ([]netlink.Addr, error) {
	return netlink.AddrList(link, unix.AF_INET6)
}

func (m netlinkSource) Subscribe(ch chan<- netlink.LinkUpdate, done <-chan struct{}) error {
	opts := netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			m.log.Warnw("link subscription error", zap.Error(err))
		},
	}
	return netlink.LinkSubscribeWithOptions(ch, done, opts)
}

// linkEvents receives the differences found between two link snapshots.
type linkEvents interface {
	LinkAdded(attrs netlink.LinkAttrs)
	LinkChanged(prev netlink.LinkAttrs, next netlink.LinkAttrs)
	LinkRemoved(attrs netlink.LinkAttrs)
}

// LinkMonitor keeps a snapshot of the system links and reports every
// change to it.
type LinkMonitor struct {
	source linkSource
	events linkEvents
	log    *zap.SugaredLogger

	mu    sync.Mutex
	links map[int]netlink.LinkAttrs
}

func newLinkMonitor(source linkSource, events linkEvents, log *zap.SugaredLogger) *LinkMonitor {
	return &LinkMonitor{
		source: source,
		events: events,
		log:    log,
		links:  map[int]netlink.LinkAttrs{},
	}
}

// Links returns a copy of the current snapshot.
func (m *LinkMonitor) Links() map[int]netlink.LinkAttrs {
	m.mu.Lock()
	defer m.mu.Unlock()

	links := make(map[int]netlink.LinkAttrs, len(m.links))
	for idx, attrs := range m.links {
		links[idx] = attrs
	}
	return links
}

// Run resynchronizes the snapshot on every netlink link notification until
// the context is canceled.
func (m *LinkMonitor) Run(ctx context.Context) error {
	m.log.Debugf("starting links monitor")
	defer m.log.Debugf("stopped links monitor")

	txRx := make(chan netlink.LinkUpdate, 16)
	if err := m.source.Subscribe(txRx, ctx.Done()); err != nil {
		return fmt.Errorf("failed to subscribe to links updates: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-txRx:
			if err := m.update(); err != nil {
				m.log.Warnw("failed to process link update", zap.Error(err))
			}
		}
	}
}

// update relists the links and reports the differences from the previous
// snapshot.
func (m *LinkMonitor) update() error {
	links, err := m.source.LinkList()
	if err != nil {
		return fmt.Errorf("failed to list links: %w", err)
	}

	next := make(map[int]netlink.LinkAttrs, len(links))
	for _, link := range links {
		attrs := link.Attrs()
		next[attrs.Index] = *attrs
	}

	m.mu.Lock()
	prev := m.links
	m.links = next
	m.mu.Unlock()

	for idx, attrs := range prev {
		if _, ok := next[idx]; !ok {
			m.events.LinkRemoved(attrs)
		}
	}
	for idx, attrs := range next {
		old, ok := prev[idx]
		switch {
		case !ok:
			m.events.LinkAdded(attrs)
		case linkChanged(old, attrs):
			m.events.LinkChanged(old, attrs)
		}
	}

	return nil
}

func linkChanged(prev netlink.LinkAttrs, next netlink.LinkAttrs) bool {
	return prev.MTU != next.MTU ||
		prev.Flags&net.FlagUp != next.Flags&net.FlagUp ||
		prev.Name != next.Name ||
		prev.HardwareAddr.String() != next.HardwareAddr.String()
}
