package link

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"go.uber.org/zap"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/common/go/xpacket"
)

// frameHandle is a raw Ethernet socket.
type frameHandle interface {
	ReadPacketData() ([]byte, gopacket.CaptureInfo, error)
	WritePacketData(data []byte) error
	Close()
}

type openFunc func(name string, snapLen int) (frameHandle, error)

type ethernetOptions struct {
	Log           *zap.SugaredLogger
	Capture       *Capture
	SnapLen       int
	ReopenTimeout time.Duration
	open          openFunc
}

func newEthernetOptions() *ethernetOptions {
	return &ethernetOptions{
		Log:           zap.NewNop().Sugar(),
		SnapLen:       2048,
		ReopenTimeout: 5 * time.Minute,
		open:          openEthernet,
	}
}

// EthernetOption configures an Ethernet link.
type EthernetOption func(*ethernetOptions)

// WithLog sets the logger.
func WithLog(log *zap.SugaredLogger) EthernetOption {
	return func(o *ethernetOptions) {
		o.Log = log
	}
}

// WithCapture records every received and sent frame.
func WithCapture(capture *Capture) EthernetOption {
	return func(o *ethernetOptions) {
		o.Capture = capture
	}
}

// WithSnapLen sets the maximum number of bytes read per frame.
func WithSnapLen(snapLen int) EthernetOption {
	return func(o *ethernetOptions) {
		o.SnapLen = snapLen
	}
}

// WithReopenTimeout bounds how long a failed socket is reopened for
// before Run gives up.
func WithReopenTimeout(timeout time.Duration) EthernetOption {
	return func(o *ethernetOptions) {
		o.ReopenTimeout = timeout
	}
}

func withOpenFunc(open openFunc) EthernetOption {
	return func(o *ethernetOptions) {
		o.open = open
	}
}

// Ethernet exchanges IPv6 datagrams over a raw Ethernet socket bound to a
// single interface.
type Ethernet struct {
	name     string
	ifindex  int
	linkAddr net.HardwareAddr
	cfg      *ethernetOptions
	log      *zap.SugaredLogger

	opened     chan struct{}
	openedOnce sync.Once

	mu     sync.Mutex
	handle frameHandle
	closed bool
}

// NewEthernet creates a link for the named interface. The socket is opened
// by Run.
func NewEthernet(name string, ifindex int, linkAddr net.HardwareAddr, options ...EthernetOption) *Ethernet {
	cfg := newEthernetOptions()
	for _, o := range options {
		o(cfg)
	}

	return &Ethernet{
		name:     name,
		ifindex:  ifindex,
		linkAddr: linkAddr,
		cfg:      cfg,
		log:      cfg.Log.With(zap.String("iface", name)),
		opened:   make(chan struct{}),
	}
}

// Opened returns a channel closed once the socket is first opened.
func (m *Ethernet) Opened() <-chan struct{} {
	return m.opened
}

// Run reads frames until the context is canceled, passing every IPv6
// datagram to handler. A failed socket is reopened with exponential
// backoff.
func (m *Ethernet) Run(ctx context.Context, handler func(pkt *Packet)) error {
	for {
		handle, err := m.reopen(ctx)
		if err != nil {
			return err
		}

		err = m.readLoop(ctx, handle, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.log.Warnw("frame read failed, reopening socket", zap.Error(err))
	}
}

func (m *Ethernet) reopen(ctx context.Context) (frameHandle, error) {
	operation := func() (frameHandle, error) {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.closed {
			return nil, backoff.Permanent(ErrClosed)
		}
		if m.handle != nil {
			m.handle.Close()
			m.handle = nil
		}

		handle, err := m.cfg.open(m.name, m.cfg.SnapLen)
		if err != nil {
			return nil, err
		}
		m.handle = handle
		return handle, nil
	}

	reopenBackoff := &backoff.ExponentialBackOff{
		InitialInterval:     backoff.DefaultInitialInterval,
		RandomizationFactor: backoff.DefaultRandomizationFactor,
		Multiplier:          backoff.DefaultMultiplier,
		MaxInterval:         30 * time.Second,
	}
	reopenBackoff.Reset()

	handle, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(reopenBackoff),
		backoff.WithMaxElapsedTime(m.cfg.ReopenTimeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			m.log.Warnw("failed to open socket", zap.Error(err), zap.Duration("retry_in", next))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", m.name, err)
	}

	m.openedOnce.Do(func() { close(m.opened) })

	m.log.Infow("opened raw socket", zap.Int("snaplen", m.cfg.SnapLen))
	return handle, nil
}

func (m *Ethernet) readLoop(ctx context.Context, handle frameHandle, handler func(pkt *Packet)) error {
	// A blocked read is released by closing the socket.
	stop := context.AfterFunc(ctx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		if m.handle == handle {
			m.handle.Close()
			m.handle = nil
		}
	})
	defer stop()

	for {
		data, ci, err := handle.ReadPacketData()
		if err != nil {
			return err
		}
		if err := m.cfg.Capture.WriteFrame(ci.Timestamp, data); err != nil {
			m.log.Debugw("failed to capture frame", zap.Error(err))
		}

		if pkt := m.decode(data); pkt != nil {
			handler(pkt)
		}
	}
}

// decode extracts the IPv6 datagram from a frame, skipping frames that are
// not IPv6 or that were sent from this interface.
func (m *Ethernet) decode(data []byte) *Packet {
	frame := xpacket.ParseEtherPacket(data)

	ethLayer := frame.Layer(layers.LayerTypeEthernet)
	if ethLayer == nil {
		return nil
	}
	eth := ethLayer.(*layers.Ethernet)
	if eth.EthernetType != layers.EthernetTypeIPv6 {
		return nil
	}
	if m.linkAddr != nil && string(eth.SrcMAC) == string(m.linkAddr) {
		return nil
	}

	return &Packet{
		IfIndex:     m.ifindex,
		Data:        eth.Payload,
		SrcLinkAddr: eth.SrcMAC,
		DstLinkAddr: eth.DstMAC,
	}
}

// Send implements Sender.
//
// Multicast datagrams without a destination link-layer address are sent
// to the mapped 33:33 group address.
func (m *Ethernet) Send(pkt *Packet) error {
	dst := pkt.DstLinkAddr
	if dst == nil {
		if len(pkt.Data) < 40 {
			return fmt.Errorf("datagram of %d bytes is too short", len(pkt.Data))
		}
		addr := netip.AddrFrom16([16]byte(pkt.Data[24:40]))
		if !addr.IsMulticast() {
			return fmt.Errorf("%w: %s", ErrNoLinkAddr, addr)
		}
		dst = xnetip.MulticastLinkAddr(addr)
	}
	src := pkt.SrcLinkAddr
	if src == nil {
		src = m.linkAddr
	}

	frame, err := xpacket.Serialize(
		&layers.Ethernet{
			SrcMAC:       src,
			DstMAC:       dst,
			EthernetType: layers.EthernetTypeIPv6,
		},
		gopacket.Payload(pkt.Data),
	)
	if err != nil {
		return err
	}

	m.mu.Lock()
	handle := m.handle
	m.mu.Unlock()

	if handle == nil {
		return ErrClosed
	}
	if err := m.cfg.Capture.WriteFrame(time.Now(), frame); err != nil {
		m.log.Debugw("failed to capture frame", zap.Error(err))
	}
	if err := handle.WritePacketData(frame); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	return nil
}

// Close releases the socket. Run returns once its read is released.
func (m *Ethernet) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	if m.handle != nil {
		m.handle.Close()
		m.handle = nil
	}
}
