package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/yanet-platform/ndisc/common/go/xpacket"
)

var (
	ownMAC  = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x01}
	peerMAC = net.HardwareAddr{0x02, 0, 0, 0, 0, 0x02}
)

type fakeHandle struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu      sync.Mutex
	written [][]byte
	// peer receives every written frame, as if both ends shared a wire.
	peer *fakeHandle
}

func newFakeHandle() *fakeHandle {
	return &fakeHandle{
		frames: make(chan []byte, 16),
		done:   make(chan struct{}),
	}
}

func (m *fakeHandle) ReadPacketData() ([]byte, gopacket.CaptureInfo, error) {
	select {
	case data := <-m.frames:
		ci := gopacket.CaptureInfo{
			Timestamp:     time.Now(),
			CaptureLength: len(data),
			Length:        len(data),
		}
		return data, ci, nil
	case <-m.done:
		return nil, gopacket.CaptureInfo{}, io.EOF
	}
}

func (m *fakeHandle) WritePacketData(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.written = append(m.written, bytes.Clone(data))
	if m.peer != nil {
		m.peer.frames <- bytes.Clone(data)
	}
	return nil
}

func (m *fakeHandle) Close() {
	m.once.Do(func() { close(m.done) })
}

func (m *fakeHandle) Written() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.written
}

func ipv6Datagram(t *testing.T, dst string) []byte {
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      net.ParseIP("fe80::2"),
		DstIP:      net.ParseIP(dst),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborSolicitation, 0),
	}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip))

	return xpacket.LayersToIPv6(t, ip, icmp, gopacket.Payload(make([]byte, 20)))
}

func frame(t *testing.T, src net.HardwareAddr, typ layers.EthernetType, payload []byte) []byte {
	data, err := xpacket.Serialize(
		&layers.Ethernet{SrcMAC: src, DstMAC: ownMAC, EthernetType: typ},
		gopacket.Payload(payload),
	)
	require.NoError(t, err)
	return data
}

func TestPacketSwapAndClone(t *testing.T) {
	pkt := NewPacket(3, []byte{1, 2, 3})
	pkt.SrcLinkAddr = peerMAC
	pkt.DstLinkAddr = ownMAC

	clone := pkt.Clone()
	pkt.SwapLinkAddrs()

	require.Equal(t, ownMAC, pkt.SrcLinkAddr)
	require.Equal(t, peerMAC, pkt.DstLinkAddr)
	require.Equal(t, peerMAC, clone.SrcLinkAddr)
	require.Equal(t, 3, clone.IfIndex)

	clone.Data[0] = 9
	require.Equal(t, byte(1), pkt.Data[0])
}

func TestEthernetDecode(t *testing.T) {
	e := NewEthernet("eth0", 2, ownMAC)
	datagram := ipv6Datagram(t, "ff02::1")

	tests := []struct {
		name  string
		frame []byte
		want  bool
	}{
		{
			name:  "ipv6 from peer",
			frame: frame(t, peerMAC, layers.EthernetTypeIPv6, datagram),
			want:  true,
		},
		{
			name:  "arp",
			frame: frame(t, peerMAC, layers.EthernetTypeARP, make([]byte, 28)),
		},
		{
			name:  "own frame looped back",
			frame: frame(t, ownMAC, layers.EthernetTypeIPv6, datagram),
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			pkt := e.decode(test.frame)
			if !test.want {
				require.Nil(t, pkt)
				return
			}
			require.NotNil(t, pkt)
			require.Equal(t, 2, pkt.IfIndex)
			require.Equal(t, peerMAC, pkt.SrcLinkAddr)
			require.Equal(t, ownMAC, pkt.DstLinkAddr)
			require.Equal(t, datagram, pkt.Data[:len(datagram)])
		})
	}
}

func TestEthernetRunReopens(t *testing.T) {
	handle := newFakeHandle()
	attempts := 0
	open := func(name string, snapLen int) (frameHandle, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("interface is down")
		}
		return handle, nil
	}

	e := NewEthernet("eth0", 2, ownMAC,
		WithLog(zaptest.NewLogger(t).Sugar()),
		withOpenFunc(open),
	)

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan *Packet, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Run(ctx, func(pkt *Packet) {
			received <- pkt
		})
	}()

	select {
	case <-e.Opened():
	case <-time.After(10 * time.Second):
		t.Fatal("socket not opened")
	}

	handle.frames <- frame(t, peerMAC, layers.EthernetTypeIPv6, ipv6Datagram(t, "ff02::1"))

	select {
	case pkt := <-received:
		require.Equal(t, peerMAC, pkt.SrcLinkAddr)
	case <-time.After(10 * time.Second):
		t.Fatal("no packet received")
	}
	require.Equal(t, 2, attempts)

	cancel()
	select {
	case err := <-errCh:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestEthernetSend(t *testing.T) {
	var pcap bytes.Buffer
	capture, err := NewCapture(&pcap, 128)
	require.NoError(t, err)

	handle := newFakeHandle()
	e := NewEthernet("eth0", 2, ownMAC, WithCapture(capture))
	e.handle = handle

	mcast := NewPacket(2, ipv6Datagram(t, "ff02::1:ff00:2"))
	require.NoError(t, e.Send(mcast))

	unicast := NewPacket(2, ipv6Datagram(t, "fe80::2"))
	require.ErrorIs(t, e.Send(unicast), ErrNoLinkAddr)

	unicast.DstLinkAddr = peerMAC
	require.NoError(t, e.Send(unicast))

	written := handle.Written()
	require.Len(t, written, 2)

	first := xpacket.ParseEtherPacket(written[0])
	eth := first.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, net.HardwareAddr{0x33, 0x33, 0xff, 0, 0, 2}, eth.DstMAC)
	require.Equal(t, ownMAC, eth.SrcMAC)

	second := xpacket.ParseEtherPacket(written[1])
	eth = second.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.Equal(t, peerMAC, eth.DstMAC)

	r, err := pcapgo.NewReader(&pcap)
	require.NoError(t, err)
	require.Equal(t, layers.LinkTypeEthernet, r.LinkType())
	count := 0
	for {
		_, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		count++
	}
	require.Equal(t, 2, count)

	e.Close()
	require.ErrorIs(t, e.Send(unicast), ErrClosed)
}

func TestEthernetRoundTrip(t *testing.T) {
	ownHandle := newFakeHandle()
	peerHandle := newFakeHandle()
	ownHandle.peer = peerHandle

	own := NewEthernet("eth0", 2, ownMAC, withOpenFunc(func(string, int) (frameHandle, error) {
		return ownHandle, nil
	}))
	peer := NewEthernet("eth1", 7, peerMAC, withOpenFunc(func(string, int) (frameHandle, error) {
		return peerHandle, nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan *Packet, 1)
	go own.Run(ctx, func(*Packet) {})
	go peer.Run(ctx, func(pkt *Packet) {
		received <- pkt
	})
	for _, e := range []*Ethernet{own, peer} {
		select {
		case <-e.Opened():
		case <-time.After(10 * time.Second):
			t.Fatal("socket not opened")
		}
	}

	datagram := ipv6Datagram(t, "fe80::2")
	pkt := NewPacket(2, datagram)
	pkt.DstLinkAddr = peerMAC
	require.NoError(t, own.Send(pkt))

	select {
	case got := <-received:
		require.Equal(t, 7, got.IfIndex)
		require.Equal(t, ownMAC, got.SrcLinkAddr)
		require.Equal(t, peerMAC, got.DstLinkAddr)
		require.Equal(t, datagram, got.Data[:len(datagram)])
	case <-time.After(10 * time.Second):
		t.Fatal("frame not delivered")
	}
	require.Len(t, ownHandle.Written(), 1)
}

func TestMux(t *testing.T) {
	var got []int
	mux := NewMux()
	mux.Add(1, SenderFunc(func(pkt *Packet) error {
		got = append(got, pkt.IfIndex)
		return nil
	}))

	require.NoError(t, mux.Send(NewPacket(1, nil)))
	require.ErrorIs(t, mux.Send(NewPacket(2, nil)), ErrUnknownInterface)

	mux.Remove(1)
	require.ErrorIs(t, mux.Send(NewPacket(1, nil)), ErrUnknownInterface)
	require.Equal(t, []int{1}, got)
}
