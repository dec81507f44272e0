package nd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/wire"
)

func TestNAUpdates(t *testing.T) {
	tests := []struct {
		name     string
		flags    uint8
		linkAddr bool
		mac      []byte
		verdict  Verdict
		state    State
		wantMAC  []byte
	}{
		{
			name:     "solicited confirms",
			flags:    wire.FlagSolicited,
			linkAddr: true,
			mac:      peerMAC,
			verdict:  VerdictOK,
			state:    Reachable,
			wantMAC:  peerMAC,
		},
		{
			name:    "solicited without link address confirms",
			flags:   wire.FlagSolicited,
			verdict: VerdictOK,
			state:   Reachable,
			wantMAC: peerMAC,
		},
		{
			name:     "unsolicited override changes link address",
			flags:    wire.FlagOverride,
			linkAddr: true,
			mac:      otherMAC,
			verdict:  VerdictOK,
			state:    Stale,
			wantMAC:  otherMAC,
		},
		{
			name:     "unsolicited without override is ignored",
			linkAddr: true,
			mac:      otherMAC,
			verdict:  VerdictDrop,
			state:    Stale,
			wantMAC:  peerMAC,
		},
		{
			name:     "solicited override changes link address",
			flags:    wire.FlagSolicited | wire.FlagOverride,
			linkAddr: true,
			mac:      otherMAC,
			verdict:  VerdictOK,
			state:    Reachable,
			wantMAC:  otherMAC,
		},
		{
			name:     "unsolicited same link address keeps state",
			linkAddr: true,
			mac:      peerMAC,
			verdict:  VerdictOK,
			state:    Reachable,
			wantMAC:  peerMAC,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.resolve(peerAddr, peerMAC)

			body := wire.MarshalNeighborAdvertisement(tt.flags, peerAddr, nil)
			if tt.linkAddr {
				body = wire.AppendLinkAddrOption(body, wire.OptTargetLinkAddr, tt.mac)
			} else {
				// An unrelated option keeps the packet long enough.
				body = wire.AppendMTU(body, 1500)
			}

			require.Equal(t, tt.verdict, env.input(peerAddr, env.addr, wire.TypeNeighborAdvertisement, body, peerMAC))

			info, ok := env.engine.Lookup(testIfIndex, peerAddr)
			require.True(t, ok)
			require.Equal(t, tt.state, info.State)
			require.Equal(t, tt.wantMAC, []byte(info.LinkAddr))
		})
	}
}

func TestNAOverrideMismatchCounted(t *testing.T) {
	env := newTestEnv(t, nil)
	env.resolve(peerAddr, peerMAC)

	body := wire.MarshalNeighborAdvertisement(0, peerAddr, otherMAC)
	require.Equal(t, VerdictDrop, env.input(peerAddr, env.addr, wire.TypeNeighborAdvertisement, body, otherMAC))
	require.Equal(t, 1.0, env.dropped(DropOverrideMismatch))
}

func TestNAIncompleteNeedsLinkAddr(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.PrepareForSend(env.datagram(peerAddr))
	require.NoError(t, err)
	env.sender.take()

	body := wire.AppendMTU(wire.MarshalNeighborAdvertisement(wire.FlagSolicited, peerAddr, nil), 1500)
	require.Equal(t, VerdictDrop, env.input(peerAddr, env.addr, wire.TypeNeighborAdvertisement, body, peerMAC))
	require.Equal(t, 1.0, env.dropped(DropNoLinkAddr))

	state, _ := env.state(peerAddr)
	require.Equal(t, Incomplete, state)
	require.Zero(t, env.sender.len())
}

func TestNAUnsolicitedResolvesStale(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.PrepareForSend(env.datagram(peerAddr))
	require.NoError(t, err)
	env.sender.take()

	body := wire.MarshalNeighborAdvertisement(wire.FlagOverride, peerAddr, peerMAC)
	require.Equal(t, VerdictOK, env.input(peerAddr, xnetip.AllNodes, wire.TypeNeighborAdvertisement, body, peerMAC))

	state, _ := env.state(peerAddr)
	require.Equal(t, Stale, state)
	require.Len(t, env.sender.take(), 1, "pending datagram is flushed")
}

func TestNAFlushSendFailure(t *testing.T) {
	env := newTestEnv(t, nil)

	_, err := env.engine.PrepareForSend(env.datagram(peerAddr))
	require.NoError(t, err)
	env.sender.take()
	env.sender.setErr(errSendTest)

	body := wire.MarshalNeighborAdvertisement(wire.FlagSolicited, peerAddr, peerMAC)
	require.Equal(t, VerdictOK, env.input(peerAddr, env.addr, wire.TypeNeighborAdvertisement, body, peerMAC))
	require.Equal(t, 1.0, env.dropped(DropSendFailed))

	// The state is not reverted and the datagram is gone.
	info, _ := env.engine.Lookup(testIfIndex, peerAddr)
	require.Equal(t, Reachable, info.State)
	require.False(t, info.Pending)
}

func TestNADrops(t *testing.T) {
	tests := []struct {
		name   string
		body   func(env *testEnv) []byte
		reason DropReason
	}{
		{
			name: "no neighbour",
			body: func(*testEnv) []byte {
				return wire.MarshalNeighborAdvertisement(wire.FlagSolicited, peerAddr, peerMAC)
			},
			reason: DropNoNeighbour,
		},
		{
			name: "no option",
			body: func(*testEnv) []byte {
				return wire.MarshalNeighborAdvertisement(wire.FlagSolicited, peerAddr, nil)
			},
			reason: DropShortPacket,
		},
		{
			name: "multicast target",
			body: func(*testEnv) []byte {
				return wire.MarshalNeighborAdvertisement(0, xnetip.AllNodes, peerMAC)
			},
			reason: DropMulticastTarget,
		},
		{
			name: "own address",
			body: func(env *testEnv) []byte {
				return wire.MarshalNeighborAdvertisement(wire.FlagOverride, env.addr, peerMAC)
			},
			reason: DropOwnAdvertisement,
		},
		{
			name: "zero length option",
			body: func(*testEnv) []byte {
				return append(wire.MarshalNeighborAdvertisement(0, peerAddr, nil), 2, 0, 0, 0, 0, 0, 0, 0)
			},
			reason: DropBadOption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)

			require.Equal(t, VerdictDrop, env.input(peerAddr, env.addr, wire.TypeNeighborAdvertisement, tt.body(env), peerMAC))
			require.Equal(t, 1.0, env.dropped(tt.reason))
		})
	}
}

func TestNASolicitedToMulticast(t *testing.T) {
	env := newTestEnv(t, nil)

	body := wire.MarshalNeighborAdvertisement(wire.FlagSolicited, peerAddr, peerMAC)
	require.Equal(t, VerdictDrop, env.input(peerAddr, xnetip.AllNodes, wire.TypeNeighborAdvertisement, body, peerMAC))
	require.Equal(t, 1.0, env.dropped(DropSolicitedToMulticast))
}

func TestNARouterFlagCleared(t *testing.T) {
	env := newTestEnv(t, nil)
	env.advertise(routerAddr, routerMAC, 1800)

	info, ok := env.engine.Lookup(testIfIndex, routerAddr)
	require.True(t, ok)
	require.True(t, info.IsRouter)

	body := wire.MarshalNeighborAdvertisement(wire.FlagSolicited, routerAddr, routerMAC)
	require.Equal(t, VerdictOK, env.input(routerAddr, env.addr, wire.TypeNeighborAdvertisement, body, routerMAC))

	info, _ = env.engine.Lookup(testIfIndex, routerAddr)
	require.False(t, info.IsRouter)
	routers, err := env.engine.Routers(testIfIndex)
	require.NoError(t, err)
	require.Empty(t, routers)
}
