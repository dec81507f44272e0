package xpacket

import (
	"net"
	"testing"

	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

func TestSerializePadsEthernet(t *testing.T) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0x33, 0x33, 0, 0, 0, 1},
		EthernetType: layers.EthernetTypeIPv6,
	}
	data, err := Serialize(eth)
	require.NoError(t, err)
	require.Len(t, data, MinEtherFrameLen)
}

func TestParseEtherPacketPadsShortFrames(t *testing.T) {
	// A bare header, as a capture may hand it over.
	data := []byte{
		0x33, 0x33, 0, 0, 0, 1,
		0x02, 0, 0, 0, 0, 1,
		0x86, 0xdd,
	}

	pkt := ParseEtherPacket(data)
	require.Len(t, pkt.Data(), MinEtherFrameLen)
	eth, ok := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet)
	require.True(t, ok)
	require.Equal(t, layers.EthernetTypeIPv6, eth.EthernetType)
}

func TestLayersToIPv6(t *testing.T) {
	ip := &layers.IPv6{
		Version:    6,
		NextHeader: layers.IPProtocolICMPv6,
		HopLimit:   255,
		SrcIP:      net.ParseIP("fe80::1"),
		DstIP:      net.ParseIP("ff02::1"),
	}
	icmp := &layers.ICMPv6{
		TypeCode: layers.CreateICMPv6TypeCode(layers.ICMPv6TypeNeighborAdvertisement, 0),
	}
	require.NoError(t, icmp.SetNetworkLayerForChecksum(ip))

	data := LayersToIPv6(t, ip, icmp)
	require.Len(t, data, 44)
	require.Equal(t, byte(0x60), data[0]&0xf0)
}
