package xpacket

import (
	"fmt"
	"testing"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
)

// MinEtherFrameLen is the minimum Ethernet frame length without FCS.
const MinEtherFrameLen = 60

var serializeOptions = gopacket.SerializeOptions{
	FixLengths:       true,
	ComputeChecksums: true,
}

// Serialize serializes the given layers with lengths and checksums fixed.
func Serialize(lyrs ...gopacket.SerializableLayer) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, serializeOptions, lyrs...); err != nil {
		return nil, fmt.Errorf("failed to serialize layers: %w", err)
	}

	return buf.Bytes(), nil
}

// LayersToPacket serializes the given layers into an Ethernet frame and
// decodes it back, failing the test on any error.
func LayersToPacket(t *testing.T, lyrs ...gopacket.SerializableLayer) gopacket.Packet {
	data, err := Serialize(lyrs...)
	require.NoError(t, err)

	pkt := ParseEtherPacket(data)
	require.Empty(t, pkt.ErrorLayer(), "%#+v", lyrs)
	return pkt
}

// LayersToIPv6 serializes the given layers starting at the network layer
// and returns raw datagram bytes.
func LayersToIPv6(t *testing.T, lyrs ...gopacket.SerializableLayer) []byte {
	data, err := Serialize(lyrs...)
	require.NoError(t, err)

	pkt := gopacket.NewPacket(data, layers.LayerTypeIPv6, gopacket.Default)
	require.Empty(t, pkt.ErrorLayer(), "%#+v", lyrs)
	return data
}

func ParseEtherPacket(data []byte) gopacket.Packet {
	// Pad the packet with zero bytes to align its size at 60 bytes
	// https://github.com/google/gopacket/issues/361
	// github.com/gopacket/gopacket@v1.3.1/layers/ethernet.go#L95
	if len(data) < MinEtherFrameLen {
		var zeros [MinEtherFrameLen]byte
		data = append(data, zeros[:MinEtherFrameLen-len(data)]...)
	}

	return gopacket.NewPacket(
		data,
		layers.LayerTypeEthernet,
		gopacket.Default,
	)
}
