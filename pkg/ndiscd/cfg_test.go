package ndiscd

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/yanet-platform/ndisc/common/go/logging"
	"github.com/yanet-platform/ndisc/internal/nd"
)

const testConfig = `
logging:
  level: debug
  encoding: json
nd:
  max_neighbours: 64
  dad: disabled
netif:
  retrans_timer: 2s
interfaces:
  - name: "eth*"
    addresses:
      - "2001:db8::1"
    import_kernel_addrs: true
  - name: "vlan{10,20}"
    solicit_routers: false
capture:
  path: /tmp/nd.pcap
  snap_len: 256B
metrics:
  endpoint: ""
`

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	require.Equal(t, zapcore.DebugLevel, cfg.Logging.Level)
	require.Equal(t, logging.EncodingJSON, cfg.Logging.Encoding)
	require.Equal(t, []string{"stderr"}, cfg.Logging.Output)

	require.Equal(t, 64, cfg.ND.MaxNeighbours)
	require.Equal(t, nd.DADDisabled, cfg.ND.DAD)
	require.Equal(t, nd.DefaultConfig().MaxRouters, cfg.ND.MaxRouters)

	require.Equal(t, 2*time.Second, cfg.Netif.RetransTimer)
	require.Equal(t, uint8(64), cfg.Netif.HopLimit)

	require.Len(t, cfg.Interfaces, 2)
	require.Equal(t, []netip.Addr{netip.MustParseAddr("2001:db8::1")}, cfg.Interfaces[0].Addresses)
	require.True(t, cfg.Interfaces[0].ImportKernelAddrs)
	require.True(t, cfg.Interfaces[0].SolicitRouters)
	require.False(t, cfg.Interfaces[1].SolicitRouters)

	require.Equal(t, "/tmp/nd.pcap", cfg.Capture.Path)
	require.Equal(t, 256*datasize.B, cfg.Capture.SnapLen)
	require.Empty(t, cfg.Metrics.Endpoint)
}

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("interfaces: [{name: eth0}]"))
	require.NoError(t, err)

	require.Equal(t, nd.DefaultConfig(), cfg.ND)
	require.Equal(t, 2*datasize.KB, cfg.Capture.SnapLen)
	require.Empty(t, cfg.Capture.Path)
	require.Equal(t, "[::1]:9641", cfg.Metrics.Endpoint)
	require.True(t, cfg.Interfaces[0].SolicitRouters)
	require.False(t, cfg.Interfaces[0].ImportKernelAddrs)
}

func TestParseConfigInvalid(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"no interfaces", "nd: {dad: enabled}"},
		{"empty pattern", "interfaces:\n  - addresses:\n      - \"2001:db8::1\""},
		{"bad pattern", "interfaces: [{name: \"eth[\"}]"},
		{"ipv4 address", "interfaces:\n  - name: eth0\n    addresses:\n      - 192.0.2.1"},
		{"multicast address", "interfaces:\n  - name: eth0\n    addresses:\n      - \"ff02::1\""},
		{"malformed address", "interfaces:\n  - name: eth0\n    addresses:\n      - \"2001:db8::zz\""},
		{"bad dad mode", "nd: {dad: sometimes}\ninterfaces: [{name: eth0}]"},
		{"bad log encoding", "logging: {encoding: xml}\ninterfaces: [{name: eth0}]"},
		{"zero snap len", "capture: {path: /tmp/x.pcap, snap_len: 0}\ninterfaces: [{name: eth0}]"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := ParseConfig([]byte(c.doc))
			require.Error(t, err)
		})
	}
}

func TestConfigMatch(t *testing.T) {
	cfg, err := ParseConfig([]byte(testConfig))
	require.NoError(t, err)

	iface, ok := cfg.Match("eth0")
	require.True(t, ok)
	require.Same(t, cfg.Interfaces[0], iface)

	iface, ok = cfg.Match("vlan20")
	require.True(t, ok)
	require.Same(t, cfg.Interfaces[1], iface)

	_, ok = cfg.Match("vlan30")
	require.False(t, ok)
	_, ok = cfg.Match("lo")
	require.False(t, ok)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ndiscd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Interfaces, 2)

	_, err = LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
