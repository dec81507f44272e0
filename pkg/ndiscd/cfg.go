package ndiscd

import (
	"errors"
	"fmt"
	"net/netip"
	"os"

	"github.com/c2h5oh/datasize"
	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/yanet-platform/ndisc/common/go/logging"
	"github.com/yanet-platform/ndisc/internal/nd"
	"github.com/yanet-platform/ndisc/internal/netif"
)

type Config struct {
	// Logging configuration.
	Logging *logging.Config `yaml:"logging"`
	// ND is the neighbour discovery engine configuration.
	ND *nd.Config `yaml:"nd"`
	// Netif holds the initial per-interface parameters.
	Netif *netif.Config `yaml:"netif"`
	// Interfaces selects the links to serve. A link is served by the first
	// entry whose pattern matches its name.
	Interfaces []*InterfaceConfig `yaml:"interfaces"`
	// Capture configuration.
	Capture CaptureConfig `yaml:"capture"`
	// Metrics configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

func DefaultConfig() *Config {
	return &Config{
		Logging: logging.DefaultConfig(),
		ND:      nd.DefaultConfig(),
		Netif:   netif.DefaultConfig(),
		Capture: CaptureConfig{
			SnapLen: 2 * datasize.KB,
		},
		Metrics: MetricsConfig{
			Endpoint: "[::1]:9641",
		},
	}
}

// LoadConfig loads the configuration from the given path.
func LoadConfig(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(buf)
}

// ParseConfig decodes a YAML document over the default configuration.
func ParseConfig(buf []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to deserialize config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings that span sections.
func (m *Config) Validate() error {
	if len(m.Interfaces) == 0 {
		return errors.New("at least one interface is required")
	}
	if m.Capture.Path != "" && m.Capture.SnapLen == 0 {
		return errors.New("capture snap length must be positive")
	}

	return nil
}

// Match returns the configuration of the first interface entry matching
// the given link name.
func (m *Config) Match(name string) (*InterfaceConfig, bool) {
	for _, iface := range m.Interfaces {
		if iface.pattern.Match(name) {
			return iface, true
		}
	}

	return nil, false
}

// InterfaceConfig describes a group of links served by the daemon.
type InterfaceConfig interfaceConfig

type interfaceConfig struct {
	// Name is a glob pattern matched against link names, e.g. "eth*".
	Name string `yaml:"name"`
	// Addresses are assigned to every matching link after duplicate
	// address detection.
	Addresses []netip.Addr `yaml:"addresses"`
	// ImportKernelAddrs adopts the global addresses the kernel already
	// has on the link.
	ImportKernelAddrs bool `yaml:"import_kernel_addrs"`
	// SolicitRouters sends router solicitations once the link is up.
	SolicitRouters bool `yaml:"solicit_routers"`

	pattern glob.Glob
}

// UnmarshalYAML decodes an interface entry and compiles its pattern.
func (m *InterfaceConfig) UnmarshalYAML(value *yaml.Node) error {
	*m = InterfaceConfig{
		SolicitRouters: true,
	}
	if err := value.Decode((*interfaceConfig)(m)); err != nil {
		return err
	}

	if m.Name == "" {
		return errors.New("interface name pattern is required")
	}
	pattern, err := glob.Compile(m.Name)
	if err != nil {
		return fmt.Errorf("invalid interface pattern %q: %w", m.Name, err)
	}
	m.pattern = pattern

	for _, addr := range m.Addresses {
		if !addr.Is6() || addr.Is4In6() {
			return fmt.Errorf("address %s is not IPv6", addr)
		}
		if addr.IsMulticast() || addr.IsUnspecified() || addr.IsLoopback() {
			return fmt.Errorf("address %s is not a unicast address", addr)
		}
	}

	return nil
}

// CaptureConfig enables recording of every ND frame into a pcap file.
type CaptureConfig struct {
	// Path is the pcap file path. Capture is disabled when empty.
	Path string `yaml:"path"`
	// SnapLen is the maximum number of bytes recorded per frame.
	SnapLen datasize.ByteSize `yaml:"snap_len"`
}

// MetricsConfig describes the Prometheus endpoint.
type MetricsConfig struct {
	// Endpoint is the listen address of the HTTP server exposing
	// "/metrics". The server is disabled when empty.
	Endpoint string `yaml:"endpoint"`
}
