package netif

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds per-interface ND parameters and limits.
type Config config

type config struct {
	// MaxAddrs is the maximum number of unicast addresses per interface.
	MaxAddrs int `yaml:"max_addrs"`
	// HopLimit is the initial hop limit for outgoing unicast datagrams,
	// until a router advertises another one.
	HopLimit uint8 `yaml:"hop_limit"`
	// BaseReachableTime is the initial base reachable time.
	BaseReachableTime time.Duration `yaml:"base_reachable_time"`
	// RetransTimer is the initial time between retransmitted NS.
	RetransTimer time.Duration `yaml:"retrans_timer"`
}

// DefaultConfig returns RFC 4861 host defaults.
func DefaultConfig() *Config {
	return &Config{
		MaxAddrs:          8,
		HopLimit:          64,
		BaseReachableTime: 30 * time.Second,
		RetransTimer:      time.Second,
	}
}

// Validate checks the configuration.
func (m *Config) Validate() error {
	if m.MaxAddrs <= 0 {
		return fmt.Errorf("max_addrs must be positive, got %d", m.MaxAddrs)
	}
	if m.HopLimit == 0 {
		return fmt.Errorf("hop_limit must be positive")
	}
	if m.BaseReachableTime <= 0 {
		return fmt.Errorf("base_reachable_time must be positive, got %s", m.BaseReachableTime)
	}
	if m.RetransTimer <= 0 {
		return fmt.Errorf("retrans_timer must be positive, got %s", m.RetransTimer)
	}

	return nil
}

// UnmarshalYAML decodes the configuration over the current values and
// validates the result.
func (m *Config) UnmarshalYAML(value *yaml.Node) error {
	if err := value.Decode((*config)(m)); err != nil {
		return err
	}

	return m.Validate()
}
