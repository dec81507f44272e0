package nd

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// DADMode selects whether duplicate address detection runs.
type DADMode string

const (
	DADEnabled  DADMode = "enabled"
	DADDisabled DADMode = "disabled"
)

// Config is the ND engine configuration.
type Config config

type config struct {
	// MaxNeighbours is the neighbour cache capacity.
	MaxNeighbours int `yaml:"max_neighbours"`
	// MaxLinkAddrs is the link address pool capacity.
	MaxLinkAddrs int `yaml:"max_link_addrs"`
	// MaxRouters is the per-interface default router list capacity.
	MaxRouters int `yaml:"max_routers"`
	// MaxPrefixes is the per-interface on-link prefix list capacity.
	MaxPrefixes int `yaml:"max_prefixes"`
	// MaxContexts is the per-interface 6LoWPAN context capacity.
	MaxContexts int `yaml:"max_contexts"`
	// MaxMulticastSolicit is the number of multicast NS retransmissions
	// during address resolution.
	MaxMulticastSolicit int `yaml:"max_multicast_solicit"`
	// MaxUnicastSolicit is the number of unicast NS sent while probing.
	MaxUnicastSolicit int `yaml:"max_unicast_solicit"`
	// DelayFirstProbeTime is how long a used stale entry waits before
	// probing.
	DelayFirstProbeTime time.Duration `yaml:"delay_first_probe_time"`
	// StaleTime is how long an unused stale entry lives.
	StaleTime time.Duration `yaml:"stale_time"`
	// DAD enables or disables duplicate address detection.
	DAD DADMode `yaml:"dad"`
	// DADTransmits is the number of NS sent while an address is tentative.
	DADTransmits int `yaml:"dad_transmits"`
	// MaxRtrSolicitations is the number of RS sent at start-up.
	MaxRtrSolicitations int `yaml:"max_rtr_solicitations"`
	// RtrSolicitationInterval is the time between RS.
	RtrSolicitationInterval time.Duration `yaml:"rtr_solicitation_interval"`
	// SolicitRate limits address-resolution NS per second and interface,
	// zero meaning unlimited.
	SolicitRate float64 `yaml:"solicit_rate"`
	// SolicitBurst is the rate limiter burst.
	SolicitBurst int `yaml:"solicit_burst"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MaxNeighbours:           16,
		MaxLinkAddrs:            16,
		MaxRouters:              2,
		MaxPrefixes:             4,
		MaxContexts:             16,
		MaxMulticastSolicit:     3,
		MaxUnicastSolicit:       3,
		DelayFirstProbeTime:     5 * time.Second,
		StaleTime:               10 * time.Minute,
		DAD:                     DADEnabled,
		DADTransmits:            1,
		MaxRtrSolicitations:     3,
		RtrSolicitationInterval: 4 * time.Second,
		SolicitRate:             0,
		SolicitBurst:            1,
	}
}

// Validate checks the configuration.
func (m *Config) Validate() error {
	positive := []struct {
		name  string
		value int
	}{
		{"max_neighbours", m.MaxNeighbours},
		{"max_link_addrs", m.MaxLinkAddrs},
		{"max_routers", m.MaxRouters},
		{"max_prefixes", m.MaxPrefixes},
		{"max_contexts", m.MaxContexts},
		{"max_multicast_solicit", m.MaxMulticastSolicit},
		{"max_unicast_solicit", m.MaxUnicastSolicit},
		{"dad_transmits", m.DADTransmits},
		{"solicit_burst", m.SolicitBurst},
	}
	for _, v := range positive {
		if v.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", v.name, v.value)
		}
	}

	if m.MaxRtrSolicitations < 0 {
		return fmt.Errorf("max_rtr_solicitations must not be negative, got %d", m.MaxRtrSolicitations)
	}
	if m.DelayFirstProbeTime <= 0 || m.StaleTime <= 0 || m.RtrSolicitationInterval <= 0 {
		return fmt.Errorf("timers must be positive")
	}
	if m.SolicitRate < 0 {
		return fmt.Errorf("solicit_rate must not be negative, got %v", m.SolicitRate)
	}

	switch m.DAD {
	case DADEnabled, DADDisabled:
	default:
		return fmt.Errorf("unknown DAD mode %q", m.DAD)
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
