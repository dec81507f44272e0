package netif

import (
	"math"
	"net/netip"
	"time"
)

// AddrState is the lifecycle state of a unicast address.
type AddrState int

const (
	// Tentative addresses are undergoing duplicate address detection and
	// must not be used as a source.
	Tentative AddrState = iota
	// Preferred addresses are usable without restriction.
	Preferred
	// Deprecated addresses are still valid but should not be chosen for
	// new communication.
	Deprecated
)

func (m AddrState) String() string {
	switch m {
	case Tentative:
		return "tentative"
	case Preferred:
		return "preferred"
	case Deprecated:
		return "deprecated"
	default:
		return "unknown"
	}
}

// Origin tells how an address was configured.
type Origin int

const (
	OriginManual Origin = iota
	OriginAutoconf
	OriginLinkLocal
	OriginKernel
)

func (m Origin) String() string {
	switch m {
	case OriginManual:
		return "manual"
	case OriginAutoconf:
		return "autoconf"
	case OriginLinkLocal:
		return "link-local"
	case OriginKernel:
		return "kernel"
	default:
		return "unknown"
	}
}

// Infinite is the lifetime that never expires.
const Infinite = time.Duration(math.MaxInt64)

// Addr is a snapshot of a unicast address.
type Addr struct {
	Addr   netip.Addr
	State  AddrState
	Origin Origin
	// ValidUntil and PreferredUntil are zero for infinite lifetimes.
	ValidUntil     time.Time
	PreferredUntil time.Time
}

// ValidRemaining returns the remaining valid lifetime, Infinite if the
// address never expires.
func (m Addr) ValidRemaining(now time.Time) time.Duration {
	if m.ValidUntil.IsZero() {
		return Infinite
	}
	if remaining := m.ValidUntil.Sub(now); remaining > 0 {
		return remaining
	}
	return 0
}
