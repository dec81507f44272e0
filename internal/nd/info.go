package nd

import (
	"net"
	"net/netip"
	"time"
)

// NeighbourInfo is a snapshot of a neighbour cache entry.
type NeighbourInfo struct {
	// IfIndex is the interface the neighbour was learned on.
	IfIndex int
	// Addr is the neighbour IPv6 address.
	Addr netip.Addr
	// LinkAddr is nil while the entry is Incomplete.
	LinkAddr net.HardwareAddr
	// State is the reachability state.
	State State
	// IsRouter is set when the neighbour advertised itself as a router.
	IsRouter bool
	// Pending is set when a datagram waits for resolution.
	Pending bool
	// UpdatedAt is the timestamp of the last state change.
	UpdatedAt time.Time
}

// RouterInfo is a snapshot of a default router list entry.
type RouterInfo struct {
	IfIndex  int
	Addr     netip.Addr
	Infinite bool
	// ExpiresAt is zero for infinite entries.
	ExpiresAt time.Time
}

// PrefixInfo is a snapshot of an on-link prefix list entry.
type PrefixInfo struct {
	IfIndex   int
	Prefix    netip.Prefix
	Infinite  bool
	ExpiresAt time.Time
}

// ContextInfo is a snapshot of a 6LoWPAN compression context.
type ContextInfo struct {
	IfIndex   int
	CID       uint8
	Prefix    netip.Prefix
	Compress  bool
	ExpiresAt time.Time
}
