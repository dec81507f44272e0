package nd

import (
	"errors"

	"github.com/yanet-platform/ndisc/internal/wire"
)

var (
	// ErrNeighbourPoolFull is returned when no neighbour entry is free.
	ErrNeighbourPoolFull = errors.New("neighbour pool is exhausted")
	// ErrLinkAddrPoolFull is returned when no link address record is free.
	ErrLinkAddrPoolFull = errors.New("link address pool is exhausted")
	// ErrStaleHandle is returned for a handle whose entry was freed.
	ErrStaleHandle = errors.New("stale handle")
	// ErrNoInterface is returned for an interface unknown to the engine.
	ErrNoInterface = errors.New("no such interface")
	// ErrInterfaceExists is returned when adding an interface twice.
	ErrInterfaceExists = errors.New("interface already added")
	// ErrNoSourceAddr is returned when no usable source address exists.
	ErrNoSourceAddr = errors.New("no usable source address")
	// ErrNoAddr is returned for an address the interface does not own.
	ErrNoAddr = errors.New("address not assigned")
	// ErrNotFound is returned when a neighbour is not cached.
	ErrNotFound = errors.New("neighbour not found")
	// ErrClosed is returned by operations on a closed engine.
	ErrClosed = errors.New("engine is closed")
)

// DropReason tells why a packet was not processed or not sent.
type DropReason string

// Error implements error.
func (m DropReason) Error() string {
	return "dropped: " + string(m)
}

const (
	DropMalformed            DropReason = "malformed"
	DropShortPacket          DropReason = "short_packet"
	DropBadCode              DropReason = "bad_code"
	DropBadHopLimit          DropReason = "bad_hop_limit"
	DropMulticastTarget      DropReason = "multicast_target"
	DropSolicitedToMulticast DropReason = "solicited_to_multicast"
	DropBadOption            DropReason = "bad_option"
	DropUnspecifiedLinkAddr  DropReason = "unspecified_source_link_addr"
	DropNotSolicitedNode     DropReason = "not_solicited_node"
	DropUnknownTarget        DropReason = "unknown_target"
	DropDuplicateSource      DropReason = "duplicate_source"
	DropDADCollision         DropReason = "dad_collision"
	DropDADDisabled          DropReason = "dad_disabled"
	DropTentativeTarget      DropReason = "tentative_target"
	DropOwnAdvertisement     DropReason = "own_advertisement"
	DropNoNeighbour          DropReason = "no_neighbour"
	DropNoLinkAddr           DropReason = "no_link_addr"
	DropOverrideMismatch     DropReason = "override_mismatch"
	DropNotLinkLocalSource   DropReason = "not_link_local_source"
	DropNeighbourPoolFull    DropReason = "neighbour_pool_full"
	DropLinkAddrPoolFull     DropReason = "link_addr_pool_full"
	DropRouterListFull       DropReason = "router_list_full"
	DropPrefixListFull       DropReason = "prefix_list_full"
	DropSendFailed           DropReason = "send_failed"
	DropUnsupportedType      DropReason = "unsupported_type"
	DropNoInterface          DropReason = "no_interface"
	DropNotForUs             DropReason = "not_for_us"
	DropNoSourceAddr         DropReason = "no_source_addr"
	DropPendingReplaced      DropReason = "pending_replaced"
	DropResolutionFailed     DropReason = "resolution_failed"
	DropNeighbourRemoved     DropReason = "neighbour_removed"
	DropOther                DropReason = "other"
)

// reasonOf maps an error onto the drop reason it is counted under.
func reasonOf(err error) DropReason {
	var reason DropReason
	switch {
	case errors.As(err, &reason):
		return reason
	case errors.Is(err, ErrNeighbourPoolFull):
		return DropNeighbourPoolFull
	case errors.Is(err, ErrLinkAddrPoolFull):
		return DropLinkAddrPoolFull
	case errors.Is(err, ErrNoInterface):
		return DropNoInterface
	case errors.Is(err, ErrNoSourceAddr):
		return DropNoSourceAddr
	case errors.Is(err, wire.ErrTruncated):
		return DropShortPacket
	case errors.Is(err, wire.ErrOptionZeroLength),
		errors.Is(err, wire.ErrOptionTruncated),
		errors.Is(err, wire.ErrOptionMalformed):
		return DropBadOption
	case errors.Is(err, wire.ErrNotIPv6), errors.Is(err, wire.ErrNotICMPv6):
		return DropMalformed
	default:
		return DropOther
	}
}
