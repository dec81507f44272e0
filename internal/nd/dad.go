package nd

import (
	"fmt"
	"net/netip"
	"time"

	"go.uber.org/zap"

	"github.com/yanet-platform/ndisc/common/go/xnetip"
	"github.com/yanet-platform/ndisc/internal/link"
	"github.com/yanet-platform/ndisc/internal/netif"
	"github.com/yanet-platform/ndisc/internal/wire"
)

// dadStrategy is the duplicate address detection policy, fixed when the
// engine is created.
type dadStrategy interface {
	// start begins detection for an address already assigned to the
	// interface.
	start(m *Engine, st *ifaceState, addr netip.Addr) ([]outbound, error)
	// unspecifiedSolicitation handles an NS from the unspecified address
	// targeting one of our addresses.
	unspecifiedSolicitation(m *Engine, st *ifaceState, pkt *link.Packet, msg *wire.Message, target netif.Addr) ([]outbound, error)
	// ownAdvertisement handles an NA targeting one of our addresses.
	ownAdvertisement(m *Engine, st *ifaceState, target netif.Addr) error
}

func newDADStrategy(mode DADMode) dadStrategy {
	if mode == DADDisabled {
		return dadDisabled{}
	}
	return dadEnabled{}
}

type dadEntry struct {
	sent  int
	timer timerSlot
}

type dadEnabled struct{}

func (dadEnabled) start(m *Engine, st *ifaceState, addr netip.Addr) ([]outbound, error) {
	if err := st.iface.JoinGroup(xnetip.SolicitedNode(addr)); err != nil {
		return nil, err
	}
	if !st.iface.SetAddrState(addr, netif.Tentative) {
		return nil, fmt.Errorf("%w: %s", ErrNoAddr, addr)
	}

	d, ok := st.dad[addr]
	if !ok {
		d = &dadEntry{}
		st.dad[addr] = d
	}
	d.sent = 0

	m.log.Debugw("started DAD",
		zap.Int("ifindex", st.iface.Index()),
		zap.Stringer("addr", addr),
	)
	return m.dadTransmitLocked(st, addr, d)
}

func (dadEnabled) unspecifiedSolicitation(m *Engine, st *ifaceState, pkt *link.Packet, msg *wire.Message, target netif.Addr) ([]outbound, error) {
	if msg.Dst != xnetip.SolicitedNode(target.Addr) {
		return nil, DropNotSolicitedNode
	}

	if target.State == netif.Tentative {
		m.dadFailedLocked(st, target)
		return nil, DropDADCollision
	}

	// Someone probes an address we already use: defend it.
	reply, err := m.replyNALocked(st, pkt, target.Addr, xnetip.AllNodes, target.Addr, wire.FlagOverride)
	if err != nil {
		return nil, err
	}
	return []outbound{reply}, nil
}

func (dadEnabled) ownAdvertisement(m *Engine, st *ifaceState, target netif.Addr) error {
	if target.State != netif.Tentative {
		return DropOwnAdvertisement
	}

	m.dadFailedLocked(st, target)
	return DropDADCollision
}

type dadDisabled struct{}

func (dadDisabled) start(m *Engine, st *ifaceState, addr netip.Addr) ([]outbound, error) {
	if err := st.iface.JoinGroup(xnetip.SolicitedNode(addr)); err != nil {
		return nil, err
	}
	if !st.iface.SetAddrState(addr, netif.Preferred) {
		return nil, fmt.Errorf("%w: %s", ErrNoAddr, addr)
	}
	return nil, nil
}

func (dadDisabled) unspecifiedSolicitation(*Engine, *ifaceState, *link.Packet, *wire.Message, netif.Addr) ([]outbound, error) {
	return nil, DropDADDisabled
}

func (dadDisabled) ownAdvertisement(*Engine, *ifaceState, netif.Addr) error {
	return DropOwnAdvertisement
}

// dadTransmitLocked sends the next DAD probe and waits one retransmit
// interval for a collision.
func (m *Engine) dadTransmitLocked(st *ifaceState, addr netip.Addr, d *dadEntry) ([]outbound, error) {
	ifindex := st.iface.Index()
	m.armLocked(&d.timer, st.iface.RetransTimer(), func(seq uint64) {
		m.onDADTimer(ifindex, addr, seq)
	})

	pkt, err := m.buildNSLocked(st, netip.Addr{}, netip.Addr{}, addr, true)
	if err != nil {
		return nil, err
	}
	d.sent++
	return []outbound{{pkt: pkt, kind: "ns"}}, nil
}

func (m *Engine) onDADTimer(ifindex int, addr netip.Addr, seq uint64) {
	m.mu.Lock()
	out := m.dadTimerLocked(ifindex, addr, seq)
	m.mu.Unlock()

	m.transmit(out)
}

func (m *Engine) dadTimerLocked(ifindex int, addr netip.Addr, seq uint64) []outbound {
	if m.closed {
		return nil
	}
	st, ok := m.ifaces[ifindex]
	if !ok {
		return nil
	}
	d, ok := st.dad[addr]
	if !ok || d.timer.seq != seq {
		return nil
	}

	if d.sent < m.cfg.DADTransmits {
		out, err := m.dadTransmitLocked(st, addr, d)
		if err != nil {
			m.log.Debugw("failed to send DAD probe", zap.Stringer("addr", addr), zap.Error(err))
		}
		return out
	}

	d.timer.stop()
	delete(st.dad, addr)
	if st.iface.SetAddrState(addr, netif.Preferred) {
		m.log.Infow("DAD succeeded",
			zap.Int("ifindex", ifindex),
			zap.Stringer("addr", addr),
		)
	}
	return nil
}

// dadFailedLocked stops detection for a duplicated address and removes it
// from the interface. Link-local addresses stay assigned and tentative.
func (m *Engine) dadFailedLocked(st *ifaceState, target netif.Addr) {
	if d, ok := st.dad[target.Addr]; ok {
		d.timer.stop()
		delete(st.dad, target.Addr)
	}

	m.log.Warnw("duplicate address detected",
		zap.Int("ifindex", st.iface.Index()),
		zap.Stringer("addr", target.Addr),
		zap.Stringer("origin", target.Origin),
	)

	if target.Addr.IsLinkLocalUnicast() {
		return
	}
	st.iface.RemoveAddr(target.Addr)
}

// StartDAD runs duplicate address detection for an address assigned to the
// interface. The address is tentative until detection succeeds, and is
// removed if another node already uses it.
func (m *Engine) StartDAD(ifindex int, addr netip.Addr) error {
	m.mu.Lock()
	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	out, err := m.dad.start(m, st, addr)
	m.mu.Unlock()

	m.transmit(out)
	if err != nil {
		return fmt.Errorf("failed to start DAD for %s: %w", addr, err)
	}
	return nil
}

// AddAddress assigns a tentative address to the interface and starts
// duplicate address detection for it.
func (m *Engine) AddAddress(ifindex int, addr netip.Addr, origin netif.Origin, valid time.Duration, preferred time.Duration) error {
	m.mu.Lock()
	st, err := m.ifaceLocked(ifindex)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := st.iface.AddAddr(addr, origin, netif.Tentative, valid, preferred); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to add address: %w", err)
	}
	out, err := m.dad.start(m, st, addr)
	m.mu.Unlock()

	m.transmit(out)
	if err != nil {
		return fmt.Errorf("failed to start DAD for %s: %w", addr, err)
	}
	return nil
}
