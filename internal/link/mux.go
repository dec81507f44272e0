package link

import (
	"fmt"
	"sync"
)

// Mux dispatches packets to per-interface senders.
type Mux struct {
	mu      sync.RWMutex
	senders map[int]Sender
}

// NewMux creates an empty multiplexer.
func NewMux() *Mux {
	return &Mux{
		senders: map[int]Sender{},
	}
}

// Add registers the sender for the given interface, replacing any
// previous one.
func (m *Mux) Add(ifindex int, sender Sender) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.senders[ifindex] = sender
}

// Remove unregisters the sender for the given interface.
func (m *Mux) Remove(ifindex int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.senders, ifindex)
}

// Send implements Sender.
func (m *Mux) Send(pkt *Packet) error {
	m.mu.RLock()
	sender, ok := m.senders[pkt.IfIndex]
	m.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownInterface, pkt.IfIndex)
	}

	return sender.Send(pkt)
}
