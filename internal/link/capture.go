package link

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

// Capture records Ethernet frames into a pcap stream.
//
// A nil *Capture discards everything.
type Capture struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	snapLen uint32
}

// NewCapture writes the pcap file header to w and returns a capture
// writing frames truncated to snapLen bytes.
func NewCapture(w io.Writer, snapLen uint32) (*Capture, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(snapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}

	capture := &Capture{
		w:       pw,
		snapLen: snapLen,
	}
	if closer, ok := w.(io.Closer); ok {
		capture.closer = closer
	}

	return capture, nil
}

// OpenCapture creates the file at path and starts a capture into it.
func OpenCapture(path string, snapLen uint32) (*Capture, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}

	capture, err := NewCapture(f, snapLen)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	return capture, nil
}

// WriteFrame records a single frame.
func (m *Capture) WriteFrame(ts time.Time, frame []byte) error {
	if m == nil {
		return nil
	}

	data := frame
	if uint32(len(data)) > m.snapLen {
		data = data[:m.snapLen]
	}
	ci := gopacket.CaptureInfo{
		Timestamp:     ts,
		CaptureLength: len(data),
		Length:        len(frame),
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.w == nil {
		return io.ErrClosedPipe
	}
	return m.w.WritePacket(ci, data)
}

// Close stops the capture, closing the underlying writer if it is a
// Closer.
func (m *Capture) Close() error {
	if m == nil {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.w = nil
	if m.closer != nil {
		return m.closer.Close()
	}
	return nil
}
