package wire

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"
	"time"
)

// Option is a single ND option.
type Option struct {
	Type OptionType
	// Data is the option past its type and length octets, padding
	// included.
	Data []byte
}

// WalkOptions calls fn for every option in b, stopping at the first error.
//
// A zero length option or one that runs past the end of b terminates the
// walk with an error.
func WalkOptions(b []byte, fn func(opt Option) error) error {
	for len(b) > 0 {
		if len(b) < OptionHeaderLen {
			return fmt.Errorf("%w: %d trailing bytes", ErrOptionTruncated, len(b))
		}

		length := int(b[1]) * OptionUnit
		if length == 0 {
			return fmt.Errorf("%w: type %d", ErrOptionZeroLength, b[0])
		}
		if length > len(b) {
			return fmt.Errorf("%w: type %d wants %d bytes, %d left", ErrOptionTruncated, b[0], length, len(b))
		}

		if err := fn(Option{Type: OptionType(b[0]), Data: b[OptionHeaderLen:length]}); err != nil {
			return err
		}
		b = b[length:]
	}

	return nil
}

// ParseOptions returns every option in b.
func ParseOptions(b []byte) ([]Option, error) {
	var options []Option
	err := WalkOptions(b, func(opt Option) error {
		options = append(options, opt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return options, nil
}

// LinkAddr decodes a source or target link-layer address option carrying an
// address of addrLen bytes.
func (m Option) LinkAddr(addrLen int) (net.HardwareAddr, error) {
	if m.Type != OptSourceLinkAddr && m.Type != OptTargetLinkAddr {
		return nil, fmt.Errorf("%w: type %d is not a link address", ErrOptionMalformed, m.Type)
	}
	if addrLen <= 0 || len(m.Data) < addrLen {
		return nil, fmt.Errorf("%w: link address needs %d bytes, got %d", ErrOptionMalformed, addrLen, len(m.Data))
	}

	addr := make(net.HardwareAddr, addrLen)
	copy(addr, m.Data)
	return addr, nil
}

// MTU decodes an MTU option.
func (m Option) MTU() (uint32, error) {
	if m.Type != OptMTU || len(m.Data) != 6 {
		return 0, fmt.Errorf("%w: MTU option", ErrOptionMalformed)
	}

	return binary.BigEndian.Uint32(m.Data[2:6]), nil
}

// PrefixInformation is the decoded Prefix Information option.
type PrefixInformation struct {
	Prefix     netip.Prefix
	OnLink     bool
	Autonomous bool
	// Lifetimes are in seconds, InfiniteLifetime meaning forever.
	ValidLifetime     uint32
	PreferredLifetime uint32
}

// PrefixInformation decodes a Prefix Information option.
func (m Option) PrefixInformation() (*PrefixInformation, error) {
	if m.Type != OptPrefixInformation || len(m.Data) != 30 {
		return nil, fmt.Errorf("%w: prefix information option", ErrOptionMalformed)
	}

	bits := int(m.Data[0])
	if bits > 128 {
		return nil, fmt.Errorf("%w: prefix length %d", ErrOptionMalformed, bits)
	}
	addr := netip.AddrFrom16([16]byte(m.Data[14:30]))
	prefix, err := addr.Prefix(bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOptionMalformed, err)
	}

	return &PrefixInformation{
		Prefix:            prefix,
		OnLink:            m.Data[1]&PrefixFlagOnLink != 0,
		Autonomous:        m.Data[1]&PrefixFlagAutonomous != 0,
		ValidLifetime:     binary.BigEndian.Uint32(m.Data[2:6]),
		PreferredLifetime: binary.BigEndian.Uint32(m.Data[6:10]),
	}, nil
}

// SixLoWPANContext is the decoded 6LoWPAN Context option (RFC 6775).
type SixLoWPANContext struct {
	CID      uint8
	Compress bool
	// Lifetime is the valid lifetime. Zero removes the context.
	Lifetime time.Duration
	Prefix   netip.Prefix
}

// SixLoWPANContext decodes a 6LoWPAN Context option.
func (m Option) SixLoWPANContext() (*SixLoWPANContext, error) {
	if m.Type != OptSixLoWPANContext || (len(m.Data) != 14 && len(m.Data) != 22) {
		return nil, fmt.Errorf("%w: 6LoWPAN context option", ErrOptionMalformed)
	}

	bits := int(m.Data[0])
	if bits > 128 || (len(m.Data) == 14 && bits > 64) {
		return nil, fmt.Errorf("%w: context length %d", ErrOptionMalformed, bits)
	}

	var raw [16]byte
	copy(raw[:], m.Data[6:])
	prefix, err := netip.AddrFrom16(raw).Prefix(bits)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOptionMalformed, err)
	}

	return &SixLoWPANContext{
		CID:      m.Data[1] & 0x0f,
		Compress: m.Data[1]&0x10 != 0,
		Lifetime: time.Duration(binary.BigEndian.Uint16(m.Data[4:6])) * time.Minute,
		Prefix:   prefix,
	}, nil
}

// AppendLinkAddrOption appends a link-layer address option padded to the
// option unit.
func AppendLinkAddrOption(b []byte, typ OptionType, addr net.HardwareAddr) []byte {
	length := (OptionHeaderLen + len(addr) + OptionUnit - 1) / OptionUnit
	b = append(b, byte(typ), byte(length))
	b = append(b, addr...)
	for pad := length*OptionUnit - OptionHeaderLen - len(addr); pad > 0; pad-- {
		b = append(b, 0)
	}

	return b
}

// AppendPrefixInformation appends a Prefix Information option.
func AppendPrefixInformation(b []byte, pi *PrefixInformation) []byte {
	var flags uint8
	if pi.OnLink {
		flags |= PrefixFlagOnLink
	}
	if pi.Autonomous {
		flags |= PrefixFlagAutonomous
	}

	b = append(b, byte(OptPrefixInformation), 4, byte(pi.Prefix.Bits()), flags)
	b = binary.BigEndian.AppendUint32(b, pi.ValidLifetime)
	b = binary.BigEndian.AppendUint32(b, pi.PreferredLifetime)
	b = append(b, 0, 0, 0, 0)
	addr := pi.Prefix.Masked().Addr().As16()
	return append(b, addr[:]...)
}

// AppendMTU appends an MTU option.
func AppendMTU(b []byte, mtu uint32) []byte {
	b = append(b, byte(OptMTU), 1, 0, 0)
	return binary.BigEndian.AppendUint32(b, mtu)
}

// AppendSixLoWPANContext appends a 6LoWPAN Context option, lifetime
// rounded down to whole minutes.
func AppendSixLoWPANContext(b []byte, ctx *SixLoWPANContext) []byte {
	length := 2
	if ctx.Prefix.Bits() > 64 {
		length = 3
	}

	flags := ctx.CID & 0x0f
	if ctx.Compress {
		flags |= 0x10
	}

	b = append(b, byte(OptSixLoWPANContext), byte(length), byte(ctx.Prefix.Bits()), flags, 0, 0)
	b = binary.BigEndian.AppendUint16(b, uint16(ctx.Lifetime/time.Minute))
	addr := ctx.Prefix.Masked().Addr().As16()
	return append(b, addr[:(length-1)*OptionUnit]...)
}
