package cpu

import (
	"fmt"

	"github.com/bassosimone/rv32core/pkg/isa"
)

// Snapshot is the wire form of a CPU's state: 128 bytes of 32 big-endian
// u32 registers (x0 included, always 0), a float_bytes tag, and — only
// when float_bytes is nonzero — fcsr, fstatus, and 32 big-endian
// float_bytes-wide float registers. See DESIGN.md for why this uses 128
// bytes of register data rather than 256.
type Snapshot struct {
	Registers      [32]uint32
	FloatBytes     isa.FloatWidth
	Fcsr           uint8
	FStatus        isa.ExtensionStatus
	FloatRegisters [][]byte // len 32 when FloatBytes != 0, each len(FloatBytes) bytes
}

// Serialize captures c's architectural state into a Snapshot.
func (c *CPU) Serialize() Snapshot {
	s := Snapshot{
		Registers:  c.registers,
		FloatBytes: c.floatWidth,
	}
	s.Registers[0] = 0
	if c.floatWidth == isa.FloatNone {
		return s
	}
	s.Fcsr = c.fcsr
	s.FStatus = c.fstatus
	s.FloatRegisters = make([][]byte, 32)
	for i := uint32(0); i < 32; i++ {
		buf := make([]byte, c.floatWidth)
		copy(buf, c.floatRegisters[i][:c.floatWidth])
		s.FloatRegisters[i] = buf
	}
	return s
}

// EncodeSnapshot packs s into the flat byte wire format: registers, then
// the float_bytes tag, then (conditionally) fcsr, fstatus,
// float_registers.
func EncodeSnapshot(s Snapshot) []byte {
	out := make([]byte, 0, 128+1+2+int(s.FloatBytes)*32)
	for _, r := range s.Registers {
		out = append(out, byte(r>>24), byte(r>>16), byte(r>>8), byte(r))
	}
	out = append(out, byte(s.FloatBytes))
	if s.FloatBytes == isa.FloatNone {
		return out
	}
	out = append(out, s.Fcsr, byte(s.FStatus))
	for _, reg := range s.FloatRegisters {
		out = append(out, reg...)
	}
	return out
}

// DecodeSnapshot unpacks the wire format EncodeSnapshot produces,
// validating float_bytes against expectedFloatWidth (invalid-value error)
// and the registers/float_registers lengths (invalid-length error).
func DecodeSnapshot(expectedFloatWidth isa.FloatWidth, data []byte) (Snapshot, error) {
	if len(data) < 128+1 {
		return Snapshot{}, fmt.Errorf("cpu: snapshot too short: got %d bytes, need at least %d", len(data), 128+1)
	}
	var s Snapshot
	for i := 0; i < 32; i++ {
		off := i * 4
		s.Registers[i] = uint32(data[off])<<24 | uint32(data[off+1])<<16 | uint32(data[off+2])<<8 | uint32(data[off+3])
	}
	s.Registers[0] = 0
	floatBytes := isa.FloatWidth(data[128])
	if floatBytes != expectedFloatWidth {
		return Snapshot{}, fmt.Errorf("cpu: snapshot float_bytes=%d does not match this configuration's float_bytes=%d", floatBytes, expectedFloatWidth)
	}
	s.FloatBytes = floatBytes
	if floatBytes == isa.FloatNone {
		if len(data) != 129 {
			return Snapshot{}, fmt.Errorf("cpu: expected 129 bytes for a floatless snapshot, got %d", len(data))
		}
		return s, nil
	}

	rest := data[129:]
	if len(rest) < 2 {
		return Snapshot{}, fmt.Errorf("cpu: snapshot truncated before fcsr/fstatus")
	}
	s.Fcsr = rest[0]
	s.FStatus = isa.ExtensionStatus(rest[1])
	floatRegs := rest[2:]
	wantLen := int(floatBytes) * 32
	if len(floatRegs) != wantLen {
		return Snapshot{}, fmt.Errorf("cpu: expected %d bytes of float register data, got %d", wantLen, len(floatRegs))
	}
	s.FloatRegisters = make([][]byte, 32)
	for i := 0; i < 32; i++ {
		buf := make([]byte, floatBytes)
		copy(buf, floatRegs[i*int(floatBytes):(i+1)*int(floatBytes)])
		s.FloatRegisters[i] = buf
	}
	return s, nil
}

// Restore overwrites c's architectural state from s. c's own floatWidth
// must already equal s.FloatBytes (DecodeSnapshot enforces this against
// the caller-supplied expectedFloatWidth, but a Snapshot built by hand
// could disagree, so Restore checks again).
func (c *CPU) Restore(s Snapshot) error {
	if s.FloatBytes != c.floatWidth {
		return fmt.Errorf("cpu: cannot restore a %d-byte-float snapshot into a %d-byte-float CPU", s.FloatBytes, c.floatWidth)
	}
	c.registers = s.Registers
	c.registers[0] = 0
	if c.floatWidth == isa.FloatNone {
		return nil
	}
	c.fcsr = s.Fcsr
	c.fstatus = s.FStatus
	for i := 0; i < 32 && i < len(s.FloatRegisters); i++ {
		var buf [16]byte
		copy(buf[:c.floatWidth], s.FloatRegisters[i])
		c.floatRegisters[i] = buf
	}
	return nil
}
