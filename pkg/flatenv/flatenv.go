// Package flatenv is a minimal reference Environment: flat RAM, one
// stdin/stdout MMIO cell, no CSRs beyond what pkg/cpu already implements,
// always-enabled extensions. It exists so the core is exercisable end to
// end without every caller writing their own environment — this is the
// in-tree one, used by cmd/rv32run and by pkg/cpu's own tests.
//
// Memory access returns isa.MemoryAccessFailure rather than panicking,
// since the core's contract requires recoverable faults rather than host
// process crashes.
package flatenv

import (
	"bufio"
	"io"
	"log/slog"

	"github.com/bassosimone/rv32core/pkg/env"
	"github.com/bassosimone/rv32core/pkg/isa"
)

// stdioAddress is the MMIO cell reserved for a one-byte blocking stdin
// read (on load) / stdout write (on store).
const stdioAddress = 0xFFFFFFFC

// Memory is a flat little-endian-addressed, word-granularity RAM backed
// by a []uint32, plus the one MMIO cell and the LR/SC reservation state.
// It implements env.Environment directly; extension enable flags are all
// hardwired on, and CSR numbers beyond fflags/frm/fcsr and mvendorid/marchid
// (which pkg/cpu handles itself) are all illegal.
type Memory struct {
	env.AccountingDefaults
	env.MemoryDefaults

	ram []uint32

	reservedValid bool
	reservedAddr  uint32
	reservedWord  uint32

	stdin  *bufio.Reader
	stdout io.Writer

	log *slog.Logger
}

// WordCount is the RAM size in 32-bit words (16 MiB).
const WordCount = 1 << 22

// New builds a zeroed Memory of WordCount words, wired to stdin/stdout for
// the MMIO cell, logging bus errors at slog.LevelDebug under the "flatenv"
// module name.
func New(stdin io.Reader, stdout io.Writer, logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Memory{
		ram:    make([]uint32, WordCount),
		stdin:  bufio.NewReader(stdin),
		stdout: stdout,
		log:    logger.With("module", "flatenv"),
	}
	m.AccountingDefaults.Self = m
	m.MemoryDefaults.Self = m
	return m
}

// LoadImage copies a flat little-endian binary image into RAM starting at
// address 0, word by word, padding a trailing partial word with zero
// bytes.
func (m *Memory) LoadImage(image []byte) {
	for i := 0; i < len(image); i += 4 {
		var word uint32
		for j := 0; j < 4 && i+j < len(image); j++ {
			word |= uint32(image[i+j]) << (8 * j)
		}
		m.ram[i/4] = word
	}
}

func (m *Memory) inBounds(address uint32) bool {
	return uint64(address) < uint64(len(m.ram))*4
}

func (m *Memory) ReadWord(address, mask uint32) (uint32, error) {
	if address&3 != 0 {
		return 0, isa.Unaligned
	}
	if m.inBounds(address) {
		return m.ram[address/4], nil
	}
	if address == stdioAddress {
		b, err := m.stdin.ReadByte()
		if err != nil {
			return 0, isa.AccessFault
		}
		return uint32(b), nil
	}
	m.log.Debug("bus error on read", "address", address)
	return 0, isa.AccessFault
}

func (m *Memory) WriteWord(address, data, mask uint32) error {
	if address&3 != 0 {
		return isa.Unaligned
	}
	if m.inBounds(address) {
		idx := address / 4
		m.ram[idx] = (m.ram[idx] &^ mask) | (data & mask)
		if m.reservedValid && idx == m.reservedAddr/4 {
			m.reservedValid = false
		}
		return nil
	}
	if address == stdioAddress {
		if _, err := m.stdout.Write([]byte{byte(data)}); err != nil {
			return isa.AccessFault
		}
		return nil
	}
	m.log.Debug("bus error on write", "address", address, "data", data)
	return isa.AccessFault
}

func (m *Memory) LoadReservedWord(address uint32) (uint32, error) {
	if address&3 != 0 {
		return 0, isa.Unaligned
	}
	word, err := m.ReadWord(address, 0xFFFFFFFF)
	if err != nil {
		return 0, err
	}
	m.reservedValid = true
	m.reservedAddr = address
	m.reservedWord = word
	return word, nil
}

func (m *Memory) StoreReservedWord(address uint32, data uint32) (bool, error) {
	if address&3 != 0 {
		return false, isa.Unaligned
	}
	if !m.reservedValid || m.reservedAddr != address {
		return false, nil
	}
	current, err := m.ReadWord(address, 0xFFFFFFFF)
	if err != nil {
		return false, err
	}
	if current != m.reservedWord {
		m.reservedValid = false
		return false, nil
	}
	if err := m.WriteWord(address, data, 0xFFFFFFFF); err != nil {
		return false, err
	}
	m.reservedValid = false
	return true, nil
}

func (m *Memory) SupportsA() bool { return true }
func (m *Memory) SupportsC() bool { return true }
func (m *Memory) SupportsM() bool { return true }
func (m *Memory) EnableA() bool   { return true }
func (m *Memory) EnableC() bool   { return true }
func (m *Memory) EnableM() bool   { return true }
func (m *Memory) EnableF() bool   { return true }
func (m *Memory) EnableD() bool   { return true }
func (m *Memory) EnableQ() bool   { return true }
func (m *Memory) EnableZicsr() bool   { return true }
func (m *Memory) EnableZifence() bool { return true }

func (m *Memory) PerformECALL(guest env.GuestState) error  { return env.DefaultECALL(guest) }
func (m *Memory) PerformEBREAK(guest env.GuestState) error { return env.DefaultEBREAK(guest) }

func (m *Memory) ReadCSR(csrNumber uint32) (uint32, error)       { return env.DefaultReadCSR(csrNumber) }
func (m *Memory) WriteCSR(csrNumber uint32, value uint32) error { return env.DefaultWriteCSR(csrNumber, value) }

func (m *Memory) ReadFS() isa.ExtensionStatus  { return isa.Dirty }
func (m *Memory) WriteFS(isa.ExtensionStatus) {}

func (m *Memory) UseAccurateSingleSqrt() bool { return true }
func (m *Memory) UseAccurateDoubleSqrt() bool { return true }
func (m *Memory) UseAccurateQuadSqrt() bool   { return false }
