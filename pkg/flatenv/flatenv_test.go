package flatenv

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bassosimone/rv32core/pkg/isa"
)

func TestWriteByteReadByteAnyLane(t *testing.T) {
	m := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	for addr := uint32(0); addr < 8; addr++ {
		if err := m.WriteByte(addr, 0xAB); err != nil {
			t.Fatalf("WriteByte(%d) error: %v", addr, err)
		}
		got, err := m.ReadByte(addr)
		if err != nil {
			t.Fatalf("ReadByte(%d) error: %v", addr, err)
		}
		if got != 0xAB {
			t.Errorf("ReadByte(%d) = 0x%02x, want 0xAB", addr, got)
		}
	}
}

func TestWriteHalfPreservesOtherLane(t *testing.T) {
	m := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	if err := m.WriteWord(0, 0xFFFFFFFF, 0xFFFFFFFF); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteHalf(0, 0x1234); err != nil {
		t.Fatal(err)
	}
	word, err := m.ReadWord(0, 0xFFFFFFFF)
	if err != nil {
		t.Fatal(err)
	}
	if word != 0xFFFF1234 {
		t.Errorf("word after WriteHalf(0, 0x1234) = 0x%08x, want 0xFFFF1234", word)
	}
}

func TestLoadReservedStoreReservedSucceedsOnce(t *testing.T) {
	m := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	addr := uint32(0x1000)
	if _, err := m.LoadReservedWord(addr); err != nil {
		t.Fatal(err)
	}
	ok, err := m.StoreReservedWord(addr, 0x99)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("first StoreReservedWord after LoadReservedWord must succeed")
	}
	word, _ := m.ReadWord(addr, 0xFFFFFFFF)
	if word != 0x99 {
		t.Errorf("memory after successful SC = 0x%x, want 0x99", word)
	}
	ok, err = m.StoreReservedWord(addr, 0x42)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second StoreReservedWord without an intervening LR must fail")
	}
}

func TestInterveningWriteInvalidatesReservation(t *testing.T) {
	m := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	addr := uint32(0x2000)
	if _, err := m.LoadReservedWord(addr); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteWord(addr, 0x1, 0xFFFFFFFF); err != nil {
		t.Fatal(err)
	}
	ok, err := m.StoreReservedWord(addr, 0x2)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("StoreReservedWord after an intervening write to the reserved address must fail")
	}
}

func TestUnalignedWordAccessIsUnaligned(t *testing.T) {
	m := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	_, err := m.ReadWord(1, 0xFFFFFFFF)
	if err != isa.Unaligned {
		t.Errorf("ReadWord(1) error = %v, want isa.Unaligned", err)
	}
}

func TestLoadImagePlacesBytesLittleEndian(t *testing.T) {
	m := New(strings.NewReader(""), &bytes.Buffer{}, nil)
	m.LoadImage([]byte{0x01, 0x02, 0x03, 0x04})
	word, err := m.ReadWord(0, 0xFFFFFFFF)
	if err != nil {
		t.Fatal(err)
	}
	if word != 0x04030201 {
		t.Errorf("word after LoadImage = 0x%08x, want 0x04030201", word)
	}
}
