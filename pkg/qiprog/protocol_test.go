package qiprog

import (
	"bytes"
	"errors"
	"testing"
)

func TestDecodeCapabilities(t *testing.T) {
	// The exact reply bytes of a capability query against a LPC+SPI
	// capable programmer supplying 3.3V and 1.8V.
	wire := make([]byte, capsBodyLen)
	copy(wire, []byte{
		0x01, 0x00, // instruction_set
		0x0a, 0x00, 0x00, 0x00, // bus_master = LPC|SPI
		0x00, 0x00, 0x00, 0x00, // max_direct_data
		0xe4, 0x0c, // 3300 mV
		0x08, 0x07, // 1800 mV
	})

	caps, err := DecodeCapabilities(wire)
	if err != nil {
		t.Fatalf("DecodeCapabilities() failed: %v", err)
	}
	if caps.InstructionSet != 0x0001 {
		t.Errorf("instruction_set = 0x%04x, want 0x0001", caps.InstructionSet)
	}
	if caps.BusMaster != 0x0a {
		t.Errorf("bus_master = 0x%08x, want 0x0a", uint32(caps.BusMaster))
	}
	if caps.BusMaster&BusLPC == 0 || caps.BusMaster&BusSPI == 0 {
		t.Errorf("bus_master 0x%08x should contain LPC and SPI", uint32(caps.BusMaster))
	}
	if caps.MaxDirectData != 0 {
		t.Errorf("max_direct_data = %d, want 0", caps.MaxDirectData)
	}
	volts := caps.VoltageList()
	if len(volts) != 2 || volts[0] != 3300 || volts[1] != 1800 {
		t.Errorf("voltages = %v, want [3300 1800]", volts)
	}
}

func TestCapabilitiesRoundTrip(t *testing.T) {
	caps := Capabilities{
		InstructionSet: 0x0003,
		BusMaster:      BusLPC | BusFWH,
		MaxDirectData:  256,
		Voltages:       [10]uint16{3300, 1800, 1200},
	}
	got, err := DecodeCapabilities(EncodeCapabilities(&caps))
	if err != nil {
		t.Fatalf("DecodeCapabilities() failed: %v", err)
	}
	if got != caps {
		t.Errorf("round trip changed capabilities: %+v != %+v", got, caps)
	}
}

func TestDecodeCapabilitiesShort(t *testing.T) {
	if _, err := DecodeCapabilities(make([]byte, 16)); err == nil {
		t.Error("expected error for short capabilities body")
	}
}

func TestChipIDTermination(t *testing.T) {
	// Record 0 identifies via SPI RES; records 1..8 are absent.
	wire := make([]byte, chipIDBodyLen)
	wire[0] = IDMethodSPIRes
	putLE16(0xbf, wire, 1)
	putLE32(0x4c, wire, 3)

	ids, err := DecodeChipIDs(wire)
	if err != nil {
		t.Fatalf("DecodeChipIDs() failed: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("got %d chip IDs, want 1", len(ids))
	}
	if ids[0].Method != IDMethodSPIRes || ids[0].VendorID != 0xbf || ids[0].DeviceID != 0x4c {
		t.Errorf("chip ID = %+v", ids[0])
	}
}

func TestChipIDRoundTrip(t *testing.T) {
	in := []ChipID{
		{Method: IDMethodJEDEC, VendorID: 0xbf, DeviceID: 0x4c},
		{Method: IDMethodSPIRems, VendorID: 0xef, DeviceID: 0x4016},
	}
	out, err := DecodeChipIDs(EncodeChipIDs(in))
	if err != nil {
		t.Fatalf("DecodeChipIDs() failed: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("got %d chip IDs, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("record %d: %+v != %+v", i, out[i], in[i])
		}
	}
}

func TestAddressFieldPacking(t *testing.T) {
	tests := []struct {
		addr   uint32
		hi, lo uint16
	}{
		{0xffbc0000, 0xffbc, 0x0000},
		{0x00000000, 0x0000, 0x0000},
		{0xfffffff0, 0xffff, 0xfff0},
		{0x00010002, 0x0001, 0x0002},
	}
	for _, tt := range tests {
		hi, lo := splitAddr(tt.addr)
		if hi != tt.hi || lo != tt.lo {
			t.Errorf("splitAddr(0x%08x) = 0x%04x, 0x%04x; want 0x%04x, 0x%04x",
				tt.addr, hi, lo, tt.hi, tt.lo)
		}
		if got := joinAddr(hi, lo); got != tt.addr {
			t.Errorf("joinAddr(0x%04x, 0x%04x) = 0x%08x, want 0x%08x",
				hi, lo, got, tt.addr)
		}
	}
}

func TestAddressRangeBody(t *testing.T) {
	// Scenario: top KiB of the 32-bit space.
	body := EncodeAddressRange(0xfffffc00, 0xffffffff)
	want := []byte{0x00, 0xfc, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	if !bytes.Equal(body, want) {
		t.Errorf("set_address body = % x, want % x", body, want)
	}

	start, end, err := DecodeAddressRange(body)
	if err != nil {
		t.Fatalf("DecodeAddressRange() failed: %v", err)
	}
	if start != 0xfffffc00 || end != 0xffffffff {
		t.Errorf("decoded 0x%08x..0x%08x", start, end)
	}
}

func TestEraseSizeLimits(t *testing.T) {
	if _, err := EncodeEraseSizes(nil); !errors.Is(err, ErrArgument) {
		t.Errorf("empty entry list: err = %v, want ErrArgument", err)
	}
	if _, err := EncodeEraseSizes(make([]EraseSize, MaxEraseEntries+1)); !errors.Is(err, ErrArgument) {
		t.Errorf("13 entries: err = %v, want ErrArgument", err)
	}

	in := []EraseSize{{Kind: 1, Size: 4096}, {Kind: 2, Size: 65536}}
	body, err := EncodeEraseSizes(in)
	if err != nil {
		t.Fatalf("EncodeEraseSizes() failed: %v", err)
	}
	out, err := DecodeEraseSizes(body)
	if err != nil {
		t.Fatalf("DecodeEraseSizes() failed: %v", err)
	}
	if len(out) != 2 || out[0] != in[0] || out[1] != in[1] {
		t.Errorf("round trip changed entries: %v != %v", out, in)
	}
}

func TestChipCommandRoundTrip(t *testing.T) {
	in := ChipCommand{Cmd: 0xd0, Subcmd: 0x20, Flags: 0x0102}
	out, err := DecodeChipCommand(EncodeChipCommand(in))
	if err != nil {
		t.Fatalf("DecodeChipCommand() failed: %v", err)
	}
	if out != in {
		t.Errorf("round trip changed command: %+v != %+v", out, in)
	}
}

func TestBusString(t *testing.T) {
	if s := (BusLPC | BusSPI).String(); s != "LPC SPI" {
		t.Errorf("Bus.String() = %q, want %q", s, "LPC SPI")
	}
	if s := Bus(0).String(); s != "none" {
		t.Errorf("Bus(0).String() = %q", s)
	}
}
