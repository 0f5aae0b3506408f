package qiprog

import (
	"bytes"
	"errors"
	"testing"
)

// newLoopbackFixture builds the full in-process wire: host marshaller →
// translator → simulated chip. It returns the host-side device and the
// simulator driver for inspection.
func newLoopbackFixture(t *testing.T, opts SimOptions) (*Device, *simDriver) {
	t.Helper()
	ctx, err := Init()
	if err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	t.Cleanup(func() { ctx.Exit() })

	inner, err := NewSimDevice(ctx, opts)
	if err != nil {
		t.Fatalf("NewSimDevice() failed: %v", err)
	}
	dev, err := NewLoopbackDevice(ctx, inner, 64)
	if err != nil {
		t.Fatalf("NewLoopbackDevice() failed: %v", err)
	}
	if err := dev.Open(); err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	return dev, inner.drv.(*simDriver)
}

// topImage builds a patterned chip image occupying the top of the 32-bit
// address space.
func topImage(size int) SimOptions {
	img := make([]byte, size)
	for i := range img {
		img[i] = byte(i*13 + 7)
	}
	return SimOptions{Image: img, Base: uint32(0xffffffff - uint64(size) + 1)}
}

func TestLoopbackCapabilities(t *testing.T) {
	dev, _ := newLoopbackFixture(t, SimOptions{
		Capabilities: Capabilities{
			InstructionSet: 1,
			BusMaster:      BusLPC | BusSPI,
			Voltages:       [10]uint16{3300, 1800},
		},
	})

	caps, err := dev.Capabilities()
	if err != nil {
		t.Fatalf("Capabilities() failed: %v", err)
	}
	if caps.BusMaster != BusLPC|BusSPI {
		t.Errorf("bus_master = %v", caps.BusMaster)
	}
	if volts := caps.VoltageList(); len(volts) != 2 || volts[0] != 3300 || volts[1] != 1800 {
		t.Errorf("voltages = %v, want [3300 1800]", volts)
	}
}

func TestLoopbackStress(t *testing.T) {
	// The single-cycle flow of the exerciser, end to end over the wire
	// codec.
	size := 1 << 16
	opts := topImage(size)
	dev, _ := newLoopbackFixture(t, opts)

	if err := dev.SetBus(BusLPC); err != nil {
		t.Fatalf("SetBus() failed: %v", err)
	}
	ids, err := dev.ReadChipID()
	if err != nil {
		t.Fatalf("ReadChipID() failed: %v", err)
	}
	if len(ids) != 1 || ids[0].VendorID != 0xbf || ids[0].DeviceID != 0x4c {
		t.Errorf("ids = %+v", ids)
	}

	const scratch = 0xfffffff0
	if err := dev.Write32(scratch, 0x00c0ffee); err != nil {
		t.Fatalf("Write32() failed: %v", err)
	}
	r32, err := dev.Read32(scratch)
	if err != nil {
		t.Fatalf("Read32() failed: %v", err)
	}
	if r32 != 0x00c0ffee {
		t.Errorf("Read32() = 0x%08x, want 0x00c0ffee", r32)
	}
	r8, err := dev.Read8(scratch)
	if err != nil {
		t.Fatalf("Read8() failed: %v", err)
	}
	if r8 != 0xee {
		t.Errorf("Read8() = 0x%02x, want 0xee", r8)
	}
	r16, err := dev.Read16(scratch)
	if err != nil {
		t.Fatalf("Read16() failed: %v", err)
	}
	if r16 != 0xffee {
		t.Errorf("Read16() = 0x%04x, want 0xffee", r16)
	}
}

func TestLoopbackBulkReadTopKiB(t *testing.T) {
	opts := topImage(1 << 16)
	dev, _ := newLoopbackFixture(t, opts)

	const top = uint32(0xffffffff)
	base := top - 1023

	if err := dev.SetAddress(base, top); err != nil {
		t.Fatalf("SetAddress() failed: %v", err)
	}
	buf := make([]byte, 1024)
	if err := dev.ReadN(base, buf); err != nil {
		t.Fatalf("ReadN() failed: %v", err)
	}

	want := opts.Image[len(opts.Image)-1024:]
	if !bytes.Equal(buf, want) {
		t.Error("bulk read does not match chip contents")
	}
	if dev.window.pread != 0x100000000 {
		t.Errorf("pread = 0x%x, want 0x100000000", dev.window.pread)
	}
}

func TestLoopbackOverrunInvariance(t *testing.T) {
	opts := topImage(1 << 14)
	dev, _ := newLoopbackFixture(t, opts)

	const size = 1024
	const top = uint32(0xffffffff)
	base := top - size + 1

	ref := make([]byte, size)
	if err := dev.SetAddress(base, top); err != nil {
		t.Fatalf("SetAddress() failed: %v", err)
	}
	if err := dev.ReadN(base, ref); err != nil {
		t.Fatalf("reference ReadN() failed: %v", err)
	}

	// Declare the whole KiB but consume only 15 bytes: bytes 15..1023 of
	// the buffer must keep their pre-call values.
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = ^ref[i]
	}
	if err := dev.SetAddress(base, top); err != nil {
		t.Fatalf("SetAddress() failed: %v", err)
	}
	if err := dev.ReadN(base, buf[:15]); err != nil {
		t.Fatalf("short ReadN() failed: %v", err)
	}
	for i := 0; i < 15; i++ {
		if buf[i] != ref[i] {
			t.Fatalf("failed to re-read (byte %d)", i)
		}
	}
	for i := 15; i < size; i++ {
		if buf[i] != ^ref[i] {
			t.Fatalf("buffer overflow (byte %d)", i)
		}
	}

	// Resume without an intervening SET_ADDRESS: the leftover of the
	// last endpoint packet feeds the next call first.
	if err := dev.ReadN(base+15, buf[15:size/2]); err != nil {
		t.Fatalf("resumed ReadN() failed: %v", err)
	}
	for i := 15; i < size/2; i++ {
		if buf[i] != ref[i] {
			t.Fatalf("read resumed incorrectly (byte %d)", i)
		}
	}

	// A fresh window discards buffered read-ahead entirely.
	if err := dev.SetAddress(base, top); err != nil {
		t.Fatalf("SetAddress() failed: %v", err)
	}
	if err := dev.ReadN(base, buf); err != nil {
		t.Fatalf("full ReadN() failed: %v", err)
	}
	if !bytes.Equal(buf, ref) {
		t.Error("buffer was not discarded")
	}
}

func TestLoopbackSplitReadEqualsWholeRead(t *testing.T) {
	opts := topImage(1 << 13)
	dev, _ := newLoopbackFixture(t, opts)

	const size = 2048
	const top = uint32(0xffffffff)
	base := top - size + 1

	whole := make([]byte, size)
	if err := dev.ReadN(base, whole); err != nil {
		t.Fatalf("whole ReadN() failed: %v", err)
	}

	// Any decomposition of the range must concatenate to the same bytes.
	splits := []int{1, 14, 64, 65, 500, 1024}
	for _, first := range splits {
		dev2, _ := newLoopbackFixture(t, opts)
		got := make([]byte, size)
		if err := dev2.ReadN(base, got[:first]); err != nil {
			t.Fatalf("split %d: first ReadN() failed: %v", first, err)
		}
		if err := dev2.ReadN(base+uint32(first), got[first:]); err != nil {
			t.Fatalf("split %d: second ReadN() failed: %v", first, err)
		}
		if !bytes.Equal(got, whole) {
			t.Errorf("split at %d differs from whole read", first)
		}
	}
}

func TestLoopbackContiguousReadsOneSetAddress(t *testing.T) {
	opts := topImage(1 << 13)
	dev, sim := newLoopbackFixture(t, opts)

	const top = uint32(0xffffffff)
	base := top - 2047

	if err := dev.SetAddress(base, top); err != nil {
		t.Fatalf("SetAddress() failed: %v", err)
	}
	before := sim.setAddrs

	buf := make([]byte, 2048)
	for off := 0; off < 2048; off += 256 {
		if err := dev.ReadN(base+uint32(off), buf[off:off+256]); err != nil {
			t.Fatalf("ReadN() at +%d failed: %v", off, err)
		}
	}
	if sim.setAddrs != before {
		t.Errorf("contiguous stream issued %d extra SET_ADDRESS requests",
			sim.setAddrs-before)
	}
}

func TestLoopbackBulkWrite(t *testing.T) {
	opts := topImage(1 << 13)
	dev, _ := newLoopbackFixture(t, opts)

	const size = 1000 // deliberately not a packet multiple
	const top = uint32(0xffffffff)
	base := top - 4095

	src := make([]byte, size)
	for i := range src {
		src[i] = byte(i ^ 0x5a)
	}
	if err := dev.SetAddress(base, base+size-1); err != nil {
		t.Fatalf("SetAddress() failed: %v", err)
	}
	if err := dev.WriteN(base, src); err != nil {
		t.Fatalf("WriteN() failed: %v", err)
	}

	got := make([]byte, size)
	if err := dev.ReadN(base, got); err != nil {
		t.Fatalf("ReadN() failed: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Error("written bytes did not land on the chip")
	}
}

func TestLoopbackSetClock(t *testing.T) {
	dev, _ := newLoopbackFixture(t, SimOptions{})
	actual, err := dev.SetClock(33000)
	if err != nil {
		t.Fatalf("SetClock() failed: %v", err)
	}
	if actual != 33000 {
		t.Errorf("actual clock = %d, want 33000", actual)
	}
}

func TestLoopbackStallSurfacesAsDeviceError(t *testing.T) {
	dev, _ := newLoopbackFixture(t, SimOptions{})
	// The default simulator rejects buses it does not master.
	err := dev.SetBus(BusBDM17)
	if !errors.Is(err, ErrDevice) {
		t.Fatalf("SetBus(BDM17): err = %v, want ErrDevice", err)
	}
}
