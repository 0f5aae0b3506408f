package chipdb

import "testing"

func TestLookup(t *testing.T) {
	chip, ok := Lookup(0xbf, 0x4c)
	if !ok {
		t.Fatal("SST49LF160C not found")
	}
	if chip.Name != "SST49LF160C" || chip.Size != 2<<20 {
		t.Errorf("chip = %+v", chip)
	}

	if _, ok := Lookup(0x00, 0x00); ok {
		t.Error("lookup of 0:0 should fail")
	}
}

func TestAllIsACopy(t *testing.T) {
	a := All()
	if len(a) == 0 {
		t.Fatal("empty chip list")
	}
	a[0].Name = "clobbered"
	if b := All(); b[0].Name == "clobbered" {
		t.Error("All() exposes internal storage")
	}
}
