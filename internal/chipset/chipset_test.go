package chipset

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeSysfsDevice lays out one fake PCI device directory.
func writeSysfsDevice(t *testing.T, root, addr string, vendorID, deviceID string) {
	t.Helper()
	dir := filepath.Join(root, addr)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "vendor"), []byte(vendorID+"\n"), 0o644); err != nil {
		t.Fatalf("write vendor: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "device"), []byte(deviceID+"\n"), 0o644); err != nil {
		t.Fatalf("write device: %v", err)
	}
}

func newTestRegistry(t *testing.T) (*Registry, string, string) {
	t.Helper()
	sysfs := t.TempDir()
	drivers := t.TempDir()
	r := NewRegistry(drivers)
	r.sysfsPCI = sysfs
	return r, sysfs, drivers
}

func TestDetectKnownChipsets(t *testing.T) {
	t.Parallel()

	r, sysfs, drivers := newTestRegistry(t)
	writeSysfsDevice(t, sysfs, "0000:00:02.0", "0x8086", "0x1904")
	writeSysfsDevice(t, sysfs, "0000:01:00.0", "0x10de", "0x1180")
	writeSysfsDevice(t, sysfs, "0000:02:00.0", "0xdead", "0xbeef") // not in the table

	got, err := r.Detect()
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("detected %d chipsets, want 2", len(got))
	}

	byVendor := map[uint32]Driver{}
	for _, d := range got {
		byVendor[d.VendorID] = d
	}
	intel, ok := byVendor[0x8086]
	if !ok || intel.Type != Intel {
		t.Fatalf("intel chipset missing: %+v", byVendor)
	}
	if intel.Name != "Intel HD Graphics 520" {
		t.Fatalf("intel name: %s", intel.Name)
	}
	wantPath := filepath.Join(drivers, "8086_1904.sys")
	if intel.DriverPath != wantPath {
		t.Fatalf("driver path: got %s, want %s", intel.DriverPath, wantPath)
	}
	if nv, ok := byVendor[0x10DE]; !ok || nv.Type != NVIDIA {
		t.Fatalf("nvidia chipset missing: %+v", byVendor)
	}
}

func TestDetectMissingSysfs(t *testing.T) {
	t.Parallel()

	r := NewRegistry(t.TempDir())
	r.sysfsPCI = filepath.Join(t.TempDir(), "absent")
	if _, err := r.Detect(); err == nil {
		t.Fatal("detect on missing sysfs tree succeeded")
	}
}

func TestLoadRequiresDriverBinary(t *testing.T) {
	t.Parallel()

	r, sysfs, drivers := newTestRegistry(t)
	writeSysfsDevice(t, sysfs, "0000:00:02.0", "0x8086", "0x1904")
	if _, err := r.Detect(); err != nil {
		t.Fatalf("detect: %v", err)
	}

	if err := r.Load(0x8086, 0x1904); err == nil {
		t.Fatal("load without driver binary succeeded")
	}

	binary := filepath.Join(drivers, "8086_1904.sys")
	if err := os.WriteFile(binary, []byte("driver"), 0o644); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	if err := r.Load(0x8086, 0x1904); err != nil {
		t.Fatalf("load: %v", err)
	}
	// Idempotent once loaded.
	if err := r.Load(0x8086, 0x1904); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if err := r.Unload(0x8086, 0x1904); err != nil {
		t.Fatalf("unload: %v", err)
	}
	if err := r.Unload(0x1022, 0x1480); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unload unknown device: got %v, want %v", err, ErrNotFound)
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if got := Classify(0x1022, 0x1480); got != AMD {
		t.Fatalf("classify amd: %s", got)
	}
	if got := Classify(0xdead, 0xbeef); got != UnknownChipset {
		t.Fatalf("classify unknown: %s", got)
	}
	if got := ClassifyVendor(0x17CB); got != Qualcomm {
		t.Fatalf("classify vendor: %s", got)
	}
}

func TestParseTypeRoundTrip(t *testing.T) {
	t.Parallel()

	for typ := Intel; typ <= Qualcomm; typ++ {
		if got := ParseType(typ.String()); got != typ {
			t.Fatalf("round trip %s: got %s", typ, got)
		}
	}
	if got := ParseType("acme"); got != UnknownChipset {
		t.Fatalf("unknown vendor: %s", got)
	}
}
