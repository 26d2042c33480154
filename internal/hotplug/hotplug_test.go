package hotplug

import (
	"strings"
	"testing"
)

func uevent(pairs ...string) []byte {
	return []byte("add@/devices/usb1\x00" + strings.Join(pairs, "\x00"))
}

func TestParseUeventMatchesMapping(t *testing.T) {
	t.Parallel()

	w := NewWatcher(nil, nil)
	raw := uevent(
		"ACTION=add",
		"SUBSYSTEM=usb",
		"DEVTYPE=usb_device",
		"DEVPATH=/devices/pci0000:00/usb1/1-2",
		"PRODUCT=4b4/8613/100",
	)

	ev, ok := w.parseUevent(raw)
	if !ok {
		t.Fatal("event not parsed")
	}
	if ev.Action != ActionAdd {
		t.Fatalf("action: %s", ev.Action)
	}
	if ev.VendorID != "04b4" || ev.ProductID != "8613" {
		t.Fatalf("ids not padded: %s:%s", ev.VendorID, ev.ProductID)
	}
	if ev.Driver == nil {
		t.Fatal("known device not matched")
	}
	if ev.Driver.Description != "Cypress USB Controller" {
		t.Fatalf("wrong mapping: %+v", ev.Driver)
	}
}

func TestParseUeventUnknownDevice(t *testing.T) {
	t.Parallel()

	w := NewWatcher(nil, nil)
	raw := uevent(
		"ACTION=remove",
		"SUBSYSTEM=usb",
		"DEVTYPE=usb_device",
		"DEVPATH=/devices/pci0000:00/usb1/1-3",
		"PRODUCT=ffff/eeee/1",
	)

	ev, ok := w.parseUevent(raw)
	if !ok {
		t.Fatal("event not parsed")
	}
	if ev.Action != ActionRemove {
		t.Fatalf("action: %s", ev.Action)
	}
	if ev.Driver != nil {
		t.Fatalf("unknown device matched driver: %+v", ev.Driver)
	}
}

func TestParseUeventFilters(t *testing.T) {
	t.Parallel()

	w := NewWatcher(nil, nil)

	tests := []struct {
		name string
		raw  []byte
	}{
		{"wrong subsystem", uevent("ACTION=add", "SUBSYSTEM=block", "DEVTYPE=usb_device", "PRODUCT=1/2/3")},
		{"interface not device", uevent("ACTION=add", "SUBSYSTEM=usb", "DEVTYPE=usb_interface", "PRODUCT=1/2/3")},
		{"bind action", uevent("ACTION=bind", "SUBSYSTEM=usb", "DEVTYPE=usb_device", "PRODUCT=1/2/3")},
		{"missing product", uevent("ACTION=add", "SUBSYSTEM=usb", "DEVTYPE=usb_device")},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := w.parseUevent(tt.raw); ok {
				t.Fatal("filtered event parsed")
			}
		})
	}
}

func TestCustomMappings(t *testing.T) {
	t.Parallel()

	custom := []Mapping{{VendorID: "abcd", ProductID: "0001", DriverPath: "/opt/drivers/custom.sys", Description: "Custom"}}
	w := NewWatcher(custom, nil)

	if m := w.match("abcd", "0001"); m == nil || m.Description != "Custom" {
		t.Fatalf("custom mapping not matched: %+v", m)
	}
	if m := w.match("04b4", "8613"); m != nil {
		t.Fatalf("default mapping leaked into custom table: %+v", m)
	}
}
