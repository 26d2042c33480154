// Package chipset enumerates PCI chipsets the bridge knows how to manage and
// tracks simulated driver load state for them. Detection reads the sysfs PCI
// tree; everything past identification is openly simulated.
package chipset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

var (
	ErrNotInitialized = errors.New("chipset: not initialized")
	ErrInvalidArg     = errors.New("chipset: invalid argument")
	ErrNotFound       = errors.New("chipset: no driver for device")
)

// Type classifies a chipset vendor family.
type Type uint32

const (
	Intel Type = iota
	AMD
	NVIDIA
	Qualcomm
	UnknownChipset
)

func (t Type) String() string {
	switch t {
	case Intel:
		return "intel"
	case AMD:
		return "amd"
	case NVIDIA:
		return "nvidia"
	case Qualcomm:
		return "qualcomm"
	default:
		return "unknown"
	}
}

// ParseType maps a vendor family name back to a Type. Unrecognised input
// maps to UnknownChipset.
func ParseType(s string) Type {
	switch s {
	case "intel":
		return Intel
	case "amd":
		return AMD
	case "nvidia":
		return NVIDIA
	case "qualcomm":
		return Qualcomm
	default:
		return UnknownChipset
	}
}

// Driver describes one detected chipset and its (simulated) driver binding.
type Driver struct {
	Name       string
	Vendor     string
	VendorID   uint32
	DeviceID   uint32
	Type       Type
	DriverPath string
	Loaded     bool
}

type knownChipset struct {
	vendorID uint32
	deviceID uint32
	typ      Type
	name     string
	vendor   string
}

var knownChipsets = []knownChipset{
	{0x8086, 0x1904, Intel, "Intel HD Graphics 520", "Intel"},
	{0x8086, 0x9D03, Intel, "Intel Sunrise Point-LP PMC", "Intel"},
	{0x8086, 0x9D14, Intel, "Intel Sunrise Point-LP PCI Express", "Intel"},
	{0x1022, 0x1480, AMD, "AMD Starship/Matisse Root Complex", "AMD"},
	{0x1022, 0x1481, AMD, "AMD Starship/Matisse IOMMU", "AMD"},
	{0x10DE, 0x0BE3, NVIDIA, "NVIDIA GeForce GTX 660M", "NVIDIA"},
	{0x10DE, 0x1180, NVIDIA, "NVIDIA GeForce GTX 680", "NVIDIA"},
	{0x17CB, 0x0106, Qualcomm, "Qualcomm Snapdragon", "Qualcomm"},
}

// Registry tracks detected chipsets and their load state.
type Registry struct {
	mu         sync.Mutex
	drivers    []*Driver
	sysfsPCI   string // overridable for tests
	driversDir string
}

// NewRegistry creates a registry scanning the real sysfs PCI tree and looking
// for driver binaries under driversDir.
func NewRegistry(driversDir string) *Registry {
	return &Registry{
		sysfsPCI:   "/sys/bus/pci/devices",
		driversDir: driversDir,
	}
}

// Detect scans the PCI device tree for known chipsets. Devices without a
// vendor/device pair in the known table are skipped; an unreadable sysfs
// tree is an I/O error, not an empty result.
func (r *Registry) Detect() ([]Driver, error) {
	entries, err := os.ReadDir(r.sysfsPCI)
	if err != nil {
		return nil, fmt.Errorf("chipset: scan pci devices: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.drivers = r.drivers[:0]
	for _, e := range entries {
		vendorID, err := readHexFile(filepath.Join(r.sysfsPCI, e.Name(), "vendor"))
		if err != nil {
			continue
		}
		deviceID, err := readHexFile(filepath.Join(r.sysfsPCI, e.Name(), "device"))
		if err != nil {
			continue
		}
		for _, k := range knownChipsets {
			if k.vendorID != vendorID || k.deviceID != deviceID {
				continue
			}
			r.drivers = append(r.drivers, &Driver{
				Name:       k.name,
				Vendor:     k.vendor,
				VendorID:   vendorID,
				DeviceID:   deviceID,
				Type:       k.typ,
				DriverPath: filepath.Join(r.driversDir, fmt.Sprintf("%04x_%04x.sys", vendorID, deviceID)),
			})
			break
		}
	}

	out := make([]Driver, len(r.drivers))
	for i, d := range r.drivers {
		out[i] = *d
	}
	return out, nil
}

// Load marks the driver for the given vendor/device pair loaded. The driver
// binary must exist on disk; nothing is actually executed.
func (r *Registry) Load(vendorID, deviceID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.drivers {
		if d.VendorID != vendorID || d.DeviceID != deviceID {
			continue
		}
		if d.Loaded {
			return nil
		}
		if _, err := os.Stat(d.DriverPath); err != nil {
			return fmt.Errorf("chipset: driver binary %s: %w", d.DriverPath, err)
		}
		d.Loaded = true
		return nil
	}
	return ErrNotFound
}

// Unload marks a previously loaded driver as unloaded.
func (r *Registry) Unload(vendorID, deviceID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, d := range r.drivers {
		if d.VendorID == vendorID && d.DeviceID == deviceID {
			d.Loaded = false
			return nil
		}
	}
	return ErrNotFound
}

// Classify maps a vendor/device pair to its chipset family without touching
// the registry state.
func Classify(vendorID, deviceID uint32) Type {
	for _, k := range knownChipsets {
		if k.vendorID == vendorID && k.deviceID == deviceID {
			return k.typ
		}
	}
	return UnknownChipset
}

// ClassifyVendor maps a PCI vendor id alone to its chipset family.
func ClassifyVendor(vendorID uint32) Type {
	switch vendorID {
	case 0x8086:
		return Intel
	case 0x1022:
		return AMD
	case 0x10DE:
		return NVIDIA
	case 0x17CB:
		return Qualcomm
	default:
		return UnknownChipset
	}
}

func readHexFile(path string) (uint32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}
