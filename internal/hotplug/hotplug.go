// Package hotplug watches kernel uevents for USB device arrival and removal
// and matches devices against the known driver mapping table. It listens on
// a NETLINK_KOBJECT_UEVENT socket, the same event source udev consumes.
package hotplug

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/samcharles93/nanobridge/internal/logger"
)

// Action is the uevent action for a device.
type Action string

const (
	ActionAdd    Action = "add"
	ActionRemove Action = "remove"
)

// Mapping associates a USB vendor/product pair with a driver binary.
type Mapping struct {
	VendorID    string
	ProductID   string
	DriverPath  string
	Description string
}

// DefaultMappings is the built-in driver database.
var DefaultMappings = []Mapping{
	{"1234", "5678", "/opt/drivers/mydevice.sys", "My USB Device"},
	{"04b4", "8613", "/opt/drivers/cypress_usb.sys", "Cypress USB Controller"},
	{"0781", "5583", "/opt/drivers/sandisk.sys", "SanDisk USB Drive"},
}

// Event is one observed hot-plug notification. Driver is nil when no mapping
// matched the device.
type Event struct {
	Action    Action
	VendorID  string
	ProductID string
	DevPath   string
	Driver    *Mapping
}

// Watcher consumes kernel uevents and emits matched USB events.
type Watcher struct {
	log      logger.Logger
	mappings []Mapping
	events   chan Event
}

// NewWatcher creates a watcher using the given driver mappings; nil selects
// DefaultMappings.
func NewWatcher(mappings []Mapping, log logger.Logger) *Watcher {
	if mappings == nil {
		mappings = DefaultMappings
	}
	if log == nil {
		log = logger.Default()
	}
	return &Watcher{
		log:      log.With("component", "hotplug"),
		mappings: mappings,
		events:   make(chan Event, 16),
	}
}

// Events is the stream of matched hot-plug events. It is closed when Run
// returns.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Run blocks consuming uevents until the context is canceled. Opening the
// netlink socket requires no privileges beyond group membership on most
// systems; a failure to open it is returned immediately.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return fmt.Errorf("hotplug: open netlink socket: %w", err)
	}

	sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return fmt.Errorf("hotplug: bind netlink socket: %w", err)
	}

	// Closing the fd unblocks a pending read when the context falls.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = unix.Close(fd)
		case <-stop:
			_ = unix.Close(fd)
		}
	}()

	w.log.Info("watching for usb hotplug events")

	buf := make([]byte, 4096)
	for {
		n, err := unix.Read(fd, buf)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return fmt.Errorf("hotplug: read uevent: %w", err)
		}
		if ev, ok := w.parseUevent(buf[:n]); ok {
			select {
			case w.events <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// parseUevent decodes one NUL-separated uevent block. Only usb_device
// add/remove events with a parseable PRODUCT field are reported.
func (w *Watcher) parseUevent(raw []byte) (Event, bool) {
	fields := strings.Split(string(raw), "\x00")
	if len(fields) == 0 {
		return Event{}, false
	}

	var ev Event
	var subsystem, devtype, product string
	for _, f := range fields[1:] {
		k, v, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch k {
		case "ACTION":
			ev.Action = Action(v)
		case "SUBSYSTEM":
			subsystem = v
		case "DEVTYPE":
			devtype = v
		case "DEVPATH":
			ev.DevPath = v
		case "PRODUCT":
			product = v
		}
	}

	if subsystem != "usb" || devtype != "usb_device" {
		return Event{}, false
	}
	if ev.Action != ActionAdd && ev.Action != ActionRemove {
		return Event{}, false
	}

	// PRODUCT is vendor/product/revision in lowercase hex without padding.
	parts := strings.Split(product, "/")
	if len(parts) < 2 {
		return Event{}, false
	}
	ev.VendorID = padHex(parts[0])
	ev.ProductID = padHex(parts[1])

	ev.Driver = w.match(ev.VendorID, ev.ProductID)
	if ev.Driver != nil {
		w.log.Info("matched device",
			"action", string(ev.Action),
			"vendor", ev.VendorID,
			"product", ev.ProductID,
			"driver", ev.Driver.Description)
	} else {
		w.log.Debug("unmatched device",
			"action", string(ev.Action),
			"vendor", ev.VendorID,
			"product", ev.ProductID)
	}
	return ev, true
}

// padHex left-pads the kernel's unpadded hex ids to the conventional four
// digits.
func padHex(s string) string {
	for len(s) < 4 {
		s = "0" + s
	}
	return s
}

func (w *Watcher) match(vendorID, productID string) *Mapping {
	for i := range w.mappings {
		m := &w.mappings[i]
		if strings.EqualFold(m.VendorID, vendorID) && strings.EqualFold(m.ProductID, productID) {
			return m
		}
	}
	return nil
}
