// internal/discovery/usb/enricher.go
package usb

import (
	"context"
	"strings"

	"github.com/google/gousb"
	"go.uber.org/zap"

	"mdt-discovery/internal/model"
)

// Enricher fills in manufacturer and product strings for ports whose
// USB-serial adapter exposes them as string descriptors. The serial
// enumerator only reports VID/PID on most platforms; the descriptors name
// the vendor, which matters when a generic adapter (e.g. Prolific) hides
// the attached instrument.
type Enricher struct {
	logger *zap.Logger
}

// NewEnricher creates a USB metadata enricher
func NewEnricher(logger *zap.Logger) *Enricher {
	return &Enricher{
		logger: logger.With(zap.String("scanner", "usb")),
	}
}

// deviceStrings holds the descriptor strings read from one USB device.
type deviceStrings struct {
	manufacturer string
	product      string
}

// Enrich fills missing Manufacturer/Product fields by matching each port's
// VID/PID against attached USB devices. Entirely best-effort: any failure
// leaves the descriptors exactly as enumerated.
func (e *Enricher) Enrich(ctx context.Context, ports []model.PortDescriptor) []model.PortDescriptor {
	wanted := make(map[uint32]bool)
	for _, p := range ports {
		if p.VID != nil && p.PID != nil && (p.Manufacturer == "" || p.Product == "") {
			wanted[key(*p.VID, *p.PID)] = true
		}
	}
	if len(wanted) == 0 {
		return ports
	}

	if err := ctx.Err(); err != nil {
		return ports
	}

	usbCtx := gousb.NewContext()
	defer func() {
		if err := usbCtx.Close(); err != nil {
			e.logger.Debug("Failed to close USB context", zap.Error(err))
		}
	}()

	descStrings := e.collectStrings(usbCtx, wanted)
	if len(descStrings) == 0 {
		return ports
	}

	for i := range ports {
		p := &ports[i]
		if p.VID == nil || p.PID == nil {
			continue
		}
		s, ok := descStrings[key(*p.VID, *p.PID)]
		if !ok {
			continue
		}
		if p.Manufacturer == "" {
			p.Manufacturer = s.manufacturer
		}
		if p.Product == "" {
			p.Product = s.product
		}
	}
	return ports
}

// collectStrings opens each matching USB device and reads its descriptor
// strings. Devices that refuse to open or to answer are skipped.
func (e *Enricher) collectStrings(usbCtx *gousb.Context, wanted map[uint32]bool) map[uint32]deviceStrings {
	devices, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return wanted[key(uint16(desc.Vendor), uint16(desc.Product))]
	})
	// OpenDevices can return both devices and an error; use what opened.
	if err != nil {
		e.logger.Debug("USB device enumeration incomplete", zap.Error(err))
	}

	found := make(map[uint32]deviceStrings)
	for _, dev := range devices {
		k := key(uint16(dev.Desc.Vendor), uint16(dev.Desc.Product))
		if _, seen := found[k]; !seen {
			found[k] = deviceStrings{
				manufacturer: readDescriptor(dev.Manufacturer),
				product:      readDescriptor(dev.Product),
			}
		}
		if err := dev.Close(); err != nil {
			e.logger.Debug("Failed to close USB device", zap.Error(err))
		}
	}
	return found
}

// readDescriptor reads one string descriptor, degrading to "" on error.
func readDescriptor(read func() (string, error)) string {
	s, err := read()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

// key packs VID/PID into one map key.
func key(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}
