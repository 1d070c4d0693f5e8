// internal/discovery/serial/enumerator.go
package serial

import (
	"context"
	"fmt"
	"strconv"

	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
	"go.uber.org/zap"

	"mdt-discovery/internal/model"
)

// Enumerator lists the serial ports currently visible to the host. A port
// whose metadata cannot be read is still reported, with the metadata
// fields absent; metadata problems never fail the scan.
type Enumerator struct {
	logger *zap.Logger
}

// NewEnumerator creates a serial port enumerator
func NewEnumerator(logger *zap.Logger) *Enumerator {
	return &Enumerator{
		logger: logger.With(zap.String("scanner", "serial")),
	}
}

// Enumerate returns a descriptor per visible port, in the order the
// platform reports them. The detailed enumerator supplies USB metadata;
// when it fails, the plain port list serves as a fallback with names only.
func (e *Enumerator) Enumerate(ctx context.Context) ([]model.PortDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	details, err := enumerator.GetDetailedPortsList()
	if err == nil {
		descriptors := make([]model.PortDescriptor, 0, len(details))
		for _, d := range details {
			descriptors = append(descriptors, descriptorFromDetails(d))
		}
		e.logger.Debug("Enumerated serial ports", zap.Int("count", len(descriptors)))
		return descriptors, nil
	}

	e.logger.Warn("Detailed port enumeration failed, falling back to name list", zap.Error(err))

	names, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	descriptors := make([]model.PortDescriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, model.PortDescriptor{Name: name})
	}
	return descriptors, nil
}

// descriptorFromDetails converts platform port details into a descriptor.
// VID/PID arrive as hex strings; unparseable values degrade to absent.
func descriptorFromDetails(d *enumerator.PortDetails) model.PortDescriptor {
	desc := model.PortDescriptor{
		Name:    d.Name,
		Product: d.Product,
	}

	if !d.IsUSB {
		return desc
	}

	desc.SerialNumber = d.SerialNumber
	desc.VID = parseHexID(d.VID)
	desc.PID = parseHexID(d.PID)
	desc.HardwareID = hardwareID(d)
	return desc
}

// parseHexID parses a 4-digit hex identifier, returning nil when absent or
// malformed.
func parseHexID(s string) *uint16 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return nil
	}
	id := uint16(v)
	return &id
}

// hardwareID synthesizes the conventional USB hardware identifier string.
func hardwareID(d *enumerator.PortDetails) string {
	if d.VID == "" && d.PID == "" {
		return ""
	}
	id := fmt.Sprintf("USB VID:PID=%s:%s", d.VID, d.PID)
	if d.SerialNumber != "" {
		id += " SER=" + d.SerialNumber
	}
	return id
}
