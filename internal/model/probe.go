// internal/model/probe.go
package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// PortDescriptor is an immutable snapshot of one candidate serial port,
// taken at enumeration time. Metadata fields are best-effort: a port with
// no USB ancestry simply has them empty.
type PortDescriptor struct {
	Name         string  `json:"name"`
	Manufacturer string  `json:"manufacturer,omitempty"`
	Product      string  `json:"product,omitempty"`
	VID          *uint16 `json:"vid,omitempty"`
	PID          *uint16 `json:"pid,omitempty"`
	SerialNumber string  `json:"serial_number,omitempty"`
	HardwareID   string  `json:"hwid,omitempty"`
}

// ProbeAttempt is one command/response round-trip against a port. It only
// lives for the duration of a single probe sequence.
type ProbeAttempt struct {
	Command         []byte
	RawReply        []byte
	NormalizedReply string
}

// ProbeVerdict is the final outcome for one port. If OpenError is set the
// port could not be opened and the verdict carries no evidence.
type ProbeVerdict struct {
	Port         string           `json:"port"`
	Match        bool             `json:"match"`
	Reply        *string          `json:"reply"`
	Manufacturer string           `json:"manufacturer,omitempty"`
	Product      string           `json:"product,omitempty"`
	VID          *uint16          `json:"vid,omitempty"`
	PID          *uint16          `json:"pid,omitempty"`
	HardwareID   string           `json:"hwid,omitempty"`
	OpenError    string           `json:"open_error,omitempty"`
	Voltage      *decimal.Decimal `json:"voltage,omitempty"`
}

// NewVerdict creates a verdict pre-filled with the descriptor metadata.
func NewVerdict(desc PortDescriptor) *ProbeVerdict {
	return &ProbeVerdict{
		Port:         desc.Name,
		Manufacturer: desc.Manufacturer,
		Product:      desc.Product,
		VID:          desc.VID,
		PID:          desc.PID,
		HardwareID:   desc.HardwareID,
	}
}

// SetReply records evidence text on the verdict.
func (v *ProbeVerdict) SetReply(text string) {
	v.Reply = &text
}

// ReplyText returns the evidence text, or "" when none was recorded.
func (v *ProbeVerdict) ReplyText() string {
	if v.Reply == nil {
		return ""
	}
	return *v.Reply
}

// ScanResult maps port names to verdicts for one scan invocation.
// Insertion order follows enumeration order and is preserved both for the
// human-readable summary and for the serialized document.
type ScanResult struct {
	ScanID    string
	StartedAt time.Time
	Duration  time.Duration

	order    []string
	verdicts map[string]*ProbeVerdict
}

// NewScanResult creates an empty result set for one scan.
func NewScanResult(scanID string) *ScanResult {
	return &ScanResult{
		ScanID:    scanID,
		StartedAt: time.Now(),
		verdicts:  make(map[string]*ProbeVerdict),
	}
}

// Add stores a verdict, keyed by port name. The first verdict for a port
// wins; enumeration never yields duplicate names within one scan.
func (r *ScanResult) Add(v *ProbeVerdict) {
	if v == nil {
		return
	}
	if _, exists := r.verdicts[v.Port]; exists {
		return
	}
	r.order = append(r.order, v.Port)
	r.verdicts[v.Port] = v
}

// Get returns the verdict for a port name, or nil.
func (r *ScanResult) Get(name string) *ProbeVerdict {
	return r.verdicts[name]
}

// Ports returns the port names in enumeration order.
func (r *ScanResult) Ports() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Len returns the number of verdicts.
func (r *ScanResult) Len() int {
	return len(r.order)
}

// Matches returns the verdicts that identified a device, in enumeration order.
func (r *ScanResult) Matches() []*ProbeVerdict {
	var out []*ProbeVerdict
	for _, name := range r.order {
		if v := r.verdicts[name]; v.Match {
			out = append(out, v)
		}
	}
	return out
}

// MarshalJSON encodes the result as an object keyed by port name, keeping
// enumeration order. This is the persisted document layout.
func (r *ScanResult) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(r.verdicts[name])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a persisted document. Port order follows the
// document's key order.
func (r *ScanResult) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return errors.New("scan result document must be a JSON object")
	}
	r.order = nil
	r.verdicts = make(map[string]*ProbeVerdict)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name := keyTok.(string)
		var v ProbeVerdict
		if err := dec.Decode(&v); err != nil {
			return err
		}
		r.order = append(r.order, name)
		r.verdicts[name] = &v
	}
	_, err = dec.Token() // closing brace
	return err
}
