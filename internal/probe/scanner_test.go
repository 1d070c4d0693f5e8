package probe

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"mdt-discovery/internal/model"
)

type fakeEnumerator struct {
	ports []model.PortDescriptor
	err   error
}

func (f *fakeEnumerator) Enumerate(ctx context.Context) ([]model.PortDescriptor, error) {
	return f.ports, f.err
}

type fakeEnricher struct {
	manufacturer string
}

func (f *fakeEnricher) Enrich(ctx context.Context, ports []model.PortDescriptor) []model.PortDescriptor {
	for i := range ports {
		if ports[i].Manufacturer == "" {
			ports[i].Manufacturer = f.manufacturer
		}
	}
	return ports
}

// openerByName routes opens to per-port fakes; unknown names fail to open.
func openerByName(ports map[string]*fakePort) PortOpener {
	return func(name string, mode *serial.Mode) (serial.Port, error) {
		if port, ok := ports[name]; ok {
			return port, nil
		}
		return nil, errors.New("could not open port: access denied")
	}
}

func newScanSetup(t *testing.T, names []string, ports map[string]*fakePort, workers int) *Scanner {
	t.Helper()
	descs := make([]model.PortDescriptor, 0, len(names))
	for _, name := range names {
		descs = append(descs, model.PortDescriptor{Name: name})
	}
	prober := newTestProber(t, testProbeConfig(), openerByName(ports))
	return NewScanner(&fakeEnumerator{ports: descs}, nil, prober, workers, zap.NewNop())
}

// TestScanMixedPorts covers the canonical scan: one port that cannot be
// opened, one silent port, and one controller that answers the first
// command. Verdict order must follow enumeration order.
func TestScanMixedPorts(t *testing.T) {
	ports := map[string]*fakePort{
		"COM4": newFakePort(nil),
		"COM5": newFakePort(map[string][]byte{
			"XR?\r": []byte("MDT693B\r"),
		}),
	}
	s := newScanSetup(t, []string{"COM3", "COM4", "COM5"}, ports, 2)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	wantOrder := []string{"COM3", "COM4", "COM5"}
	gotOrder := result.Ports()
	if len(gotOrder) != len(wantOrder) {
		t.Fatalf("expected %d verdicts, got %d", len(wantOrder), len(gotOrder))
	}
	for i, name := range wantOrder {
		if gotOrder[i] != name {
			t.Fatalf("order[%d] = %q, want %q", i, gotOrder[i], name)
		}
	}

	com3 := result.Get("COM3")
	if com3.Match || com3.OpenError == "" || com3.Reply != nil {
		t.Fatalf("COM3: want unopenable verdict, got %+v", com3)
	}

	com4 := result.Get("COM4")
	if com4.Match || com4.OpenError != "" || com4.Reply != nil {
		t.Fatalf("COM4: want silent verdict, got %+v", com4)
	}

	com5 := result.Get("COM5")
	if !com5.Match || com5.ReplyText() != "MDT693B" {
		t.Fatalf("COM5: want match with reply MDT693B, got %+v", com5)
	}

	matches := result.Matches()
	if len(matches) != 1 || matches[0].Port != "COM5" {
		t.Fatalf("expected exactly COM5 in matches, got %+v", matches)
	}
}

func TestScanEnumerationFailure(t *testing.T) {
	prober := newTestProber(t, testProbeConfig(), openerByName(nil))
	s := NewScanner(&fakeEnumerator{err: errors.New("registry unavailable")}, nil, prober, 1, zap.NewNop())

	if _, err := s.Scan(context.Background()); err == nil {
		t.Fatal("expected enumeration failure to surface")
	}
}

func TestScanNoPorts(t *testing.T) {
	s := newScanSetup(t, nil, nil, 4)

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Len() != 0 {
		t.Fatalf("expected empty result, got %d verdicts", result.Len())
	}
}

// TestScanIsIdempotent verifies that scanning twice yields the same
// verdicts; probing holds no state between scans.
func TestScanIsIdempotent(t *testing.T) {
	ports := map[string]*fakePort{
		"COM5": newFakePort(map[string][]byte{
			"XR?\r": []byte("MDT693B\r"),
		}),
	}
	s := newScanSetup(t, []string{"COM3", "COM5"}, ports, 1)

	first, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("first scan failed: %v", err)
	}
	second, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}

	for _, name := range first.Ports() {
		a, b := first.Get(name), second.Get(name)
		if a.Match != b.Match || a.ReplyText() != b.ReplyText() || (a.OpenError == "") != (b.OpenError == "") {
			t.Fatalf("%s: verdicts differ between scans: %+v vs %+v", name, a, b)
		}
	}
	if first.ScanID == second.ScanID {
		t.Fatal("each scan must get its own id")
	}
}

func TestScanEnricherMetadataFlowsToVerdicts(t *testing.T) {
	ports := map[string]*fakePort{
		"COM5": newFakePort(nil),
	}
	prober := newTestProber(t, testProbeConfig(), openerByName(ports))
	enum := &fakeEnumerator{ports: []model.PortDescriptor{{Name: "COM5"}}}
	s := NewScanner(enum, &fakeEnricher{manufacturer: "FTDI"}, prober, 1, zap.NewNop())

	result, err := s.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if got := result.Get("COM5").Manufacturer; got != "FTDI" {
		t.Fatalf("manufacturer = %q, want FTDI", got)
	}
}

func TestScanVerdictHook(t *testing.T) {
	ports := map[string]*fakePort{
		"COM4": newFakePort(nil),
		"COM5": newFakePort(map[string][]byte{
			"XR?\r": []byte("75.00\r"),
		}),
	}
	s := newScanSetup(t, []string{"COM4", "COM5"}, ports, 2)

	var mu sync.Mutex
	seen := make(map[string]bool)
	s.OnVerdict(func(v *model.ProbeVerdict) {
		mu.Lock()
		seen[v.Port] = v.Match
		mu.Unlock()
	})

	if _, err := s.Scan(context.Background()); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 {
		t.Fatalf("expected hook for every port, got %v", seen)
	}
	if seen["COM4"] || !seen["COM5"] {
		t.Fatalf("unexpected hook verdicts: %v", seen)
	}
}

func TestScanCancelledReturnsError(t *testing.T) {
	s := newScanSetup(t, []string{"COM3", "COM4"}, nil, 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := s.Scan(ctx)
	if err == nil {
		t.Fatal("expected context error from a cancelled scan")
	}
	if result != nil {
		t.Fatal("cancelled scan must not return a partial result")
	}
}
