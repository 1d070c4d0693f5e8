package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"mdt-discovery/internal/config"
	"mdt-discovery/internal/model"
	"mdt-discovery/internal/probe"
)

func testConfig() *config.Config {
	return &config.Config{
		Probe: config.ProbeConfig{
			BaudRate:      115200,
			ReadTimeout:   10 * time.Millisecond,
			SettleDelay:   0,
			ReadSize:      1024,
			Commands:      config.DefaultCommands(),
			MaxConcurrent: 2,
			USBEnrich:     false,
			Signature: config.SignatureConfig{
				Tokens:       []string{"MDT", "THOR"},
				ModelPattern: "69[34]",
			},
		},
	}
}

type stubEnumerator struct {
	ports []model.PortDescriptor
}

func (s *stubEnumerator) Enumerate(ctx context.Context) ([]model.PortDescriptor, error) {
	return s.ports, nil
}

// stubPort answers every command with the same reply.
type stubPort struct {
	mu      sync.Mutex
	reply   []byte
	pending []byte
}

func (s *stubPort) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append([]byte(nil), s.reply...)
	return len(p), nil
}

func (s *stubPort) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

func (s *stubPort) Close() error                                  { return nil }
func (s *stubPort) SetMode(mode *serial.Mode) error               { return nil }
func (s *stubPort) Drain() error                                  { return nil }
func (s *stubPort) ResetInputBuffer() error                       { return nil }
func (s *stubPort) ResetOutputBuffer() error                      { return nil }
func (s *stubPort) SetDTR(dtr bool) error                         { return nil }
func (s *stubPort) SetRTS(rts bool) error                         { return nil }
func (s *stubPort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return &serial.ModemStatusBits{}, nil }
func (s *stubPort) SetReadTimeout(t time.Duration) error          { return nil }
func (s *stubPort) Break(d time.Duration) error                   { return nil }

type recordingSink struct {
	mu     sync.Mutex
	events []string
}

func (r *recordingSink) Emit(eventType, source string, data map[string]interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
}

func (r *recordingSink) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func testOpener(replies map[string][]byte) probe.PortOpener {
	return func(name string, mode *serial.Mode) (serial.Port, error) {
		reply, ok := replies[name]
		if !ok {
			return nil, errors.New("could not open port: access denied")
		}
		return &stubPort{reply: reply}, nil
	}
}

func TestScanRecordsLastResult(t *testing.T) {
	enum := &stubEnumerator{ports: []model.PortDescriptor{
		{Name: "COM3"},
		{Name: "COM5", Manufacturer: "Prolific"},
	}}
	svc := NewScanService(testConfig(), zap.NewNop(), nil,
		WithEnumerator(enum),
		WithPortOpener(testOpener(map[string][]byte{
			"COM5": []byte("MDT693B\r"),
		})),
	)

	if svc.LastResult() != nil {
		t.Fatal("no result should exist before the first scan")
	}

	result, err := svc.Scan(context.Background(), ScanOptions{})
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if result.Len() != 2 {
		t.Fatalf("expected 2 verdicts, got %d", result.Len())
	}
	if !result.Get("COM5").Match {
		t.Fatal("COM5 should match")
	}
	if result.Get("COM3").OpenError == "" {
		t.Fatal("COM3 should carry an open error")
	}
	if svc.LastResult() != result {
		t.Fatal("LastResult must return the completed scan")
	}
}

func TestScanEmitsLifecycleEvents(t *testing.T) {
	sink := &recordingSink{}
	enum := &stubEnumerator{ports: []model.PortDescriptor{{Name: "COM5"}}}
	svc := NewScanService(testConfig(), zap.NewNop(), sink,
		WithEnumerator(enum),
		WithPortOpener(testOpener(map[string][]byte{"COM5": []byte("75.00\r")})),
	)

	if _, err := svc.Scan(context.Background(), ScanOptions{}); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	got := sink.types()
	if len(got) != 3 {
		t.Fatalf("expected scan_started, port_probed, scan_completed; got %v", got)
	}
	if got[0] != "scan_started" || got[1] != "port_probed" || got[2] != "scan_completed" {
		t.Fatalf("unexpected event order: %v", got)
	}
}

func TestScanOptionOverrides(t *testing.T) {
	svc := NewScanService(testConfig(), zap.NewNop(), nil)

	cfg := svc.probeConfig(ScanOptions{BaudRate: 9600, ReadTimeout: time.Second, Workers: 8})
	if cfg.BaudRate != 9600 || cfg.ReadTimeout != time.Second || cfg.MaxConcurrent != 8 {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	cfg = svc.probeConfig(ScanOptions{})
	if cfg.BaudRate != 115200 || cfg.ReadTimeout != 10*time.Millisecond || cfg.MaxConcurrent != 2 {
		t.Fatalf("zero options must fall back to configuration: %+v", cfg)
	}
}

func TestScanRejectsInvalidSignature(t *testing.T) {
	cfg := testConfig()
	cfg.Probe.Signature.ModelPattern = "69[34"
	svc := NewScanService(cfg, zap.NewNop(), nil,
		WithEnumerator(&stubEnumerator{}),
	)

	if _, err := svc.Scan(context.Background(), ScanOptions{}); err == nil {
		t.Fatal("expected classifier compile error")
	}
}

func TestListPorts(t *testing.T) {
	enum := &stubEnumerator{ports: []model.PortDescriptor{
		{Name: "ttyUSB0"}, {Name: "ttyUSB1"},
	}}
	svc := NewScanService(testConfig(), zap.NewNop(), nil, WithEnumerator(enum))

	ports, err := svc.ListPorts(context.Background())
	if err != nil {
		t.Fatalf("ListPorts failed: %v", err)
	}
	if len(ports) != 2 || ports[0].Name != "ttyUSB0" {
		t.Fatalf("unexpected ports: %+v", ports)
	}
}
