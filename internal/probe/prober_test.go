package probe

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
)

func testProbeConfig() config.ProbeConfig {
	return config.ProbeConfig{
		BaudRate:      115200,
		ReadTimeout:   10 * time.Millisecond,
		SettleDelay:   0,
		ReadSize:      1024,
		Commands:      config.DefaultCommands(),
		MaxConcurrent: 1,
		Signature: config.SignatureConfig{
			Tokens:       []string{"MDT", "THOR"},
			ModelPattern: "69[34]",
		},
	}
}

func newTestProber(t *testing.T, cfg config.ProbeConfig, open PortOpener) *Prober {
	t.Helper()
	classifier, err := NewClassifier(cfg.Signature)
	if err != nil {
		t.Fatalf("NewClassifier failed: %v", err)
	}
	p := NewProber(cfg, classifier, zap.NewNop())
	p.SetPortOpener(open)
	return p
}

// fakePort scripts replies per command string and records traffic. It
// satisfies serial.Port so the prober exercises its real I/O path.
type fakePort struct {
	mu       sync.Mutex
	replies  map[string][]byte
	writeErr map[string]error
	pending  []byte
	writes   []string
	closed   bool
}

func newFakePort(replies map[string][]byte) *fakePort {
	return &fakePort{replies: replies}
}

func (f *fakePort) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := string(p)
	if err := f.writeErr[cmd]; err != nil {
		return 0, err
	}
	f.writes = append(f.writes, cmd)
	f.pending = append([]byte(nil), f.replies[cmd]...)
	return len(p), nil
}

func (f *fakePort) Read(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) == 0 {
		// Matches a timed-out serial read.
		return 0, nil
	}
	n := copy(p, f.pending)
	f.pending = f.pending[n:]
	return n, nil
}

func (f *fakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakePort) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakePort) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakePort) SetMode(mode *serial.Mode) error               { return nil }
func (f *fakePort) Drain() error                                  { return nil }
func (f *fakePort) ResetInputBuffer() error                       { return nil }
func (f *fakePort) ResetOutputBuffer() error                      { return nil }
func (f *fakePort) SetDTR(dtr bool) error                         { return nil }
func (f *fakePort) SetRTS(rts bool) error                         { return nil }
func (f *fakePort) GetModemStatusBits() (*serial.ModemStatusBits, error) { return &serial.ModemStatusBits{}, nil }
func (f *fakePort) SetReadTimeout(t time.Duration) error          { return nil }
func (f *fakePort) Break(d time.Duration) error                   { return nil }

func TestProbeOpenErrorIsTerminal(t *testing.T) {
	open := func(name string, mode *serial.Mode) (serial.Port, error) {
		return nil, errors.New("could not open port: access denied")
	}
	p := newTestProber(t, testProbeConfig(), open)

	v := p.Probe(context.Background(), model.PortDescriptor{Name: "COM3"})

	if v.Match {
		t.Fatal("open failure must never match")
	}
	if v.Reply != nil {
		t.Fatalf("open failure must carry no reply, got %q", *v.Reply)
	}
	if v.OpenError == "" {
		t.Fatal("expected open_error to be recorded")
	}
}

func TestProbeSilentPort(t *testing.T) {
	port := newFakePort(nil)
	open := func(name string, mode *serial.Mode) (serial.Port, error) { return port, nil }
	cfg := testProbeConfig()
	p := newTestProber(t, cfg, open)

	v := p.Probe(context.Background(), model.PortDescriptor{Name: "COM4"})

	if v.Match {
		t.Fatal("silent port must not match")
	}
	if v.Reply != nil {
		t.Fatalf("silent port must carry no reply, got %q", *v.Reply)
	}
	if v.OpenError != "" {
		t.Fatalf("unexpected open error: %q", v.OpenError)
	}
	if got, want := port.writeCount(), len(cfg.Commands); got != want {
		t.Fatalf("expected all %d commands sent, got %d", want, got)
	}
	if !port.isClosed() {
		t.Fatal("port must be closed after the probe")
	}
}

// TestProbeStopsAfterMatch verifies early exit: once a command produces a
// positive classification, later commands are not sent.
func TestProbeStopsAfterMatch(t *testing.T) {
	port := newFakePort(map[string][]byte{
		"*IDN?\r": []byte("THORLABS,MDT693B,SN1234\r\n"),
	})
	open := func(name string, mode *serial.Mode) (serial.Port, error) { return port, nil }
	p := newTestProber(t, testProbeConfig(), open)

	v := p.Probe(context.Background(), model.PortDescriptor{Name: "COM5"})

	if !v.Match {
		t.Fatal("expected a match")
	}
	if got := v.ReplyText(); got != "THORLABS,MDT693B,SN1234" {
		t.Fatalf("unexpected reply %q", got)
	}
	// *IDN? is the third command in the sequence.
	if got := port.writeCount(); got != 3 {
		t.Fatalf("expected probing to stop after 3 commands, got %d", got)
	}
	if !port.isClosed() {
		t.Fatal("port must be closed after a match")
	}
}

func TestProbeEchoedTelemetryReply(t *testing.T) {
	port := newFakePort(map[string][]byte{
		"XR?\r": []byte("XR?\r\n-12.50\r\n> "),
	})
	open := func(name string, mode *serial.Mode) (serial.Port, error) { return port, nil }
	p := newTestProber(t, testProbeConfig(), open)

	v := p.Probe(context.Background(), model.PortDescriptor{Name: "COM6"})

	if !v.Match {
		t.Fatal("expected the voltage readout to match")
	}
	if got := v.ReplyText(); got != "-12.50" {
		t.Fatalf("expected echo-stripped reply %q, got %q", "-12.50", got)
	}
	if v.Voltage == nil {
		t.Fatal("expected the parsed voltage on the verdict")
	}
	if got := v.Voltage.String(); got != "-12.5" {
		t.Fatalf("voltage = %s, want -12.5", got)
	}
}

// TestProbeWriteFailureSkipsCommand verifies that a failed write moves on
// to the next command instead of aborting the sequence.
func TestProbeWriteFailureSkipsCommand(t *testing.T) {
	port := newFakePort(map[string][]byte{
		"ID?\r": []byte("MDT694A\r\n"),
	})
	port.writeErr = map[string]error{"XR?\r": errors.New("write failed")}
	open := func(name string, mode *serial.Mode) (serial.Port, error) { return port, nil }
	p := newTestProber(t, testProbeConfig(), open)

	v := p.Probe(context.Background(), model.PortDescriptor{Name: "COM7"})

	if !v.Match {
		t.Fatal("expected a match from the second command")
	}
	if got := v.ReplyText(); got != "MDT694A" {
		t.Fatalf("unexpected reply %q", got)
	}
}

// TestProbeKeepsLastNonEmptyReply verifies that a chatty non-MDT device is
// reported with its last non-empty reply as evidence of what answered.
func TestProbeKeepsLastNonEmptyReply(t *testing.T) {
	port := newFakePort(map[string][]byte{
		"XR?\r": []byte("ERR\r\n"),
		"ID?\r": []byte("AT-MODEM READY\r\n"),
	})
	open := func(name string, mode *serial.Mode) (serial.Port, error) { return port, nil }
	p := newTestProber(t, testProbeConfig(), open)

	v := p.Probe(context.Background(), model.PortDescriptor{Name: "COM8"})

	if v.Match {
		t.Fatal("modem chatter must not match")
	}
	if got := v.ReplyText(); got != "AT-MODEM READY" {
		t.Fatalf("expected last non-empty reply, got %q", got)
	}
}

func TestProbeCancelledContext(t *testing.T) {
	port := newFakePort(map[string][]byte{
		"XR?\r": []byte("MDT693B\r\n"),
	})
	open := func(name string, mode *serial.Mode) (serial.Port, error) { return port, nil }
	p := newTestProber(t, testProbeConfig(), open)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	v := p.Probe(ctx, model.PortDescriptor{Name: "COM9"})

	if v.Match {
		t.Fatal("cancelled probe must not match")
	}
	if got := port.writeCount(); got != 0 {
		t.Fatalf("cancelled probe must not send commands, got %d", got)
	}
}
