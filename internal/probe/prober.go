// internal/probe/prober.go
package probe

import (
	"context"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"mdt-discovery/internal/config"
	"mdt-discovery/internal/model"
	"mdt-discovery/internal/utils"
)

// PortOpener opens a serial port. Tests inject a fake; production code
// uses serial.Open.
type PortOpener func(name string, mode *serial.Mode) (serial.Port, error)

// Prober runs the identification command sequence against one port at a
// time. The identification commands are non-destructive queries; the
// prober never sends a state-changing command.
type Prober struct {
	cfg        config.ProbeConfig
	classifier *Classifier
	open       PortOpener
	logger     *zap.Logger
}

// NewProber creates a prober for the given probe configuration.
func NewProber(cfg config.ProbeConfig, classifier *Classifier, logger *zap.Logger) *Prober {
	return &Prober{
		cfg:        cfg,
		classifier: classifier,
		open:       serial.Open,
		logger:     logger,
	}
}

// SetPortOpener overrides the port opener. Used by tests.
func (p *Prober) SetPortOpener(open PortOpener) {
	p.open = open
}

// Probe opens the port, walks the identification command list, and returns
// the verdict. All per-command I/O errors are absorbed as "no evidence";
// only the initial open failure is surfaced, as a per-port error on the
// verdict, never as a Go error.
func (p *Prober) Probe(ctx context.Context, desc model.PortDescriptor) *model.ProbeVerdict {
	verdict := model.NewVerdict(desc)
	portLog := utils.NewPortLogger(p.logger, desc.Name)
	start := time.Now()

	mode := &serial.Mode{
		BaudRate: p.cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := p.open(desc.Name, mode)
	if err != nil {
		// Terminal for this port: a busy or missing port will not
		// become probeable within the scan's lifetime.
		verdict.OpenError = err.Error()
		portLog.LogVerdict(false, "", verdict.OpenError, time.Since(start))
		return verdict
	}

	if err := port.SetReadTimeout(p.cfg.ReadTimeout); err != nil {
		port.Close()
		verdict.OpenError = err.Error()
		portLog.LogVerdict(false, "", verdict.OpenError, time.Since(start))
		return verdict
	}

	// Close the handle when the scan is cancelled so an in-flight blocking
	// read does not leak it.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	go func() {
		select {
		case <-ctx.Done():
			port.Close()
		case <-watchdogDone:
		}
	}()

	// Stale buffered bytes degrade match quality but do not abort the probe.
	_ = port.ResetInputBuffer()
	_ = port.ResetOutputBuffer()

	bestReply := ""

	for _, command := range p.cfg.CommandBytes() {
		if ctx.Err() != nil {
			break
		}

		attempt, ok := p.runCommand(port, command)
		if !ok {
			continue
		}
		portLog.LogAttempt(attempt.Command, len(attempt.RawReply), attempt.NormalizedReply)

		if attempt.NormalizedReply == "" {
			continue
		}

		if match, matched := p.classifier.Classify(attempt.NormalizedReply); matched {
			verdict.Match = true
			verdict.SetReply(attempt.NormalizedReply)
			verdict.Voltage = match.Voltage
			port.Close()
			portLog.LogVerdict(true, attempt.NormalizedReply, "", time.Since(start))
			return verdict
		}

		// Keep the last non-empty reply for human inspection.
		bestReply = attempt.NormalizedReply
	}

	_ = port.Close()

	if bestReply != "" {
		verdict.SetReply(bestReply)
	}
	portLog.LogVerdict(false, bestReply, "", time.Since(start))
	return verdict
}

// runCommand performs one write/settle/read exchange. A write failure
// yields no attempt; a read failure yields an attempt with an empty reply.
func (p *Prober) runCommand(port serial.Port, command []byte) (model.ProbeAttempt, bool) {
	if _, err := port.Write(command); err != nil {
		return model.ProbeAttempt{}, false
	}

	// Fixed settle time for device response latency, not a busy-poll.
	time.Sleep(p.cfg.SettleDelay)

	raw := p.readBounded(port, p.cfg.ReadSize)
	if len(raw) == 0 {
		// One larger read to catch slower devices.
		raw = p.readBounded(port, 2*p.cfg.ReadSize)
	}

	return model.ProbeAttempt{
		Command:         command,
		RawReply:        raw,
		NormalizedReply: Normalize(raw, command),
	}, true
}

// readBounded reads up to max bytes, treating errors as an empty reply.
func (p *Prober) readBounded(port serial.Port, max int) []byte {
	buf := make([]byte, max)
	n, err := port.Read(buf)
	if err != nil || n <= 0 {
		return nil
	}
	return buf[:n]
}
