// internal/service/scan_service.go
package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mdt-discovery/internal/config"
	serialdiscovery "mdt-discovery/internal/discovery/serial"
	usbdiscovery "mdt-discovery/internal/discovery/usb"
	"mdt-discovery/internal/model"
	"mdt-discovery/internal/probe"
	"mdt-discovery/internal/utils"
)

// EventSink receives scan lifecycle events for fan-out to subscribers.
type EventSink interface {
	Emit(eventType, source string, data map[string]interface{})
}

// ScanOptions override the configured probe parameters for one scan.
// Zero values fall back to configuration.
type ScanOptions struct {
	BaudRate    int
	ReadTimeout time.Duration
	Workers     int
}

// ScanService runs identification scans and keeps the most recent result
// in memory. Each scan is self-contained: the probe configuration is
// captured per invocation, so concurrent scans with different options do
// not interfere. Nothing is persisted across invocations.
type ScanService struct {
	cfg    *config.Config
	logger *utils.ServiceLogger
	base   *zap.Logger
	events EventSink

	enumerator probe.Enumerator
	enricher   probe.Enricher
	opener     probe.PortOpener

	mutex      sync.RWMutex
	lastResult *model.ScanResult
}

// Option customizes a ScanService. Used mainly by tests to inject fakes
// for the enumerator and the serial port opener.
type Option func(*ScanService)

// WithEnumerator replaces the serial port enumerator.
func WithEnumerator(e probe.Enumerator) Option {
	return func(s *ScanService) { s.enumerator = e }
}

// WithEnricher replaces the USB metadata enricher.
func WithEnricher(e probe.Enricher) Option {
	return func(s *ScanService) { s.enricher = e }
}

// WithPortOpener replaces the serial port opener used by probes.
func WithPortOpener(open probe.PortOpener) Option {
	return func(s *ScanService) { s.opener = open }
}

// NewScanService creates a scan service. events may be nil.
func NewScanService(cfg *config.Config, logger *zap.Logger, events EventSink, opts ...Option) *ScanService {
	s := &ScanService{
		cfg:        cfg,
		logger:     utils.NewServiceLogger(logger, "scan-service"),
		base:       logger,
		events:     events,
		enumerator: serialdiscovery.NewEnumerator(logger),
	}
	if cfg.Probe.USBEnrich {
		s.enricher = usbdiscovery.NewEnricher(logger)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan runs one full scan and records it as the last result.
func (s *ScanService) Scan(ctx context.Context, opts ScanOptions) (*model.ScanResult, error) {
	probeCfg := s.probeConfig(opts)

	classifier, err := probe.NewClassifier(probeCfg.Signature)
	if err != nil {
		return nil, fmt.Errorf("failed to build classifier: %w", err)
	}

	prober := probe.NewProber(probeCfg, classifier, s.base)
	if s.opener != nil {
		prober.SetPortOpener(s.opener)
	}

	scanner := probe.NewScanner(s.enumerator, s.enricher, prober, probeCfg.MaxConcurrent, s.base)
	scanner.OnVerdict(func(v *model.ProbeVerdict) {
		s.emit("port_probed", map[string]interface{}{
			"port":  v.Port,
			"match": v.Match,
			"reply": v.ReplyText(),
		})
	})

	s.emit("scan_started", map[string]interface{}{
		"baud_rate":    probeCfg.BaudRate,
		"read_timeout": probeCfg.ReadTimeout.String(),
	})

	result, err := scanner.Scan(ctx)
	if err != nil {
		s.logger.Error("Scan failed", zap.Error(err))
		return nil, err
	}

	s.mutex.Lock()
	s.lastResult = result
	s.mutex.Unlock()

	s.emit("scan_completed", map[string]interface{}{
		"scan_id": result.ScanID,
		"ports":   result.Len(),
		"matches": len(result.Matches()),
	})

	return result, nil
}

// LastResult returns the most recent completed scan, or nil.
func (s *ScanService) LastResult() *model.ScanResult {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastResult
}

// ListPorts enumerates candidate ports without probing them.
func (s *ScanService) ListPorts(ctx context.Context) ([]model.PortDescriptor, error) {
	ports, err := s.enumerator.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	if s.enricher != nil {
		ports = s.enricher.Enrich(ctx, ports)
	}
	return ports, nil
}

// probeConfig captures the effective probe configuration for one scan.
func (s *ScanService) probeConfig(opts ScanOptions) config.ProbeConfig {
	probeCfg := s.cfg.Probe
	if opts.BaudRate > 0 {
		probeCfg.BaudRate = opts.BaudRate
	}
	if opts.ReadTimeout > 0 {
		probeCfg.ReadTimeout = opts.ReadTimeout
	}
	if opts.Workers > 0 {
		probeCfg.MaxConcurrent = opts.Workers
	}
	return probeCfg
}

func (s *ScanService) emit(eventType string, data map[string]interface{}) {
	if s.events != nil {
		s.events.Emit(eventType, "scan-service", data)
	}
}
