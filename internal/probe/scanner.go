// internal/probe/scanner.go
package probe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mdt-discovery/internal/model"
)

// Enumerator lists candidate serial ports.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]model.PortDescriptor, error)
}

// Enricher fills in missing port metadata. Best-effort; implementations
// must leave descriptors untouched on failure.
type Enricher interface {
	Enrich(ctx context.Context, ports []model.PortDescriptor) []model.PortDescriptor
}

// PortProber probes a single port and returns its verdict.
type PortProber interface {
	Probe(ctx context.Context, desc model.PortDescriptor) *model.ProbeVerdict
}

// Scanner orchestrates a full scan: enumerate, enrich, probe every port
// through a bounded worker pool, and assemble the result set in
// enumeration order. Ports are fully independent, so probing them
// concurrently bounds total latency without sharing any handle.
type Scanner struct {
	enumerator Enumerator
	enricher   Enricher
	prober     PortProber
	workers    int
	onVerdict  func(*model.ProbeVerdict)
	logger     *zap.Logger
}

// NewScanner creates a scan orchestrator. enricher may be nil. workers
// below 1 is clamped to 1 (sequential scan).
func NewScanner(enumerator Enumerator, enricher Enricher, prober PortProber, workers int, logger *zap.Logger) *Scanner {
	if workers < 1 {
		workers = 1
	}
	return &Scanner{
		enumerator: enumerator,
		enricher:   enricher,
		prober:     prober,
		workers:    workers,
		logger:     logger,
	}
}

// OnVerdict registers a hook invoked once per completed port probe. The
// hook runs on worker goroutines and must be safe for concurrent use.
func (s *Scanner) OnVerdict(fn func(*model.ProbeVerdict)) {
	s.onVerdict = fn
}

// Scan probes every enumerated port and returns the aggregate result. One
// port's failure never affects another port's outcome. A cancelled scan
// returns the context error instead of a partial result, so callers never
// mix results from an aborted scan with a completed one.
func (s *Scanner) Scan(ctx context.Context) (*model.ScanResult, error) {
	result := model.NewScanResult(uuid.New().String())

	ports, err := s.enumerator.Enumerate(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	s.logger.Info("Starting port scan",
		zap.String("scan_id", result.ScanID),
		zap.Int("ports", len(ports)),
		zap.Int("workers", s.workers),
	)

	if s.enricher != nil {
		ports = s.enricher.Enrich(ctx, ports)
	}

	if len(ports) == 0 {
		result.Duration = time.Since(result.StartedAt)
		return result, nil
	}

	// Bounded worker pool with a join barrier: verdicts land in a slice
	// indexed by enumeration position, so aggregation order is stable no
	// matter which probe finishes first.
	verdicts := make([]*model.ProbeVerdict, len(ports))
	indexCh := make(chan int)
	var wg sync.WaitGroup

	for w := 0; w < s.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range indexCh {
				v := s.prober.Probe(ctx, ports[i])
				verdicts[i] = v
				if s.onVerdict != nil && ctx.Err() == nil {
					s.onVerdict(v)
				}
			}
		}()
	}

feed:
	for i := range ports {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(indexCh)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		s.logger.Warn("Scan cancelled", zap.String("scan_id", result.ScanID), zap.Error(err))
		return nil, err
	}

	for _, v := range verdicts {
		result.Add(v)
	}
	result.Duration = time.Since(result.StartedAt)

	s.logger.Info("Port scan completed",
		zap.String("scan_id", result.ScanID),
		zap.Int("ports", result.Len()),
		zap.Int("matches", len(result.Matches())),
		zap.Duration("duration", result.Duration),
	)

	return result, nil
}
