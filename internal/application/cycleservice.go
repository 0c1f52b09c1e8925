// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ericfisherdev/releaseintel/internal/domain/port/driven"
)

// cycleCollector is the part of Collector a cycle drives.
type cycleCollector interface {
	CollectAll(ctx context.Context) (CollectStats, error)
}

// cycleDiagnostics is the part of DiagnosticEngine a cycle drives.
type cycleDiagnostics interface {
	Run(ctx context.Context) (int, error)
}

// CycleResult summarises one collect-then-diagnose cycle.
type CycleResult struct {
	CycleID             string       `json:"cycle_id"`
	Collected           CollectStats `json:"collected"`
	CollectionEnabled   bool         `json:"collection_enabled"`
	DiagnosticsInserted int          `json:"diagnostics_inserted"`
	DurationMS          int64        `json:"duration_ms"`
}

type cycleOutcome struct {
	result CycleResult
	err    error
}

// cycleRequest represents a manual cycle trigger.
type cycleRequest struct {
	done chan cycleOutcome
}

// CycleService runs collection followed by diagnostics on a fixed interval.
// Cycles run only on the loop goroutine, so they never overlap.
type CycleService struct {
	collector   cycleCollector
	diagnostics cycleDiagnostics
	interval    time.Duration
	runCh       chan cycleRequest
	done        chan struct{}
}

// NewCycleService creates a new CycleService.
func NewCycleService(collector cycleCollector, diagnostics cycleDiagnostics, interval time.Duration) *CycleService {
	return &CycleService{
		collector:   collector,
		diagnostics: diagnostics,
		interval:    interval,
		runCh:       make(chan cycleRequest),
		done:        make(chan struct{}),
	}
}

// Start runs a cycle immediately, then one per interval, and serves RunNow
// requests in between. Start blocks until the context is canceled and the
// cycle in flight, if any, has returned. It must be called at most once.
func (s *CycleService) Start(ctx context.Context) {
	defer close(s.done)

	s.scheduled(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("cycle service stopped")
			return
		case <-ticker.C:
			s.scheduled(ctx)
		case req := <-s.runCh:
			res, err := s.runCycle(ctx)
			req.done <- cycleOutcome{result: res, err: err}
		}
	}
}

// Done is closed once Start has returned.
func (s *CycleService) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until Start has returned or ctx ends. Callers cancel Start's
// context first, then Wait before releasing the stores the cycle writes to.
func (s *CycleService) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for cycle service: %w", ctx.Err())
	}
}

// RunNow asks the loop for an immediate cycle and blocks until it completes or
// the context is canceled. A cycle with collection disabled still runs
// diagnostics and returns an error wrapping driven.ErrProviderUnavailable.
func (s *CycleService) RunNow(ctx context.Context) (CycleResult, error) {
	req := cycleRequest{done: make(chan cycleOutcome, 1)}

	select {
	case s.runCh <- req:
	case <-ctx.Done():
		return CycleResult{}, ctx.Err()
	}

	select {
	case out := <-req.done:
		return out.result, out.err
	case <-ctx.Done():
		return CycleResult{}, ctx.Err()
	}
}

// scheduled runs a cycle nobody waits on. Disabled collection is expected
// there and already logged by runCycle.
func (s *CycleService) scheduled(ctx context.Context) {
	if _, err := s.runCycle(ctx); err != nil && !errors.Is(err, driven.ErrProviderUnavailable) {
		slog.Error("scheduled cycle failed", "error", err)
	}
}

// runCycle collects then diagnoses. A collection failure does not prevent
// diagnostics over what is already stored.
func (s *CycleService) runCycle(ctx context.Context) (CycleResult, error) {
	start := time.Now()
	res := CycleResult{CycleID: uuid.NewString(), CollectionEnabled: true}
	log := slog.With("cycle_id", res.CycleID)

	log.Info("cycle started")

	stats, collectErr := s.collector.CollectAll(ctx)
	res.Collected = stats
	switch {
	case errors.Is(collectErr, driven.ErrProviderUnavailable):
		res.CollectionEnabled = false
		log.Debug("collection disabled")
	case collectErr != nil:
		log.Error("collection failed", "error", collectErr)
	}

	inserted, err := s.diagnostics.Run(ctx)
	res.DiagnosticsInserted = inserted
	res.DurationMS = time.Since(start).Milliseconds()
	if err != nil {
		log.Error("diagnostics failed", "error", err)
		return res, fmt.Errorf("diagnostics: %w", err)
	}

	log.Info("cycle complete",
		"builds", stats.Builds,
		"failures", stats.Failures,
		"diagnostics", inserted,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if collectErr != nil {
		return res, fmt.Errorf("collect: %w", collectErr)
	}
	return res, nil
}
