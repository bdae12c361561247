// Package scheduler runs the background jobs that live next to the HTTP server
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/amirphl/AdGuard-AI/config"
	"github.com/amirphl/AdGuard-AI/repository"
	"github.com/amirphl/AdGuard-AI/utils"
	"github.com/robfig/cron/v3"
)

const (
	defaultSweeperSpec = "@every 5m"
	defaultStaleAfter  = time.Hour
	defaultSweepBatch  = 100
)

// StaleFinalizer closes a pipeline nobody drives any more
type StaleFinalizer interface {
	FinalizeStale(ctx context.Context, advertisementID uint) (bool, error)
}

// PipelineSweeper periodically finalizes pipelines that stopped moving, such
// as runs cut short by a restart
type PipelineSweeper struct {
	analysisRepo repository.AnalysisResultRepository
	finalizer    StaleFinalizer
	cfg          config.SchedulerConfig
	logger       *log.Logger
	cron         *cron.Cron
	sweepMu      sync.Mutex
	nowFn        func() time.Time
}

// NewPipelineSweeper creates a sweeper; call Start to schedule it
func NewPipelineSweeper(
	analysisRepo repository.AnalysisResultRepository,
	finalizer StaleFinalizer,
	cfg config.SchedulerConfig,
	logger *log.Logger,
) *PipelineSweeper {
	if cfg.SweeperSpec == "" {
		cfg.SweeperSpec = defaultSweeperSpec
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = defaultStaleAfter
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultSweepBatch
	}
	if logger == nil {
		logger = log.Default()
	}

	return &PipelineSweeper{
		analysisRepo: analysisRepo,
		finalizer:    finalizer,
		cfg:          cfg,
		logger:       logger,
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		nowFn: utils.UTCNow,
	}
}

// Start sweeps once right away, then on the configured schedule. The returned
// function stops the schedule and waits for a running sweep.
func (s *PipelineSweeper) Start(parent context.Context) (func(), error) {
	ctx, cancel := context.WithCancel(parent)

	if _, err := s.cron.AddFunc(s.cfg.SweeperSpec, func() { s.sweep(ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid sweeper schedule %q: %w", s.cfg.SweeperSpec, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.sweep(ctx)
	}()
	s.cron.Start()
	s.logger.Printf("sweeper: started spec=%q stale_after=%s", s.cfg.SweeperSpec, s.cfg.StaleAfter)

	return func() {
		cancel()
		<-s.cron.Stop().Done()
		<-done
		s.logger.Printf("sweeper: stopped")
	}, nil
}

func (s *PipelineSweeper) sweep(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
		s.logger.Printf("sweeper: run failed: %v", err)
	}
}

// RunOnce finalizes one batch of stale pipelines and returns how many it closed.
// Overlapping calls return immediately.
func (s *PipelineSweeper) RunOnce(ctx context.Context) (int, error) {
	if !s.sweepMu.TryLock() {
		return 0, nil
	}
	defer s.sweepMu.Unlock()

	cutoff := s.nowFn().Add(-s.cfg.StaleAfter)
	rows, err := s.analysisRepo.ListStale(ctx, cutoff, s.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list stale pipelines: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	finalized := 0
	for _, row := range rows {
		if ctx.Err() != nil {
			return finalized, ctx.Err()
		}
		ok, err := s.finalizer.FinalizeStale(ctx, row.AdvertisementID)
		if err != nil {
			s.logger.Printf("sweeper: finalize failed advertisement_id=%d status=%s: %v", row.AdvertisementID, row.Status, err)
			continue
		}
		if ok {
			finalized++
		}
	}

	s.logger.Printf("sweeper: stale=%d finalized=%d cutoff=%s", len(rows), finalized, cutoff.Format(time.RFC3339))
	return finalized, nil
}
