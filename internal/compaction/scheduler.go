// Package compaction implements the periodic maintenance driver described
// in SPEC_FULL.md §4.8: a skip-if-busy ticker over an injectable
// MaintenanceTaskProvider/MaintenanceRunner pair, generalized from the
// teacher's debounced-buffer timer loop (internal/sync/buffer.go) into a
// fixed-interval one.
package compaction

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lakesync/lakesync/internal/lakeerr"
)

// DeltaFileRef names one object-storage delta file and the table it
// holds, so the runner can group files by table without inspecting
// their contents first.
type DeltaFileRef struct {
	Key   string
	Table string
}

// MaintenanceTask names the inputs to one compaction run: the delta
// files to compact and where to write the result.
type MaintenanceTask struct {
	DeltaFiles    []DeltaFileRef
	OutputPrefix  string
	StoragePrefix string
}

// CompactionReport summarizes one run's file-level work.
type CompactionReport struct {
	BaseFilesWritten    int
	DeleteFilesWritten  int
	DeltaFilesCompacted int
	BytesRead           int64
	BytesWritten        int64
}

// MaintenanceReport is the full result of one scheduler tick or RunOnce.
type MaintenanceReport struct {
	Compaction       CompactionReport
	SnapshotsExpired int
	OrphansRemoved   int
}

// MaintenanceTaskProvider supplies the next task to run, or nil if there
// is nothing to compact right now.
type MaintenanceTaskProvider func(ctx context.Context) (*MaintenanceTask, error)

// MaintenanceRunner performs one compaction task and reports its result.
type MaintenanceRunner func(ctx context.Context, task MaintenanceTask) (MaintenanceReport, error)

// Config is the scheduler's static configuration (SPEC_FULL §4.8).
type Config struct {
	IntervalMs int64
	Enabled    bool
}

// DefaultConfig returns the spec's default: a 60-second interval, enabled.
func DefaultConfig() Config {
	return Config{IntervalMs: 60000, Enabled: true}
}

// Scheduler drives periodic maintenance runs. The zero value is not
// usable; construct with New.
type Scheduler struct {
	cfg      Config
	provider MaintenanceTaskProvider
	runner   MaintenanceRunner
	logger   *slog.Logger

	mu       sync.Mutex
	running  bool
	inFlight bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Scheduler. provider and runner must not be nil.
func New(cfg Config, provider MaintenanceTaskProvider, runner MaintenanceRunner, logger *slog.Logger) *Scheduler {
	return &Scheduler{cfg: cfg, provider: provider, runner: runner, logger: logger}
}

// Start arms the periodic timer. Returns lakeerr.ErrSchedulerDisabled if
// configured off, lakeerr.ErrSchedulerAlreadyRunning if already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		return fmt.Errorf("compaction: start: %w", lakeerr.ErrSchedulerDisabled)
	}

	if s.running {
		return fmt.Errorf("compaction: start: %w", lakeerr.ErrSchedulerAlreadyRunning)
	}

	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go s.loop(s.stopCh, s.doneCh)

	return nil
}

// Stop clears the timer and awaits the in-flight run's completion before
// returning. Returns lakeerr.ErrSchedulerNotRunning if not running.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("compaction: stop: %w", lakeerr.ErrSchedulerNotRunning)
	}

	stopCh, doneCh := s.stopCh, s.doneCh
	s.running = false
	s.mu.Unlock()

	close(stopCh)
	<-doneCh
	s.wg.Wait()

	return nil
}

// RunOnce runs the maintenance pipeline synchronously, outside the
// ticker. Returns lakeerr.ErrSchedulerBusy if a run is already in
// flight.
func (s *Scheduler) RunOnce(ctx context.Context) (MaintenanceReport, error) {
	if !s.tryAcquire() {
		return MaintenanceReport{}, fmt.Errorf("compaction: run once: %w", lakeerr.ErrSchedulerBusy)
	}
	defer s.release()

	return s.runPass(ctx)
}

func (s *Scheduler) loop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return

		case <-ticker.C:
			if !s.tryAcquire() {
				// A previous run is still in flight: skip this tick, no
				// queueing (SPEC_FULL §4.8).
				continue
			}

			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer s.release()

				report, err := s.runPass(context.Background())
				if err != nil {
					s.logger.Warn("compaction: tick failed", slog.String("error", err.Error()))
					return
				}

				s.logger.Info("compaction: tick complete",
					slog.Int("baseFilesWritten", report.Compaction.BaseFilesWritten),
					slog.Int("deleteFilesWritten", report.Compaction.DeleteFilesWritten),
				)
			}()
		}
	}
}

func (s *Scheduler) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight {
		return false
	}

	s.inFlight = true

	return true
}

func (s *Scheduler) release() {
	s.mu.Lock()
	s.inFlight = false
	s.mu.Unlock()
}

// runPass fetches the next task and, if one exists, runs it. A nil task
// from the provider completes with an empty report. Provider failures
// are wrapped as lakeerr.ErrSchedulerTaskProviderError and never crash
// the scheduler.
func (s *Scheduler) runPass(ctx context.Context) (MaintenanceReport, error) {
	task, err := s.provider(ctx)
	if err != nil {
		return MaintenanceReport{}, fmt.Errorf("compaction: task provider: %w", lakeerr.ErrSchedulerTaskProviderError)
	}

	if task == nil {
		return MaintenanceReport{}, nil
	}

	return s.runner(ctx, *task)
}
