/*
Package collector drives the periodic collection cycle.

PURPOSE:
  On every tick the scheduler walks the configured stores, resumes each one
  from its checkpoint, partitions the catch-up interval into hour-aligned
  sub-windows and pulls each sub-window through the source adapters into the
  dedup/upsert store. A maintenance sweep closes every cycle.

DESIGN:
  - One goroutine per store per cycle; stores never block each other.
  - Sub-windows advance strictly in order within a store: the checkpoint
    only moves past a window once its batch is durably stored, so a failed
    window halts that store until the next tick and nothing is skipped.
  - Fetches are retried with a fixed wait; after the attempts are exhausted
    the window is recorded as failed and left for the next tick.
  - Collection is at-least-once. Overlap with previously stored data is
    expected and absorbed by the store's natural-key dedup.

CONFIGURATION (config.Collector):
  Interval:      tick period (default 20m)
  Lookback:      first-run catch-up horizon (default 1h)
  RetryWait:     pause between fetch attempts (default 10s)
  RetryAttempts: attempts per window (default 5)

USAGE:
  sched := collector.New(cfg, store, sources, log)
  sched.Start()
  // ... later
  sched.Stop()

SEE ALSO:
  - source/: the adapters behind the Sources bundle
  - store/sqlite/upsert.go: Upsert, checkpoints, the sweep
*/
package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/grnl/retail-engine/config"
	"github.com/grnl/retail-engine/telemetry"
	"github.com/sirupsen/logrus"
)

// Store is the persistence surface the scheduler writes through.
type Store interface {
	Upsert(ctx context.Context, batch *telemetry.Batch) (telemetry.UpsertResult, error)
	Checkpoint(ctx context.Context, store telemetry.StoreID) (time.Time, bool, error)
	SaveCheckpoint(ctx context.Context, store telemetry.StoreID, lastCollected time.Time) error
	SaveCollectionRun(ctx context.Context, run telemetry.CollectionRun) error
	MaintenanceSweep(ctx context.Context, now time.Time) (telemetry.SweepResult, error)
}

// SalesAdapter pulls sale records for one (store, window).
type SalesAdapter interface {
	Fetch(ctx context.Context, store telemetry.StoreID, w telemetry.Window) ([]telemetry.SaleRecord, error)
}

// CounterAdapter pulls line-count samples for one (store, sensor, window).
type CounterAdapter interface {
	Fetch(ctx context.Context, store telemetry.StoreID, sensor telemetry.Sensor, w telemetry.Window) ([]telemetry.PeopleCountSample, error)
}

// HeatmapAdapter pulls dwell-time samples for one (store, sensor, window).
type HeatmapAdapter interface {
	Fetch(ctx context.Context, store telemetry.StoreID, sensor telemetry.Sensor, w telemetry.Window) ([]telemetry.HeatmapSample, error)
}

// RegionalAdapter pulls region-occupancy samples for one (store, sensor, window).
type RegionalAdapter interface {
	Fetch(ctx context.Context, store telemetry.StoreID, sensor telemetry.Sensor, w telemetry.Window) ([]telemetry.RegionalOccupancySample, error)
}

// Sources bundles the adapters for one deployment. Any nil adapter is
// simply not collected, so a sales-only deployment runs without sensors.
type Sources struct {
	Sales    SalesAdapter
	Counter  CounterAdapter
	Heatmap  HeatmapAdapter
	Regional RegionalAdapter
}

// Per-store collection states, exposed for operational visibility.
const (
	StateIdle      = "idle"
	StateFetching  = "fetching"
	StateStoring   = "storing"
	StateRetryWait = "retry_wait"
)

// Scheduler runs the collection cycle.
type Scheduler struct {
	cfg     *config.Config
	store   Store
	sources Sources
	log     *logrus.Logger

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	stateMu sync.RWMutex
	states  map[telemetry.StoreID]string

	// now and sleep are swappable in tests.
	now   func() time.Time
	sleep func(d time.Duration)
}

// New creates a scheduler. It does not start collecting until Start.
func New(cfg *config.Config, store Store, sources Sources, log *logrus.Logger) *Scheduler {
	if log == nil {
		log = logrus.New()
	}
	s := &Scheduler{
		cfg:     cfg,
		store:   store,
		sources: sources,
		log:     log,
		stop:    make(chan struct{}),
		states:  make(map[telemetry.StoreID]string),
		now:     time.Now,
	}
	s.sleep = s.interruptibleSleep
	return s
}

// Start begins the collection loop. The first cycle runs immediately.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ticker = time.NewTicker(s.cfg.Collector.Interval)
	s.wg.Add(1)
	go s.run()

	s.log.WithField("interval", s.cfg.Collector.Interval).Info("collector started")
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.log.Info("collector stopped")
	}
}

// RunNow triggers one full cycle synchronously (admin endpoint, tests).
func (s *Scheduler) RunNow(ctx context.Context) {
	s.collectAll(ctx)
}

// States returns a copy of the per-store collection states.
func (s *Scheduler) States() map[telemetry.StoreID]string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make(map[telemetry.StoreID]string, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

func (s *Scheduler) setState(store telemetry.StoreID, state string) {
	s.stateMu.Lock()
	s.states[store] = state
	s.stateMu.Unlock()
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	// Collect immediately on start, then on every tick. A second timer
	// fires on every clock-hour boundary so each freshly closed hour is
	// picked up right away instead of waiting out the interval.
	s.collectAll(context.Background())

	align := time.NewTimer(untilNextHour(s.now()))
	defer align.Stop()

	for {
		select {
		case <-s.ticker.C:
			s.collectAll(context.Background())
		case <-align.C:
			s.collectAll(context.Background())
			align.Reset(untilNextHour(s.now()))
		case <-s.stop:
			return
		}
	}
}

func untilNextHour(now time.Time) time.Duration {
	next := telemetry.NextHourBoundary(now.Add(time.Second))
	return next.Sub(now)
}

// collectAll runs one cycle: every store concurrently, then the sweep.
func (s *Scheduler) collectAll(ctx context.Context) {
	now := s.now()
	s.log.WithField("at", now.Format(time.RFC3339)).Debug("collection cycle starting")

	var wg sync.WaitGroup
	for _, st := range s.cfg.Stores {
		wg.Add(1)
		go func(st config.Store) {
			defer wg.Done()
			s.collectStore(ctx, st, now)
		}(st)
	}
	wg.Wait()

	swept, err := s.store.MaintenanceSweep(ctx, now)
	if err != nil {
		s.log.WithError(err).Error("maintenance sweep failed")
		return
	}
	if swept.FutureRemoved > 0 || swept.DuplicatesRemoved > 0 {
		s.log.WithFields(logrus.Fields{
			"future":     swept.FutureRemoved,
			"duplicates": swept.DuplicatesRemoved,
		}).Info("maintenance sweep removed rows")
	}
}

// collectStore resumes one store from its checkpoint and walks the pending
// sub-windows in order, stopping at the first one that cannot be stored.
func (s *Scheduler) collectStore(ctx context.Context, st config.Store, now time.Time) {
	defer s.setState(st.ID, StateIdle)

	from, ok, err := s.store.Checkpoint(ctx, st.ID)
	if err != nil {
		s.log.WithError(err).WithField("store", st.ID).Error("checkpoint read failed")
		return
	}
	if !ok {
		from = telemetry.FloorHour(now.Add(-s.cfg.Collector.Lookback))
	}

	windows := telemetry.PartitionHours(from, now)
	for _, w := range windows {
		if err := s.collectWindow(ctx, st, w, now); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"store":  st.ID,
				"window": w.String(),
			}).Warn("window left for next cycle")
			return
		}
		if err := s.store.SaveCheckpoint(ctx, st.ID, w.End); err != nil {
			s.log.WithError(err).WithField("store", st.ID).Error("checkpoint write failed")
			return
		}
	}
}

// collectWindow fetches, stores and audits one (store, sub-window).
func (s *Scheduler) collectWindow(ctx context.Context, st config.Store, w telemetry.Window, now time.Time) error {
	run := telemetry.CollectionRun{
		ID:          uuid.NewString(),
		Store:       st.ID,
		WindowStart: w.Start,
		WindowEnd:   w.End,
		StartedAt:   s.now(),
	}

	s.setState(st.ID, StateFetching)
	batch, err := s.fetchWithRetry(ctx, st, w)
	if err == nil {
		dropped := batch.DropFuture(now)
		if dropped > 0 {
			s.log.WithFields(logrus.Fields{"store": st.ID, "dropped": dropped}).
				Warn("future-dated records dropped before storage")
		}

		s.setState(st.ID, StateStoring)
		var result telemetry.UpsertResult
		result, err = s.store.Upsert(ctx, batch)
		if err == nil {
			run.Status = telemetry.RunCompleted
			run.Inserted = result.Inserted
			run.Updated = result.Updated
			run.Skipped = result.Skipped
		}
	}
	if err != nil {
		run.Status = telemetry.RunFailed
		run.Error = err.Error()
	}
	run.CompletedAt = s.now()

	if auditErr := s.store.SaveCollectionRun(ctx, run); auditErr != nil {
		s.log.WithError(auditErr).WithField("store", st.ID).Error("collection run audit write failed")
	}
	return err
}

// fetchWithRetry pulls all sources for one window, retrying transient
// source failures with a fixed wait until the attempts are exhausted.
func (s *Scheduler) fetchWithRetry(ctx context.Context, st config.Store, w telemetry.Window) (*telemetry.Batch, error) {
	attempts := s.cfg.Collector.RetryAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		batch, err := s.fetchWindow(ctx, st, w)
		if err == nil {
			return batch, nil
		}
		lastErr = err

		if !errors.Is(err, telemetry.ErrSourceUnavailable) || attempt == attempts {
			break
		}
		s.log.WithError(err).WithFields(logrus.Fields{
			"store":   st.ID,
			"attempt": attempt,
			"wait":    s.cfg.Collector.RetryWait,
		}).Warn("source fetch failed, retrying")
		s.setState(st.ID, StateRetryWait)
		s.sleep(s.cfg.Collector.RetryWait)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.setState(st.ID, StateFetching)
	}
	return nil, lastErr
}

// maxSensorFetches bounds how many sensors of one store are polled at once.
const maxSensorFetches = 4

// fetchWindow pulls every configured source for one (store, window) and
// merges the results. Sensors are polled concurrently under a small bound;
// any single source failing fails the whole window so the retry covers all
// of it.
func (s *Scheduler) fetchWindow(ctx context.Context, st config.Store, w telemetry.Window) (*telemetry.Batch, error) {
	batch := &telemetry.Batch{}

	if s.sources.Sales != nil {
		sales, err := s.sources.Sales.Fetch(ctx, st.ID, w)
		if err != nil {
			return nil, err
		}
		batch.Sales = sales
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
		sem      = make(chan struct{}, maxSensorFetches)
	)
	for _, sensor := range st.Sensors {
		wg.Add(1)
		go func(sensor telemetry.Sensor) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			part, err := s.fetchSensor(ctx, st.ID, sensor, w)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return
			}
			batch.Merge(part)
		}(sensor)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	return batch, nil
}

// fetchSensor pulls all configured sensor reports for one device.
func (s *Scheduler) fetchSensor(ctx context.Context, store telemetry.StoreID, sensor telemetry.Sensor, w telemetry.Window) (*telemetry.Batch, error) {
	part := &telemetry.Batch{}

	if s.sources.Counter != nil {
		counts, err := s.sources.Counter.Fetch(ctx, store, sensor, w)
		if err != nil {
			return nil, err
		}
		part.Counts = counts
	}
	if s.sources.Heatmap != nil {
		heatmaps, err := s.sources.Heatmap.Fetch(ctx, store, sensor, w)
		if err != nil {
			return nil, err
		}
		part.Heatmaps = heatmaps
	}
	if s.sources.Regional != nil {
		regional, err := s.sources.Regional.Fetch(ctx, store, sensor, w)
		if err != nil {
			return nil, err
		}
		part.Regional = regional
	}
	return part, nil
}

// interruptibleSleep waits for d unless Stop is called first.
func (s *Scheduler) interruptibleSleep(d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.stop:
	}
}
