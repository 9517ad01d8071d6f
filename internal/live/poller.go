package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/routeflow/fleet-tracker/internal/normalize"
	"github.com/routeflow/fleet-tracker/internal/service"
	"github.com/routeflow/fleet-tracker/tools/timeparser"
)

// LineLister enumerates the active service lines for one cycle.
type LineLister interface {
	ListActiveLines(ctx context.Context) ([]string, error)
}

// Sink receives every record produced by a cycle for durable ingestion.
type Sink interface {
	Ingest(ctx context.Context, obs service.Observation) (*service.Result, error)
}

// Config holds the poller knobs. Minimums are enforced by config loading.
type Config struct {
	Enabled        bool
	Interval       time.Duration
	Stagger        time.Duration
	Staleness      time.Duration
	Concurrency    int64
	MaxAttempts    int
	BackoffBase    time.Duration
	RecentCapacity int
	JoinTimeout    time.Duration
}

// Poller owns the repeating live-tracking cycle: enumerate lines, fan out
// fetches under a bounded worker pool, merge into the in-memory fleet
// snapshot and drive durable persistence through the ingestor. All shared
// state lives behind one mutex; readers get copies.
type Poller struct {
	cfg     Config
	lines   LineLister
	fetcher *LineFetcher
	sink    Sink
	logger  *zap.Logger
	now     func() time.Time

	mu        sync.Mutex
	snapshot  map[string]Entry
	recent    *ring
	lastCycle *CycleMeta
	lastError string
	running   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewPoller(cfg Config, lines LineLister, fetcher *LineFetcher, sink Sink, logger *zap.Logger) *Poller {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	return &Poller{
		cfg:      cfg,
		lines:    lines,
		fetcher:  fetcher,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
		snapshot: make(map[string]Entry),
		recent:   newRing(cfg.RecentCapacity),
	}
}

// Start launches the cycle driver. It is a no-op when live tracking is
// disabled by configuration.
func (p *Poller) Start() error {
	if !p.cfg.Enabled {
		p.logger.Info("live tracking disabled, poller not started")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fmt.Errorf("poller already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.run(ctx)

	p.logger.Info("live poller started",
		zap.Duration("interval", p.cfg.Interval),
		zap.Int64("concurrency", p.cfg.Concurrency),
	)
	return nil
}

// Stop prevents new cycles, wakes any sleeping waits and joins the driver
// with a bounded timeout. An in-flight cycle finishes its already-dispatched
// fetches.
func (p *Poller) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	cancel()
	select {
	case <-done:
	case <-time.After(p.cfg.JoinTimeout):
		return fmt.Errorf("poller stop timed out after %s", p.cfg.JoinTimeout)
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()

	p.logger.Info("live poller stopped")
	return nil
}

// Snapshot returns a copy of the live fleet snapshot. The staleness
// threshold is applied on read as well, so an entry past it is never served
// even while the poller is stopped between eviction passes.
func (p *Poller) Snapshot() []Entry {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Entry, 0, len(p.snapshot))
	for _, e := range p.snapshot {
		if now.Sub(e.ObservedAt) > p.cfg.Staleness {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VehicleKey < out[j].VehicleKey })
	return out
}

// Recent returns a copy of the bounded recent-sightings log, oldest first.
func (p *Poller) Recent() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.recent.list()
}

// Status reports the poller state for external monitoring.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	status := Status{
		Enabled:   p.cfg.Enabled,
		Running:   p.running,
		Interval:  p.cfg.Interval,
		Staleness: p.cfg.Staleness,
		LastError: p.lastError,
	}
	if p.lastCycle != nil {
		meta := *p.lastCycle
		meta.Errors = append([]string(nil), p.lastCycle.Errors...)
		status.LastCycle = &meta
	}
	return status
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	for {
		started := p.now()
		p.runCycle(ctx)

		sleep := p.cfg.Interval - p.now().Sub(started)
		if sleep < time.Second {
			sleep = time.Second
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// cycleRecord pairs a snapshot entry with the observation handed to the
// ingestor.
type cycleRecord struct {
	entry Entry
	obs   service.Observation
}

func (p *Poller) runCycle(ctx context.Context) {
	meta := CycleMeta{BatchID: uuid.New(), Started: p.now()}

	lines, err := p.lines.ListActiveLines(ctx)
	if err != nil {
		meta.Errors = append(meta.Errors, fmt.Sprintf("list lines: %v", err))
		p.finishCycle(meta)
		p.logger.Error("failed to list active lines", zap.Error(err))
		return
	}
	meta.LinesRequested = len(lines)
	if len(lines) == 0 {
		p.finishCycle(meta)
		return
	}

	records := p.fetchLines(ctx, lines, &meta)

	p.mergeCycle(records, &meta)

	for _, rec := range records {
		if _, err := p.sink.Ingest(ctx, rec.obs); err != nil {
			// One vehicle's failure never aborts the cycle.
			p.logger.Warn("failed to ingest live sighting",
				zap.String("vehicle_key", rec.entry.VehicleKey),
				zap.String("line", rec.entry.Line),
				zap.Time("observed_at", rec.entry.ObservedAt),
				zap.Error(err),
			)
		}
	}

	p.logger.Info("poll cycle finished",
		zap.String("batch_id", meta.BatchID.String()),
		zap.Int("lines_requested", meta.LinesRequested),
		zap.Int("lines_succeeded", meta.LinesSucceeded),
		zap.Int("vehicles", len(records)),
		zap.Int("errors", len(meta.Errors)),
	)
}

// fetchLines fans out one fetch task per line under the bounded worker
// pool, staggering submissions to avoid a thundering herd upstream. It
// returns the newest record per vehicle for this cycle.
func (p *Poller) fetchLines(ctx context.Context, lines []string, meta *CycleMeta) map[string]cycleRecord {
	records := make(map[string]cycleRecord)
	var recordsMu sync.Mutex
	var wg sync.WaitGroup
	sem := semaphore.NewWeighted(p.cfg.Concurrency)

	for i, line := range lines {
		if i > 0 && p.cfg.Stagger > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.cfg.Stagger):
			}
		}
		// A cancelled context stops dispatching new fetches; tasks already
		// dispatched run to completion.
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}

		wg.Add(1)
		go func(line string) {
			defer wg.Done()
			defer sem.Release(1)

			payloads, attempts, err := p.fetcher.Fetch(ctx, line)

			recordsMu.Lock()
			defer recordsMu.Unlock()
			meta.Attempts += attempts
			if err != nil {
				meta.Errors = append(meta.Errors, fmt.Sprintf("%s: %v", line, err))
				return
			}
			meta.LinesSucceeded++

			for _, payload := range payloads {
				rec, ok := p.toRecord(line, payload)
				if !ok {
					continue
				}
				existing, seen := records[rec.entry.VehicleKey]
				if !seen || existing.entry.ObservedAt.Before(rec.entry.ObservedAt) {
					records[rec.entry.VehicleKey] = rec
				}
			}
		}(line)
	}

	wg.Wait()
	return records
}

func (p *Poller) toRecord(line string, payload map[string]any) (cycleRecord, bool) {
	ext := normalize.ExtractObservation(payload)
	key := normalize.RegKey(ext.VehicleID)
	if key == "" {
		return cycleRecord{}, false
	}

	observedAt, err := timeparser.ParseObservationTime(ext.Timestamp)
	if err != nil {
		observedAt = p.now().UTC()
	}

	raw, _ := json.Marshal(payload)
	entry := Entry{
		VehicleKey:  key,
		Line:        line,
		Route:       ext.Route,
		Destination: ext.Destination,
		StopCode:    ext.Stop,
		Latitude:    ext.Latitude,
		Longitude:   ext.Longitude,
		ObservedAt:  observedAt,
	}
	obs := service.Observation{
		VehicleID:    ext.VehicleID,
		Registration: ext.Registration,
		ObservedAt:   observedAt,
		Route:        ext.Route,
		StopCode:     ext.Stop,
		Destination:  ext.Destination,
		Operator:     ext.Operator,
		Status:       ext.Status,
		FleetNumber:  ext.FleetNumber,
		VehicleType:  ext.VehicleType,
		Wrap:         ext.Wrap,
		Latitude:     ext.Latitude,
		Longitude:    ext.Longitude,
		Raw:          raw,
	}
	return cycleRecord{entry: entry, obs: obs}, true
}

// mergeCycle folds the cycle's records into the snapshot. Per vehicle the
// snapshot only moves forward in observation time; a stale record never
// overwrites a newer one. Entries older than the staleness threshold are
// evicted.
func (p *Poller) mergeCycle(records map[string]cycleRecord, meta *CycleMeta) {
	now := p.now()

	ordered := make([]Entry, 0, len(records))
	for _, rec := range records {
		ordered = append(ordered, rec.entry)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ObservedAt.Before(ordered[j].ObservedAt) })

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, entry := range ordered {
		existing, ok := p.snapshot[entry.VehicleKey]
		if !ok || existing.ObservedAt.Before(entry.ObservedAt) {
			p.snapshot[entry.VehicleKey] = entry
		}
		p.recent.add(entry)
	}

	for key, entry := range p.snapshot {
		if now.Sub(entry.ObservedAt) > p.cfg.Staleness {
			delete(p.snapshot, key)
		}
	}

	meta.Finished = now
	p.lastCycle = meta
	if len(meta.Errors) > 0 {
		p.lastError = meta.Errors[len(meta.Errors)-1]
	}
}

func (p *Poller) finishCycle(meta CycleMeta) {
	meta.Finished = p.now()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastCycle = &meta
	if len(meta.Errors) > 0 {
		p.lastError = meta.Errors[len(meta.Errors)-1]
	}
}
