package recorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// DB sends batched statements. *pgxpool.Pool satisfies it.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    10000,
	}
}

// Stats is a snapshot of recorder counters.
type Stats struct {
	Received int64
	Dropped  int64
	Inserts  int64
	Flushes  int64
	Errors   int64
}

// Event is one recorded push payload.
type Event struct {
	ID         uuid.UUID
	ReceivedAt time.Time
	Source     string
	Payload    json.RawMessage
}

const insertEvent = `
	INSERT INTO push_events (id, received_at, source, payload)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (id) DO NOTHING
`

// Recorder batches push payloads into the push_events table.
type Recorder struct {
	cfg    Config
	logger *slog.Logger
	db     DB
	now    func() time.Time

	input chan Event

	// Batching
	batch   []Event
	batchMu sync.Mutex
	flushMu sync.Mutex

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool

	// Metrics
	received atomic.Int64
	dropped  atomic.Int64
	inserts  atomic.Int64
	flushes  atomic.Int64
	errors   atomic.Int64
}

// New creates a Recorder. Call Start before registering its listeners.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return &Recorder{
		cfg:    cfg,
		logger: logger.With("component", "recorder"),
		db:     db,
		now:    time.Now,
		input:  make(chan Event, cfg.BufferSize),
		batch:  make([]Event, 0, cfg.BatchSize),
	}
}

// Listener returns a push listener that records payloads under source.
func (r *Recorder) Listener(source string) func(payload json.RawMessage) {
	return func(payload json.RawMessage) {
		r.Record(source, payload)
	}
}

// Record queues a payload. It never blocks and reports false when the
// payload was dropped because the queue is full.
func (r *Recorder) Record(source string, payload json.RawMessage) bool {
	r.received.Add(1)

	ev := Event{
		ID:         uuid.New(),
		ReceivedAt: r.now(),
		Source:     source,
		Payload:    payload,
	}

	select {
	case r.input <- ev:
		return true
	default:
		if r.dropped.Add(1)%1000 == 1 {
			r.logger.Warn("recorder queue full, dropping push", "source", source, "dropped", r.dropped.Load())
		}
		return false
	}
}

// Start begins consuming queued payloads and writing to the database.
func (r *Recorder) Start(ctx context.Context) error {
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(2)
	go r.consumeLoop()
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
		"buffer_size", r.cfg.BufferSize,
	)
	return nil
}

// Stop drains the queue and writes the final batch using ctx.
func (r *Recorder) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return ctx.Err()
	}

	// Drain what is still queued
drain:
	for {
		select {
		case ev := <-r.input:
			r.batchMu.Lock()
			r.batch = append(r.batch, ev)
			r.batchMu.Unlock()
		default:
			break drain
		}
	}

	r.flush(ctx)

	s := r.Stats()
	r.logger.Info("recorder stopped",
		"inserts", s.Inserts,
		"dropped", s.Dropped,
		"errors", s.Errors,
	)
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Received: r.received.Load(),
		Dropped:  r.dropped.Load(),
		Inserts:  r.inserts.Load(),
		Flushes:  r.flushes.Load(),
		Errors:   r.errors.Load(),
	}
}

// consumeLoop moves queued events into the current batch.
func (r *Recorder) consumeLoop() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case ev := <-r.input:
			r.batchMu.Lock()
			r.batch = append(r.batch, ev)
			full := len(r.batch) >= r.cfg.BatchSize
			r.batchMu.Unlock()

			if full {
				r.flush(r.ctx)
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.flush(r.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (r *Recorder) flush(ctx context.Context) {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	r.batchMu.Lock()
	if len(r.batch) == 0 {
		r.batchMu.Unlock()
		return
	}
	batch := r.batch
	r.batch = make([]Event, 0, r.cfg.BatchSize)
	r.batchMu.Unlock()

	start := time.Now()

	inserted, err := r.batchInsert(ctx, batch)
	if err != nil {
		r.errors.Add(1)
		r.logger.Error("batch insert failed", "error", err, "count", len(batch))
		return
	}

	r.inserts.Add(int64(inserted))
	r.flushes.Add(1)

	r.logger.Debug("flushed push events",
		"count", len(batch),
		"inserted", inserted,
		"duration", time.Since(start),
	)
}

// batchInsert queues one INSERT per event in a single pgx.Batch.
func (r *Recorder) batchInsert(ctx context.Context, events []Event) (int, error) {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(insertEvent, ev.ID, ev.ReceivedAt, ev.Source, payloadText(ev.Payload))
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range events {
		ct, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(ct.RowsAffected())
	}
	return inserted, nil
}

// payloadText renders a payload for a JSONB column. Pushes without a
// payload are stored as JSON null.
func payloadText(p json.RawMessage) string {
	if len(p) == 0 {
		return "null"
	}
	return string(p)
}
