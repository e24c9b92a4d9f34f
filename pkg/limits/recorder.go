package limits

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/floodgate/pkg/limits/storage"
)

// RecorderConfig contains configuration for the decision recorder.
type RecorderConfig struct {
	// Buffer is the size of the async event channel.
	// Default: 4096
	Buffer int

	// BatchSize is the maximum number of events written per Record call.
	// Default: 256
	BatchSize int

	// FlushInterval is the longest an event waits before being written.
	// Default: 1 second
	FlushInterval time.Duration

	// WriteTimeout is the timeout for one write to storage.
	// Default: 5 seconds
	WriteTimeout time.Duration
}

// Recorder writes decision events to a storage backend asynchronously.
//
// Enqueueing never blocks the decision path: when the buffer is full the
// event is dropped and counted. A single worker batches events and writes
// them to the backend.
type Recorder struct {
	backend storage.Backend
	config  RecorderConfig
	events  chan storage.Event
	done    chan struct{}
	wg      sync.WaitGroup
	logger  *slog.Logger
	metrics *Metrics

	closeOnce sync.Once
	dropped   atomic.Int64
	written   atomic.Int64
}

// NewRecorder creates a recorder and starts its worker.
func NewRecorder(backend storage.Backend, cfg RecorderConfig, logger *slog.Logger, metrics *Metrics) *Recorder {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 256
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	r := &Recorder{
		backend: backend,
		config:  cfg,
		events:  make(chan storage.Event, cfg.Buffer),
		done:    make(chan struct{}),
		logger:  logger.With("component", "limits.recorder"),
		metrics: metrics,
	}

	r.wg.Add(1)
	go r.worker()

	r.logger.Info("Decision recorder initialized",
		"buffer", cfg.Buffer,
		"batch_size", cfg.BatchSize,
		"flush_interval", cfg.FlushInterval.String(),
	)
	return r
}

// Record enqueues an event. It returns false if the event was dropped.
func (r *Recorder) Record(ev storage.Event) bool {
	select {
	case <-r.done:
		r.drop()
		return false
	default:
	}

	select {
	case r.events <- ev:
		return true
	default:
		r.drop()
		return false
	}
}

func (r *Recorder) drop() {
	if r.dropped.Add(1)%1000 == 1 {
		r.logger.Warn("Decision event buffer full, dropping events",
			"dropped_total", r.dropped.Load(),
			"buffer", r.config.Buffer,
		)
	}
	if r.metrics != nil {
		r.metrics.RecordDropped(1)
	}
}

// Dropped returns the number of events dropped so far.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Written returns the number of events written to the backend.
func (r *Recorder) Written() int64 { return r.written.Load() }

// Close stops accepting events, writes everything still buffered and waits
// for the worker to exit. It does not close the backend.
func (r *Recorder) Close() error {
	r.closeOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
		r.logger.Info("Decision recorder shut down",
			"written", r.written.Load(),
			"dropped", r.dropped.Load(),
		)
	})
	return nil
}

func (r *Recorder) worker() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]storage.Event, 0, r.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		r.write(batch)
		batch = batch[:0]
	}

	for {
		select {
		case ev := <-r.events:
			batch = append(batch, ev)
			if len(batch) >= r.config.BatchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case <-r.done:
			// Drain remaining events before exit
			for {
				select {
				case ev := <-r.events:
					batch = append(batch, ev)
					if len(batch) >= r.config.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

// write stores one batch. Failures are logged and the batch is discarded.
func (r *Recorder) write(batch []storage.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	start := time.Now()
	if err := r.backend.Record(ctx, batch); err != nil {
		r.logger.Error("Failed to store decision events",
			"events", len(batch),
			"error", err,
		)
		return
	}
	r.written.Add(int64(len(batch)))

	if d := time.Since(start); d > r.config.WriteTimeout/2 {
		r.logger.Warn("Slow decision event write",
			"events", len(batch),
			"duration_ms", d.Milliseconds(),
		)
	}
}
