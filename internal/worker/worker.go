// Package worker consumes ingestion work orders from the Redis stream and
// runs them through the pipeline, recording progress on task rows.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quarrylabs/quarry/internal/graphsync"
	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/queue/streams"
	"github.com/quarrylabs/quarry/internal/store"
)

var tasksProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "quarry_worker_tasks_total",
	Help: "Ingestion tasks processed by the worker, by outcome.",
}, []string{"outcome"})

// TaskStore captures the task bookkeeping the worker needs; *store.Store
// satisfies it.
type TaskStore interface {
	MarkTaskRunning(ctx context.Context, taskID string) error
	CompleteTask(ctx context.Context, taskID string, result map[string]interface{}) error
	FailTask(ctx context.Context, taskID string, taskErr string) error
}

// Options tunes the consume loop.
type Options struct {
	Stream        string
	BlockTimeout  time.Duration
	BatchCount    int64
	ClaimMinIdle  time.Duration
	SweepInterval time.Duration
	SweepLimit    int
}

func (o *Options) defaults() {
	if o.BlockTimeout <= 0 {
		o.BlockTimeout = 5 * time.Second
	}
	if o.BatchCount <= 0 {
		o.BatchCount = 10
	}
	if o.ClaimMinIdle <= 0 {
		o.ClaimMinIdle = time.Minute
	}
	if o.SweepLimit <= 0 {
		o.SweepLimit = 20
	}
}

// Worker runs the consume loop.
type Worker struct {
	consumer   *streams.Consumer
	pipeline   *ingest.Pipeline
	tasks      TaskStore
	reconciler *graphsync.Reconciler
	opts       Options
	logger     *log.Logger
}

// New builds a Worker. The reconciler is optional; when present the worker
// also runs periodic reconciliation sweeps.
func New(consumer *streams.Consumer, pipeline *ingest.Pipeline, tasks TaskStore,
	reconciler *graphsync.Reconciler, opts Options, logger *log.Logger) *Worker {
	opts.defaults()
	if logger == nil {
		logger = log.New(log.Writer(), "[WORKER] ", log.LstdFlags)
	}
	return &Worker{
		consumer:   consumer,
		pipeline:   pipeline,
		tasks:      tasks,
		reconciler: reconciler,
		opts:       opts,
		logger:     logger,
	}
}

// Run consumes until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Printf("consuming stream %s", w.opts.Stream)

	var sweepC <-chan time.Time
	if w.reconciler != nil && w.opts.SweepInterval > 0 {
		ticker := time.NewTicker(w.opts.SweepInterval)
		defer ticker.Stop()
		sweepC = ticker.C
	}

	lastClaim := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweepC:
			w.runSweep(ctx)
		default:
		}

		msgs, err := w.consumer.Read(ctx, w.opts.Stream,
			streams.WithBlock(w.opts.BlockTimeout), streams.WithCount(w.opts.BatchCount))
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			w.logger.Printf("warn: read stream: %v", err)
			time.Sleep(time.Second)
			continue
		}

		// Periodically reclaim entries abandoned by dead consumers.
		if time.Since(lastClaim) > w.opts.ClaimMinIdle {
			claimed, _, err := w.consumer.AutoClaim(ctx, w.opts.Stream, w.opts.ClaimMinIdle, "0-0", w.opts.BatchCount)
			if err != nil {
				w.logger.Printf("warn: autoclaim: %v", err)
			} else {
				msgs = append(msgs, claimed...)
			}
			lastClaim = time.Now()
		}

		for _, msg := range msgs {
			w.handle(ctx, msg)
		}
	}
}

// handle processes one stream entry. The entry is acked regardless of the
// ingestion outcome; failures are recorded on the task row, not redelivered.
func (w *Worker) handle(ctx context.Context, msg streams.Message) {
	defer func() {
		if err := w.consumer.Ack(ctx, w.opts.Stream, msg.ID); err != nil {
			w.logger.Printf("warn: ack %s: %v", msg.ID, err)
		}
	}()

	if msg.Envelope.EventType != streams.EventIngestRequested {
		w.logger.Printf("warn: dropping unexpected event type %q", msg.Envelope.EventType)
		return
	}

	var req ingest.Request
	if err := json.Unmarshal(msg.Envelope.Data, &req); err != nil {
		w.logger.Printf("warn: malformed ingest payload in %s: %v", msg.ID, err)
		w.failTask(ctx, msg.Envelope.TaskID, "malformed payload: "+err.Error())
		tasksProcessed.WithLabelValues("malformed").Inc()
		return
	}

	taskID := msg.Envelope.TaskID
	if taskID != "" {
		if err := w.tasks.MarkTaskRunning(ctx, taskID); err != nil {
			// Another consumer already claimed the task.
			w.logger.Printf("skipping task %s: %v", taskID, err)
			return
		}
	}

	result, err := w.pipeline.Ingest(ctx, req)
	if err != nil {
		w.logger.Printf("warn: ingest %s/%s: %v", req.SourceType, req.SourceID, err)
		w.failTask(ctx, taskID, err.Error())
		tasksProcessed.WithLabelValues("failed").Inc()
		return
	}

	if taskID != "" {
		if err := w.tasks.CompleteTask(ctx, taskID, result.Map()); err != nil {
			w.logger.Printf("warn: complete task %s: %v", taskID, err)
		}
	}
	tasksProcessed.WithLabelValues("ok").Inc()
}

func (w *Worker) failTask(ctx context.Context, taskID, reason string) {
	if taskID == "" {
		return
	}
	if err := w.tasks.FailTask(ctx, taskID, reason); err != nil {
		w.logger.Printf("warn: fail task %s: %v", taskID, err)
	}
}

func (w *Worker) runSweep(ctx context.Context) {
	res, err := w.reconciler.Sweep(ctx, w.opts.SweepLimit)
	if err != nil {
		w.logger.Printf("warn: reconciliation sweep: %v", err)
		return
	}
	w.logger.Printf("reconciliation sweep: synced=%d failed=%d remaining=%d",
		len(res.Synced), len(res.Failed), res.Remaining)
}

var _ TaskStore = (*store.Store)(nil)
