// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package scheduler runs the two background workers of the sync service.

Each [Worker] owns one recurring task (the scanner tick or the processor
tick) and guarantees:

  - No self-overlap: the next run starts interval after the previous one
    completes, never in parallel with it.
  - Clean shutdown: Stop suppresses new runs and blocks until the in-flight
    run returns.

Workers are independent of each other; the scanner and processor may run
concurrently.
*/
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one recurring unit of work.
type Task func(ctx context.Context) error

// Worker drives a task on a fixed rest interval.
type Worker struct {
	name     string
	interval time.Duration
	task     Task
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWorker builds a stopped worker.
func NewWorker(name string, interval time.Duration, task Task, logger *slog.Logger) *Worker {
	return &Worker{
		name:     name,
		interval: interval,
		task:     task,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start launches the run loop. The first run fires after one interval.
func (w *Worker) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	go w.run(runCtx)

	w.logger.Info("worker started",
		slog.String("worker", w.name),
		slog.Duration("interval", w.interval),
	)
}

// Stop suppresses new runs and blocks until any in-flight run returns.
func (w *Worker) Stop() {
	w.once.Do(func() {
		if w.cancel != nil {
			w.cancel()
		}
		<-w.done
		w.logger.Info("worker stopped", slog.String("worker", w.name))
	})
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.done)

	timer := time.NewTimer(w.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		// The timer and cancellation can both be ready; shutdown wins.
		if ctx.Err() != nil {
			return
		}

		started := time.Now()
		if err := w.task(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("worker run failed",
				slog.String("worker", w.name),
				slog.String("error", err.Error()),
			)
		}

		w.logger.Debug("worker run finished",
			slog.String("worker", w.name),
			slog.Duration("elapsed", time.Since(started)),
		)

		// Rest a full interval after completion; runs never overlap.
		timer.Reset(w.interval)
	}
}
