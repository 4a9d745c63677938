// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package scheduler_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/yomira-sync/internal/scheduler"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

/*
TestWorker_NeverOverlaps verifies that runs execute strictly one at a time
even when the task outlasts the interval.
*/
func TestWorker_NeverOverlaps(t *testing.T) {
	var running int32
	var overlapped atomic.Bool
	var runs int32

	task := func(ctx context.Context) error {
		if atomic.AddInt32(&running, 1) > 1 {
			overlapped.Store(true)
		}
		defer atomic.AddInt32(&running, -1)

		atomic.AddInt32(&runs, 1)
		time.Sleep(30 * time.Millisecond) // slower than the interval
		return nil
	}

	worker := scheduler.NewWorker("test", 5*time.Millisecond, task, testLogger())
	worker.Start(context.Background())

	time.Sleep(150 * time.Millisecond)
	worker.Stop()

	assert.False(t, overlapped.Load())
	assert.GreaterOrEqual(t, atomic.LoadInt32(&runs), int32(2))
}

/*
TestWorker_StopBlocksOnInFlightRun verifies that Stop waits for the current
run to return and suppresses any further runs.
*/
func TestWorker_StopBlocksOnInFlightRun(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var runs int32

	task := func(ctx context.Context) error {
		atomic.AddInt32(&runs, 1)
		close(entered)
		<-release
		return nil
	}

	worker := scheduler.NewWorker("test", time.Millisecond, task, testLogger())
	worker.Start(context.Background())

	// 1. Wait for the task to be mid-run
	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("task never started")
	}

	// 2. Stop must block until the task returns
	var wg sync.WaitGroup
	stopped := atomic.Bool{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Stop()
		stopped.Store(true)
	}()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, stopped.Load())

	close(release)
	wg.Wait()
	require.True(t, stopped.Load())

	// 3. No new run starts after Stop
	assert.Equal(t, int32(1), atomic.LoadInt32(&runs))
}
