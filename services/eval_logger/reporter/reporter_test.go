// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package reporter

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/roboeval/services/eval_logger/sink"
)

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestReporter_DisabledWithoutInterval(t *testing.T) {
	r := New(sink.NewMemorySink(), 0)
	r.Start()
	assert.False(t, r.Running())

	// Stop on a never-started reporter must return immediately.
	done := make(chan struct{})
	go func() {
		r.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Stop blocked on a reporter that never started")
	}
}

func TestReporter_DisabledWithoutSink(t *testing.T) {
	r := New(nil, 50*time.Millisecond)
	r.Start()
	assert.False(t, r.Running())
	r.Stop()
}

func TestReporter_FirstWakeIsBaselineOnly(t *testing.T) {
	ms := sink.NewMemorySink()
	r := New(ms, 30*time.Millisecond)
	r.Start()
	defer r.Stop()

	// The first flush happens immediately on start and records only
	// the time baseline. Emissions begin on the second wake.
	time.Sleep(10 * time.Millisecond)
	assert.Empty(t, ms.Logs())

	waitFor(t, 2*time.Second, func() bool { return len(ms.Logs()) >= 1 })
}

func TestReporter_EmitsStepStats(t *testing.T) {
	ms := sink.NewMemorySink()
	r := New(ms, 25*time.Millisecond)
	r.Start()

	for i := 0; i < 12; i++ {
		r.IncrementStep()
	}

	waitFor(t, 2*time.Second, func() bool { return len(ms.Logs()) >= 2 })
	r.Stop()

	assert.Equal(t, 12, r.TotalSteps())
	assert.Equal(t, sink.StepKeyElapsed, ms.AxisFor(stepStatsPattern))

	logs := ms.Logs()
	first := logs[0]
	require.Contains(t, first, KeyTotalSteps)
	require.Contains(t, first, KeyStepsPerMinute)
	require.Contains(t, first, KeyTotalElapsed)

	assert.Equal(t, 12, first[KeyTotalSteps])
	assert.Greater(t, first[KeyStepsPerMinute].(float64), 0.0)
	assert.Greater(t, first[KeyTotalElapsed].(float64), 0.0)

	// The per-interval counter resets after each flush, so with no
	// further increments a later flush reports zero throughput while
	// the cumulative total holds.
	last := logs[len(logs)-1]
	assert.Equal(t, 12, last[KeyTotalSteps])
	if len(logs) >= 2 {
		assert.Equal(t, 0.0, last[KeyStepsPerMinute])
	}

	// Elapsed time is cumulative and monotonic across flushes.
	prev := -1.0
	for _, entry := range logs {
		cur := entry[KeyTotalElapsed].(float64)
		assert.GreaterOrEqual(t, cur, prev)
		prev = cur
	}
}

func TestReporter_SelfTerminatesOnSinkError(t *testing.T) {
	ms := sink.NewMemorySink()
	ms.FailWith = errors.New("dashboard unreachable")

	r := New(ms, 15*time.Millisecond)
	r.Start()
	require.True(t, r.Running())

	// First wake is baseline-only, second wake hits the failing Log
	// and must shut the loop down without any call to Stop.
	waitFor(t, 2*time.Second, func() bool { return !r.Running() })

	// Stop after self-termination is still safe.
	r.Stop()
	r.Stop()
}

func TestReporter_StopIsIdempotent(t *testing.T) {
	r := New(sink.NewMemorySink(), 20*time.Millisecond)
	r.Start()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Stop()
		}()
	}
	wg.Wait()
	assert.False(t, r.Running())
}

func TestReporter_ConcurrentIncrements(t *testing.T) {
	r := New(sink.NewMemorySink(), 10*time.Millisecond)
	r.Start()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.IncrementStep()
			}
		}()
	}
	wg.Wait()
	r.Stop()

	assert.Equal(t, 800, r.TotalSteps())
}
