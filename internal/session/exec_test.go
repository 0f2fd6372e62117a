package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/t-henke/glaskasten/internal/engine"
	"github.com/t-henke/glaskasten/internal/errdefs"
	"github.com/t-henke/glaskasten/internal/journal"
)

func TestExecuteSuccess(t *testing.T) {
	mgr, _, eng, jnl := newTestManager()
	addLiveSession(t, mgr, "s1")

	eng.On("Run", mock.Anything, engine.Target{ContainerID: "c-s1", HostPort: 49200}, "x <- 1\nx",
		engine.Limits{MaxDurationSeconds: 30, MaxOutputBytes: 1 << 20}).
		Return(&engine.Outcome{Success: true, Output: "", Result: "[1] 1", HasResult: true, ElapsedSeconds: 0.05}, nil)
	jnl.On("Append", mock.MatchedBy(func(e journal.Entry) bool {
		return e.SessionID == "s1" && e.Success && e.CodeLen == len("x <- 1\nx")
	})).Return(nil)

	out, err := mgr.Execute(context.Background(), "s1", "x <- 1\nx", ExecOpts{})
	require.NoError(t, err)

	assert.True(t, out.Success)
	assert.Equal(t, "[1] 1", out.Result)
	jnl.AssertExpectations(t)
}

func TestExecuteForwardsLimitOverrides(t *testing.T) {
	mgr, _, eng, jnl := newTestManager()
	addLiveSession(t, mgr, "s1")

	duration, output := 10, 4096
	eng.On("Run", mock.Anything, mock.Anything, mock.Anything,
		engine.Limits{MaxDurationSeconds: 10, MaxOutputBytes: 4096}).
		Return(&engine.Outcome{Success: true}, nil)
	jnl.On("Append", mock.Anything).Return(nil)

	_, err := mgr.Execute(context.Background(), "s1", "1", ExecOpts{
		MaxDurationSeconds: &duration,
		MaxOutputBytes:     &output,
	})
	require.NoError(t, err)
	eng.AssertExpectations(t)
}

func TestExecuteRejectsEmptyCode(t *testing.T) {
	mgr, _, _, _ := newTestManager()
	addLiveSession(t, mgr, "s1")

	_, err := mgr.Execute(context.Background(), "s1", "   \n\t", ExecOpts{})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))
}

func TestExecuteRejectsOversizedCode(t *testing.T) {
	mgr, _, _, _ := newTestManager()
	addLiveSession(t, mgr, "s1")

	_, err := mgr.Execute(context.Background(), "s1", strings.Repeat("x", 10_001), ExecOpts{})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))
}

func TestExecuteRejectsNonPositiveLimits(t *testing.T) {
	mgr, _, _, _ := newTestManager()
	addLiveSession(t, mgr, "s1")

	zero := 0
	_, err := mgr.Execute(context.Background(), "s1", "1", ExecOpts{MaxDurationSeconds: &zero})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))

	negative := -1
	_, err = mgr.Execute(context.Background(), "s1", "1", ExecOpts{MaxOutputBytes: &negative})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeInvalidArgument))
}

func TestExecuteUnknownSession(t *testing.T) {
	mgr, _, _, _ := newTestManager()

	_, err := mgr.Execute(context.Background(), "ghost", "1", ExecOpts{})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeSessionNotFound))
}

func TestExecuteTouchesSession(t *testing.T) {
	mgr, _, eng, jnl := newTestManager()
	snap := addLiveSession(t, mgr, "s1")
	stale := snap.LastUsedAt.Add(-time.Hour)
	mgr.registry.mu.Lock()
	mgr.registry.records["s1"].snap.LastUsedAt = stale
	mgr.registry.mu.Unlock()

	eng.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&engine.Outcome{Success: true}, nil)
	jnl.On("Append", mock.Anything).Return(nil)

	_, err := mgr.Execute(context.Background(), "s1", "1", ExecOpts{})
	require.NoError(t, err)

	got, err := mgr.registry.Lookup("s1")
	require.NoError(t, err)
	assert.True(t, got.LastUsedAt.After(stale))
}

func TestExecuteSerializesPerSession(t *testing.T) {
	mgr, _, eng, jnl := newTestManager()
	addLiveSession(t, mgr, "s1")

	var mu sync.Mutex
	running := 0
	maxRunning := 0
	eng.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			running++
			if running > maxRunning {
				maxRunning = running
			}
			mu.Unlock()
			time.Sleep(30 * time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
		}).
		Return(&engine.Outcome{Success: true}, nil)
	jnl.On("Append", mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := mgr.Execute(context.Background(), "s1", "1", ExecOpts{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxRunning)
}

func TestExecuteBusyWhenQueueFull(t *testing.T) {
	mgr, _, eng, jnl := newTestManager()
	addLiveSession(t, mgr, "s1")

	release := make(chan struct{})
	eng.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-release }).
		Return(&engine.Outcome{Success: true}, nil)
	jnl.On("Append", mock.Anything).Return(nil)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = mgr.Execute(context.Background(), "s1", "1", ExecOpts{})
			done <- struct{}{}
		}()
	}

	// Wait until one call runs and the other is parked in the queue.
	gate, err := mgr.registry.gateFor("s1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		return gate.waiting == 2
	}, time.Second, 5*time.Millisecond)

	_, err = mgr.Execute(context.Background(), "s1", "1", ExecOpts{})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeSessionBusy))

	close(release)
	<-done
	<-done
}

func TestExecuteQueueWaitConsumesBudget(t *testing.T) {
	mgr, _, eng, jnl := newTestManager()
	addLiveSession(t, mgr, "s1")

	release := make(chan struct{})
	eng.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { <-release }).
		Return(&engine.Outcome{Success: true}, nil).Once()
	jnl.On("Append", mock.Anything).Return(nil)

	started := make(chan struct{})
	go func() {
		close(started)
		_, _ = mgr.Execute(context.Background(), "s1", "1", ExecOpts{})
	}()
	<-started

	gate, err := mgr.registry.gateFor("s1")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		gate.mu.Lock()
		defer gate.mu.Unlock()
		return gate.waiting == 1
	}, time.Second, 5*time.Millisecond)

	one := 1
	queuedErr := make(chan error, 1)
	go func() {
		_, err := mgr.Execute(context.Background(), "s1", "1", ExecOpts{MaxDurationSeconds: &one})
		queuedErr <- err
	}()

	// The queued call's one-second budget expires while the first call
	// still holds the slot.
	err = <-queuedErr
	assert.True(t, errdefs.IsCode(err, errdefs.CodeTimeout))

	close(release)
}

func TestExecuteCrashTearsSessionDown(t *testing.T) {
	mgr, rt, eng, _ := newTestManager()
	addLiveSession(t, mgr, "s1")

	eng.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errdefs.New(errdefs.CodeSessionCrashed, "session container has exited"))
	rt.On("RemoveContainer", mock.Anything, "c-s1").Return(nil)

	_, err := mgr.Execute(context.Background(), "s1", "q()", ExecOpts{})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeSessionCrashed))

	// The record is gone; the next call sees session_not_found.
	_, err = mgr.Execute(context.Background(), "s1", "1", ExecOpts{})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeSessionNotFound))
	rt.AssertCalled(t, "RemoveContainer", mock.Anything, "c-s1")
}

func TestExecuteInfraErrorKeepsSession(t *testing.T) {
	mgr, rt, eng, _ := newTestManager()
	addLiveSession(t, mgr, "s1")

	eng.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errdefs.New(errdefs.CodeEvaluatorUnreachable, "evaluator dial failed"))

	_, err := mgr.Execute(context.Background(), "s1", "1", ExecOpts{})
	assert.True(t, errdefs.IsCode(err, errdefs.CodeEvaluatorUnreachable))

	_, err = mgr.registry.Lookup("s1")
	assert.NoError(t, err)
	rt.AssertNotCalled(t, "RemoveContainer", mock.Anything, mock.Anything)
}

func TestExecuteJournalFailureDoesNotFailCall(t *testing.T) {
	mgr, _, eng, jnl := newTestManager()
	addLiveSession(t, mgr, "s1")

	eng.On("Run", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&engine.Outcome{Success: true}, nil)
	jnl.On("Append", mock.Anything).Return(assert.AnError)

	out, err := mgr.Execute(context.Background(), "s1", "1", ExecOpts{})
	require.NoError(t, err)
	assert.True(t, out.Success)
}
