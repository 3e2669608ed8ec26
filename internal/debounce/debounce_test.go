package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTriggerFiresOnce(t *testing.T) {
	var calls atomic.Int32
	d := New(30*time.Millisecond, func() { calls.Add(1) })

	for i := 0; i < 5; i++ {
		d.Trigger()
		time.Sleep(5 * time.Millisecond)
	}
	assert.True(t, d.Pending())

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, d.Pending())
}

func TestTriggerRestartsDelay(t *testing.T) {
	fired := make(chan time.Time, 1)
	d := New(40*time.Millisecond, func() { fired <- time.Now() })

	start := time.Now()
	d.Trigger()
	time.Sleep(25 * time.Millisecond)
	last := time.Now()
	d.Trigger()

	select {
	case at := <-fired:
		assert.GreaterOrEqual(t, at.Sub(last), 40*time.Millisecond)
		assert.Greater(t, at.Sub(start), 60*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("debounced call never fired")
	}
}

func TestSeparateBurstsFireSeparately(t *testing.T) {
	var calls atomic.Int32
	d := New(10*time.Millisecond, func() { calls.Add(1) })

	d.Trigger()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 2*time.Millisecond)
	d.Trigger()
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, 2*time.Millisecond)
}

func TestCancel(t *testing.T) {
	var calls atomic.Int32
	d := New(20*time.Millisecond, func() { calls.Add(1) })

	assert.False(t, d.Cancel())
	d.Trigger()
	assert.True(t, d.Cancel())
	assert.False(t, d.Pending())

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, calls.Load())
}

func TestFlushRunsPendingCall(t *testing.T) {
	var calls atomic.Int32
	d := New(time.Hour, func() { calls.Add(1) })

	assert.False(t, d.Flush())
	d.Trigger()
	assert.True(t, d.Flush())
	assert.EqualValues(t, 1, calls.Load())
	assert.False(t, d.Pending())
	assert.False(t, d.Flush())
	assert.EqualValues(t, 1, calls.Load())
}

func TestFlushWaitsForRunningCall(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var done atomic.Bool
	d := New(time.Millisecond, func() {
		close(started)
		<-release
		done.Store(true)
	})

	d.Trigger()
	<-started
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	assert.False(t, d.Flush())
	assert.True(t, done.Load())
}
