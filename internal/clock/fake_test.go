package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestFake_NowOnlyMovesOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	assert.Equal(t, epoch, c.Now())

	c.Advance(3 * time.Second)
	assert.Equal(t, epoch.Add(3*time.Second), c.Now())
}

func TestFake_AfterFuncFiresAtDeadline(t *testing.T) {
	c := NewFake(epoch)
	var fired atomic.Int32

	c.AfterFunc(time.Second, func() { fired.Add(1) })
	require.Equal(t, 1, c.Pending())

	c.Advance(999 * time.Millisecond)
	assert.Equal(t, int32(0), fired.Load())

	c.Advance(time.Millisecond)
	assert.Equal(t, int32(1), fired.Load())
	assert.Equal(t, 0, c.Pending())

	c.Advance(time.Hour)
	assert.Equal(t, int32(1), fired.Load(), "one-shot timers fire once")
}

func TestFake_FiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int

	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestFake_StopPreventsFiring(t *testing.T) {
	c := NewFake(epoch)
	var fired atomic.Bool

	tm := c.AfterFunc(time.Second, func() { fired.Store(true) })
	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())
	assert.Equal(t, 0, c.Pending())

	c.Advance(2 * time.Second)
	assert.False(t, fired.Load())
}

func TestFake_CallbackMayScheduleTimer(t *testing.T) {
	c := NewFake(epoch)
	var second atomic.Bool

	c.AfterFunc(time.Second, func() {
		c.AfterFunc(time.Second, func() { second.Store(true) })
	})

	c.Advance(time.Second)
	require.Equal(t, 1, c.Pending())
	c.Advance(time.Second)
	assert.True(t, second.Load())
}

func TestFake_WaitForTimers(t *testing.T) {
	c := NewFake(epoch)
	done := make(chan struct{})

	go func() {
		c.WaitForTimers(2)
		close(done)
	}()

	c.AfterFunc(time.Second, func() {})
	c.AfterFunc(time.Second, func() {})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("WaitForTimers did not return")
	}
}

func TestReal_AfterFunc(t *testing.T) {
	fired := make(chan struct{})
	Real().AfterFunc(time.Millisecond, func() { close(fired) })

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("real timer did not fire")
	}
}
