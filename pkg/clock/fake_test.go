package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestFakeClock_AfterFiresOnAdvance(t *testing.T) {
	c := NewFake(epoch)
	ch := c.After(10 * time.Second)

	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(10*time.Second), got)
	default:
		t.Fatal("did not fire")
	}
}

func TestFakeClock_AfterFuncStop(t *testing.T) {
	c := NewFake(epoch)
	var calls atomic.Int32
	timer := c.AfterFunc(time.Second, func() { calls.Add(1) })

	require.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.Zero(t, calls.Load())
	assert.Zero(t, c.PendingCount())
}

func TestFakeClock_AfterFuncRunsInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []int
	c.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	c.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	c.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	c.Advance(5 * time.Second)
	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestFakeClock_Ticker(t *testing.T) {
	c := NewFake(epoch)
	tk := c.NewTicker(time.Second)
	defer tk.Stop()

	c.Advance(time.Second)
	<-tk.C
	c.Advance(time.Second)
	<-tk.C

	tk.Stop()
	c.Advance(time.Second)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeClock_WaitForTimers(t *testing.T) {
	c := NewFake(epoch)
	done := make(chan struct{})
	go func() {
		<-c.After(time.Second)
		close(done)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Second)
	<-done
}

func TestClocksImplementInterface(t *testing.T) {
	var _ Clock = Real()
	var _ Clock = NewFake(epoch)
}
