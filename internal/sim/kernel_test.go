package sim

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelOrdersByTimeThenInsertion(t *testing.T) {
	k := NewKernel()
	var order []string
	k.ScheduleAfter(20, func() { order = append(order, "b") })
	k.ScheduleAfter(10, func() { order = append(order, "a") })
	k.ScheduleAfter(20, func() { order = append(order, "c") })

	require.NoError(t, k.Run(100))
	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, Time(100), k.Now())
}

func TestKernelRunExcludesEventsAtBoundary(t *testing.T) {
	k := NewKernel()
	fired := 0
	k.ScheduleAfter(50, func() { fired++ })
	k.ScheduleAfter(100, func() { fired++ })

	require.NoError(t, k.Run(100))
	assert.Equal(t, 1, fired)
	assert.Equal(t, 1, k.Pending())
}

func TestKernelCancelIsIdempotent(t *testing.T) {
	k := NewKernel()
	fired := false
	id := k.ScheduleAfter(10, func() { fired = true })
	k.Cancel(id)
	k.Cancel(id)
	require.NoError(t, k.Run(20))
	assert.False(t, fired)

	id = k.ScheduleAfter(5, func() {})
	require.NoError(t, k.Run(40))
	k.Cancel(id)
	k.Cancel(EventID(9999))
}

func TestKernelCallbackCanReschedule(t *testing.T) {
	k := NewKernel()
	var times []Time
	var tick func()
	tick = func() {
		times = append(times, k.Now())
		k.ScheduleAfter(10, tick)
	}
	k.ScheduleAfter(0, tick)
	require.NoError(t, k.Run(35))
	assert.Equal(t, []Time{0, 10, 20, 30}, times)
}

func TestKernelRecoversPanics(t *testing.T) {
	k := NewKernel()
	sentinel := errors.New("boom")
	k.ScheduleAfter(7, func() { panic(sentinel) })

	err := k.Run(10)
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)
	assert.Contains(t, err.Error(), "t=7")
}

func TestKernelRejectsRunningBackwards(t *testing.T) {
	k := NewKernel()
	require.NoError(t, k.Run(10))
	assert.Error(t, k.Run(5))
}
