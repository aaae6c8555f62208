package looptimer

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestImmediateFiresOnce(t *testing.T) {
	var calls int32
	lt := New(Options{
		Interval:  50 * time.Millisecond,
		Fn:        func() { atomic.AddInt32(&calls, 1) },
		Autostart: true,
		Immediate: true,
	})
	defer lt.Stop()

	require.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestStopHaltsLoop(t *testing.T) {
	var calls int32
	lt := New(Options{
		Interval:  20 * time.Millisecond,
		Fn:        func() { atomic.AddInt32(&calls, 1) },
		Autostart: true,
	})

	time.Sleep(100 * time.Millisecond)
	lt.Stop()
	after := atomic.LoadInt32(&calls)
	require.Greater(t, after, int32(0))

	time.Sleep(100 * time.Millisecond)
	require.Equal(t, after, atomic.LoadInt32(&calls))
}
