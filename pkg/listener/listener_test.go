package listener

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListenerHandlesInOrder(t *testing.T) {
	in := make(chan int, 4)
	var got []int
	stopped := false
	l := New("test", in, func(v int) error {
		got = append(got, v)
		return nil
	}, func() { stopped = true })
	l.Start(context.Background())

	for i := 1; i <= 3; i++ {
		in <- i
	}
	require.Eventually(t, func() bool { return len(in) == 0 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	l.Stop()

	require.Equal(t, []int{1, 2, 3}, got)
	require.True(t, stopped)
	require.NoError(t, l.Err())
}

func TestListenerStopsOnHandlerError(t *testing.T) {
	in := make(chan int, 1)
	boom := errors.New("boom")
	l := New("test", in, func(int) error { return boom })
	l.Start(context.Background())

	in <- 1
	require.Eventually(t, func() bool { return l.Err() != nil }, time.Second, time.Millisecond)
	require.True(t, errors.Is(l.Err(), boom))
	l.Stop()
}
