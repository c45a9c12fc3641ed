package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	errListenerStopped = errors.New("listener stopped")
)

type Job interface {
	Start(ctx context.Context)
	Stop()
}

// Listener runs handler for every value received on in, one at a time, in a
// single goroutine. A handler error stops the listener; Err reports it.
type Listener[T any] struct {
	name        string
	handler     func(input T) error
	stopHandler func()

	in     <-chan T
	wg     sync.WaitGroup
	cancel func()
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func New[T any](
	name string,
	in <-chan T,
	handler func(T) error,
	stopHandler ...func(),
) *Listener[T] {
	if len(stopHandler) == 0 {
		stopHandler = []func(){func() {}}
	}

	return &Listener[T]{
		name:        name,
		in:          in,
		handler:     handler,
		cancel:      func() {},
		stopHandler: stopHandler[0],
		done:        make(chan struct{}),
	}
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		defer close(l.done)
		for {
			err := l.run(ctx)
			switch {
			case errors.Is(err, errListenerStopped):
				return
			case err != nil:
				slog.Error("listener stopped on error", "listener", l.name, "error", err)
				l.mu.Lock()
				l.err = err
				l.mu.Unlock()
				return
			}
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp := <-l.in:
		err := l.handler(inp)
		if err != nil {
			return fmt.Errorf("failed to handle input: %w", err)
		}
	case <-ctx.Done():
		return errListenerStopped
	}

	return nil
}

// Done is closed once the listener goroutine has exited.
func (l *Listener[T]) Done() <-chan struct{} {
	return l.done
}

// Err returns the handler error that stopped the listener, if any.
func (l *Listener[T]) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
	l.stopHandler()
}
