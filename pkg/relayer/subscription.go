package relayer

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrStreamEnded = errors.New("stream ended by relayer")
	ErrClosed      = errors.New("subscription closed")
)

// Subscription is a relayer stream collapsed into a single terminal event:
// the first of Deliver, Fail or End wins and the underlying stream is
// closed exactly once.
type Subscription[T any] struct {
	done    chan struct{}
	settle  sync.Once
	release sync.Once
	closeFn func()

	data T
	err  error
}

func NewSubscription[T any](closeFn func()) *Subscription[T] {
	return &Subscription[T]{done: make(chan struct{}), closeFn: closeFn}
}

func (s *Subscription[T]) finish(data T, err error) {
	s.settle.Do(func() {
		s.data, s.err = data, err
		close(s.done)
	})
	s.release.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}

// Deliver reports a data event.
func (s *Subscription[T]) Deliver(data T) { s.finish(data, nil) }

// Fail reports a stream error.
func (s *Subscription[T]) Fail(err error) {
	var zero T
	s.finish(zero, err)
}

// End reports that the stream closed without data.
func (s *Subscription[T]) End() {
	var zero T
	s.finish(zero, ErrStreamEnded)
}

// Done is closed once the terminal event has been recorded.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Wait blocks until the terminal event or ctx cancellation. Cancelling ctx
// closes the stream.
func (s *Subscription[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-s.done:
		return s.data, s.err
	case <-ctx.Done():
		s.Fail(ctx.Err())
		<-s.done
		return s.data, s.err
	}
}

// Close tears the stream down, settling it with ErrClosed if nothing else
// has. Safe to call more than once.
func (s *Subscription[T]) Close() {
	var zero T
	s.finish(zero, ErrClosed)
}
