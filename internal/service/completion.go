package service

import "sync"

// completion is a single-assignment result shared by the racers of one flow.
// The first Resolve or Reject wins; later calls are no-ops and report false.
type completion[T any] struct {
	once sync.Once
	done chan struct{}
	val  T
	err  error
}

func newCompletion[T any]() *completion[T] {
	return &completion[T]{done: make(chan struct{})}
}

func (c *completion[T]) settle(v T, err error) bool {
	won := false
	c.once.Do(func() {
		c.val, c.err = v, err
		won = true
		close(c.done)
	})
	return won
}

// Resolve settles the completion with a value.
func (c *completion[T]) Resolve(v T) bool { return c.settle(v, nil) }

// Reject settles the completion with an error.
func (c *completion[T]) Reject(err error) bool {
	var zero T
	return c.settle(zero, err)
}

// Done is closed once the completion is settled.
func (c *completion[T]) Done() <-chan struct{} { return c.done }

// Result returns the settled value. It must only be called after Done is closed.
func (c *completion[T]) Result() (T, error) {
	<-c.done
	return c.val, c.err
}
