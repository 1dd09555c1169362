package client

import "context"

// Future is the pending result of an asynchronous call. The call runs the
// blocking form on its own goroutine, so results and side effects are the
// same as for the blocking form.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func goAsync[T any](ctx context.Context, fn func(context.Context) (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		f.val, f.err = fn(ctx)
	}()
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the call completes.
func (f *Future[T]) Wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// Await waits for the call or for ctx, whichever ends first. Giving up on
// the wait does not cancel the call; cancel the context passed to the
// ...Async method for that.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
