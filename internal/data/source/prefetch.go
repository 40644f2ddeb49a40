package source

import "context"

// Stream is the consumer side of Prefetch.
type Stream[T any] struct {
	C    <-chan T
	done chan struct{}
	err  error
}

// Wait blocks until the producer stopped and returns its error. Consumers must drain C or cancel
// the producer's ctx before calling it.
func (s *Stream[T]) Wait() error {
	<-s.done
	return s.err
}

// Prefetch reads seq on its own goroutine into a channel buffered to n records. A full buffer
// blocks the producer, which bounds how far the source runs ahead of the workers.
func Prefetch[T any](ctx context.Context, seq Sequence[T], n int) *Stream[T] {
	if n < 1 {
		n = 1
	}
	ch := make(chan T, n)
	st := &Stream[T]{C: ch, done: make(chan struct{})}
	go func() {
		defer close(st.done)
		defer close(ch)
		cur, err := seq.Open(ctx)
		if err != nil {
			st.err = err
			return
		}
		defer cur.Close()
		for cur.Next() {
			select {
			case ch <- cur.Record():
			case <-ctx.Done():
				return
			}
		}
		st.err = cur.Err()
	}()
	return st
}
