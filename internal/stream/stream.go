// Package stream holds the channel plumbing shared by pipeline stages.
//
// A stage reads its input channel until it is closed and closes its output
// channel only after finishing successfully. On failure it returns the error
// and leaves the output open; stages of one pipeline share a context that is
// cancelled on the first error, which is what unblocks the others. A consumer
// therefore never mistakes an aborted run for a complete one.
package stream

import "context"

// Send hands v to the next stage, blocking until it is taken or ctx is done.
func Send[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive takes the next value from in. ok is false once in is closed.
func Receive[T any](ctx context.Context, in <-chan T) (v T, ok bool, err error) {
	select {
	case v, ok = <-in:
		return v, ok, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}

// FromSlice feeds items into out and closes it.
func FromSlice[T any](ctx context.Context, items []T, out chan<- T) error {
	for _, item := range items {
		if err := Send(ctx, out, item); err != nil {
			return err
		}
	}
	close(out)
	return nil
}

// Concat forwards every value of each input in turn, draining one input
// completely before moving to the next, and closes out.
func Concat[T any](ctx context.Context, out chan<- T, ins ...<-chan T) error {
	for _, in := range ins {
		for {
			v, ok, err := Receive(ctx, in)
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if err := Send(ctx, out, v); err != nil {
				return err
			}
		}
	}
	close(out)
	return nil
}
