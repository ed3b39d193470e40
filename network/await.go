package network

import (
	"context"
	"sync"
)

// Await bridges a callback-style provider call into a blocking one.
//
// start registers whatever listener it needs, kicks off the provider call and
// returns a release func. resolve may be called any number of times from any
// goroutine; only the first value is kept. release always runs before Await
// returns, including when start fails or ctx ends first.
func Await[T any](ctx context.Context, start func(resolve func(T)) (release func(), err error)) (T, error) {
	var (
		once   sync.Once
		result = make(chan T, 1)
	)
	resolve := func(v T) {
		once.Do(func() { result <- v })
	}

	release, err := start(resolve)
	if release != nil {
		defer release()
	}
	if err != nil {
		var zero T
		return zero, err
	}

	select {
	case v := <-result:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
