package rail

import "github.com/lguimbarda/min-rail/rail/core"

// safeMapValue invokes a mapping callback, converting a panic into an
// error so it can be routed as the affected rail's error signal.
func safeMapValue[T, R any](mapper func(T) (R, error), v T) (out R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = core.NewPanicError(rec)
		}
	}()
	return mapper(v)
}

// safePredicate invokes a predicate callback with panic capture.
func safePredicate[T any](pred func(T) (bool, error), v T) (keep bool, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = core.NewPanicError(rec)
		}
	}()
	return pred(v)
}

// safePublisher invokes a publisher-producing mapper with panic
// capture. A nil publisher is reported as a configuration error.
func safePublisher[T, R any](mapper func(T) core.Publisher[R], v T) (p core.Publisher[R], err error) {
	defer func() {
		if rec := recover(); rec != nil {
			p = nil
			err = core.NewPanicError(rec)
		}
	}()
	p = mapper(v)
	if p == nil {
		err = core.NewConfigError("mapper returned a nil publisher")
	}
	return
}

// safeAccumulate invokes a reducer callback with panic capture.
func safeAccumulate[R, T any](reducer func(R, T) R, acc R, v T) (out R, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = core.NewPanicError(rec)
		}
	}()
	return reducer(acc, v), nil
}

// safeCombine invokes a same-type combiner callback with panic capture.
func safeCombine[T any](combiner func(T, T) T, a, b T) (out T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = core.NewPanicError(rec)
		}
	}()
	return combiner(a, b), nil
}

// safeHook runs a side-effect hook with panic capture.
func safeHook(hook func()) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = core.NewPanicError(rec)
		}
	}()
	hook()
	return nil
}
