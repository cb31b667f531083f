package rail

import (
	"errors"

	"github.com/lguimbarda/min-rail/rail/core"
)

// To hands the rails to an arbitrary converter, allowing fluent exit
// into another type. A converter panic is captured and returned as an
// error alongside the zero value.
func To[T, R any](r Rails[T], converter func(Rails[T]) R) (out R, err error) {
	if r == nil {
		return out, core.NewConfigError("rails is nil")
	}
	if converter == nil {
		return out, core.NewConfigError("converter is nil")
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = core.NewPanicError(rec)
		}
	}()
	return converter(r), nil
}

// Compose applies a stage-building function to the rails, for reusable
// operator chains. A composer returning nil rails is a configuration
// error.
func Compose[T, R any](r Rails[T], composer func(Rails[T]) (Rails[R], error)) (Rails[R], error) {
	if r == nil {
		return nil, core.NewConfigError("rails is nil")
	}
	if composer == nil {
		return nil, core.NewConfigError("composer is nil")
	}
	out, err := To(r, func(in Rails[T]) Rails[R] {
		res, cerr := composer(in)
		if cerr != nil {
			panic(cerr)
		}
		return res
	})
	if err != nil {
		var pe core.PanicError
		if errors.As(err, &pe) {
			if inner, ok := pe.Value.(error); ok {
				return nil, inner
			}
		}
		return nil, err
	}
	if out == nil {
		return nil, core.NewConfigError("composer returned nil rails")
	}
	return out, nil
}
