package rail

// ErrorMode governs when errors from concurrent sources inside a rail
// stage are surfaced downstream.
type ErrorMode int

const (
	// ErrorModeImmediate cancels all other active work and reports the
	// error at once.
	ErrorModeImmediate ErrorMode = iota

	// ErrorModeBoundary defers a nested error until the currently
	// active nested producers finish naturally; no further nested
	// producers are started once an error is observed.
	ErrorModeBoundary

	// ErrorModeEnd accumulates all errors and reports them together
	// only once every outer sequence and every nested producer has
	// finished.
	ErrorModeEnd
)
