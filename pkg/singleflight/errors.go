package singleflight

import "errors"

// ErrPanic wraps the value recovered from a panicking shared call.
var ErrPanic = errors.New("singleflight: shared call panicked")
