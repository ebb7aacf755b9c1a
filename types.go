package ginseng

import "github.com/arlenforge/ginseng/loader"

// Loader re-exports loader.Loader at package scope so callers configuring an
// Environment don't need a separate import for the loader subpackage.
type Loader = loader.Loader

// FilterFunc is the signature every registered template filter must match:
// the piped value, any filter arguments, and either a transformed value or
// an error that aborts the render.
type FilterFunc func(value interface{}, args ...interface{}) (interface{}, error)

// TestFunc is the signature every registered `is` test must match: the
// value under test, any test arguments, and a boolean verdict.
type TestFunc func(value interface{}, args ...interface{}) (bool, error)
