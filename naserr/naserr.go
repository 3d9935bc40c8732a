// Package naserr defines the error kinds reported by the FlexNAS
// transformations.
//
// Every error returned by nas.Convert, mixprec.Quantize and
// backends.IntegerizeArch wraps one of the sentinel errors below, so callers
// can branch with errors.Is:
//
//	model, _, err := nas.Convert(net, shape, nas.AutoImport)
//	if errors.Is(err, naserr.ErrConfiguration) {
//	    // bad option, backend or unsupported layer
//	}
package naserr

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

var (
	// ErrConfiguration reports a bad conversion type, an unsupported backend
	// or layer, or a quantizer used before its peers are calibrated.
	ErrConfiguration = errors.New("configuration error")

	// ErrStructural reports a malformed model or graph: tracing or shape
	// propagation failures, lint violations, or passes run out of order.
	ErrStructural = errors.New("structural error")

	// ErrUnimplemented reports an operation with no implementation.
	ErrUnimplemented = errors.New("unimplemented")
)

// Configurationf returns an error wrapping ErrConfiguration.
func Configurationf(format string, args ...any) error {
	return errors.Wrapf(ErrConfiguration, format, args...)
}

// Structuralf returns an error wrapping ErrStructural.
func Structuralf(format string, args ...any) error {
	return errors.Wrapf(ErrStructural, format, args...)
}

// Unimplementedf returns an error wrapping ErrUnimplemented.
func Unimplementedf(format string, args ...any) error {
	return errors.Wrapf(ErrUnimplemented, format, args...)
}

// Panic panics with err, to be recovered by Catch at a public boundary.
func Panic(err error) {
	panic(err)
}

// Catch runs fn and converts any panic into an error. Errors panicked with
// Panic keep their kind; any other panic value, including errors raised with
// exceptions.Panicf, becomes ErrStructural.
func Catch(fn func()) error {
	var inner error
	err := exceptions.TryCatch[error](func() {
		inner = tryAny(fn)
	})
	if err == nil {
		err = inner
	}
	if err != nil && !hasKind(err) {
		return Structuralf("%v", err)
	}
	return err
}

func hasKind(err error) bool {
	return errors.Is(err, ErrConfiguration) || errors.Is(err, ErrStructural) || errors.Is(err, ErrUnimplemented)
}

// tryAny recovers non-error panic values, which exceptions.TryCatch[error]
// would re-raise.
func tryAny(fn func()) (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if e, ok := r.(error); ok {
			panic(e)
		}
		err = Structuralf("%v", r)
	}()
	fn()
	return nil
}

// Is reports whether err has the given kind. It is a thin convenience over
// errors.Is for callers that do not import pkg/errors.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}

// Describe returns a one-line description of err's kind, for CLI output.
func Describe(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrConfiguration):
		return fmt.Sprintf("configuration: %v", err)
	case errors.Is(err, ErrStructural):
		return fmt.Sprintf("structural: %v", err)
	case errors.Is(err, ErrUnimplemented):
		return fmt.Sprintf("unimplemented: %v", err)
	default:
		return err.Error()
	}
}
