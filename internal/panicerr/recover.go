// Package panicerr turns a recovered panic into a returned error.
//
// The lexer, parser, and VM report fatal conditions (lex/parse/codegen/vm
// errors) through ordinary error returns, not panic. Recover exists as a
// last-resort safety net at the boundary of one compile+run invocation,
// so that a genuine Go panic (an out-of-range slice index in a bounds
// check that turned out to have a bug, say) is reported as an error
// instead of crashing the process.
package panicerr

import (
	"fmt"
	"runtime/debug"
)

// Recover runs f and converts any panic it raises into a returned error.
// If f panicked with a value implementing error, that error is returned
// unwrapped so callers can type-switch on it (LexError, ParseError, ...).
// Any other panic value is wrapped in a panicError, with name identifying
// the recovered call for diagnostics.
func Recover(name string, f func() error) (err error) {
	defer func() {
		if e := recover(); e != nil {
			if pe, ok := e.(error); ok {
				err = pe
				return
			}
			err = panicError{name: name, e: e, stack: debug.Stack()}
		}
	}()
	return f()
}

type panicError struct {
	name  string
	e     interface{}
	stack []byte
}

func (pe panicError) Error() string { return fmt.Sprint(pe) }

func (pe panicError) Format(f fmt.State, c rune) {
	if pe.name == "" {
		fmt.Fprintf(f, "paniced: %v", pe.e)
	} else {
		fmt.Fprintf(f, "%v paniced: %v", pe.name, pe.e)
	}
	if c == 'v' && f.Flag('+') {
		fmt.Fprintf(f, "\nPanic stack: %s", pe.stack)
	}
}
