package vm

import (
	"fmt"
	"strings"

	"github.com/kcosby/furlow/pkg/runtime"
)

// StackFrame captures one call-stack entry at the point an error was
// thrown: the scope active in that frame and the instruction address
// execution had reached.
type StackFrame struct {
	ScopeName string
	IP        uint32
}

// RuntimeError is a thrown error carrying the call stack at the moment it
// was thrown. Kind is derived from the wrapped cause's concrete type
// (runtime.NameError, runtime.TypeError, runtime.BoundsError,
// runtime.ValueError) or defaults to "RuntimeError".
type RuntimeError struct {
	Kind    string
	Message string
	Line    int
	Trace   []StackFrame
	Cause   error
}

func (e *RuntimeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "error near line %d: %s", e.Line, e.Message)
	for i := len(e.Trace) - 1; i >= 0; i-- {
		f := e.Trace[i]
		fmt.Fprintf(&b, "\n  at %s [ip=%d]", f.ScopeName, f.IP)
	}
	return b.String()
}

func (e *RuntimeError) Unwrap() error { return e.Cause }

// classify names the error kind a thrown cause belongs to. SyntaxError is
// not among them since it never reaches the VM; it is a parser-stage
// error.
func classify(cause error) string {
	switch cause.(type) {
	case *runtime.NameError:
		return "NameError"
	case *runtime.TypeError:
		return "TypeError"
	case *runtime.BoundsError:
		return "BoundsError"
	case *runtime.ValueError:
		return "ValueError"
	default:
		return "RuntimeError"
	}
}

// newRuntimeError wraps cause with th's current call stack captured as a
// trace. line is whatever the caller passes; throw passes the thread's PC,
// a program-store address. Instructions carry no source-line information,
// so the "line" that Error prints is that address, not a source line.
func newRuntimeError(cause error, line int, th *Thread) *RuntimeError {
	trace := make([]StackFrame, len(th.cstack))
	for i, f := range th.cstack {
		name := "<anonymous>"
		if f.This != nil && f.This.Name != "" {
			name = f.This.Name
		}
		trace[i] = StackFrame{ScopeName: name, IP: f.ReturnIP}
	}
	return &RuntimeError{
		Kind:    classify(cause),
		Message: cause.Error(),
		Line:    line,
		Trace:   trace,
		Cause:   cause,
	}
}
