package runtime

import (
	"fmt"
	"io"
	"math/big"
)

// Builtin is a fixed-arity native function exposed to FACT code as an
// ordinary callable scope rather than a compiled code address. Argc is
// enforced by the VM's CALL handler, which pops exactly that many values
// off the thread's value stack (in declared argument order) before
// invoking Fn.
type Builtin struct {
	Name string
	Argc int
	Fn   func(args []Value) (Value, error)
}

// NewBuiltinScope wraps b as a Scope so it can sit in a Scope's
// scope_stack and be resolved/called exactly like a user-defined
// function. CALL and STO both look at Native rather than CodeAddr for a
// scope built this way.
func NewBuiltinScope(b *Builtin) *Scope {
	return &Scope{Name: b.Name, Native: b}
}

// numArg extracts and type-checks one positional argument, used by length
// and dim to reject a scope argument (e.g. length(someScope)) with a
// TypeError rather than a panic. print accepts either kind of value.
func numArg(args []Value, i int) (*Number, error) {
	if !args[i].IsNum() {
		return nil, &TypeError{Msg: fmt.Sprintf("argument %d must be a number", i+1)}
	}
	return args[i].Num, nil
}

// RegisterBuiltins binds the standard library of built-in functions into
// root as child scopes. w receives output from print; a nil w makes print
// a no-op, useful for tests that only care about return values.
func RegisterBuiltins(root *Scope, w io.Writer) error {
	for _, b := range []*Builtin{
		printBuiltin(w),
		lengthBuiltin(),
		dimBuiltin(),
	} {
		if err := root.BindScope(b.Name, NewBuiltinScope(b)); err != nil {
			return err
		}
	}
	return nil
}

// printBuiltin backs `print(x)`: writes x's decimal/array rendering
// followed by a newline, returning x unchanged so `print` composes as an
// expression (`y = print(x)` yields x).
func printBuiltin(w io.Writer) *Builtin {
	return &Builtin{
		Name: "print",
		Argc: 1,
		Fn: func(args []Value) (Value, error) {
			if w != nil {
				var text string
				if args[0].IsNum() {
					text = args[0].Num.String()
				} else {
					text = "<scope>"
				}
				fmt.Fprintln(w, text)
			}
			return args[0], nil
		},
	}
}

// lengthBuiltin backs `length(a)`: the size of a's outermost array
// dimension, or 1 for a scalar, which this query treats as a one-element
// array.
func lengthBuiltin() *Builtin {
	return &Builtin{
		Name: "length",
		Argc: 1,
		Fn: func(args []Value) (Value, error) {
			n, err := numArg(args, 0)
			if err != nil {
				return Value{}, err
			}
			size := 1
			if n.IsArray() {
				size = n.ArraySize
			}
			out := NewNumber("")
			out.SetInt(big.NewInt(int64(size)))
			return NumValue(out), nil
		},
	}
}

// dimBuiltin backs `dim(a)`: the number of dimensions a was declared
// with (0 for a scalar), found by walking ArrayUp until a scalar cell is
// reached.
func dimBuiltin() *Builtin {
	return &Builtin{
		Name: "dim",
		Argc: 1,
		Fn: func(args []Value) (Value, error) {
			n, err := numArg(args, 0)
			if err != nil {
				return Value{}, err
			}
			depth := 0
			for cur := n; cur.IsArray(); cur = cur.ArrayUp[0] {
				depth++
			}
			out := NewNumber("")
			out.SetInt(big.NewInt(int64(depth)))
			return NumValue(out), nil
		},
	}
}
