// Package runtime implements the scope tree and numeric value model that
// the Furlow VM and compiler both operate on: scopes containing named
// variables and named child scopes, and numbers that are either arbitrary
// precision integers/floats or rectangular arrays of numbers.
package runtime

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"
)

// Kind tags which arm of a Number's value union is live.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
)

// Number is a named numeric cell. Its value is either an arbitrary
// precision integer or float (tagged union, re-tagged on every write), and
// it is optionally the head of a rectangular array of further Numbers.
//
// A scalar has ArraySize == 0 and a nil ArrayUp. An array Number owns its
// ArrayUp slice; copying a Number (Set) deep-copies that slice.
type Number struct {
	Name string

	kind  Kind
	ival  *big.Int
	fval  *big.Float

	ArrayUp   []*Number
	ArraySize int
}

// NewNumber returns a zero-valued scalar integer Number.
func NewNumber(name string) *Number {
	return &Number{Name: name, kind: KindInt, ival: big.NewInt(0)}
}

// NewArray allocates a rectangular array Number with the given per-dimension
// sizes. Every dimension must be >= 2, matching the language's rule that
// declared array dimensions may not be 0 or 1 sized.
func NewArray(name string, dims []uint64) (*Number, error) {
	if len(dims) == 0 {
		return NewNumber(name), nil
	}
	for _, d := range dims {
		if d < 2 {
			return nil, errors.Errorf("array dimension must be >= 2, got %d", d)
		}
	}
	return buildArray(name, dims), nil
}

func buildArray(name string, dims []uint64) *Number {
	n := &Number{Name: name, kind: KindInt, ival: big.NewInt(0)}
	if len(dims) == 0 {
		return n
	}
	n.ArraySize = int(dims[0])
	n.ArrayUp = make([]*Number, n.ArraySize)
	for i := range n.ArrayUp {
		n.ArrayUp[i] = buildArray("", dims[1:])
	}
	return n
}

// IsArray reports whether this Number is the head of an array.
func (n *Number) IsArray() bool { return n.ArraySize > 0 }

// IsFloat reports whether the value currently holds a float.
func (n *Number) IsFloat() bool { return n.kind == KindFloat }

// SetInt re-tags the Number as an integer with the given value.
func (n *Number) SetInt(v *big.Int) {
	n.kind = KindInt
	n.ival = new(big.Int).Set(v)
	n.fval = nil
}

// SetFloat re-tags the Number as a float with the given value.
func (n *Number) SetFloat(v *big.Float) {
	n.kind = KindFloat
	n.fval = new(big.Float).Set(v)
	n.ival = nil
}

// Int returns the integer value, promoting from a float by truncation.
func (n *Number) Int() *big.Int {
	if n.kind == KindInt {
		return n.ival
	}
	i, _ := n.fval.Int(nil)
	return i
}

// Float returns the float value, promoting from an integer.
func (n *Number) Float() *big.Float {
	if n.kind == KindFloat {
		return n.fval
	}
	return new(big.Float).SetInt(n.ival)
}

// SetFromString parses a base-10 or base-16 (0x-prefixed) literal. A literal
// containing '.' is a float and any other literal is an integer; a leading
// '-' only negates the value and does not change its kind. An unparseable
// literal is reported as a ValueError.
func (n *Number) SetFromString(lit string) error {
	isFloat := strings.Contains(lit, ".")
	base := 10
	s := lit
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	if isFloat {
		f, _, err := big.ParseFloat(lit, 0, 256, big.ToNearestEven)
		if err != nil {
			return &ValueError{Msg: fmt.Sprintf("invalid numeric literal %q: %v", lit, err)}
		}
		n.SetFloat(f)
		return nil
	}
	i, ok := new(big.Int).SetString(s, base)
	if !ok {
		return &ValueError{Msg: fmt.Sprintf("invalid numeric literal %q", lit)}
	}
	if neg {
		i.Neg(i)
	}
	n.SetInt(i)
	return nil
}

// Set deep-copies src's value (and array structure, if any) into n,
// matching the mpc_set/STO contract: the destination's previous array
// cells, if any, are discarded and replaced.
func (n *Number) Set(src *Number) {
	if src.IsArray() {
		n.ArraySize = src.ArraySize
		n.ArrayUp = make([]*Number, len(src.ArrayUp))
		for i, cell := range src.ArrayUp {
			cp := &Number{Name: cell.Name}
			cp.Set(cell)
			n.ArrayUp[i] = cp
		}
		n.kind = KindInt
		n.ival = big.NewInt(0)
		n.fval = nil
		return
	}
	n.ArraySize = 0
	n.ArrayUp = nil
	if src.kind == KindInt {
		n.SetInt(src.ival)
	} else {
		n.SetFloat(src.fval)
	}
}

// Elem indexes one dimension of an array Number. Returns a BoundsError if
// idx is out of [0, ArraySize).
func (n *Number) Elem(idx uint64) (*Number, error) {
	if !n.IsArray() {
		return nil, &TypeError{Msg: "cannot index a scalar value"}
	}
	if idx >= uint64(n.ArraySize) {
		return nil, &BoundsError{Msg: fmt.Sprintf("array index %d out of range [0, %d)", idx, n.ArraySize)}
	}
	return n.ArrayUp[idx], nil
}

// String renders the decimal form of a scalar Number: integers print
// plainly, floats print with correct decimal point placement and a leading
// "0" for magnitudes below 1.
func (n *Number) String() string {
	if n.IsArray() {
		parts := make([]string, len(n.ArrayUp))
		for i, c := range n.ArrayUp {
			parts[i] = c.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	}
	if n.kind == KindInt {
		return n.ival.String()
	}
	text := n.fval.Text('f', -1)
	if strings.HasPrefix(text, ".") {
		text = "0" + text
	} else if strings.HasPrefix(text, "-.") {
		text = "-0" + text[1:]
	}
	return text
}
