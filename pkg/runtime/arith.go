package runtime

import "math/big"

// Arithmetic and comparison operations on Number, used directly by the
// Furlow VM's ADD/SUB/MUL/DIV/MOD/NEG/CEQ/CNE/CLT/CLE/CMT/CME opcodes. Each
// receiver is the destination: it is re-tagged in place from the operands,
// since a Number's int/float tag always follows its most recent write.
// Mixed int/float operands promote the integer side to float for the
// duration of the operation; neither operand is itself mutated.

func bothInt(a, b *Number) bool { return !a.IsFloat() && !b.IsFloat() }

// Add sets n = a + b.
func (n *Number) Add(a, b *Number) error {
	if bothInt(a, b) {
		n.SetInt(new(big.Int).Add(a.Int(), b.Int()))
		return nil
	}
	n.SetFloat(new(big.Float).Add(a.Float(), b.Float()))
	return nil
}

// Sub sets n = a - b.
func (n *Number) Sub(a, b *Number) error {
	if bothInt(a, b) {
		n.SetInt(new(big.Int).Sub(a.Int(), b.Int()))
		return nil
	}
	n.SetFloat(new(big.Float).Sub(a.Float(), b.Float()))
	return nil
}

// Mul sets n = a * b.
func (n *Number) Mul(a, b *Number) error {
	if bothInt(a, b) {
		n.SetInt(new(big.Int).Mul(a.Int(), b.Int()))
		return nil
	}
	n.SetFloat(new(big.Float).Mul(a.Float(), b.Float()))
	return nil
}

// Div sets n = a / b. Integer/integer division truncates toward zero;
// either operand being a float promotes the whole operation to float.
func (n *Number) Div(a, b *Number) error {
	if bothInt(a, b) {
		if b.Int().Sign() == 0 {
			return &ValueError{Msg: "division by zero"}
		}
		n.SetInt(new(big.Int).Quo(a.Int(), b.Int()))
		return nil
	}
	if b.Float().Sign() == 0 {
		return &ValueError{Msg: "division by zero"}
	}
	n.SetFloat(new(big.Float).Quo(a.Float(), b.Float()))
	return nil
}

// Mod sets n = a % b. Integer operands only, per the numeric primitive
// contract's "mod/and/ior/xor (integer only; float inputs yield
// unspecified)" clause.
func (n *Number) Mod(a, b *Number) error {
	if !bothInt(a, b) {
		return &TypeError{Msg: "modulo requires integer operands"}
	}
	if b.Int().Sign() == 0 {
		return &ValueError{Msg: "modulo by zero"}
	}
	n.SetInt(new(big.Int).Rem(a.Int(), b.Int()))
	return nil
}

// Neg negates n in place.
func (n *Number) Neg() {
	if n.IsFloat() {
		n.SetFloat(new(big.Float).Neg(n.Float()))
		return
	}
	n.SetInt(new(big.Int).Neg(n.Int()))
}

func cmp(a, b *Number) int {
	if bothInt(a, b) {
		return a.Int().Cmp(b.Int())
	}
	return a.Float().Cmp(b.Float())
}

func boolNum(v bool) *big.Int {
	if v {
		return big.NewInt(1)
	}
	return big.NewInt(0)
}

// Eq, Ne, Lt, Le, Gt, Ge set n to the boolean (0/1) Number result of
// comparing a against b, backing CEQ/CNE/CLT/CLE/CMT/CME.
func (n *Number) Eq(a, b *Number) { n.SetInt(boolNum(cmp(a, b) == 0)) }
func (n *Number) Ne(a, b *Number) { n.SetInt(boolNum(cmp(a, b) != 0)) }
func (n *Number) Lt(a, b *Number) { n.SetInt(boolNum(cmp(a, b) < 0)) }
func (n *Number) Le(a, b *Number) { n.SetInt(boolNum(cmp(a, b) <= 0)) }
func (n *Number) Gt(a, b *Number) { n.SetInt(boolNum(cmp(a, b) > 0)) }
func (n *Number) Ge(a, b *Number) { n.SetInt(boolNum(cmp(a, b) >= 0)) }

// IsZero reports whether n's value is the numeric zero, used by JIF/JIT to
// decide whether to take a conditional jump.
func (n *Number) IsZero() bool {
	if n.IsFloat() {
		return n.Float().Sign() == 0
	}
	return n.Int().Sign() == 0
}
