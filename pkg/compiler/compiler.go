// Package compiler lowers an ast.Node tree into a flat bytecode.Instruction
// stream.
//
// Every compiled construct, expression or statement, leaves exactly one
// FACT value on the thread's value stack; this is the single invariant the
// rest of the compiler is built on. Statements additionally fold that value
// into R_X via a terminator, so the value stack returns to its
// pre-statement depth and the last value produced stays inspectable in a
// register rather than growing the stack without bound.
package compiler

import (
	"fmt"
	"strconv"

	"github.com/kcosby/furlow/pkg/ast"
	"github.com/kcosby/furlow/pkg/bytecode"
)

type item struct {
	ins       bytecode.Instruction
	jumpLabel string
}

// Compiler accumulates a single compile unit's instructions using a
// two-pass design: emit() records instructions immediately, any forward or
// backward jump target recorded symbolically; resolve() then computes
// every label's offset once and patches addresses once, which is simpler
// and less failure-prone at boundary cases than threading child-index
// arithmetic through a nested grouping tree.
type Compiler struct {
	items    []item
	labelPos map[string]int
	seq      int
}

// New returns a Compiler ready to lower one compile unit.
func New() *Compiler {
	return &Compiler{labelPos: make(map[string]int)}
}

func (c *Compiler) newLabel() string {
	c.seq++
	return fmt.Sprintf("L%d", c.seq)
}

func (c *Compiler) mark(label string) {
	c.labelPos[label] = len(c.items)
}

func (c *Compiler) emit(ins bytecode.Instruction) {
	c.items = append(c.items, item{ins: ins})
}

func (c *Compiler) emitJump(op bytecode.Opcode, regs [3]byte, label string) {
	c.items = append(c.items, item{ins: bytecode.Instruction{Op: op, Regs: regs}, jumpLabel: label})
}

// Compile lowers the statement chain headed by root. It returns a resolver
// that, given the absolute address the program store will place this unit
// at, produces the final address-resolved instruction slice.
func Compile(root *ast.Node) (func(base uint32) ([]bytecode.Instruction, error), error) {
	c := New()
	for n := root; n != nil; n = n.Next {
		if err := c.compileStmt(n); err != nil {
			return nil, err
		}
	}
	// A trailing RET ends the thread cleanly once the last top-level
	// statement's terminator has run, the same way falling off the end of
	// a function body does for its own RET. Without it, the thread's PC
	// would walk off the end of the program store and the VM would report
	// a decode error instead of a normal exit.
	c.emit(bytecode.Instruction{Op: bytecode.RET})
	return c.resolve, nil
}

func (c *Compiler) resolve(base uint32) ([]bytecode.Instruction, error) {
	offsets := make([]uint32, len(c.items)+1)
	offsets[0] = base
	for i, it := range c.items {
		offsets[i+1] = offsets[i] + uint32(it.ins.Size())
	}
	out := make([]bytecode.Instruction, len(c.items))
	for i, it := range c.items {
		ins := it.ins
		if it.jumpLabel != "" {
			pos, ok := c.labelPos[it.jumpLabel]
			if !ok {
				return nil, fmt.Errorf("compiler: unresolved label %q", it.jumpLabel)
			}
			ins.Addr = offsets[pos]
		}
		out[i] = ins
	}
	return out, nil
}

// compileStmt compiles n as a top-level statement: the construct's value
// plus the statement terminator that folds it into R_X.
func (c *Compiler) compileStmt(n *ast.Node) error {
	if err := c.compileNode(n); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.REF, Regs: [3]byte{bytecode.R_POP, bytecode.R_X}})
	return nil
}

// compileNode compiles n, leaving exactly one FACT value on the stack.
func (c *Compiler) compileNode(n *ast.Node) error {
	switch n.Kind {
	case ast.Ref:
		return c.compileRef(n)
	case ast.This:
		c.emit(bytecode.Instruction{Op: bytecode.THIS})
		return nil
	case ast.BinOp:
		return c.compileBinOp(n)
	case ast.Neg:
		if err := c.compileNode(n.Children[0]); err != nil {
			return err
		}
		c.emit(bytecode.Instruction{Op: bytecode.NEG, Regs: [3]byte{bytecode.R_TOP}})
		return nil
	case ast.And:
		return c.compileAnd(n)
	case ast.Or:
		return c.compileOr(n)
	case ast.Assign:
		return c.compileAssign(n)
	case ast.CompoundAssign:
		return c.compileCompoundAssign(n)
	case ast.Index:
		return c.compileIndex(n)
	case ast.In:
		return c.compileIn(n)
	case ast.Call:
		return c.compileCall(n)
	case ast.FuncDef:
		return c.compileFuncDef(n)
	case ast.Return:
		return c.compileReturn(n)
	case ast.VarDecl:
		return c.compileVarDecl(n)
	case ast.If:
		return c.compileIf(n)
	case ast.While:
		return c.compileWhile(n)
	case ast.For:
		return c.compileFor(n)
	case ast.Block:
		return c.compileBlockScoped(n)
	case ast.Del:
		c.emit(bytecode.Instruction{Op: bytecode.DEL_N, Label: n.Lexeme})
		c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
		return nil
	case ast.Thread:
		return c.compileThread(n)
	default:
		return fmt.Errorf("compiler: cannot compile node kind %d", n.Kind)
	}
}

func isNumericLexeme(s string) bool {
	return len(s) > 0 && s[0] >= '0' && s[0] <= '9'
}

func (c *Compiler) compileRef(n *ast.Node) error {
	if isNumericLexeme(n.Lexeme) {
		c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: n.Lexeme})
	} else {
		c.emit(bytecode.Instruction{Op: bytecode.VAR, Label: n.Lexeme})
	}
	return nil
}

var arithOp = map[string]bytecode.Opcode{
	"+": bytecode.ADD, "-": bytecode.SUB, "*": bytecode.MUL, "/": bytecode.DIV, "%": bytecode.MOD,
	"==": bytecode.CEQ, "!=": bytecode.CNE, "<": bytecode.CLT, "<=": bytecode.CLE, ">": bytecode.CMT, ">=": bytecode.CME,
}

// compileBinOp lowers binary arithmetic/compare: push a placeholder
// destination, evaluate the right operand then the left (so the left
// operand ends on top of stack), then the op consumes both pops with the
// placeholder as its destination.
func (c *Compiler) compileBinOp(n *ast.Node) error {
	op, ok := arithOp[n.Lexeme]
	if !ok {
		return fmt.Errorf("compiler: unknown binary operator %q", n.Lexeme)
	}
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: op, Regs: [3]byte{bytecode.R_POP, bytecode.R_POP, bytecode.R_TOP}})
	return nil
}

func (c *Compiler) compileAnd(n *ast.Node) error {
	end := c.newLabel()
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emitJump(bytecode.JIF, [3]byte{bytecode.R_POP}, end)
	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	c.emitJump(bytecode.JIF, [3]byte{bytecode.R_POP}, end)
	c.emit(bytecode.Instruction{Op: bytecode.DROP})
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "1"})
	c.mark(end)
	return nil
}

func (c *Compiler) compileOr(n *ast.Node) error {
	end := c.newLabel()
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "1"})
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emitJump(bytecode.JIT, [3]byte{bytecode.R_POP}, end)
	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	c.emitJump(bytecode.JIT, [3]byte{bytecode.R_POP}, end)
	c.emit(bytecode.Instruction{Op: bytecode.DROP})
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	c.mark(end)
	return nil
}

// compileAssign lowers x = e: evaluate the target then the value, then STO
// with the value as src (popped) and the target as dst (peeked, so it
// survives on the stack as the assignment's result).
func (c *Compiler) compileAssign(n *ast.Node) error {
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.STO, Regs: [3]byte{bytecode.R_POP, bytecode.R_TOP}})
	return nil
}

// compileCompoundAssign lowers x += e per the core lowering rule: evaluate
// e, then the target, duplicate the target reference into R_A, swap so e
// is back on top, then op(R_A, R_POP, R_TOP) writes the result in place.
func (c *Compiler) compileCompoundAssign(n *ast.Node) error {
	op, ok := arithOp[n.Lexeme]
	if !ok {
		return fmt.Errorf("compiler: unknown compound operator %q", n.Lexeme)
	}
	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.REF, Regs: [3]byte{bytecode.R_TOP, bytecode.R_A}})
	c.emit(bytecode.Instruction{Op: bytecode.SWAP})
	c.emit(bytecode.Instruction{Op: op, Regs: [3]byte{bytecode.R_A, bytecode.R_POP, bytecode.R_TOP}})
	return nil
}

// compileIndex lowers a[i]: evaluate base, push a single-dimension marker,
// evaluate the index, then ELEM consumes the index and the marker and
// indexes the base still beneath them.
func (c *Compiler) compileIndex(n *ast.Node) error {
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "1"})
	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.ELEM, Regs: [3]byte{bytecode.R_POP, bytecode.R_POP}})
	return nil
}

// compileIn lowers `body in scope`: evaluate the scope, USE it as `this`,
// evaluate the body inside that scope, EXIT back to the caller's scope.
// The body's value is left on the stack with no trailing DROP, so that
// `x = (y in s)`-style usage sees the result.
func (c *Compiler) compileIn(n *ast.Node) error {
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.USE, Regs: [3]byte{bytecode.R_POP}})
	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.EXIT})
	return nil
}

// compileCall lowers f(args): push each argument, create an anonymous
// lambda scope (its `up` is bound to the caller's `this` at creation),
// copy the callee's code address into the lambda via STO, then CALL.
func (c *Compiler) compileCall(n *ast.Node) error {
	for _, a := range ast.Statements(n.Children[1]) {
		if err := c.compileNode(a); err != nil {
			return err
		}
	}
	c.emit(bytecode.Instruction{Op: bytecode.NEW_S, Regs: [3]byte{bytecode.R_TOP}})
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.STO, Regs: [3]byte{bytecode.R_POP, bytecode.R_TOP}})
	c.emit(bytecode.Instruction{Op: bytecode.CALL, Regs: [3]byte{bytecode.R_POP}})
	return nil
}

// compileFuncDef lowers f(params){body}: declare f's scope now, skip over
// the body, bind each parameter (in reverse, since the last-pushed
// argument sits on top), compile the body inline (the lambda scope set by
// CALL already serves as its activation record, so no nested temp scope is
// needed), fall back to RET 0 if the body doesn't explicitly return, then bind the
// body's address to f via SET_C.
func (c *Compiler) compileFuncDef(n *ast.Node) error {
	name := n.Children[0].Lexeme
	over := c.newLabel()
	body := c.newLabel()

	// A function's own name is always bound as a Scope, regardless of its
	// declared return kind (Lexeme), since the value itself is the Scope
	// carrying the body's code address.
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	c.emit(bytecode.Instruction{Op: bytecode.DEF_S, Regs: [3]byte{bytecode.R_POP}, Label: name})

	c.emitJump(bytecode.JMP, [3]byte{}, over)
	c.mark(body)

	params := ast.Statements(n.Children[1])
	for i := len(params) - 1; i >= 0; i-- {
		p := params[i]
		pDef := bytecode.DEF_N
		if p.Children[0].Kind == ast.DeclScope {
			pDef = bytecode.DEF_S
		}
		c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
		c.emit(bytecode.Instruction{Op: pDef, Regs: [3]byte{bytecode.R_POP}, Label: p.Lexeme})
		c.emit(bytecode.Instruction{Op: bytecode.VAR, Label: p.Lexeme})
		c.emit(bytecode.Instruction{Op: bytecode.SWAP})
		c.emit(bytecode.Instruction{Op: bytecode.STO, Regs: [3]byte{bytecode.R_POP, bytecode.R_TOP}})
		c.emit(bytecode.Instruction{Op: bytecode.DROP})
	}

	if err := c.compileBlockInline(n.Children[2]); err != nil {
		return err
	}
	// The inlined body leaves its last statement's value; a body that ends
	// without an explicit return yields 0 instead.
	c.emit(bytecode.Instruction{Op: bytecode.DROP})
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	c.emit(bytecode.Instruction{Op: bytecode.RET})

	c.mark(over)
	c.emit(bytecode.Instruction{Op: bytecode.VAR, Label: name})
	c.emitJump(bytecode.SET_C, [3]byte{bytecode.R_TOP}, body)
	return nil
}

func (c *Compiler) compileReturn(n *ast.Node) error {
	if n.Children[0] != nil {
		if err := c.compileNode(n.Children[0]); err != nil {
			return err
		}
	} else {
		c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	}
	c.emit(bytecode.Instruction{Op: bytecode.RET})
	return nil
}

// compileVarDecl lowers num/scope declarations, including dimensions:
// evaluate each dimension expression, push the dimension count, then
// DEF_N/DEF_S. Declarations have no natural value, so a placeholder is
// pushed for the enclosing statement terminator.
func (c *Compiler) compileVarDecl(n *ast.Node) error {
	dims := ast.Statements(n.Children[1])
	for _, d := range dims {
		if err := c.compileNode(d); err != nil {
			return err
		}
	}
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: strconv.Itoa(len(dims))})
	defOp := bytecode.DEF_N
	if n.Children[0].Kind == ast.DeclScope {
		defOp = bytecode.DEF_S
	}
	c.emit(bytecode.Instruction{Op: defOp, Regs: [3]byte{bytecode.R_POP}, Label: n.Lexeme})
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	return nil
}

func (c *Compiler) compileIf(n *ast.Node) error {
	elseLbl := c.newLabel()
	end := c.newLabel()
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emitJump(bytecode.JIF, [3]byte{bytecode.R_POP}, elseLbl)
	if err := c.compileStmt(n.Children[1]); err != nil {
		return err
	}
	c.emitJump(bytecode.JMP, [3]byte{}, end)
	c.mark(elseLbl)
	if n.Children[2] != nil {
		if err := c.compileStmt(n.Children[2]); err != nil {
			return err
		}
	}
	c.mark(end)
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	return nil
}

func (c *Compiler) compileWhile(n *ast.Node) error {
	start := c.newLabel()
	end := c.newLabel()
	c.mark(start)
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emitJump(bytecode.JIF, [3]byte{bytecode.R_POP}, end)
	if err := c.compileStmt(n.Children[1]); err != nil {
		return err
	}
	c.emitJump(bytecode.JMP, [3]byte{}, start)
	c.mark(end)
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	return nil
}

// compileFor opens a temporary scope for the loop's own init variable,
// then loops: test, body (inlined if it is a braced block, to avoid a
// redundant nested temp scope), step (evaluated and discarded), repeat.
func (c *Compiler) compileFor(n *ast.Node) error {
	loop := c.newLabel()
	exit := c.newLabel()

	c.emit(bytecode.Instruction{Op: bytecode.NEW_S, Regs: [3]byte{bytecode.R_TOP}})
	c.emit(bytecode.Instruction{Op: bytecode.USE, Regs: [3]byte{bytecode.R_POP}})

	for _, s := range ast.Statements(n.Children[0]) {
		if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	c.mark(loop)
	if err := c.compileNode(n.Children[1]); err != nil {
		return err
	}
	c.emitJump(bytecode.JIF, [3]byte{bytecode.R_POP}, exit)

	body := n.Children[3]
	if body.Kind == ast.Block {
		for _, s := range ast.Statements(body.Children[0]) {
			if err := c.compileStmt(s); err != nil {
				return err
			}
		}
	} else if err := c.compileStmt(body); err != nil {
		return err
	}

	if err := c.compileNode(n.Children[2]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.DROP})
	c.emitJump(bytecode.JMP, [3]byte{}, loop)
	c.mark(exit)
	c.emit(bytecode.Instruction{Op: bytecode.EXIT})
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	return nil
}

// compileBlockScoped compiles a braced block used as a statement/expression:
// a temporary scope, whose `up` points at the enclosing `this`, holds the
// block's local declarations. The block's value is its last statement's
// value (an anonymous scope created this way fixes the historical "block
// as parenthesized expression" bug rather than inheriting it).
func (c *Compiler) compileBlockScoped(n *ast.Node) error {
	c.emit(bytecode.Instruction{Op: bytecode.NEW_S, Regs: [3]byte{bytecode.R_TOP}})
	c.emit(bytecode.Instruction{Op: bytecode.USE, Regs: [3]byte{bytecode.R_POP}})
	if err := c.compileBlockInline(n); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.EXIT})
	return nil
}

// compileBlockInline compiles a block's statements directly in the
// current scope (no NEW_S/USE/EXIT), used where the caller has already
// established the right `this` (function bodies, for-loop bodies).
func (c *Compiler) compileBlockInline(n *ast.Node) error {
	stmts := ast.Statements(n.Children[0])
	if len(stmts) == 0 {
		c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
		return nil
	}
	for i, s := range stmts {
		if i == len(stmts)-1 {
			if err := c.compileNode(s); err != nil {
				return err
			}
		} else if err := c.compileStmt(s); err != nil {
			return err
		}
	}
	return nil
}

// compileThread lowers the supplemented `thread` expression: compile the
// body as a zero-argument function reachable only by address, then spawn
// it with NEW_T, which writes the new thread's id via the given register.
func (c *Compiler) compileThread(n *ast.Node) error {
	over := c.newLabel()
	body := c.newLabel()
	c.emitJump(bytecode.JMP, [3]byte{}, over)
	c.mark(body)
	if err := c.compileNode(n.Children[0]); err != nil {
		return err
	}
	c.emit(bytecode.Instruction{Op: bytecode.RET})
	c.mark(over)
	c.emit(bytecode.Instruction{Op: bytecode.CONST, Label: "0"})
	c.emitJump(bytecode.NEW_T, [3]byte{bytecode.R_TOP}, body)
	return nil
}
