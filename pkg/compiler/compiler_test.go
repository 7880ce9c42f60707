package compiler

import (
	"testing"

	"github.com/kcosby/furlow/pkg/ast"
	"github.com/kcosby/furlow/pkg/bytecode"
	"github.com/kcosby/furlow/pkg/parser"
)

func mustCompile(t *testing.T, src string) []bytecode.Instruction {
	t.Helper()
	p := parser.New(src)
	root, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	resolve, err := Compile(root)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}
	instrs, err := resolve(0)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	return instrs
}

func ops(instrs []bytecode.Instruction) []bytecode.Opcode {
	out := make([]bytecode.Opcode, len(instrs))
	for i, ins := range instrs {
		out[i] = ins.Op
	}
	return out
}

func containsOp(instrs []bytecode.Instruction, op bytecode.Opcode) bool {
	for _, ins := range instrs {
		if ins.Op == op {
			return true
		}
	}
	return false
}

// TestEmissionDeterminism compiles the same source twice and requires a
// byte-identical instruction stream both times.
func TestEmissionDeterminism(t *testing.T) {
	src := "num x = 1; while (x < 10) { x += 1; }"
	a := mustCompile(t, src)
	b := mustCompile(t, src)
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("instruction %d differs: %+v vs %+v", i, a[i], b[i])
		}
	}
}

// TestAddressResolutionAbsolute checks that jump targets are resolved to
// absolute byte offsets consistent with the instructions' own encoded
// sizes, regardless of the base address the unit is placed at.
func TestAddressResolutionAbsolute(t *testing.T) {
	p := parser.New("while (x < 10) { x += 1; }")
	root, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	resolve, err := Compile(root)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}

	at0, err := resolve(0)
	if err != nil {
		t.Fatalf("resolve(0) error: %v", err)
	}
	at100, err := resolve(100)
	if err != nil {
		t.Fatalf("resolve(100) error: %v", err)
	}
	if len(at0) != len(at100) {
		t.Fatalf("instruction count changed with base: %d vs %d", len(at0), len(at100))
	}
	for i := range at0 {
		if at0[i].Op != at100[i].Op {
			t.Fatalf("opcode %d differs between bases", i)
		}
		if at0[i].Op == bytecode.JMP || at0[i].Op == bytecode.JIF || at0[i].Op == bytecode.JIT {
			if at100[i].Addr != at0[i].Addr+100 {
				t.Fatalf("jump %d address did not shift by base: %d vs %d", i, at0[i].Addr, at100[i].Addr)
			}
		}
	}

	// Every jump address must land exactly on an instruction boundary.
	boundaries := map[uint32]bool{0: true}
	off := uint32(0)
	for _, ins := range at0 {
		off += uint32(ins.Size())
		boundaries[off] = true
	}
	for _, ins := range at0 {
		if ins.Op == bytecode.JMP || ins.Op == bytecode.JIF || ins.Op == bytecode.JIT {
			if !boundaries[ins.Addr] {
				t.Fatalf("jump address %d does not land on an instruction boundary", ins.Addr)
			}
		}
	}
}

// TestStoreCompileAtomic exercises bytecode.Store.Compile end to end: the
// resolver sees the real base address and the appended bytes decode back
// to the same instructions.
func TestStoreCompileAtomic(t *testing.T) {
	store := bytecode.NewStore()
	p := parser.New("num x = 1; x += 1;")
	root, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	resolve, err := Compile(root)
	if err != nil {
		t.Fatalf("compile error: %v", err)
	}

	base, err := store.Compile(resolve)
	if err != nil {
		t.Fatalf("store compile error: %v", err)
	}
	if base != 0 {
		t.Fatalf("expected base 0 on empty store, got %d", base)
	}

	addr := base
	var decoded []bytecode.Instruction
	for addr < store.Len() {
		ins, next, err := store.Decode(addr)
		if err != nil {
			t.Fatalf("decode error at %d: %v", addr, err)
		}
		decoded = append(decoded, ins)
		addr = next
	}
	want, err := resolve(0)
	if err != nil {
		t.Fatalf("resolve error: %v", err)
	}
	if len(decoded) != len(want) {
		t.Fatalf("decoded %d instructions, want %d", len(decoded), len(want))
	}
	for i := range want {
		if decoded[i] != want[i] {
			t.Fatalf("instruction %d mismatch: got %+v, want %+v", i, decoded[i], want[i])
		}
	}
}

// TestStackDisciplineStatementTerminator checks that three top-level
// statements compile to at least three REF R_POP R_X terminators, the
// instruction that folds a statement's value into R_X and drains the value
// stack back to its pre-statement depth.
func TestStackDisciplineStatementTerminator(t *testing.T) {
	instrs := mustCompile(t, "num x = 1; x += 2; if (x < 10) { x = 0; }")
	var termCount int
	for i, ins := range instrs {
		if ins.Op == bytecode.REF && ins.Regs[0] == bytecode.R_POP && ins.Regs[1] == bytecode.R_X {
			termCount++
			_ = i
		}
	}
	if termCount < 3 {
		t.Fatalf("expected at least 3 statement terminators, found %d in %v", termCount, ops(instrs))
	}
}

// TestShortCircuitAndEmitsConditionalJump verifies the And lowering
// never evaluates its right operand unconditionally: it must contain a JIF
// that can skip past the right-hand compilation.
func TestShortCircuitAndEmitsConditionalJump(t *testing.T) {
	instrs := mustCompile(t, "(x == 0) && (y == 0);")
	if !containsOp(instrs, bytecode.JIF) {
		t.Fatalf("expected JIF for short-circuit and, got %v", ops(instrs))
	}
}

func TestShortCircuitOrEmitsConditionalJump(t *testing.T) {
	instrs := mustCompile(t, "(x == 1) || (y == 1);")
	if !containsOp(instrs, bytecode.JIT) {
		t.Fatalf("expected JIT for short-circuit or, got %v", ops(instrs))
	}
}

// TestBinOpOperandOrder confirms a - b lowers to CONST placeholder, then
// evaluates the right operand before the left, then SUB R_POP R_POP R_TOP.
func TestBinOpOperandOrder(t *testing.T) {
	instrs := mustCompile(t, "a - b;")
	var subIdx = -1
	for i, ins := range instrs {
		if ins.Op == bytecode.SUB {
			subIdx = i
		}
	}
	if subIdx == -1 {
		t.Fatalf("expected SUB opcode, got %v", ops(instrs))
	}
	sub := instrs[subIdx]
	if sub.Regs[0] != bytecode.R_POP || sub.Regs[1] != bytecode.R_POP || sub.Regs[2] != bytecode.R_TOP {
		t.Fatalf("unexpected SUB operand registers: %+v", sub.Regs)
	}
	// The two VAR loads before SUB must be b then a (right evaluated first).
	var labels []string
	for _, ins := range instrs[:subIdx] {
		if ins.Op == bytecode.VAR {
			labels = append(labels, ins.Label)
		}
	}
	if len(labels) != 2 || labels[0] != "b" || labels[1] != "a" {
		t.Fatalf("expected VAR order [b a], got %v", labels)
	}
}

// TestAssignSrcThenDst confirms x = y lowers to STO with src popped first
// and dst (the surviving lvalue) peeked second.
func TestAssignSrcThenDst(t *testing.T) {
	instrs := mustCompile(t, "x = y;")
	for _, ins := range instrs {
		if ins.Op == bytecode.STO {
			if ins.Regs[0] != bytecode.R_POP || ins.Regs[1] != bytecode.R_TOP {
				t.Fatalf("unexpected STO operands: %+v", ins.Regs)
			}
			return
		}
	}
	t.Fatalf("expected STO opcode, got %v", ops(instrs))
}

// TestFuncDefBindsParamsInReverse confirms the parameter-binding sequence
// appears once per parameter, in reverse declared order.
func TestFuncDefBindsParamsInReverse(t *testing.T) {
	instrs := mustCompile(t, "num add(num a, num b) { return a + b; }")
	var boundOrder []string
	for _, ins := range instrs {
		if ins.Op == bytecode.DEF_N {
			boundOrder = append(boundOrder, ins.Label)
		}
	}
	if len(boundOrder) != 2 || boundOrder[0] != "b" || boundOrder[1] != "a" {
		t.Fatalf("expected params bound [b a], got %v", boundOrder)
	}
	if !containsOp(instrs, bytecode.RET) {
		t.Fatalf("expected RET in function body, got %v", ops(instrs))
	}
	if !containsOp(instrs, bytecode.SET_C) {
		t.Fatalf("expected SET_C binding the body address, got %v", ops(instrs))
	}
}

// TestInConstructScopeEvaluatedFirst confirms the scope operand of an `in`
// expression is loaded before the USE that enters it, and that an EXIT
// closes the scope afterward.
func TestInConstructScopeEvaluatedFirst(t *testing.T) {
	instrs := mustCompile(t, "x in s;")
	var useIdx = -1
	for i, ins := range instrs {
		if ins.Op == bytecode.USE {
			useIdx = i
		}
	}
	if useIdx == -1 {
		t.Fatalf("expected USE opcode, got %v", ops(instrs))
	}
	var sawScopeVar bool
	for _, ins := range instrs[:useIdx] {
		if ins.Op == bytecode.VAR && ins.Label == "s" {
			sawScopeVar = true
		}
	}
	if !sawScopeVar {
		t.Fatalf("expected scope var 's' loaded before USE, got %v", ops(instrs))
	}
	if !containsOp(instrs, bytecode.EXIT) {
		t.Fatalf("expected EXIT to close the `in` scope, got %v", ops(instrs))
	}
}

// TestDelEmitsDelN confirms del x lowers to a single DEL_N instruction.
func TestDelEmitsDelN(t *testing.T) {
	instrs := mustCompile(t, "del x;")
	found := false
	for _, ins := range instrs {
		if ins.Op == bytecode.DEL_N {
			if ins.Label != "x" {
				t.Fatalf("expected DEL_N label x, got %q", ins.Label)
			}
			found = true
		}
	}
	if !found {
		t.Fatalf("expected DEL_N, got %v", ops(instrs))
	}
}

// TestThreadEmitsNewT confirms `thread f();` spawns via NEW_T pointed at a
// body that is skipped over in normal control flow.
func TestThreadEmitsNewT(t *testing.T) {
	instrs := mustCompile(t, "thread f();")
	if !containsOp(instrs, bytecode.NEW_T) {
		t.Fatalf("expected NEW_T, got %v", ops(instrs))
	}
	if !containsOp(instrs, bytecode.JMP) {
		t.Fatalf("expected a JMP skipping the thread body in linear flow, got %v", ops(instrs))
	}
}

// TestBlockEmptyYieldsZero confirms an empty braced block still leaves a
// value on the stack (CONST "0"), never an empty compilation.
func TestBlockEmptyYieldsZero(t *testing.T) {
	instrs := mustCompile(t, "{ }")
	if len(instrs) == 0 {
		t.Fatalf("expected at least the placeholder CONST and terminator")
	}
	var sawZero bool
	for _, ins := range instrs {
		if ins.Op == bytecode.CONST && ins.Label == "0" {
			sawZero = true
		}
	}
	if !sawZero {
		t.Fatalf("expected CONST 0 placeholder for empty block, got %v", ops(instrs))
	}
}

// TestIndexUsesImplicitBasePop confirms a[0] compiles a single-dimension
// marker and an ELEM that consumes index then marker, leaving the base
// beneath them to be consumed implicitly.
func TestIndexUsesImplicitBasePop(t *testing.T) {
	instrs := mustCompile(t, "a[0];")
	var elemIdx = -1
	for i, ins := range instrs {
		if ins.Op == bytecode.ELEM {
			elemIdx = i
		}
	}
	if elemIdx == -1 {
		t.Fatalf("expected ELEM, got %v", ops(instrs))
	}
	elem := instrs[elemIdx]
	if elem.Regs[0] != bytecode.R_POP || elem.Regs[1] != bytecode.R_POP {
		t.Fatalf("unexpected ELEM operands: %+v", elem.Regs)
	}
	var sawDimMarker bool
	for _, ins := range instrs[:elemIdx] {
		if ins.Op == bytecode.CONST && ins.Label == "1" {
			sawDimMarker = true
		}
	}
	if !sawDimMarker {
		t.Fatalf("expected dimension-count marker CONST 1 before ELEM, got %v", ops(instrs))
	}
}

// ensure ast package import is used even if future edits prune direct
// references above.
var _ = ast.Ref
