package vm

import (
	"github.com/pkg/errors"

	"github.com/kcosby/furlow/pkg/bytecode"
	"github.com/kcosby/furlow/pkg/runtime"
)

// read implements the register-operand read convention shared by every
// instruction: index 0 (R_POP) pops the value stack, index 1 (R_TOP)
// peeks it without popping, index 2 (R_TID) yields this thread's id as an
// anonymous Number, and any other index reads that scratch register
// directly. Arithmetic/compare opcodes also use this for their
// destination operand: peeking (rather than popping) is what lets them
// mutate the placeholder Number already sitting on the stack in place.
func (vm *VM) read(th *Thread, idx byte) (runtime.Value, error) {
	switch idx {
	case bytecode.R_POP:
		if len(th.VStack) == 0 {
			return runtime.Value{}, errors.New("value stack underflow")
		}
		v := th.VStack[len(th.VStack)-1]
		th.VStack = th.VStack[:len(th.VStack)-1]
		return v, nil
	case bytecode.R_TOP:
		if len(th.VStack) == 0 {
			return runtime.Value{}, errors.New("value stack underflow")
		}
		return th.VStack[len(th.VStack)-1], nil
	case bytecode.R_TID:
		return runtime.NumValue(tidNumber(th.ID)), nil
	default:
		return th.Registers[idx], nil
	}
}

// write implements the register-operand write convention used by REF's
// and NEW_S's destination: R_TOP pushes a new value, any other
// index stores directly into that scratch register. Writing R_POP or
// R_TID is never valid and is a compiler bug if it happens.
func (vm *VM) write(th *Thread, idx byte, v runtime.Value) error {
	switch idx {
	case bytecode.R_POP, bytecode.R_TID:
		return errors.Errorf("register %d is not a valid write target", idx)
	case bytecode.R_TOP:
		return vm.push(th, v)
	default:
		th.Registers[idx] = v
		return nil
	}
}

func popValue(th *Thread) (runtime.Value, error) {
	if len(th.VStack) == 0 {
		return runtime.Value{}, errors.New("value stack underflow")
	}
	v := th.VStack[len(th.VStack)-1]
	th.VStack = th.VStack[:len(th.VStack)-1]
	return v, nil
}

func asNum(v runtime.Value) (*runtime.Number, error) {
	if !v.IsNum() || v.Num == nil {
		return nil, &runtime.TypeError{Msg: "expected a number value"}
	}
	return v.Num, nil
}

func asScope(v runtime.Value) (*runtime.Scope, error) {
	if !v.IsScope() || v.Scope == nil {
		return nil, &runtime.TypeError{Msg: "expected a scope value"}
	}
	return v.Scope, nil
}

// execute decodes ins against th's state, mutating the VM's scope graph
// and th's stacks/registers/PC as appropriate. A non-nil error is a
// thrown error to be handled by the caller via throw; it is not a
// Go-level fault.
func (vm *VM) execute(th *Thread, ins bytecode.Instruction) error {
	switch ins.Op {
	case bytecode.CONST:
		n := runtime.NewNumber("")
		if err := n.SetFromString(ins.Label); err != nil {
			return err
		}
		return vm.push(th, runtime.NumValue(n))

	case bytecode.THIS:
		return vm.push(th, runtime.ScopeValue(th.this()))

	case bytecode.VAR:
		num, scope, err := th.this().Resolve(ins.Label)
		if err != nil {
			return err
		}
		if num != nil {
			return vm.push(th, runtime.NumValue(num))
		}
		return vm.push(th, runtime.ScopeValue(scope))

	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV, bytecode.MOD:
		return vm.execArith(th, ins)

	case bytecode.NEG:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		n, err := asNum(v)
		if err != nil {
			return err
		}
		n.Neg()
		return nil

	case bytecode.CEQ, bytecode.CNE, bytecode.CLT, bytecode.CLE, bytecode.CMT, bytecode.CME:
		return vm.execCompare(th, ins)

	case bytecode.JMP:
		th.PC = ins.Addr
		return nil

	case bytecode.JIF:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		n, err := asNum(v)
		if err != nil {
			return err
		}
		if n.IsZero() {
			th.PC = ins.Addr
		}
		return nil

	case bytecode.JIT:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		n, err := asNum(v)
		if err != nil {
			return err
		}
		if !n.IsZero() {
			th.PC = ins.Addr
		}
		return nil

	case bytecode.REF:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		return vm.write(th, ins.Regs[1], v)

	case bytecode.SWAP:
		b, err := popValue(th)
		if err != nil {
			return err
		}
		a, err := popValue(th)
		if err != nil {
			return err
		}
		th.VStack = append(th.VStack, b, a)
		return nil

	case bytecode.DROP:
		_, err := popValue(th)
		return err

	case bytecode.NEW_S:
		s := runtime.NewScope("")
		vm.Heap.Track(s)
		if err := s.BindScope("up", th.this()); err != nil {
			return err
		}
		return vm.write(th, ins.Regs[0], runtime.ScopeValue(s))

	case bytecode.DEF_N:
		return vm.execDef(th, ins, false)

	case bytecode.DEF_S:
		return vm.execDef(th, ins, true)

	case bytecode.STO:
		return vm.execSto(th, ins)

	case bytecode.ELEM:
		return vm.execElem(th, ins)

	case bytecode.SET_F:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		s, err := asScope(v)
		if err != nil {
			return err
		}
		s.CodeAddr = ins.Addr
		return nil

	case bytecode.SET_C:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		s, err := asScope(v)
		if err != nil {
			return err
		}
		s.CodeAddr = ins.Addr
		return nil

	case bytecode.USE:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		s, err := asScope(v)
		if err != nil {
			return err
		}
		th.cstack = append(th.cstack, Frame{ReturnIP: th.PC, This: s})
		return nil

	case bytecode.EXIT:
		if len(th.cstack) == 0 {
			return errors.New("EXIT with no active scope")
		}
		th.cstack = th.cstack[:len(th.cstack)-1]
		return nil

	case bytecode.CALL:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		s, err := asScope(v)
		if err != nil {
			return err
		}
		if s.Native != nil {
			args := make([]runtime.Value, s.Native.Argc)
			for i := s.Native.Argc - 1; i >= 0; i-- {
				arg, err := popValue(th)
				if err != nil {
					return err
				}
				args[i] = arg
			}
			result, err := s.Native.Fn(args)
			if err != nil {
				return err
			}
			return vm.push(th, result)
		}
		if s.CodeAddr == 0 {
			return errors.New("value is not callable")
		}
		th.cstack = append(th.cstack, Frame{ReturnIP: th.PC, This: s})
		th.PC = s.CodeAddr
		return nil

	case bytecode.RET:
		// The bottommost frame is the thread's root scope, pushed once at
		// creation and never by CALL/USE. A RET that would pop it instead
		// ends the thread, the way falling off the end of a top-level
		// program or a spawned thread's body does.
		if len(th.cstack) <= 1 {
			th.State = Dead
			return nil
		}
		frame := th.cstack[len(th.cstack)-1]
		th.cstack = th.cstack[:len(th.cstack)-1]
		th.PC = frame.ReturnIP
		return nil

	case bytecode.DEL_N:
		this := th.this()
		if !this.DelNum(ins.Label) && !this.DelScope(ins.Label) {
			return &runtime.NameError{Msg: "undefined variable " + ins.Label}
		}
		return nil

	case bytecode.NEW_T:
		v, err := vm.read(th, ins.Regs[0])
		if err != nil {
			return err
		}
		n, err := asNum(v)
		if err != nil {
			return err
		}
		id := vm.spawn(ins.Addr, th.this())
		n.SetInt(tidNumber(id).Int())
		return nil

	default:
		return errors.Errorf("unimplemented opcode %s", ins.Op)
	}
}

func (vm *VM) execArith(th *Thread, ins bytecode.Instruction) error {
	av, err := vm.read(th, ins.Regs[0])
	if err != nil {
		return err
	}
	bv, err := vm.read(th, ins.Regs[1])
	if err != nil {
		return err
	}
	dv, err := vm.read(th, ins.Regs[2])
	if err != nil {
		return err
	}
	a, err := asNum(av)
	if err != nil {
		return err
	}
	b, err := asNum(bv)
	if err != nil {
		return err
	}
	dst, err := asNum(dv)
	if err != nil {
		return err
	}
	switch ins.Op {
	case bytecode.ADD:
		return dst.Add(a, b)
	case bytecode.SUB:
		return dst.Sub(a, b)
	case bytecode.MUL:
		return dst.Mul(a, b)
	case bytecode.DIV:
		return dst.Div(a, b)
	case bytecode.MOD:
		return dst.Mod(a, b)
	}
	return errors.Errorf("not an arithmetic opcode: %s", ins.Op)
}

func (vm *VM) execCompare(th *Thread, ins bytecode.Instruction) error {
	av, err := vm.read(th, ins.Regs[0])
	if err != nil {
		return err
	}
	bv, err := vm.read(th, ins.Regs[1])
	if err != nil {
		return err
	}
	dv, err := vm.read(th, ins.Regs[2])
	if err != nil {
		return err
	}
	a, err := asNum(av)
	if err != nil {
		return err
	}
	b, err := asNum(bv)
	if err != nil {
		return err
	}
	dst, err := asNum(dv)
	if err != nil {
		return err
	}
	switch ins.Op {
	case bytecode.CEQ:
		dst.Eq(a, b)
	case bytecode.CNE:
		dst.Ne(a, b)
	case bytecode.CLT:
		dst.Lt(a, b)
	case bytecode.CLE:
		dst.Le(a, b)
	case bytecode.CMT:
		dst.Gt(a, b)
	case bytecode.CME:
		dst.Ge(a, b)
	default:
		return errors.Errorf("not a compare opcode: %s", ins.Op)
	}
	return nil
}

// execDef backs DEF_N/DEF_S: the count operand (typically R_POP) is the
// number of array dimensions, each already pushed below it on the stack;
// those dimension values are popped implicitly, the same "extra pop
// beneath the named operands" convention ELEM uses for its array base.
func (vm *VM) execDef(th *Thread, ins bytecode.Instruction, asScopeDef bool) error {
	cv, err := vm.read(th, ins.Regs[0])
	if err != nil {
		return err
	}
	countNum, err := asNum(cv)
	if err != nil {
		return err
	}
	count := int(countNum.Int().Int64())
	dims := make([]uint64, count)
	for i := count - 1; i >= 0; i-- {
		v, err := popValue(th)
		if err != nil {
			return err
		}
		n, err := asNum(v)
		if err != nil {
			return err
		}
		dims[i] = n.Int().Uint64()
	}

	this := th.this()
	if asScopeDef {
		child, err := this.AddScope(ins.Label)
		if err != nil {
			return err
		}
		return child.BindScope("up", this)
	}
	if count == 0 {
		_, err := this.AddNum(ins.Label)
		return err
	}
	_, err = this.AddNumArray(ins.Label, dims)
	return err
}

// execSto backs STO src dst: src is read first (consumed if R_POP),
// dst second (peeked if R_TOP, so it survives on the stack as the
// expression's result), and src's value is deep-copied into dst.
func (vm *VM) execSto(th *Thread, ins bytecode.Instruction) error {
	src, err := vm.read(th, ins.Regs[0])
	if err != nil {
		return err
	}
	dst, err := vm.read(th, ins.Regs[1])
	if err != nil {
		return err
	}
	if src.IsNum() && dst.IsNum() {
		dst.Num.Set(src.Num)
		return nil
	}
	if src.IsScope() && dst.IsScope() {
		dst.Scope.CodeAddr = src.Scope.CodeAddr
		dst.Scope.Native = src.Scope.Native
		return nil
	}
	return &runtime.TypeError{Msg: "cannot assign between a number and a scope"}
}

// execElem backs ELEM idx dimc: pops an index and a dimension-count
// marker, then implicitly pops the array value they index, pushing the
// selected element.
func (vm *VM) execElem(th *Thread, ins bytecode.Instruction) error {
	idxV, err := vm.read(th, ins.Regs[0])
	if err != nil {
		return err
	}
	dimcV, err := vm.read(th, ins.Regs[1])
	if err != nil {
		return err
	}
	idxN, err := asNum(idxV)
	if err != nil {
		return err
	}
	dimcN, err := asNum(dimcV)
	if err != nil {
		return err
	}
	if dimcN.Int().Int64() != 1 {
		return &runtime.BoundsError{Msg: "dimension count mismatch"}
	}
	baseV, err := popValue(th)
	if err != nil {
		return err
	}
	baseN, err := asNum(baseV)
	if err != nil {
		return err
	}
	elem, err := baseN.Elem(idxN.Int().Uint64())
	if err != nil {
		return err
	}
	return vm.push(th, runtime.NumValue(elem))
}
