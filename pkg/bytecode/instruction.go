package bytecode

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// Instruction is one decoded Furlow instruction. Not every field is
// meaningful for every Op; which ones are is given by Operands(Op). Regs
// is consumed in order for each OperandReg slot, and Addr/Label hold the
// (at most one each) address/label operand an instruction may carry.
type Instruction struct {
	Op    Opcode
	Regs  [3]byte
	Addr  uint32
	Label string
}

// Size returns the encoded byte length of ins.
func (ins Instruction) Size() int {
	n := 1 // opcode
	regIdx := 0
	for _, k := range Operands(ins.Op) {
		switch k {
		case OperandReg:
			regIdx++
			n++
		case OperandAddr:
			n += 4
		case OperandLabel:
			n += len(ins.Label) + 1
		}
	}
	_ = regIdx
	return n
}

// Encode appends the wire form of ins to buf and returns the extended
// slice.
func Encode(buf []byte, ins Instruction) []byte {
	buf = append(buf, byte(ins.Op))
	regIdx := 0
	for _, k := range Operands(ins.Op) {
		switch k {
		case OperandReg:
			buf = append(buf, ins.Regs[regIdx])
			regIdx++
		case OperandAddr:
			var b [4]byte
			binary.BigEndian.PutUint32(b[:], ins.Addr)
			buf = append(buf, b[:]...)
		case OperandLabel:
			buf = append(buf, []byte(ins.Label)...)
			buf = append(buf, 0)
		}
	}
	return buf
}

// Decode reads one instruction starting at data[offset], returning it and
// the offset of the next instruction.
func Decode(data []byte, offset int) (Instruction, int, error) {
	if offset < 0 || offset >= len(data) {
		return Instruction{}, offset, errors.Errorf("program store: read out of range at offset %d", offset)
	}
	op := Opcode(data[offset])
	offset++
	ins := Instruction{Op: op}
	regIdx := 0
	for _, k := range Operands(op) {
		switch k {
		case OperandReg:
			if offset >= len(data) {
				return Instruction{}, offset, errors.Errorf("program store: truncated register operand at offset %d", offset)
			}
			ins.Regs[regIdx] = data[offset]
			regIdx++
			offset++
		case OperandAddr:
			if offset+4 > len(data) {
				return Instruction{}, offset, errors.Errorf("program store: truncated address operand at offset %d", offset)
			}
			ins.Addr = binary.BigEndian.Uint32(data[offset : offset+4])
			offset += 4
		case OperandLabel:
			start := offset
			for offset < len(data) && data[offset] != 0 {
				offset++
			}
			if offset >= len(data) {
				return Instruction{}, offset, errors.Errorf("program store: unterminated label at offset %d", start)
			}
			ins.Label = string(data[start:offset])
			offset++ // skip NUL
		}
	}
	return ins, offset, nil
}
