package bytecode

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Instruction{
		{Op: CONST, Label: "42"},
		{Op: THIS},
		{Op: VAR, Label: "x"},
		{Op: ADD, Regs: [3]byte{R_POP, R_POP, R_TOP}},
		{Op: JIF, Regs: [3]byte{R_POP}, Addr: 0xdeadbeef},
		{Op: DEF_N, Regs: [3]byte{R_A}, Label: "count"},
		{Op: SWAP},
		{Op: RET},
	}
	var buf []byte
	offsets := make([]int, len(cases))
	for i, ins := range cases {
		offsets[i] = len(buf)
		buf = Encode(buf, ins)
	}

	for i, want := range cases {
		got, next, err := Decode(buf, offsets[i])
		if err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if got.Op != want.Op || got.Addr != want.Addr || got.Label != want.Label || got.Regs != want.Regs {
			t.Fatalf("case %d: got %+v, want %+v", i, got, want)
		}
		if i+1 < len(offsets) && next != offsets[i+1] {
			t.Fatalf("case %d: next offset %d, want %d", i, next, offsets[i+1])
		}
	}
}

func TestStoreAppendIsAtomicAndAddressesStable(t *testing.T) {
	s := NewStore()
	base1 := s.Append([]Instruction{{Op: CONST, Label: "1"}, {Op: THIS}})
	base2 := s.Append([]Instruction{{Op: RET}})

	if base1 != 0 {
		t.Fatalf("expected first block at address 0, got %d", base1)
	}

	ins, next, err := s.Decode(base1)
	if err != nil || ins.Op != CONST || ins.Label != "1" {
		t.Fatalf("unexpected first instruction: %+v %v", ins, err)
	}
	ins, _, err = s.Decode(next)
	if err != nil || ins.Op != THIS {
		t.Fatalf("unexpected second instruction: %+v %v", ins, err)
	}
	ins, _, err = s.Decode(base2)
	if err != nil || ins.Op != RET {
		t.Fatalf("unexpected third instruction: %+v %v", ins, err)
	}
}

func TestEmissionDeterminism(t *testing.T) {
	instrs := []Instruction{
		{Op: CONST, Label: "10"},
		{Op: VAR, Label: "x"},
		{Op: ADD, Regs: [3]byte{R_POP, R_POP, R_TOP}},
		{Op: JMP, Addr: 7},
	}
	s1 := NewStore()
	s2 := NewStore()
	s1.Append(instrs)
	s2.Append(instrs)
	b1, b2 := s1.Bytes(), s2.Bytes()
	if len(b1) != len(b2) {
		t.Fatalf("length mismatch: %d vs %d", len(b1), len(b2))
	}
	for i := range b1 {
		if b1[i] != b2[i] {
			t.Fatalf("byte mismatch at %d", i)
		}
	}
}
