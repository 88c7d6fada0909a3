package dex

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Instruction: one decoded Dalvik instruction or payload
// ---------------------------------------------------------------------------

// Instruction is a decoded instruction at a byte offset within a method body.
// Operand fields are populated according to the opcode's Format; unused
// fields are zero.
type Instruction struct {
	Offset int    // byte offset from the start of the code array
	Op     Opcode // opcode byte; 0x00 for payload pseudo-instructions
	Length int    // length in bytes
	Raw    []byte // the instruction's bytes, shared with the code buffer

	A, B, C uint32   // register or count operands (vA, vB, vC)
	Regs    []uint16 // argument registers for invoke and filled-new-array
	Index   uint32   // constant pool reference (string, type, field, method)
	Literal int64    // immediate value
	Branch  int32    // relative branch or payload offset in code units

	// Payload is the identifier of a payload pseudo-instruction
	// (PackedSwitchPayload, SparseSwitchPayload, FillArrayDataPayload).
	Payload uint16
	Switch  *SwitchPayload
	Array   *ArrayPayload
}

// End returns the byte offset immediately after the instruction.
func (ins *Instruction) End() int {
	return ins.Offset + ins.Length
}

// Units returns the instruction size in code units.
func (ins *Instruction) Units() int {
	return ins.Length / 2
}

// IsPayload reports whether the instruction is an out-of-line data table.
func (ins *Instruction) IsPayload() bool {
	return ins.Payload != 0
}

// Name returns the mnemonic, including payload pseudo-instructions.
func (ins *Instruction) Name() string {
	switch ins.Payload {
	case PackedSwitchPayload:
		return "packed-switch-payload"
	case SparseSwitchPayload:
		return "sparse-switch-payload"
	case FillArrayDataPayload:
		return "fill-array-data-payload"
	}
	return ins.Op.String()
}

// Flow returns the control-flow kind of the instruction.
func (ins *Instruction) Flow() FlowKind {
	if ins.IsPayload() {
		return FlowNone
	}
	return ins.Op.Flow()
}

// Target returns the absolute byte offset addressed by the Branch operand.
// For 31t instructions this is the payload location.
func (ins *Instruction) Target() int {
	return ins.Offset + int(ins.Branch)*2
}

// ---------------------------------------------------------------------------
// Decoding
// ---------------------------------------------------------------------------

// Decode decodes a complete method body. The returned instructions tile the
// body exactly; a truncated instruction or payload fails with ErrOutOfBounds
// and an odd-length body fails the same way on its last byte.
func Decode(code []byte) ([]Instruction, error) {
	c := NewCursor(code)
	insns := make([]Instruction, 0, len(code)/4+1)
	for !c.AtEnd() {
		ins, err := DecodeAt(c, c.Pos())
		if err != nil {
			return nil, err
		}
		insns = append(insns, ins)
		if err := c.Seek(ins.End()); err != nil {
			return nil, err
		}
	}
	return insns, nil
}

// DecodeAt decodes the single instruction starting at offset. The cursor
// position is not moved.
func DecodeAt(c *Cursor, offset int) (Instruction, error) {
	unit0, err := c.Uint16At(offset)
	if err != nil {
		return Instruction{}, err
	}
	op := Opcode(unit0 & 0xff)
	if op == OpNop && unit0>>8 != 0 {
		switch unit0 {
		case PackedSwitchPayload, SparseSwitchPayload, FillArrayDataPayload:
			return decodePayload(c, offset, unit0)
		}
	}

	n := op.Units() * 2
	raw, err := c.ReadAt(offset, n)
	if err != nil {
		return Instruction{}, fmt.Errorf("%s at 0x%x: %w", op, offset, err)
	}
	ins := Instruction{Offset: offset, Op: op, Length: n, Raw: raw}
	decodeOperands(&ins, raw)
	return ins, nil
}

func unitAt(raw []byte, i int) uint16 {
	return binary.LittleEndian.Uint16(raw[i*2:])
}

func int32At(raw []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(raw[i*2:]))
}

// decodeOperands fills operand fields from raw according to the format.
// raw is known to hold exactly Format.Units() code units.
func decodeOperands(ins *Instruction, raw []byte) {
	u0 := unitAt(raw, 0)
	aa := uint32(u0 >> 8)
	lo := uint32(u0>>8) & 0xf
	hi := uint32(u0 >> 12)

	switch ins.Op.Format() {
	case Fmt10x:
	case Fmt12x:
		ins.A, ins.B = lo, hi
	case Fmt11n:
		ins.A = lo
		ins.Literal = int64(int8(u0>>8) >> 4)
	case Fmt11x:
		ins.A = aa
	case Fmt10t:
		ins.Branch = int32(int8(u0 >> 8))
	case Fmt20t:
		ins.Branch = int32(int16(unitAt(raw, 1)))
	case Fmt22x:
		ins.A, ins.B = aa, uint32(unitAt(raw, 1))
	case Fmt21t:
		ins.A = aa
		ins.Branch = int32(int16(unitAt(raw, 1)))
	case Fmt21s:
		ins.A = aa
		ins.Literal = int64(int16(unitAt(raw, 1)))
	case Fmt21h:
		ins.A = aa
		shift := 16
		if ins.Op == 0x19 {
			shift = 48
		}
		ins.Literal = int64(int16(unitAt(raw, 1))) << shift
	case Fmt21c:
		ins.A = aa
		ins.Index = uint32(unitAt(raw, 1))
	case Fmt23x:
		u1 := unitAt(raw, 1)
		ins.A, ins.B, ins.C = aa, uint32(u1&0xff), uint32(u1>>8)
	case Fmt22b:
		u1 := unitAt(raw, 1)
		ins.A, ins.B = aa, uint32(u1&0xff)
		ins.Literal = int64(int8(u1 >> 8))
	case Fmt22t:
		ins.A, ins.B = lo, hi
		ins.Branch = int32(int16(unitAt(raw, 1)))
	case Fmt22s:
		ins.A, ins.B = lo, hi
		ins.Literal = int64(int16(unitAt(raw, 1)))
	case Fmt22c:
		ins.A, ins.B = lo, hi
		ins.Index = uint32(unitAt(raw, 1))
	case Fmt30t:
		ins.Branch = int32At(raw, 1)
	case Fmt32x:
		ins.A, ins.B = uint32(unitAt(raw, 1)), uint32(unitAt(raw, 2))
	case Fmt31i:
		ins.A = aa
		ins.Literal = int64(int32At(raw, 1))
	case Fmt31t:
		ins.A = aa
		ins.Branch = int32At(raw, 1)
	case Fmt31c:
		ins.A = aa
		ins.Index = uint32(int32At(raw, 1))
	case Fmt35c, Fmt45cc:
		// A|G|op BBBB F|E|D|C [HHHH]
		ins.A = hi
		ins.Index = uint32(unitAt(raw, 1))
		u2 := unitAt(raw, 2)
		all := [5]uint16{u2 & 0xf, (u2 >> 4) & 0xf, (u2 >> 8) & 0xf, u2 >> 12, uint16(lo)}
		count := int(hi)
		if count > len(all) {
			count = len(all)
		}
		ins.Regs = append([]uint16(nil), all[:count]...)
		if ins.Op.Format() == Fmt45cc {
			ins.B = uint32(unitAt(raw, 3))
		}
	case Fmt3rc, Fmt4rcc:
		// AA|op BBBB CCCC [HHHH]
		ins.A = aa
		ins.Index = uint32(unitAt(raw, 1))
		first := unitAt(raw, 2)
		ins.C = uint32(first)
		ins.Regs = make([]uint16, aa)
		for i := range ins.Regs {
			ins.Regs[i] = first + uint16(i)
		}
		if ins.Op.Format() == Fmt4rcc {
			ins.B = uint32(unitAt(raw, 3))
		}
	case Fmt51l:
		ins.A = aa
		ins.Literal = int64(binary.LittleEndian.Uint64(raw[2:]))
	}
}
