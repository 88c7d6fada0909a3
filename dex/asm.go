package dex

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Assembler: builds Dalvik code arrays for fixtures and tests
// ---------------------------------------------------------------------------

// Assembler emits Dalvik code units. Branches refer to Labels; switch and
// array payloads are laid out after the body when Bytes is called.
type Assembler struct {
	units    []uint16
	payloads []pendingPayload
	open     []*Label
}

// Label is a branch destination that may be marked after it is referenced.
type Label struct {
	resolved bool
	pos      int     // code unit index once resolved
	refs     []fixup // operands waiting for the label
}

// fixup is a relative operand: target minus site, in code units.
type fixup struct {
	site  int // code unit index of the referencing instruction
	at    int // code unit index of the operand
	width int // 8, 16 or 32 bits
}

type pendingPayload struct {
	site  int
	build func(site int) []uint16
}

// NewAssembler creates an empty assembler.
func NewAssembler() *Assembler {
	return &Assembler{units: make([]uint16, 0, 32)}
}

// Offset returns the byte offset of the next emitted instruction.
func (a *Assembler) Offset() int {
	return len(a.units) * 2
}

// NewLabel creates an unresolved label.
func (a *Assembler) NewLabel() *Label {
	return &Label{refs: make([]fixup, 0, 2)}
}

// Mark resolves a label to the current position.
func (a *Assembler) Mark(l *Label) {
	if l.resolved {
		panic("label already resolved")
	}
	l.resolved = true
	l.pos = len(a.units)
	for _, f := range l.refs {
		a.patch(f, l.pos)
	}
	l.refs = nil
}

func (a *Assembler) ref(l *Label, f fixup) {
	if l.resolved {
		a.patch(f, l.pos)
		return
	}
	if len(l.refs) == 0 {
		a.open = append(a.open, l)
	}
	l.refs = append(l.refs, f)
}

func (a *Assembler) patch(f fixup, target int) {
	rel := target - f.site
	switch f.width {
	case 8:
		if rel < -128 || rel > 127 {
			panic(fmt.Sprintf("branch at unit %d out of 8-bit range: %d", f.site, rel))
		}
		a.units[f.at] = a.units[f.at]&0x00ff | uint16(uint8(int8(rel)))<<8
	case 16:
		if rel < -32768 || rel > 32767 {
			panic(fmt.Sprintf("branch at unit %d out of 16-bit range: %d", f.site, rel))
		}
		a.units[f.at] = uint16(int16(rel))
	case 32:
		a.units[f.at] = uint16(uint32(rel))
		a.units[f.at+1] = uint16(uint32(rel) >> 16)
	}
}

func (a *Assembler) emit(units ...uint16) int {
	site := len(a.units)
	a.units = append(a.units, units...)
	return site
}

func op8(op Opcode, aa uint8) uint16 {
	return uint16(op) | uint16(aa)<<8
}

func op44(op Opcode, a, b uint8) uint16 {
	return uint16(op) | uint16(a&0xf)<<8 | uint16(b&0xf)<<12
}

// Raw appends code units verbatim, for malformed input.
func (a *Assembler) Raw(units ...uint16) {
	a.emit(units...)
}

// Nop emits nop.
func (a *Assembler) Nop() { a.emit(op8(OpNop, 0)) }

// ReturnVoid emits return-void.
func (a *Assembler) ReturnVoid() { a.emit(op8(OpReturnVoid, 0)) }

// Return emits return vA.
func (a *Assembler) Return(reg uint8) { a.emit(op8(OpReturn, reg)) }

// Throw emits throw vA.
func (a *Assembler) Throw(reg uint8) { a.emit(op8(OpThrow, reg)) }

// MoveException emits move-exception vA.
func (a *Assembler) MoveException(reg uint8) { a.emit(op8(OpMoveException, reg)) }

// Const4 emits const/4 vA, #lit.
func (a *Assembler) Const4(reg uint8, lit int8) {
	a.emit(uint16(OpConst4) | uint16(reg&0xf)<<8 | uint16(uint8(lit)&0xf)<<12)
}

// Const16 emits const/16 vAA, #lit.
func (a *Assembler) Const16(reg uint8, lit int16) {
	a.emit(op8(OpConst16, reg), uint16(lit))
}

// Const emits const vAA, #lit.
func (a *Assembler) Const(reg uint8, lit int32) {
	a.emit(op8(OpConst, reg), uint16(uint32(lit)), uint16(uint32(lit)>>16))
}

// AddInt emits add-int vAA, vBB, vCC.
func (a *Assembler) AddInt(dst, x, y uint8) {
	a.emit(op8(OpAddInt, dst), uint16(x)|uint16(y)<<8)
}

// AddIntLit8 emits add-int/lit8 vAA, vBB, #lit.
func (a *Assembler) AddIntLit8(dst, src uint8, lit int8) {
	a.emit(op8(OpAddIntLit8, dst), uint16(src)|uint16(uint8(lit))<<8)
}

// Invoke emits a 35c invoke with up to five argument registers.
func (a *Assembler) Invoke(op Opcode, method uint16, regs ...uint8) {
	if len(regs) > 5 {
		panic("invoke takes at most 5 registers")
	}
	var r [5]uint8
	copy(r[:], regs)
	a.emit(
		uint16(op)|uint16(r[4]&0xf)<<8|uint16(len(regs))<<12,
		method,
		uint16(r[0]&0xf)|uint16(r[1]&0xf)<<4|uint16(r[2]&0xf)<<8|uint16(r[3]&0xf)<<12,
	)
}

// ---- Branches ----

// Goto emits goto (8-bit offset).
func (a *Assembler) Goto(l *Label) {
	site := a.emit(op8(OpGoto, 0))
	a.ref(l, fixup{site: site, at: site, width: 8})
}

// Goto16 emits goto/16.
func (a *Assembler) Goto16(l *Label) {
	site := a.emit(op8(OpGoto16, 0), 0)
	a.ref(l, fixup{site: site, at: site + 1, width: 16})
}

// Goto32 emits goto/32.
func (a *Assembler) Goto32(l *Label) {
	site := a.emit(op8(OpGoto32, 0), 0, 0)
	a.ref(l, fixup{site: site, at: site + 1, width: 32})
}

// If emits a two-register conditional branch (if-eq .. if-le).
func (a *Assembler) If(op Opcode, x, y uint8, l *Label) {
	if op.Format() != Fmt22t {
		panic(fmt.Sprintf("%s is not a two-register branch", op))
	}
	site := a.emit(op44(op, x, y), 0)
	a.ref(l, fixup{site: site, at: site + 1, width: 16})
}

// IfZ emits a compare-with-zero branch (if-eqz .. if-lez).
func (a *Assembler) IfZ(op Opcode, reg uint8, l *Label) {
	if op.Format() != Fmt21t {
		panic(fmt.Sprintf("%s is not a compare-with-zero branch", op))
	}
	site := a.emit(op8(op, reg), 0)
	a.ref(l, fixup{site: site, at: site + 1, width: 16})
}

// ---- Payload-referencing instructions ----

// PackedSwitch emits packed-switch vAA with consecutive keys starting at
// first, one per label.
func (a *Assembler) PackedSwitch(reg uint8, first int32, cases ...*Label) {
	site := a.emit(op8(OpPackedSwitch, reg), 0, 0)
	a.payloads = append(a.payloads, pendingPayload{site: site, build: func(site int) []uint16 {
		out := []uint16{PackedSwitchPayload, uint16(len(cases)), uint16(uint32(first)), uint16(uint32(first) >> 16)}
		for _, l := range cases {
			rel := uint32(a.resolved(l) - site)
			out = append(out, uint16(rel), uint16(rel>>16))
		}
		return out
	}})
}

// SparseSwitch emits sparse-switch vAA; keys and cases pair up by index.
func (a *Assembler) SparseSwitch(reg uint8, keys []int32, cases ...*Label) {
	if len(keys) != len(cases) {
		panic("sparse-switch needs one label per key")
	}
	site := a.emit(op8(OpSparseSwitch, reg), 0, 0)
	a.payloads = append(a.payloads, pendingPayload{site: site, build: func(site int) []uint16 {
		out := []uint16{SparseSwitchPayload, uint16(len(keys))}
		for _, k := range keys {
			out = append(out, uint16(uint32(k)), uint16(uint32(k)>>16))
		}
		for _, l := range cases {
			rel := uint32(a.resolved(l) - site)
			out = append(out, uint16(rel), uint16(rel>>16))
		}
		return out
	}})
}

// FillArrayData emits fill-array-data vAA with elements of the given width.
func (a *Assembler) FillArrayData(reg uint8, width uint16, data []byte) {
	if width == 0 || len(data)%int(width) != 0 {
		panic("fill-array-data: data is not a whole number of elements")
	}
	site := a.emit(op8(OpFillArrayData, reg), 0, 0)
	a.payloads = append(a.payloads, pendingPayload{site: site, build: func(int) []uint16 {
		size := uint32(len(data) / int(width))
		out := []uint16{FillArrayDataPayload, width, uint16(size), uint16(size >> 16)}
		for i := 0; i < len(data); i += 2 {
			u := uint16(data[i])
			if i+1 < len(data) {
				u |= uint16(data[i+1]) << 8
			}
			out = append(out, u)
		}
		return out
	}})
}

func (a *Assembler) resolved(l *Label) int {
	if !l.resolved {
		panic("switch case label never marked")
	}
	return l.pos
}

// Bytes lays out pending payloads after the body, 4-byte aligned, and
// returns the finished code array. It panics if a referenced label was
// never marked.
func (a *Assembler) Bytes() []byte {
	for _, l := range a.open {
		if !l.resolved {
			panic("branch label never marked")
		}
	}
	for _, p := range a.payloads {
		if len(a.units)%2 == 1 {
			a.units = append(a.units, op8(OpNop, 0))
		}
		base := len(a.units)
		a.units = append(a.units, p.build(p.site)...)
		a.patch(fixup{site: p.site, at: p.site + 1, width: 32}, base)
	}
	a.payloads = nil

	out := make([]byte, len(a.units)*2)
	for i, u := range a.units {
		binary.LittleEndian.PutUint16(out[i*2:], u)
	}
	return out
}
