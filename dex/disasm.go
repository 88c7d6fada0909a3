package dex

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Disassembly
// ---------------------------------------------------------------------------

// String returns the smali-like rendering of the instruction. Branch targets
// are printed as absolute byte offsets.
func (ins *Instruction) String() string {
	ops := ins.operands()
	if ops == "" {
		return ins.Name()
	}
	return ins.Name() + " " + ops
}

func (ins *Instruction) operands() string {
	switch ins.Payload {
	case PackedSwitchPayload, SparseSwitchPayload:
		parts := make([]string, len(ins.Switch.Keys))
		for i, k := range ins.Switch.Keys {
			parts[i] = fmt.Sprintf("%d:%+d", k, ins.Switch.Targets[i])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case FillArrayDataPayload:
		return fmt.Sprintf("width=%d size=%d", ins.Array.Width, ins.Array.Size)
	}

	switch ins.Op.Format() {
	case Fmt10x:
		return ""
	case Fmt12x, Fmt22x, Fmt32x:
		return fmt.Sprintf("v%d, v%d", ins.A, ins.B)
	case Fmt11n, Fmt21s, Fmt21h, Fmt31i, Fmt51l:
		return fmt.Sprintf("v%d, #%d", ins.A, ins.Literal)
	case Fmt11x:
		return fmt.Sprintf("v%d", ins.A)
	case Fmt10t, Fmt20t, Fmt30t:
		return fmt.Sprintf(":%04x", ins.Target())
	case Fmt21t:
		return fmt.Sprintf("v%d, :%04x", ins.A, ins.Target())
	case Fmt22t:
		return fmt.Sprintf("v%d, v%d, :%04x", ins.A, ins.B, ins.Target())
	case Fmt31t:
		return fmt.Sprintf("v%d, :%04x", ins.A, ins.Target())
	case Fmt21c, Fmt31c:
		return fmt.Sprintf("v%d, @%d", ins.A, ins.Index)
	case Fmt23x:
		return fmt.Sprintf("v%d, v%d, v%d", ins.A, ins.B, ins.C)
	case Fmt22b, Fmt22s:
		return fmt.Sprintf("v%d, v%d, #%d", ins.A, ins.B, ins.Literal)
	case Fmt22c:
		return fmt.Sprintf("v%d, v%d, @%d", ins.A, ins.B, ins.Index)
	case Fmt35c, Fmt3rc, Fmt45cc, Fmt4rcc:
		regs := make([]string, len(ins.Regs))
		for i, r := range ins.Regs {
			regs[i] = fmt.Sprintf("v%d", r)
		}
		s := fmt.Sprintf("{%s}, @%d", strings.Join(regs, ", "), ins.Index)
		if f := ins.Op.Format(); f == Fmt45cc || f == Fmt4rcc {
			s += fmt.Sprintf(", @%d", ins.B)
		}
		return s
	}
	return ""
}

// Disassemble returns a listing of insns with one instruction per line,
// prefixed by its byte offset.
func Disassemble(name string, insns []Instruction) string {
	var sb strings.Builder
	if name != "" {
		sb.WriteString(name)
		sb.WriteString(":\n")
	}
	for i := range insns {
		fmt.Fprintf(&sb, "  %04X  %s\n", insns[i].Offset, insns[i].String())
	}
	return sb.String()
}
