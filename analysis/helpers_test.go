package analysis

import (
	"testing"

	"github.com/chazu/dexflow/dex"
)

// stubResolver treats the sites in its map as control transfers with the
// listed targets, independent of opcode.
type stubResolver map[int][]int

func (s stubResolver) IsControlTransfer(ins *dex.Instruction) bool {
	_, ok := s[ins.Offset]
	return ok
}

func (s stubResolver) BranchTargets(ins *dex.Instruction, site int, _ *dex.Cursor) ([]int, error) {
	return s[site], nil
}

// panicResolver panics on every control transfer.
type panicResolver struct{}

func (panicResolver) IsControlTransfer(ins *dex.Instruction) bool {
	return ins.Flow().IsControlTransfer()
}

func (panicResolver) BranchTargets(*dex.Instruction, int, *dex.Cursor) ([]int, error) {
	panic("resolver exploded")
}

// stubProgram returns nop-like instructions with the given byte lengths,
// laid out contiguously from offset 0, and a zeroed code buffer.
func stubProgram(lengths ...int) ([]byte, []dex.Instruction) {
	insns := make([]dex.Instruction, len(lengths))
	off := 0
	for i, n := range lengths {
		insns[i] = dex.Instruction{Offset: off, Op: dex.OpNop, Length: n}
		off += n
	}
	return make([]byte, off), insns
}

func buildStub(t *testing.T, r TargetResolver, tries []dex.TryItem, lengths ...int) *MethodAnalysis {
	t.Helper()
	code, insns := stubProgram(lengths...)
	ma, err := BuildCode("Ltest;->stub()V", code, insns, tries, r)
	if err != nil {
		t.Fatalf("BuildCode: %v", err)
	}
	return ma
}

func buildAsm(t *testing.T, a *dex.Assembler, tries ...dex.TryItem) *MethodAnalysis {
	t.Helper()
	code := a.Bytes()
	insns, err := dex.Decode(code)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	ma, err := BuildCode("Ltest;->asm()V", code, insns, tries, nil)
	if err != nil {
		t.Fatalf("BuildCode: %v", err)
	}
	return ma
}

type span struct{ start, end int }

func spans(ma *MethodAnalysis) []span {
	var out []span
	for _, b := range ma.Blocks() {
		out = append(out, span{b.Start(), b.End()})
	}
	return out
}

func successorStarts(b *BasicBlock) []int {
	var out []int
	for _, e := range b.Successors() {
		out = append(out, e.Block.Start())
	}
	return out
}

func mustBlock(t *testing.T, ma *MethodAnalysis, off int) *BasicBlock {
	t.Helper()
	b, ok := ma.BlockContaining(off)
	if !ok {
		t.Fatalf("no block contains 0x%x; blocks = %v", off, spans(ma))
	}
	return b
}
