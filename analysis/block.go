package analysis

import (
	"fmt"

	"github.com/chazu/dexflow/dex"
)

// Edge is a directed control-flow edge. On a successor list Block is the
// target block; on a predecessor list it is the source block. Site and
// Target are the same on both ends.
type Edge struct {
	Site   int // offset of the branching instruction
	Target int // offset control transfers to
	Block  *BasicBlock
}

// BasicBlock is a straight-line run of instructions with a single entry.
// Blocks are owned by their BasicBlockSet and are immutable once Build
// returns.
type BasicBlock struct {
	name  string
	index int
	start int
	end   int

	// insns is the method's shared instruction slice; the block covers
	// insns[first:last].
	insns       []dex.Instruction
	first, last int

	succ []Edge
	pred []Edge

	special    map[int]*dex.Instruction
	region     *ExceptionRegion
	unresolved []int
}

func newBasicBlock(prefix string, insns []dex.Instruction, first, start int) *BasicBlock {
	return &BasicBlock{
		name:  prefix,
		insns: insns,
		first: first,
		last:  first,
		start: start,
		end:   start,
	}
}

// push extends the block by the next instruction of the shared slice.
func (b *BasicBlock) push(ins *dex.Instruction) {
	b.last++
	b.end += ins.Length
}

func (b *BasicBlock) addSpecial(site int, payload *dex.Instruction) {
	if b.special == nil {
		b.special = make(map[int]*dex.Instruction)
	}
	b.special[site] = payload
}

func (b *BasicBlock) addSuccessor(site, target int, to *BasicBlock) {
	b.succ = append(b.succ, Edge{Site: site, Target: target, Block: to})
	to.pred = append(to.pred, Edge{Site: site, Target: target, Block: b})
}

// Start returns the offset of the first instruction.
func (b *BasicBlock) Start() int { return b.start }

// End returns the offset just past the last instruction.
func (b *BasicBlock) End() int { return b.end }

// Index returns the block's position in its set.
func (b *BasicBlock) Index() int { return b.index }

// Len returns the number of instructions.
func (b *BasicBlock) Len() int { return b.last - b.first }

// Contains reports whether offset lies in [Start, End).
func (b *BasicBlock) Contains(offset int) bool {
	return b.start <= offset && offset < b.end
}

// Name returns "<method>-BB@0x<start>".
func (b *BasicBlock) Name() string {
	return fmt.Sprintf("%s-BB@0x%x", b.name, b.start)
}

func (b *BasicBlock) String() string {
	return b.Name()
}

// Instructions returns the block's instructions. The slice aliases the
// method's instruction slice and must not be modified.
func (b *BasicBlock) Instructions() []dex.Instruction {
	return b.insns[b.first:b.last:b.last]
}

// Last returns the final instruction, or nil for an empty block.
func (b *BasicBlock) Last() *dex.Instruction {
	if b.last == b.first {
		return nil
	}
	return &b.insns[b.last-1]
}

// Successors returns outgoing edges in discovery order.
func (b *BasicBlock) Successors() []Edge { return b.succ }

// Predecessors returns incoming edges in the order they were wired.
func (b *BasicBlock) Predecessors() []Edge { return b.pred }

// SpecialInstruction returns the payload referenced by the switch or
// fill-array-data instruction at site.
func (b *BasicBlock) SpecialInstruction(site int) (*dex.Instruction, bool) {
	ins, ok := b.special[site]
	return ins, ok
}

// SpecialSites returns the number of payload-referencing sites in the block.
func (b *BasicBlock) SpecialSites() int { return len(b.special) }

// ExceptionRegion returns the region protecting the block, or nil.
func (b *BasicBlock) ExceptionRegion() *ExceptionRegion { return b.region }

// Unresolved returns target offsets that fell outside every block.
func (b *BasicBlock) Unresolved() []int { return b.unresolved }
