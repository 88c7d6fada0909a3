package analysis

import (
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/tliron/commonlog"

	"github.com/chazu/dexflow/dex"
)

var log = commonlog.GetLogger("dexflow.analysis")

// TargetResolver classifies instructions and computes their branch targets.
// dex.Flow is the default implementation.
type TargetResolver interface {
	// IsControlTransfer reports whether ins ends a basic block.
	IsControlTransfer(ins *dex.Instruction) bool
	// BranchTargets returns the offsets control may reach from ins at site.
	// code covers the whole method body, for out-of-line switch tables.
	BranchTargets(ins *dex.Instruction, site int, code *dex.Cursor) ([]int, error)
}

// MethodAnalysis is the control-flow graph of one method.
type MethodAnalysis struct {
	method     *dex.Method
	name       string
	length     int
	insns      []dex.Instruction
	blocks     BasicBlockSet
	exceptions ExceptionTable
	unresolved []*UnresolvedTarget
}

// Method returns the analysed method, or nil when built with BuildCode.
func (ma *MethodAnalysis) Method() *dex.Method { return ma.method }

// Name returns the method signature used in block names.
func (ma *MethodAnalysis) Name() string { return ma.name }

// Length returns the body length in bytes.
func (ma *MethodAnalysis) Length() int { return ma.length }

// Instructions returns the method's shared instruction slice.
func (ma *MethodAnalysis) Instructions() []dex.Instruction { return ma.insns }

// Blocks returns the basic blocks in offset order.
func (ma *MethodAnalysis) Blocks() []*BasicBlock { return ma.blocks.All() }

// BlockSet returns the underlying block set.
func (ma *MethodAnalysis) BlockSet() *BasicBlockSet { return &ma.blocks }

// BlockContaining returns the block whose range contains offset.
func (ma *MethodAnalysis) BlockContaining(offset int) (*BasicBlock, bool) {
	b := ma.blocks.Get(offset)
	return b, b != nil
}

// ExceptionRegions returns the valid regions in registration order.
func (ma *MethodAnalysis) ExceptionRegions() []*ExceptionRegion { return ma.exceptions.Regions() }

// ExceptionTable returns the underlying exception table.
func (ma *MethodAnalysis) ExceptionTable() *ExceptionTable { return &ma.exceptions }

// Unresolved returns every dropped edge and handler attachment.
func (ma *MethodAnalysis) Unresolved() []*UnresolvedTarget { return ma.unresolved }

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

// Build analyses a method. Methods without a body fail with
// ErrEmptyMethodBody. A nil resolver means dex.Flow.
func Build(m *dex.Method, r TargetResolver) (*MethodAnalysis, error) {
	return build(m, r, log)
}

func build(m *dex.Method, r TargetResolver, logger commonlog.Logger) (*MethodAnalysis, error) {
	if !m.HasCode() {
		return nil, fmt.Errorf("%w: %s", ErrEmptyMethodBody, m)
	}
	insns, err := m.Code.Instructions()
	if err != nil {
		return nil, fmt.Errorf("%s: decode: %w", m, err)
	}
	ma, err := buildCode(m.String(), m.Code.Insns, insns, m.Code.Tries, r, logger)
	if err != nil {
		return nil, err
	}
	ma.method = m
	return ma, nil
}

// BuildCode analyses a decoded body directly. insns must tile code.
func BuildCode(name string, code []byte, insns []dex.Instruction, tries []dex.TryItem, r TargetResolver) (*MethodAnalysis, error) {
	return buildCode(name, code, insns, tries, r, log)
}

func buildCode(name string, code []byte, insns []dex.Instruction, tries []dex.TryItem, r TargetResolver, logger commonlog.Logger) (*MethodAnalysis, error) {
	if len(insns) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyMethodBody, name)
	}
	if r == nil {
		r = dex.Flow{}
	}
	ma := &MethodAnalysis{name: name, length: len(code), insns: insns}

	// ---- Target discovery ----
	// A site present in branches transfers control, even with no targets.
	branches := make(map[int][]int)
	boundaries := mapset.NewThreadUnsafeSet[int]()
	cur := dex.NewCursor(code)
	off := 0
	for i := range insns {
		ins := &insns[i]
		if r.IsControlTransfer(ins) {
			targets, err := r.BranchTargets(ins, off, cur)
			if err != nil {
				return nil, fmt.Errorf("%s: %s at 0x%x: %w", name, ins.Name(), off, err)
			}
			targets = uniqueOffsets(targets)
			branches[off] = targets
			for _, t := range targets {
				boundaries.Add(t)
			}
		}
		off += ins.Length
	}
	for _, try := range tries {
		boundaries.Add(try.Start)
		for _, h := range try.Handlers {
			boundaries.Add(h.Offset)
		}
	}

	// ---- Partitioning ----
	current := newBasicBlock(name, insns, 0, 0)
	ma.blocks.push(current)
	off = 0
	for i := range insns {
		ins := &insns[i]
		if boundaries.Contains(off) && current.Len() > 0 {
			current = newBasicBlock(name, insns, i, off)
			ma.blocks.push(current)
		}
		current.push(ins)
		if ins.Op.HasPayloadRef() && !ins.IsPayload() {
			if p := payloadAt(insns, off+int(ins.Branch)*2); p != nil {
				current.addSpecial(off, p)
			}
		}
		if _, ok := branches[off]; ok {
			current = newBasicBlock(name, insns, i+1, off+ins.Length)
			ma.blocks.push(current)
		}
		off += ins.Length
	}
	if current.Len() == 0 {
		ma.blocks.pop()
	}

	// ---- Edge wiring ----
	for _, b := range ma.blocks.All() {
		last := b.Last()
		site := b.end - last.Length
		targets, ok := branches[site]
		if !ok {
			if next := ma.blocks.Get(b.end); next != nil && next.start == b.end {
				b.addSuccessor(site, b.end, next)
			}
			continue
		}
		for _, t := range targets {
			to := ma.blocks.Get(t)
			if to == nil {
				b.unresolved = append(b.unresolved, t)
				u := &UnresolvedTarget{Site: site, Target: t}
				ma.unresolved = append(ma.unresolved, u)
				logger.Warningf("%s: %v", name, u)
				continue
			}
			b.addSuccessor(site, t, to)
		}
	}

	// ---- Exception attachment ----
	for _, try := range tries {
		region, err := ma.exceptions.Add(try.Start, try.End, nil)
		if err != nil {
			logger.Warningf("%s: %v", name, err)
			continue
		}
		region.Handlers = make([]Handler, len(try.Handlers))
		for i, h := range try.Handlers {
			region.Handlers[i] = Handler{Type: h.Type, Offset: h.Offset, Block: ma.blocks.Get(h.Offset)}
			if region.Handlers[i].Block == nil {
				u := &UnresolvedTarget{Site: try.Start, Target: h.Offset, Handler: true}
				ma.unresolved = append(ma.unresolved, u)
				logger.Warningf("%s: %v", name, u)
			}
		}
	}
	for _, b := range ma.blocks.All() {
		b.region = ma.exceptions.Match(b.start, b.end)
	}

	return ma, nil
}

// uniqueOffsets drops repeated offsets, keeping first occurrences in order.
func uniqueOffsets(offsets []int) []int {
	out := make([]int, 0, len(offsets))
	seen := mapset.NewThreadUnsafeSet[int]()
	for _, o := range offsets {
		if seen.Add(o) {
			out = append(out, o)
		}
	}
	return out
}

// payloadAt returns the payload pseudo-instruction starting at offset.
func payloadAt(insns []dex.Instruction, offset int) *dex.Instruction {
	i := sort.Search(len(insns), func(i int) bool { return insns[i].Offset >= offset })
	if i < len(insns) && insns[i].Offset == offset && insns[i].IsPayload() {
		return &insns[i]
	}
	return nil
}
