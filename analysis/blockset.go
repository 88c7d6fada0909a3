package analysis

import "sort"

// BasicBlockSet holds the blocks of one method in ascending offset order.
type BasicBlockSet struct {
	blocks []*BasicBlock
}

func (s *BasicBlockSet) push(b *BasicBlock) {
	b.index = len(s.blocks)
	s.blocks = append(s.blocks, b)
}

// pop removes and returns the last block.
func (s *BasicBlockSet) pop() *BasicBlock {
	n := len(s.blocks)
	if n == 0 {
		return nil
	}
	b := s.blocks[n-1]
	s.blocks = s.blocks[:n-1]
	return b
}

// Len returns the number of blocks.
func (s *BasicBlockSet) Len() int { return len(s.blocks) }

// At returns the i'th block.
func (s *BasicBlockSet) At(i int) *BasicBlock { return s.blocks[i] }

// All returns the blocks in offset order. The slice must not be modified.
func (s *BasicBlockSet) All() []*BasicBlock { return s.blocks }

// Get returns the block whose [Start, End) contains offset, or nil.
func (s *BasicBlockSet) Get(offset int) *BasicBlock {
	i := sort.Search(len(s.blocks), func(i int) bool {
		return s.blocks[i].end > offset
	})
	if i < len(s.blocks) && s.blocks[i].Contains(offset) {
		return s.blocks[i]
	}
	return nil
}
