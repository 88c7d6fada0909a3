package analysis

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Summary: flat, serializable view of a MethodAnalysis
// ---------------------------------------------------------------------------

// Summary describes one method's blocks and regions by offset only.
type Summary struct {
	Method     string           `cbor:"method" json:"method"`
	Length     int              `cbor:"length" json:"length"`
	Blocks     []BlockSummary   `cbor:"blocks" json:"blocks"`
	Regions    []RegionSummary  `cbor:"regions,omitempty" json:"regions,omitempty"`
	Unresolved []UnresolvedEdge `cbor:"unresolved,omitempty" json:"unresolved,omitempty"`
}

// BlockSummary describes one block. Region is the index of the protecting
// region, or -1.
type BlockSummary struct {
	Name         string        `cbor:"name" json:"name"`
	Start        int           `cbor:"start" json:"start"`
	End          int           `cbor:"end" json:"end"`
	Instructions int           `cbor:"insns" json:"instructions"`
	Successors   []EdgeSummary `cbor:"succ,omitempty" json:"successors,omitempty"`
	Predecessors []EdgeSummary `cbor:"pred,omitempty" json:"predecessors,omitempty"`
	Region       int           `cbor:"region" json:"region"`
	Unresolved   []int         `cbor:"unresolved,omitempty" json:"unresolved,omitempty"`
}

// EdgeSummary is an edge with the other block named by its start offset.
type EdgeSummary struct {
	Site   int `cbor:"site" json:"site"`
	Target int `cbor:"target" json:"target"`
	Block  int `cbor:"block" json:"block"`
}

// RegionSummary describes one exception region.
type RegionSummary struct {
	Start    int              `cbor:"start" json:"start"`
	End      int              `cbor:"end" json:"end"`
	Handlers []HandlerSummary `cbor:"handlers" json:"handlers"`
}

// HandlerSummary names the handler block by start offset, or -1 when the
// handler offset is outside every block.
type HandlerSummary struct {
	Type   string `cbor:"type" json:"type"`
	Offset int    `cbor:"offset" json:"offset"`
	Block  int    `cbor:"block" json:"block"`
}

// UnresolvedEdge is a dropped edge or handler attachment.
type UnresolvedEdge struct {
	Site    int  `cbor:"site" json:"site"`
	Target  int  `cbor:"target" json:"target"`
	Handler bool `cbor:"handler,omitempty" json:"handler,omitempty"`
}

// Summary flattens the analysis.
func (ma *MethodAnalysis) Summary() *Summary {
	s := &Summary{
		Method: ma.name,
		Length: ma.length,
		Blocks: make([]BlockSummary, 0, ma.blocks.Len()),
	}
	for _, b := range ma.blocks.All() {
		s.Blocks = append(s.Blocks, b.Summary())
	}
	for _, r := range ma.exceptions.Regions() {
		rs := RegionSummary{Start: r.Start, End: r.End, Handlers: make([]HandlerSummary, len(r.Handlers))}
		for i, h := range r.Handlers {
			rs.Handlers[i] = HandlerSummary{Type: h.Type, Offset: h.Offset, Block: -1}
			if h.Block != nil {
				rs.Handlers[i].Block = h.Block.start
			}
		}
		s.Regions = append(s.Regions, rs)
	}
	for _, u := range ma.unresolved {
		s.Unresolved = append(s.Unresolved, UnresolvedEdge{Site: u.Site, Target: u.Target, Handler: u.Handler})
	}
	return s
}

// Summary flattens one block.
func (b *BasicBlock) Summary() BlockSummary {
	bs := BlockSummary{
		Name:         b.Name(),
		Start:        b.start,
		End:          b.end,
		Instructions: b.Len(),
		Region:       -1,
		Unresolved:   b.unresolved,
	}
	for _, e := range b.succ {
		bs.Successors = append(bs.Successors, EdgeSummary{Site: e.Site, Target: e.Target, Block: e.Block.start})
	}
	for _, e := range b.pred {
		bs.Predecessors = append(bs.Predecessors, EdgeSummary{Site: e.Site, Target: e.Target, Block: e.Block.start})
	}
	if b.region != nil {
		bs.Region = b.region.index
	}
	return bs
}

// Block returns the summary of the block starting at start.
func (s *Summary) Block(start int) (BlockSummary, bool) {
	for _, b := range s.Blocks {
		if b.Start == start {
			return b, true
		}
	}
	return BlockSummary{}, false
}

// ---- CBOR ----

var summaryEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("analysis: failed to create CBOR enc mode: %v", err))
	}
	summaryEncMode = em
}

// MarshalSummaries serializes summaries to CBOR bytes.
func MarshalSummaries(s []*Summary) ([]byte, error) {
	return summaryEncMode.Marshal(s)
}

// UnmarshalSummaries deserializes summaries from CBOR bytes.
func UnmarshalSummaries(data []byte) ([]*Summary, error) {
	var s []*Summary
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("analysis: unmarshal summaries: %w", err)
	}
	return s, nil
}

// MarshalSummary serializes one summary to CBOR bytes.
func MarshalSummary(s *Summary) ([]byte, error) {
	return summaryEncMode.Marshal(s)
}

// UnmarshalSummary deserializes one summary from CBOR bytes.
func UnmarshalSummary(data []byte) (*Summary, error) {
	var s Summary
	if err := cbor.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("analysis: unmarshal summary: %w", err)
	}
	return &s, nil
}
