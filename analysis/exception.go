package analysis

import (
	"fmt"
	"strings"

	"github.com/chazu/dexflow/dex"
)

// Handler is one entry of a region's handler chain.
type Handler struct {
	Type   string      // type descriptor, or dex.CatchAll
	Offset int         // handler entry offset
	Block  *BasicBlock // block containing Offset; nil for malformed input
}

// IsCatchAll reports whether the handler catches every exception.
func (h Handler) IsCatchAll() bool {
	return h.Type == dex.CatchAll
}

// ExceptionRegion is a protected range [Start, End) and its handlers in
// the order the runtime checks them.
type ExceptionRegion struct {
	Start    int
	End      int
	Handlers []Handler

	index int
}

// Index returns the region's position in registration order.
func (r *ExceptionRegion) Index() int { return r.index }

// Contains reports whether [start, end) lies entirely inside the region.
func (r *ExceptionRegion) Contains(start, end int) bool {
	return r.Start <= start && end <= r.End
}

// Matches reports whether [start, end) overlaps the region. Blocks and
// protected ranges need not share boundaries, so partial overlap counts.
func (r *ExceptionRegion) Matches(start, end int) bool {
	return start < r.End && end > r.Start
}

func (r *ExceptionRegion) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "0x%x:0x%x", r.Start, r.End)
	for _, h := range r.Handlers {
		name := "<unresolved>"
		if h.Block != nil {
			name = h.Block.Name()
		}
		fmt.Fprintf(&sb, "\n\t(%s -> 0x%x %s)", h.Type, h.Offset, name)
	}
	return sb.String()
}

// ExceptionTable owns the regions of one method in registration order.
type ExceptionTable struct {
	regions []*ExceptionRegion
}

// Add registers a region. Ranges with start >= end fail with
// ErrInvalidRegion and are not added.
func (t *ExceptionTable) Add(start, end int, handlers []Handler) (*ExceptionRegion, error) {
	if start >= end {
		return nil, fmt.Errorf("%w: [0x%x, 0x%x)", ErrInvalidRegion, start, end)
	}
	r := &ExceptionRegion{Start: start, End: end, Handlers: handlers, index: len(t.regions)}
	t.regions = append(t.regions, r)
	return r, nil
}

// Match returns the first region, in registration order, overlapping
// [start, end), or nil.
func (t *ExceptionTable) Match(start, end int) *ExceptionRegion {
	for _, r := range t.regions {
		if r.Matches(start, end) {
			return r
		}
	}
	return nil
}

// Regions returns all regions in registration order.
func (t *ExceptionTable) Regions() []*ExceptionRegion { return t.regions }

// Len returns the number of regions.
func (t *ExceptionTable) Len() int { return len(t.regions) }
