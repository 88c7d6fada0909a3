package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/chazu/dexflow/analysis"
	"github.com/chazu/dexflow/store"
)

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	return t
}

// writeBlocks prints one row per block with its edges by start offset.
func writeBlocks(w io.Writer, ma *analysis.MethodAnalysis) {
	fmt.Fprintf(w, "%s (%d bytes)\n", ma.Name(), ma.Length())
	t := newTable(w, "block", "range", "insns", "succ", "pred", "region")
	for _, b := range ma.Blocks() {
		region := "-"
		if r := b.ExceptionRegion(); r != nil {
			region = strconv.Itoa(r.Index())
		}
		succ := edgeList(b.Successors())
		for _, off := range b.Unresolved() {
			succ = append(succ, fmt.Sprintf("!0x%x", off))
		}
		t.Append([]string{
			b.Name(),
			fmt.Sprintf("0x%x-0x%x", b.Start(), b.End()),
			strconv.Itoa(b.Len()),
			strings.Join(succ, " "),
			strings.Join(edgeList(b.Predecessors()), " "),
			region,
		})
	}
	t.Render()
}

func edgeList(edges []analysis.Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = fmt.Sprintf("0x%x", e.Block.Start())
	}
	return out
}

// writeRegions prints one row per exception handler.
func writeRegions(w io.Writer, ma *analysis.MethodAnalysis) {
	t := newTable(w, "region", "range", "type", "handler", "block")
	for _, r := range ma.ExceptionRegions() {
		for _, h := range r.Handlers {
			block := "<unresolved>"
			if h.Block != nil {
				block = h.Block.Name()
			}
			t.Append([]string{
				strconv.Itoa(r.Index()),
				fmt.Sprintf("0x%x-0x%x", r.Start, r.End),
				h.Type,
				fmt.Sprintf("0x%x", h.Offset),
				block,
			})
		}
	}
	t.Render()
}

// writeRuns prints the saved runs.
func writeRuns(w io.Writer, runs []store.Run) {
	t := newTable(w, "run", "module", "methods", "created")
	for _, r := range runs {
		t.Append([]string{r.ID, r.Module, strconv.Itoa(r.Methods), r.Created.Format(time.RFC3339)})
	}
	t.Render()
}
