package analysis

import (
	"errors"
	"strings"
	"testing"

	"github.com/chazu/dexflow/dex"
)

func TestRegionMatches(t *testing.T) {
	r := &ExceptionRegion{Start: 4, End: 12}
	tests := []struct {
		start, end int
		contains   bool
		matches    bool
	}{
		{4, 12, true, true},
		{6, 8, true, true},
		{0, 6, false, true},
		{10, 16, false, true},
		{0, 20, false, true},
		{0, 4, false, false},
		{12, 14, false, false},
	}
	for _, tt := range tests {
		if got := r.Contains(tt.start, tt.end); got != tt.contains {
			t.Errorf("Contains(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.contains)
		}
		if got := r.Matches(tt.start, tt.end); got != tt.matches {
			t.Errorf("Matches(%d, %d) = %v, want %v", tt.start, tt.end, got, tt.matches)
		}
	}
}

func TestExceptionTableAdd(t *testing.T) {
	var tbl ExceptionTable
	if _, err := tbl.Add(8, 8, nil); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("Add(8, 8) err = %v, want ErrInvalidRegion", err)
	}
	if _, err := tbl.Add(10, 2, nil); !errors.Is(err, ErrInvalidRegion) {
		t.Errorf("Add(10, 2) err = %v, want ErrInvalidRegion", err)
	}
	a, err := tbl.Add(0, 10, nil)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := tbl.Add(4, 6, nil)
	if tbl.Len() != 2 || a.Index() != 0 || b.Index() != 1 {
		t.Errorf("Len = %d, indexes %d %d", tbl.Len(), a.Index(), b.Index())
	}

	if got := tbl.Match(4, 6); got != a {
		t.Errorf("Match(4, 6) = %v, want first registered region", got)
	}
	if got := tbl.Match(10, 12); got != nil {
		t.Errorf("Match(10, 12) = %v, want nil", got)
	}
}

func TestRegionString(t *testing.T) {
	ma := buildStub(t, nil, []dex.TryItem{{
		Start: 0, End: 2,
		Handlers: []dex.Handler{
			{Type: "Ljava/io/IOException;", Offset: 2},
			{Type: dex.CatchAll, Offset: 64},
		},
	}}, 2, 2)

	s := ma.ExceptionRegions()[0].String()
	want := []string{
		"0x0:0x2",
		"(Ljava/io/IOException; -> 0x2 Ltest;->stub()V-BB@0x2)",
		"(any -> 0x40 <unresolved>)",
	}
	for _, w := range want {
		if !strings.Contains(s, w) {
			t.Errorf("String() = %q, missing %q", s, w)
		}
	}
}

func TestBlockSetGet(t *testing.T) {
	ma := buildStub(t, stubResolver{2: {6}}, nil, 2, 2, 2, 2)
	set := ma.BlockSet()
	if set.Len() != 3 {
		t.Fatalf("blocks = %v", spans(ma))
	}
	tests := []struct {
		off   int
		start int
	}{
		{0, 0}, {1, 0}, {3, 0}, {4, 4}, {5, 4}, {6, 6}, {7, 6},
	}
	for _, tt := range tests {
		b := set.Get(tt.off)
		if b == nil || b.Start() != tt.start {
			t.Errorf("Get(%d) = %v, want block at %d", tt.off, b, tt.start)
		}
	}
	for _, off := range []int{-2, 8, 100} {
		if b := set.Get(off); b != nil {
			t.Errorf("Get(%d) = %v, want nil", off, b)
		}
	}
	if set.At(1) != ma.Blocks()[1] {
		t.Error("At(1) disagrees with Blocks()")
	}
}
