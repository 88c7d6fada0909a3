package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/chazu/dexflow/analysis"
	"github.com/chazu/dexflow/dex"
)

func testSummaries(t *testing.T) []*analysis.Summary {
	t.Helper()
	a := dex.NewAssembler()
	done := a.NewLabel()
	a.IfZ(dex.OpIfEqz, 0, done)
	a.Const4(0, 1)
	a.Mark(done)
	a.Return(0)

	m := &dex.Module{Name: "sample", Classes: []*dex.Class{{
		Name: "Lsample/A;",
		Methods: []*dex.Method{
			{Name: "f", Descriptor: "(I)I", Code: &dex.Code{Insns: a.Bytes()}},
			{Name: "g", Descriptor: "()V", Code: &dex.Code{Insns: []byte{0x0e, 0x00}}},
		},
	}}}
	m.Link()

	idx := analysis.NewIndex()
	if _, err := idx.Register(m); err != nil {
		t.Fatal(err)
	}
	var out []*analysis.Summary
	for _, ma := range idx.Methods() {
		out = append(out, ma.Summary())
	}
	return out
}

func openTest(t *testing.T) *Store {
	t.Helper()
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

func TestSaveAndQueryRun(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	sums := testSummaries(t)

	id, err := s.SaveRun(ctx, "sample", sums)
	if err != nil {
		t.Fatalf("SaveRun: %v", err)
	}

	runs, err := s.Runs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 || runs[0].ID != id || runs[0].Module != "sample" || runs[0].Methods != 2 {
		t.Errorf("Runs = %+v", runs)
	}

	methods, err := s.Methods(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"Lsample/A;->f(I)I", "Lsample/A;->g()V"}; !reflect.DeepEqual(methods, want) {
		t.Errorf("Methods = %v, want %v", methods, want)
	}

	// if-eqz (4 bytes), const/4 (2), return (2)
	blocks, err := s.Blocks(ctx, id, "Lsample/A;->f(I)I")
	if err != nil {
		t.Fatal(err)
	}
	wantBlocks := []Block{
		{Start: 0, End: 4, Instructions: 1, Region: -1},
		{Start: 4, End: 6, Instructions: 1, Region: -1},
		{Start: 6, End: 8, Instructions: 1, Region: -1},
	}
	if !reflect.DeepEqual(blocks, wantBlocks) {
		t.Errorf("Blocks = %+v, want %+v", blocks, wantBlocks)
	}

	edges, err := s.Edges(ctx, id, "Lsample/A;->f(I)I")
	if err != nil {
		t.Fatal(err)
	}
	wantEdges := []Edge{
		{Site: 0, Target: 4, From: 0, To: 4},
		{Site: 0, Target: 6, From: 0, To: 6},
		{Site: 4, Target: 6, From: 4, To: 6},
	}
	if !reflect.DeepEqual(edges, wantEdges) {
		t.Errorf("Edges = %+v, want %+v", edges, wantEdges)
	}

	sum, err := s.Summary(ctx, id, "Lsample/A;->f(I)I")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(sum, sums[0]) {
		t.Errorf("Summary = %+v, want %+v", sum, sums[0])
	}
}

func TestSeparateRuns(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	sums := testSummaries(t)

	first, err := s.SaveRun(ctx, "one", sums[:1])
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.SaveRun(ctx, "two", sums)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("run IDs collide")
	}

	m1, _ := s.Methods(ctx, first)
	m2, _ := s.Methods(ctx, second)
	if len(m1) != 1 || len(m2) != 2 {
		t.Errorf("methods per run = %d, %d, want 1, 2", len(m1), len(m2))
	}
	runs, _ := s.Runs(ctx)
	if len(runs) != 2 {
		t.Errorf("Runs = %d, want 2", len(runs))
	}
}

func TestQueryErrors(t *testing.T) {
	ctx := context.Background()
	s := openTest(t)
	id, err := s.SaveRun(ctx, "sample", testSummaries(t))
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.Blocks(ctx, "nope", "x"); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("Blocks(unknown run) err = %v, want ErrUnknownRun", err)
	}
	if _, err := s.Edges(ctx, "nope", "x"); !errors.Is(err, ErrUnknownRun) {
		t.Errorf("Edges(unknown run) err = %v, want ErrUnknownRun", err)
	}
	if _, err := s.Summary(ctx, id, "Lmissing;->m()V"); !errors.Is(err, ErrNoMethod) {
		t.Errorf("Summary(missing) err = %v, want ErrNoMethod", err)
	}
	if blocks, err := s.Blocks(ctx, id, "Lmissing;->m()V"); err != nil || len(blocks) != 0 {
		t.Errorf("Blocks(missing method) = %v, %v", blocks, err)
	}
}

func TestOpenInMemory(t *testing.T) {
	ctx := context.Background()
	s, err := Open("sqlite", "")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	// a second migrate is a no-op
	if err := s.Migrate(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveRun(ctx, "mem", testSummaries(t)); err != nil {
		t.Fatal(err)
	}
	if runs, _ := s.Runs(ctx); len(runs) != 1 {
		t.Errorf("Runs = %v", runs)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "x"); err == nil {
		t.Error("Open(postgres) should fail")
	}
}
