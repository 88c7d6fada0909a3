package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/dexflow/analysis"
	"github.com/chazu/dexflow/dex"
	"github.com/chazu/dexflow/manifest"
)

const mainSig = "Lcli/Main;->main()V"

// writeFixture writes a module with one guarded call and a quiet config,
// returning their paths.
func writeFixture(t *testing.T) (module, config string) {
	t.Helper()
	dir := t.TempDir()

	a := dex.NewAssembler()
	a.Const4(0, 0)                     // 0x0
	a.Invoke(dex.OpInvokeStatic, 5, 0) // 0x2
	a.ReturnVoid()                     // 0x8
	a.MoveException(1)                 // 0xa handler
	a.ReturnVoid()                     // 0xc
	m := &dex.Module{
		Name: "cli",
		Classes: []*dex.Class{{
			Name:       "Lcli/Main;",
			Superclass: "Ljava/lang/Object;",
			Methods: []*dex.Method{
				{Name: "main", Descriptor: "()V", Code: &dex.Code{
					Insns: a.Bytes(),
					Tries: []dex.TryItem{{Start: 2, End: 8, Handlers: []dex.Handler{
						{Type: "Ljava/io/IOException;", Offset: 10},
					}}},
				}},
				{Name: "native", Descriptor: "()V", AccessFlags: dex.AccNative},
			},
		}},
	}
	module = filepath.Join(dir, "cli.cbor")
	if err := dex.WriteModuleFile(module, m); err != nil {
		t.Fatal(err)
	}

	cfg := manifest.Default()
	cfg.Log.Verbosity = -4
	config = filepath.Join(dir, "dexflow.toml")
	if err := manifest.Write(config, cfg); err != nil {
		t.Fatal(err)
	}
	return module, config
}

func runCLI(t *testing.T, args ...string) (code int, stdout, stderr string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code = run(args, &out, &errOut)
	return code, out.String(), errOut.String()
}

func TestRunRegistersModule(t *testing.T) {
	module, config := writeFixture(t)

	code, out, errOut := runCLI(t, "-config", config, module)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "cli: 1 classes, 2 methods, 1 analyzed, 1 skipped, 0 failed") {
		t.Errorf("stats line missing:\n%s", out)
	}
}

func TestRunBlocksAndDisasm(t *testing.T) {
	module, config := writeFixture(t)

	code, out, errOut := runCLI(t, "-config", config, "-blocks", "-disasm", "-method", mainSig, module)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{
		mainSig + "-BB@0x0",
		mainSig + "-BB@0x2",
		mainSig + "-BB@0xa",
		"0x2-0x8",
		"Ljava/io/IOException;",
		"invoke-static {v0}, @5",
		"move-exception v1",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestRunExport(t *testing.T) {
	module, config := writeFixture(t)
	export := filepath.Join(t.TempDir(), "cfg.cbor")

	code, _, errOut := runCLI(t, "-config", config, "-export", export, module)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	data, err := os.ReadFile(export)
	if err != nil {
		t.Fatal(err)
	}
	sums, err := analysis.UnmarshalSummaries(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(sums) != 1 || sums[0].Method != mainSig {
		t.Fatalf("exported %v", sums)
	}
	if len(sums[0].Blocks) != 3 || len(sums[0].Regions) != 1 {
		t.Errorf("summary has %d blocks, %d regions; want 3, 1", len(sums[0].Blocks), len(sums[0].Regions))
	}
}

func TestRunStoreAndListRuns(t *testing.T) {
	module, config := writeFixture(t)
	db := filepath.Join(t.TempDir(), "nested", "runs.db")

	code, out, errOut := runCLI(t, "-config", config, "-store", db, module)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Saved run") || !strings.Contains(out, "cli, 1 methods") {
		t.Errorf("save output:\n%s", out)
	}

	code, out, errOut = runCLI(t, "-config", config, "-store", db, "-runs")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "cli") {
		t.Errorf("runs table missing module:\n%s", out)
	}
}

func TestRunErrors(t *testing.T) {
	module, config := writeFixture(t)
	tests := []struct {
		name string
		args []string
		code int
		msg  string
	}{
		{"no modules", []string{"-config", config}, 2, "Usage: dexflow"},
		{"unknown method", []string{"-config", config, "-method", "Lnope;->x()V", module}, 1, "not found"},
		{"bodyless method", []string{"-config", config, "-method", "Lcli/Main;->native()V", module}, 1, "has no body"},
		{"missing module", []string{"-config", config, filepath.Join(t.TempDir(), "gone.cbor")}, 1, "Error:"},
		{"runs without store", []string{"-config", config, "-runs"}, 1, "no store configured"},
		{"missing config", []string{"-config", filepath.Join(t.TempDir(), "none.toml"), module}, 1, "cannot read"},
		{"bad flag", []string{"-nope"}, 2, "flag provided but not defined"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, _, errOut := runCLI(t, tt.args...)
			if code != tt.code {
				t.Errorf("exit = %d, want %d (%s)", code, tt.code, errOut)
			}
			if !strings.Contains(errOut, tt.msg) {
				t.Errorf("stderr missing %q:\n%s", tt.msg, errOut)
			}
		})
	}
}

func TestRunInit(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	code, out, errOut := runCLI(t, "-init")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "Wrote dexflow.toml") {
		t.Errorf("output = %q", out)
	}
	if _, err := manifest.Load(dir); err != nil {
		t.Errorf("written config does not load: %v", err)
	}

	if code, _, _ := runCLI(t, "-init"); code != 1 {
		t.Errorf("second -init exit = %d, want 1", code)
	}
}
