package dex

import (
	"strings"
	"testing"
)

func TestOpcodeInfo(t *testing.T) {
	tests := []struct {
		op     Opcode
		name   string
		format Format
		units  int
		flow   FlowKind
	}{
		{0x00, "nop", Fmt10x, 1, FlowNone},
		{0x01, "move", Fmt12x, 1, FlowNone},
		{0x0d, "move-exception", Fmt11x, 1, FlowNone},
		{0x0e, "return-void", Fmt10x, 1, FlowReturn},
		{0x11, "return-object", Fmt11x, 1, FlowReturn},
		{0x12, "const/4", Fmt11n, 1, FlowNone},
		{0x18, "const-wide", Fmt51l, 5, FlowNone},
		{0x1e, "monitor-exit", Fmt11x, 1, FlowNone},
		{0x26, "fill-array-data", Fmt31t, 3, FlowNone},
		{0x27, "throw", Fmt11x, 1, FlowThrow},
		{0x28, "goto", Fmt10t, 1, FlowGoto},
		{0x29, "goto/16", Fmt20t, 2, FlowGoto},
		{0x2a, "goto/32", Fmt30t, 3, FlowGoto},
		{0x2b, "packed-switch", Fmt31t, 3, FlowSwitch},
		{0x2c, "sparse-switch", Fmt31t, 3, FlowSwitch},
		{0x31, "cmp-long", Fmt23x, 2, FlowNone},
		{0x37, "if-le", Fmt22t, 2, FlowIf},
		{0x3d, "if-lez", Fmt21t, 2, FlowIf},
		{0x51, "aput-short", Fmt23x, 2, FlowNone},
		{0x5f, "iput-short", Fmt22c, 2, FlowNone},
		{0x6d, "sput-short", Fmt21c, 2, FlowNone},
		{0x72, "invoke-interface", Fmt35c, 3, FlowNone},
		{0x78, "invoke-interface/range", Fmt3rc, 3, FlowNone},
		{0x8f, "int-to-short", Fmt12x, 1, FlowNone},
		{0xaf, "rem-double", Fmt23x, 2, FlowNone},
		{0xb0, "add-int/2addr", Fmt12x, 1, FlowNone},
		{0xcf, "rem-double/2addr", Fmt12x, 1, FlowNone},
		{0xd1, "rsub-int", Fmt22s, 2, FlowNone},
		{0xe2, "ushr-int/lit8", Fmt22b, 2, FlowNone},
		{0xfa, "invoke-polymorphic", Fmt45cc, 4, FlowNone},
		{0xfb, "invoke-polymorphic/range", Fmt4rcc, 4, FlowNone},
		{0xff, "const-method-type", Fmt21c, 2, FlowNone},
	}

	for _, tt := range tests {
		info := tt.op.Info()
		if info.Name != tt.name {
			t.Errorf("%#02x: Name = %q, want %q", byte(tt.op), info.Name, tt.name)
		}
		if info.Format != tt.format {
			t.Errorf("%s: Format = %s, want %s", tt.op, info.Format, tt.format)
		}
		if got := tt.op.Units(); got != tt.units {
			t.Errorf("%s: Units = %d, want %d", tt.op, got, tt.units)
		}
		if info.Flow != tt.flow {
			t.Errorf("%s: Flow = %s, want %s", tt.op, info.Flow, tt.flow)
		}
	}
}

func TestUnusedOpcodes(t *testing.T) {
	for i := 0; i < 256; i++ {
		op := Opcode(i)
		named := strings.HasPrefix(op.String(), "unused-")
		if named != op.IsUnused() {
			t.Errorf("%#02x: name %q but IsUnused() = %v", i, op.String(), op.IsUnused())
		}
		if op.Units() == 0 {
			t.Errorf("%#02x: zero-length opcode", i)
		}
	}
	if Opcode(0x3e).String() != "unused-3e" {
		t.Errorf("0x3e = %q, want unused-3e", Opcode(0x3e).String())
	}
}

func TestFlowKindControlTransfer(t *testing.T) {
	if FlowNone.IsControlTransfer() {
		t.Error("FlowNone should not transfer control")
	}
	for _, k := range []FlowKind{FlowGoto, FlowIf, FlowSwitch, FlowReturn, FlowThrow} {
		if !k.IsControlTransfer() {
			t.Errorf("%s should transfer control", k)
		}
	}
}

func TestHasPayloadRef(t *testing.T) {
	for _, op := range []Opcode{OpFillArrayData, OpPackedSwitch, OpSparseSwitch} {
		if !op.HasPayloadRef() {
			t.Errorf("%s should reference a payload", op)
		}
	}
	if OpGoto32.HasPayloadRef() {
		t.Error("goto/32 does not reference a payload")
	}
}
