package dex

import "fmt"

// Opcode is the low byte of the first code unit of a Dalvik instruction.
type Opcode byte

// Format identifies a Dalvik instruction encoding (e.g. "22t": two units,
// two registers, branch offset).
type Format uint8

const (
	Fmt10x Format = iota
	Fmt12x
	Fmt11n
	Fmt11x
	Fmt10t
	Fmt20t
	Fmt22x
	Fmt21t
	Fmt21s
	Fmt21h
	Fmt21c
	Fmt23x
	Fmt22b
	Fmt22t
	Fmt22s
	Fmt22c
	Fmt30t
	Fmt32x
	Fmt31i
	Fmt31t
	Fmt31c
	Fmt35c
	Fmt3rc
	Fmt45cc
	Fmt4rcc
	Fmt51l
	FmtPayload // variable-length pseudo-instruction
)

var formatNames = [...]string{
	"10x", "12x", "11n", "11x", "10t", "20t", "22x", "21t", "21s", "21h", "21c",
	"23x", "22b", "22t", "22s", "22c", "30t", "32x", "31i", "31t", "31c",
	"35c", "3rc", "45cc", "4rcc", "51l", "payload",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", f)
}

// Units returns the instruction size in 16-bit code units. Payload sizes
// depend on their contents and report 0.
func (f Format) Units() int {
	switch f {
	case Fmt10x, Fmt12x, Fmt11n, Fmt11x, Fmt10t:
		return 1
	case Fmt20t, Fmt22x, Fmt21t, Fmt21s, Fmt21h, Fmt21c, Fmt23x, Fmt22b, Fmt22t, Fmt22s, Fmt22c:
		return 2
	case Fmt30t, Fmt32x, Fmt31i, Fmt31t, Fmt31c, Fmt35c, Fmt3rc:
		return 3
	case Fmt45cc, Fmt4rcc:
		return 4
	case Fmt51l:
		return 5
	}
	return 0
}

// FlowKind classifies how an instruction transfers control. The set is
// closed; target resolution for each kind lives in Flow.BranchTargets.
type FlowKind uint8

const (
	FlowNone   FlowKind = iota // falls through to the next instruction
	FlowGoto                   // goto, goto/16, goto/32
	FlowIf                     // if-test and if-testz
	FlowSwitch                 // packed-switch, sparse-switch
	FlowReturn                 // return-void, return*
	FlowThrow                  // throw
)

func (k FlowKind) String() string {
	switch k {
	case FlowNone:
		return "none"
	case FlowGoto:
		return "goto"
	case FlowIf:
		return "if"
	case FlowSwitch:
		return "switch"
	case FlowReturn:
		return "return"
	case FlowThrow:
		return "throw"
	default:
		return fmt.Sprintf("FlowKind(%d)", k)
	}
}

// IsControlTransfer reports whether instructions of this kind end a block.
func (k FlowKind) IsControlTransfer() bool {
	return k != FlowNone
}

// OpcodeInfo holds static metadata about an opcode.
type OpcodeInfo struct {
	Name   string
	Format Format
	Flow   FlowKind
}

// Opcodes referenced by the decoder and flow analysis.
const (
	OpNop           Opcode = 0x00
	OpMoveException Opcode = 0x0d
	OpReturnVoid    Opcode = 0x0e
	OpReturn        Opcode = 0x0f
	OpReturnWide    Opcode = 0x10
	OpReturnObject  Opcode = 0x11
	OpConst4        Opcode = 0x12
	OpConst16       Opcode = 0x13
	OpConst         Opcode = 0x14
	OpFillArrayData Opcode = 0x26
	OpThrow         Opcode = 0x27
	OpGoto          Opcode = 0x28
	OpGoto16        Opcode = 0x29
	OpGoto32        Opcode = 0x2a
	OpPackedSwitch  Opcode = 0x2b
	OpSparseSwitch  Opcode = 0x2c
	OpIfEq          Opcode = 0x32
	OpIfNe          Opcode = 0x33
	OpIfLt          Opcode = 0x34
	OpIfGe          Opcode = 0x35
	OpIfGt          Opcode = 0x36
	OpIfLe          Opcode = 0x37
	OpIfEqz         Opcode = 0x38
	OpIfNez         Opcode = 0x39
	OpIfLtz         Opcode = 0x3a
	OpIfGez         Opcode = 0x3b
	OpIfGtz         Opcode = 0x3c
	OpIfLez         Opcode = 0x3d
	OpInvokeVirtual Opcode = 0x6e
	OpInvokeStatic  Opcode = 0x71
	OpAddInt        Opcode = 0x90
	OpAddIntLit8    Opcode = 0xd8
)

// Payload identifiers: the full first code unit of a pseudo-instruction.
const (
	PackedSwitchPayload  uint16 = 0x0100
	SparseSwitchPayload  uint16 = 0x0200
	FillArrayDataPayload uint16 = 0x0300
)

// opcodeTable maps every opcode byte to its metadata. Unused slots decode as
// one-unit "unused-XX" instructions.
var opcodeTable [256]OpcodeInfo

// opcodeFamily assigns consecutive opcodes sharing a format and flow kind.
type opcodeFamily struct {
	first  Opcode
	format Format
	flow   FlowKind
	names  []string
}

var opcodeFamilies = []opcodeFamily{
	{0x00, Fmt10x, FlowNone, []string{"nop"}},
	{0x01, Fmt12x, FlowNone, []string{"move"}},
	{0x02, Fmt22x, FlowNone, []string{"move/from16"}},
	{0x03, Fmt32x, FlowNone, []string{"move/16"}},
	{0x04, Fmt12x, FlowNone, []string{"move-wide"}},
	{0x05, Fmt22x, FlowNone, []string{"move-wide/from16"}},
	{0x06, Fmt32x, FlowNone, []string{"move-wide/16"}},
	{0x07, Fmt12x, FlowNone, []string{"move-object"}},
	{0x08, Fmt22x, FlowNone, []string{"move-object/from16"}},
	{0x09, Fmt32x, FlowNone, []string{"move-object/16"}},
	{0x0a, Fmt11x, FlowNone, []string{"move-result", "move-result-wide", "move-result-object", "move-exception"}},
	{0x0e, Fmt10x, FlowReturn, []string{"return-void"}},
	{0x0f, Fmt11x, FlowReturn, []string{"return", "return-wide", "return-object"}},
	{0x12, Fmt11n, FlowNone, []string{"const/4"}},
	{0x13, Fmt21s, FlowNone, []string{"const/16"}},
	{0x14, Fmt31i, FlowNone, []string{"const"}},
	{0x15, Fmt21h, FlowNone, []string{"const/high16"}},
	{0x16, Fmt21s, FlowNone, []string{"const-wide/16"}},
	{0x17, Fmt31i, FlowNone, []string{"const-wide/32"}},
	{0x18, Fmt51l, FlowNone, []string{"const-wide"}},
	{0x19, Fmt21h, FlowNone, []string{"const-wide/high16"}},
	{0x1a, Fmt21c, FlowNone, []string{"const-string"}},
	{0x1b, Fmt31c, FlowNone, []string{"const-string/jumbo"}},
	{0x1c, Fmt21c, FlowNone, []string{"const-class"}},
	{0x1d, Fmt11x, FlowNone, []string{"monitor-enter", "monitor-exit"}},
	{0x1f, Fmt21c, FlowNone, []string{"check-cast"}},
	{0x20, Fmt22c, FlowNone, []string{"instance-of"}},
	{0x21, Fmt12x, FlowNone, []string{"array-length"}},
	{0x22, Fmt21c, FlowNone, []string{"new-instance"}},
	{0x23, Fmt22c, FlowNone, []string{"new-array"}},
	{0x24, Fmt35c, FlowNone, []string{"filled-new-array"}},
	{0x25, Fmt3rc, FlowNone, []string{"filled-new-array/range"}},
	{0x26, Fmt31t, FlowNone, []string{"fill-array-data"}},
	{0x27, Fmt11x, FlowThrow, []string{"throw"}},
	{0x28, Fmt10t, FlowGoto, []string{"goto"}},
	{0x29, Fmt20t, FlowGoto, []string{"goto/16"}},
	{0x2a, Fmt30t, FlowGoto, []string{"goto/32"}},
	{0x2b, Fmt31t, FlowSwitch, []string{"packed-switch", "sparse-switch"}},
	{0x2d, Fmt23x, FlowNone, []string{"cmpl-float", "cmpg-float", "cmpl-double", "cmpg-double", "cmp-long"}},
	{0x32, Fmt22t, FlowIf, []string{"if-eq", "if-ne", "if-lt", "if-ge", "if-gt", "if-le"}},
	{0x38, Fmt21t, FlowIf, []string{"if-eqz", "if-nez", "if-ltz", "if-gez", "if-gtz", "if-lez"}},
	{0x44, Fmt23x, FlowNone, []string{
		"aget", "aget-wide", "aget-object", "aget-boolean", "aget-byte", "aget-char", "aget-short",
		"aput", "aput-wide", "aput-object", "aput-boolean", "aput-byte", "aput-char", "aput-short",
	}},
	{0x52, Fmt22c, FlowNone, []string{
		"iget", "iget-wide", "iget-object", "iget-boolean", "iget-byte", "iget-char", "iget-short",
		"iput", "iput-wide", "iput-object", "iput-boolean", "iput-byte", "iput-char", "iput-short",
	}},
	{0x60, Fmt21c, FlowNone, []string{
		"sget", "sget-wide", "sget-object", "sget-boolean", "sget-byte", "sget-char", "sget-short",
		"sput", "sput-wide", "sput-object", "sput-boolean", "sput-byte", "sput-char", "sput-short",
	}},
	{0x6e, Fmt35c, FlowNone, []string{"invoke-virtual", "invoke-super", "invoke-direct", "invoke-static", "invoke-interface"}},
	{0x74, Fmt3rc, FlowNone, []string{
		"invoke-virtual/range", "invoke-super/range", "invoke-direct/range", "invoke-static/range", "invoke-interface/range",
	}},
	{0x7b, Fmt12x, FlowNone, []string{
		"neg-int", "not-int", "neg-long", "not-long", "neg-float", "neg-double",
		"int-to-long", "int-to-float", "int-to-double", "long-to-int", "long-to-float", "long-to-double",
		"float-to-int", "float-to-long", "float-to-double", "double-to-int", "double-to-long", "double-to-float",
		"int-to-byte", "int-to-char", "int-to-short",
	}},
	{0x90, Fmt23x, FlowNone, binopNames("")},
	{0xb0, Fmt12x, FlowNone, binopNames("/2addr")},
	{0xd0, Fmt22s, FlowNone, []string{
		"add-int/lit16", "rsub-int", "mul-int/lit16", "div-int/lit16",
		"rem-int/lit16", "and-int/lit16", "or-int/lit16", "xor-int/lit16",
	}},
	{0xd8, Fmt22b, FlowNone, []string{
		"add-int/lit8", "rsub-int/lit8", "mul-int/lit8", "div-int/lit8", "rem-int/lit8", "and-int/lit8",
		"or-int/lit8", "xor-int/lit8", "shl-int/lit8", "shr-int/lit8", "ushr-int/lit8",
	}},
	{0xfa, Fmt45cc, FlowNone, []string{"invoke-polymorphic"}},
	{0xfb, Fmt4rcc, FlowNone, []string{"invoke-polymorphic/range"}},
	{0xfc, Fmt35c, FlowNone, []string{"invoke-custom"}},
	{0xfd, Fmt3rc, FlowNone, []string{"invoke-custom/range"}},
	{0xfe, Fmt21c, FlowNone, []string{"const-method-handle", "const-method-type"}},
}

// binopNames lists the 32 binary arithmetic mnemonics in opcode order.
func binopNames(suffix string) []string {
	ops := []string{
		"add-int", "sub-int", "mul-int", "div-int", "rem-int", "and-int", "or-int", "xor-int",
		"shl-int", "shr-int", "ushr-int",
		"add-long", "sub-long", "mul-long", "div-long", "rem-long", "and-long", "or-long", "xor-long",
		"shl-long", "shr-long", "ushr-long",
		"add-float", "sub-float", "mul-float", "div-float", "rem-float",
		"add-double", "sub-double", "mul-double", "div-double", "rem-double",
	}
	for i := range ops {
		ops[i] += suffix
	}
	return ops
}

func init() {
	for i := range opcodeTable {
		opcodeTable[i] = OpcodeInfo{Name: fmt.Sprintf("unused-%02x", i), Format: Fmt10x}
	}
	for _, fam := range opcodeFamilies {
		for i, name := range fam.names {
			opcodeTable[int(fam.first)+i] = OpcodeInfo{Name: name, Format: fam.format, Flow: fam.flow}
		}
	}
}

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	return opcodeTable[op]
}

// String returns the smali mnemonic of an opcode.
func (op Opcode) String() string {
	return opcodeTable[op].Name
}

// Format returns the encoding format of an opcode.
func (op Opcode) Format() Format {
	return opcodeTable[op].Format
}

// Flow returns the control-flow kind of an opcode.
func (op Opcode) Flow() FlowKind {
	return opcodeTable[op].Flow
}

// Units returns the fixed instruction size in code units.
func (op Opcode) Units() int {
	return opcodeTable[op].Format.Units()
}

// IsUnused reports whether the opcode byte is not assigned.
func (op Opcode) IsUnused() bool {
	return (op >= 0x3e && op <= 0x43) || op == 0x73 || op == 0x79 || op == 0x7a || (op >= 0xe3 && op <= 0xf9)
}

// HasPayloadRef reports whether the instruction's 31t operand points at an
// out-of-line payload (switch tables and array data).
func (op Opcode) HasPayloadRef() bool {
	return op == OpFillArrayData || op == OpPackedSwitch || op == OpSparseSwitch
}
