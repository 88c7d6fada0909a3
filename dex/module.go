package dex

import (
	"fmt"
	"sync"
)

// CatchAll is the handler type of a catch-all handler.
const CatchAll = "any"

// Access flags used by the analysis.
const (
	AccPublic    uint32 = 0x0001
	AccPrivate   uint32 = 0x0002
	AccProtected uint32 = 0x0004
	AccStatic    uint32 = 0x0008
	AccFinal     uint32 = 0x0010
	AccNative    uint32 = 0x0100
	AccInterface uint32 = 0x0200
	AccAbstract  uint32 = 0x0400
)

// ---------------------------------------------------------------------------
// Module model
// ---------------------------------------------------------------------------

// Module is one decoded binary module: a named list of classes.
type Module struct {
	Name    string   `cbor:"name"`
	Classes []*Class `cbor:"classes"`
}

// Class is a decoded class definition.
type Class struct {
	Name        string    `cbor:"name"`
	Superclass  string    `cbor:"super,omitempty"`
	Interfaces  []string  `cbor:"interfaces,omitempty"`
	AccessFlags uint32    `cbor:"flags"`
	Methods     []*Method `cbor:"methods"`

	Module *Module `cbor:"-"`
}

// Method is a decoded method. Its pointer is the method's identity.
type Method struct {
	Name        string `cbor:"name"`
	Descriptor  string `cbor:"desc"`
	AccessFlags uint32 `cbor:"flags"`
	Code        *Code  `cbor:"code,omitempty"`

	Class *Class `cbor:"-"`
}

// Code is a method body. Try ranges and handler offsets are byte offsets
// into Insns.
type Code struct {
	Registers uint16    `cbor:"registers"`
	Ins       uint16    `cbor:"ins"`
	Outs      uint16    `cbor:"outs"`
	Insns     []byte    `cbor:"insns"`
	Tries     []TryItem `cbor:"tries,omitempty"`

	once  sync.Once
	insns []Instruction
	err   error
}

// TryItem is one protected range and its handler chain.
type TryItem struct {
	Start    int       `cbor:"start"`
	End      int       `cbor:"end"`
	Handlers []Handler `cbor:"handlers"`
}

// Handler transfers control to Offset when an exception of Type is raised.
type Handler struct {
	Type   string `cbor:"type"`
	Offset int    `cbor:"offset"`
}

// Link sets the Class and Module back-pointers. Decoding calls it; callers
// that build a Module by hand must call it before registration.
func (m *Module) Link() {
	for _, c := range m.Classes {
		c.Module = m
		for _, meth := range c.Methods {
			meth.Class = c
		}
	}
}

// Methods returns every method of every class in declaration order.
func (m *Module) Methods() []*Method {
	var out []*Method
	for _, c := range m.Classes {
		out = append(out, c.Methods...)
	}
	return out
}

// String returns the smali signature, e.g. "Lcom/example/Foo;->bar(I)V".
func (m *Method) String() string {
	if m.Class == nil {
		return m.Name + m.Descriptor
	}
	return fmt.Sprintf("%s->%s%s", m.Class.Name, m.Name, m.Descriptor)
}

func (m *Method) IsAbstract() bool { return m.AccessFlags&AccAbstract != 0 }
func (m *Method) IsNative() bool   { return m.AccessFlags&AccNative != 0 }
func (m *Method) IsStatic() bool   { return m.AccessFlags&AccStatic != 0 }

// HasCode reports whether the method has a non-empty body.
func (m *Method) HasCode() bool {
	return m.Code != nil && len(m.Code.Insns) > 0
}

// Instructions decodes the body on first use and returns the shared,
// read-only instruction slice. Safe for concurrent use.
func (c *Code) Instructions() ([]Instruction, error) {
	c.once.Do(func() {
		c.insns, c.err = Decode(c.Insns)
	})
	return c.insns, c.err
}

// Len returns the body length in bytes.
func (c *Code) Len() int {
	return len(c.Insns)
}
