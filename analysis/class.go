package analysis

import "github.com/chazu/dexflow/dex"

// ClassAnalysis is a pass-through view over a decoded class. Cross
// references are not computed.
type ClassAnalysis struct {
	class *dex.Class
}

// Class returns the decoded class record.
func (c *ClassAnalysis) Class() *dex.Class { return c.class }

// Name returns the class type descriptor.
func (c *ClassAnalysis) Name() string { return c.class.Name }

// Superclass returns the superclass descriptor, empty for java/lang/Object.
func (c *ClassAnalysis) Superclass() string { return c.class.Superclass }

// Interfaces returns the implemented interface descriptors.
func (c *ClassAnalysis) Interfaces() []string { return c.class.Interfaces }

// Methods returns the declared methods.
func (c *ClassAnalysis) Methods() []*dex.Method { return c.class.Methods }

// IsInterface reports whether the class is an interface.
func (c *ClassAnalysis) IsInterface() bool {
	return c.class.AccessFlags&dex.AccInterface != 0
}
