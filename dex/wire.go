package dex

import (
	"fmt"
	"os"

	"github.com/fxamacker/cbor/v2"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dex: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// MarshalModule serializes a Module dump to canonical CBOR.
func MarshalModule(m *Module) ([]byte, error) {
	return cborEncMode.Marshal(m)
}

// UnmarshalModule deserializes a Module dump and links its back-pointers.
func UnmarshalModule(data []byte) (*Module, error) {
	var m Module
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("dex: unmarshal module: %w", err)
	}
	for i, c := range m.Classes {
		if c == nil {
			return nil, fmt.Errorf("dex: unmarshal module: nil class at index %d", i)
		}
		for j, meth := range c.Methods {
			if meth == nil {
				return nil, fmt.Errorf("dex: unmarshal module: nil method %d in %s", j, c.Name)
			}
		}
	}
	m.Link()
	return &m, nil
}

// ReadModuleFile loads a Module dump from disk.
func ReadModuleFile(path string) (*Module, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m, err := UnmarshalModule(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if m.Name == "" {
		m.Name = path
	}
	return m, nil
}

// WriteModuleFile writes a Module dump to disk.
func WriteModuleFile(path string, m *Module) error {
	data, err := MarshalModule(m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
