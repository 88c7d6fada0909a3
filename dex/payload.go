package dex

import "fmt"

// ---------------------------------------------------------------------------
// Payload pseudo-instructions
// ---------------------------------------------------------------------------

// SwitchPayload is a decoded packed-switch or sparse-switch table. Targets
// are relative to the switch instruction, in code units.
type SwitchPayload struct {
	Kind    uint16
	Keys    []int32
	Targets []int32
}

// Units returns the payload length in code units.
func (p *SwitchPayload) Units() int {
	if p.Kind == PackedSwitchPayload {
		return 4 + len(p.Targets)*2
	}
	return 2 + len(p.Targets)*4
}

// ArrayPayload is a decoded fill-array-data table.
type ArrayPayload struct {
	Width uint16
	Size  uint32
	Data  []byte
}

// Units returns the payload length in code units.
func (p *ArrayPayload) Units() int {
	return 4 + int((uint64(p.Size)*uint64(p.Width)+1)/2)
}

// ReadSwitchPayload decodes the switch table at offset. The identifier must
// be a packed or sparse switch; anything else fails with ErrBadPayload.
func ReadSwitchPayload(c *Cursor, offset int) (*SwitchPayload, error) {
	ident, err := c.Uint16At(offset)
	if err != nil {
		return nil, fmt.Errorf("%w: switch payload at 0x%x: %w", ErrBadPayload, offset, err)
	}
	size, err := c.Uint16At(offset + 2)
	if err != nil {
		return nil, fmt.Errorf("%w: switch payload at 0x%x: %w", ErrBadPayload, offset, err)
	}
	n := int(size)
	p := &SwitchPayload{Kind: ident, Keys: make([]int32, n), Targets: make([]int32, n)}

	switch ident {
	case PackedSwitchPayload:
		first, err := c.Int32At(offset + 4)
		if err != nil {
			return nil, fmt.Errorf("%w: packed-switch at 0x%x: %w", ErrBadPayload, offset, err)
		}
		for i := 0; i < n; i++ {
			p.Keys[i] = first + int32(i)
			if p.Targets[i], err = c.Int32At(offset + 8 + i*4); err != nil {
				return nil, fmt.Errorf("%w: packed-switch at 0x%x: %w", ErrBadPayload, offset, err)
			}
		}
	case SparseSwitchPayload:
		for i := 0; i < n; i++ {
			if p.Keys[i], err = c.Int32At(offset + 4 + i*4); err != nil {
				return nil, fmt.Errorf("%w: sparse-switch at 0x%x: %w", ErrBadPayload, offset, err)
			}
			if p.Targets[i], err = c.Int32At(offset + 4 + n*4 + i*4); err != nil {
				return nil, fmt.Errorf("%w: sparse-switch at 0x%x: %w", ErrBadPayload, offset, err)
			}
		}
	default:
		return nil, fmt.Errorf("%w: identifier 0x%04x at 0x%x is not a switch table", ErrBadPayload, ident, offset)
	}
	return p, nil
}

// ReadArrayPayload decodes the fill-array-data table at offset.
func ReadArrayPayload(c *Cursor, offset int) (*ArrayPayload, error) {
	ident, err := c.Uint16At(offset)
	if err != nil {
		return nil, fmt.Errorf("%w: array payload at 0x%x: %w", ErrBadPayload, offset, err)
	}
	if ident != FillArrayDataPayload {
		return nil, fmt.Errorf("%w: identifier 0x%04x at 0x%x is not array data", ErrBadPayload, ident, offset)
	}
	width, err := c.Uint16At(offset + 2)
	if err != nil {
		return nil, fmt.Errorf("%w: array payload at 0x%x: %w", ErrBadPayload, offset, err)
	}
	sizeRaw, err := c.Int32At(offset + 4)
	if err != nil {
		return nil, fmt.Errorf("%w: array payload at 0x%x: %w", ErrBadPayload, offset, err)
	}
	size := uint32(sizeRaw)
	n := uint64(size) * uint64(width)
	if n > uint64(c.Len()) {
		return nil, fmt.Errorf("%w: array payload at 0x%x: %d elements of width %d exceed code size", ErrBadPayload, offset, size, width)
	}
	data, err := c.ReadAt(offset+8, int(n))
	if err != nil {
		return nil, fmt.Errorf("%w: array payload at 0x%x: %w", ErrBadPayload, offset, err)
	}
	return &ArrayPayload{Width: width, Size: size, Data: data}, nil
}

// decodePayload decodes a payload pseudo-instruction found in the linear
// instruction stream.
func decodePayload(c *Cursor, offset int, ident uint16) (Instruction, error) {
	ins := Instruction{Offset: offset, Op: OpNop, Payload: ident}
	var units int
	switch ident {
	case FillArrayDataPayload:
		p, err := ReadArrayPayload(c, offset)
		if err != nil {
			return Instruction{}, err
		}
		ins.Array = p
		units = p.Units()
	default:
		p, err := ReadSwitchPayload(c, offset)
		if err != nil {
			return Instruction{}, err
		}
		ins.Switch = p
		units = p.Units()
	}
	raw, err := c.ReadAt(offset, units*2)
	if err != nil {
		return Instruction{}, fmt.Errorf("%s at 0x%x: %w", ins.Name(), offset, err)
	}
	ins.Raw = raw
	ins.Length = units * 2
	return ins, nil
}
