package dex

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	ErrOutOfBounds = errors.New("read out of bounds")
	ErrBadPayload  = errors.New("malformed payload")
)

// ---------------------------------------------------------------------------
// Cursor: bounds-checked reader over an immutable byte buffer
// ---------------------------------------------------------------------------

// Cursor reads from a fixed byte buffer with a movable position. Reads return
// sub-slices of the backing buffer; callers must not modify them.
type Cursor struct {
	data   []byte
	offset int
}

// NewCursor creates a Cursor positioned at the start of data.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Len returns the size of the backing buffer.
func (c *Cursor) Len() int {
	return len(c.data)
}

// Pos returns the current read position.
func (c *Cursor) Pos() int {
	return c.offset
}

// Remaining returns the number of bytes between the position and the end.
// It is zero when the position has been moved past the end.
func (c *Cursor) Remaining() int {
	if c.offset >= len(c.data) {
		return 0
	}
	return len(c.data) - c.offset
}

// AtEnd reports whether the position is at or past the end of the buffer.
func (c *Cursor) AtEnd() bool {
	return c.offset >= len(c.data)
}

// Seek sets the absolute position. Seeking past the end is allowed.
func (c *Cursor) Seek(offset int) error {
	if offset < 0 {
		return fmt.Errorf("%w: seek to %d", ErrOutOfBounds, offset)
	}
	c.offset = offset
	return nil
}

// Read returns the next n bytes and advances the position by n.
func (c *Cursor) Read(n int) ([]byte, error) {
	b, err := c.ReadAt(c.offset, n)
	if err != nil {
		return nil, err
	}
	c.offset += n
	return b, nil
}

// Peek returns the next n bytes without moving the position.
func (c *Cursor) Peek(n int) ([]byte, error) {
	return c.ReadAt(c.offset, n)
}

// ReadAt returns n bytes starting at offset without moving the position.
func (c *Cursor) ReadAt(offset, n int) ([]byte, error) {
	if n < 0 || offset < 0 || offset > len(c.data) || n > len(c.data)-offset {
		return nil, fmt.Errorf("%w: %d bytes at offset %d (size %d)", ErrOutOfBounds, n, offset, len(c.data))
	}
	return c.data[offset : offset+n : offset+n], nil
}

// ReadUint16 reads a little-endian uint16 and advances.
func (c *Cursor) ReadUint16() (uint16, error) {
	b, err := c.Read(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// ReadUint32 reads a little-endian uint32 and advances.
func (c *Cursor) ReadUint32() (uint32, error) {
	b, err := c.Read(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// ReadInt32 reads a little-endian int32 and advances.
func (c *Cursor) ReadInt32() (int32, error) {
	v, err := c.ReadUint32()
	return int32(v), err
}

// Uint16At reads a little-endian uint16 at offset without moving.
func (c *Cursor) Uint16At(offset int) (uint16, error) {
	b, err := c.ReadAt(offset, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Int32At reads a little-endian int32 at offset without moving.
func (c *Cursor) Int32At(offset int) (int32, error) {
	b, err := c.ReadAt(offset, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b)), nil
}
