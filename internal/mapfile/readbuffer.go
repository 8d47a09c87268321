package mapfile

import (
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/paulmach/osm"
)

// MaximumBufferSize is the largest block the reader accepts
const MaximumBufferSize = 8000000

// maxVarintBytes bounds a 32-bit variable byte encoded integer
const maxVarintBytes = 5

// ByteReader decodes the primitive types of a block held in memory
type ByteReader interface {
	ReadBlock(src io.ReaderAt, offset int64, length int) error
	BufferSize() int
	Position() int
	SetPosition(pos int) error
	SkipBytes(n int) error

	ReadByte() (byte, error)
	ReadUnsignedVarint() (int, error)
	ReadSignedVarint() (int32, error)
	ReadSignedVarintBulk(dst []int32) error
	ReadUTF8String() (string, error)
	ReadUTF8StringN(n int) (string, error)
	ReadUTF8StringAt(pos int) (string, error)
	ReadTags(dst osm.Tags, table TagTable, n int) (osm.Tags, error)

	ScanWays(bitmask uint16, remaining int, signatureLength int) (WayMatch, error)
}

// WayMatch is the outcome of scanning way headers against a tile bitmask
type WayMatch struct {
	// Remaining counts the ways left in the block including the matched
	// one. Zero means no further way intersects the query tile.
	Remaining int

	// TagPosition is the position of the special byte of the last skipped
	// way that carried tag ids, or -1.
	TagPosition int
}

// ReadBuffer is a bounds-checked cursor over one block. It is owned by a
// single decoder and reused between blocks.
type ReadBuffer struct {
	data []byte
	pos  int
}

// NewReadBuffer creates an empty buffer
func NewReadBuffer() *ReadBuffer {
	return &ReadBuffer{}
}

// Reset points the buffer at data and rewinds the cursor
func (b *ReadBuffer) Reset(data []byte) {
	b.data = data
	b.pos = 0
}

// ReadBlock replaces the buffer content with length bytes of src at offset
func (b *ReadBuffer) ReadBlock(src io.ReaderAt, offset int64, length int) error {
	if length < 0 || length > MaximumBufferSize {
		return formatError("block size %d out of range", length)
	}
	if cap(b.data) < length {
		b.data = make([]byte, length)
	} else {
		b.data = b.data[:length]
	}
	b.pos = 0

	n, err := src.ReadAt(b.data, offset)
	if n != length {
		b.data = b.data[:0]
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return fmt.Errorf("%w: read %d of %d bytes at offset %d: %v", ErrIOFailure, n, length, offset, err)
	}
	return nil
}

func (b *ReadBuffer) BufferSize() int {
	return len(b.data)
}

func (b *ReadBuffer) Position() int {
	return b.pos
}

func (b *ReadBuffer) SetPosition(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return formatError("position %d outside buffer of %d bytes", pos, len(b.data))
	}
	b.pos = pos
	return nil
}

func (b *ReadBuffer) SkipBytes(n int) error {
	if n < 0 || b.pos+n > len(b.data) {
		return formatError("cannot skip %d bytes at position %d", n, b.pos)
	}
	b.pos += n
	return nil
}

func (b *ReadBuffer) underflow(n int) error {
	return formatError("buffer underflow: need %d bytes at position %d of %d", n, b.pos, len(b.data))
}

func (b *ReadBuffer) ReadByte() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, b.underflow(1)
	}
	v := b.data[b.pos]
	b.pos++
	return v, nil
}

// ReadInt16 reads a big-endian 16-bit integer
func (b *ReadBuffer) ReadInt16() (int16, error) {
	if b.pos+2 > len(b.data) {
		return 0, b.underflow(2)
	}
	v := int16(binary.BigEndian.Uint16(b.data[b.pos:]))
	b.pos += 2
	return v, nil
}

// ReadInt32 reads a big-endian 32-bit integer
func (b *ReadBuffer) ReadInt32() (int32, error) {
	if b.pos+4 > len(b.data) {
		return 0, b.underflow(4)
	}
	v := int32(binary.BigEndian.Uint32(b.data[b.pos:]))
	b.pos += 4
	return v, nil
}

// ReadInt64 reads a big-endian 64-bit integer
func (b *ReadBuffer) ReadInt64() (int64, error) {
	if b.pos+8 > len(b.data) {
		return 0, b.underflow(8)
	}
	v := int64(binary.BigEndian.Uint64(b.data[b.pos:]))
	b.pos += 8
	return v, nil
}

// ReadUnsignedVarint decodes a VBE-U integer. Every byte carries seven value
// bits; the high bit flags a following byte. Values that do not fit in 31
// bits come back negative, matching the signed 32-bit integers of the file
// format, so callers can reject them with a range check.
func (b *ReadBuffer) ReadUnsignedVarint() (int, error) {
	v, n, err := b.uvarintAt(b.pos)
	if err != nil {
		return 0, err
	}
	b.pos += n
	return v, nil
}

func (b *ReadBuffer) uvarintAt(pos int) (int, int, error) {
	var v uint32
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		if pos+i >= len(b.data) {
			return 0, 0, formatError("truncated unsigned varint at position %d", pos)
		}
		c := b.data[pos+i]
		v |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			return int(int32(v)), i + 1, nil
		}
		shift += 7
	}
	return 0, 0, formatError("unsigned varint longer than %d bytes at position %d", maxVarintBytes, pos)
}

// ReadSignedVarint decodes a VBE-S integer. Continuation bytes carry seven
// value bits; the last byte carries six value bits and the sign in 0x40.
func (b *ReadBuffer) ReadSignedVarint() (int32, error) {
	v, n, err := b.svarintAt(b.pos)
	if err != nil {
		return 0, err
	}
	b.pos += n
	return v, nil
}

func (b *ReadBuffer) svarintAt(pos int) (int32, int, error) {
	var v uint32
	var shift uint
	for i := 0; i < maxVarintBytes; i++ {
		if pos+i >= len(b.data) {
			return 0, 0, formatError("truncated signed varint at position %d", pos)
		}
		c := b.data[pos+i]
		if c&0x80 != 0 {
			v |= uint32(c&0x7f) << shift
			shift += 7
			continue
		}
		v |= uint32(c&0x3f) << shift
		if c&0x40 != 0 {
			return -int32(v), i + 1, nil
		}
		return int32(v), i + 1, nil
	}
	return 0, 0, formatError("signed varint longer than %d bytes at position %d", maxVarintBytes, pos)
}

// ReadSignedVarintBulk fills dst with consecutive VBE-S integers
func (b *ReadBuffer) ReadSignedVarintBulk(dst []int32) error {
	pos := b.pos
	for i := range dst {
		v, n, err := b.svarintAt(pos)
		if err != nil {
			return err
		}
		dst[i] = v
		pos += n
	}
	b.pos = pos
	return nil
}

// ReadUTF8String reads a VBE-U length followed by that many bytes
func (b *ReadBuffer) ReadUTF8String() (string, error) {
	n, err := b.ReadUnsignedVarint()
	if err != nil {
		return "", err
	}
	return b.ReadUTF8StringN(n)
}

// ReadUTF8StringN reads a string of exactly n bytes
func (b *ReadBuffer) ReadUTF8StringN(n int) (string, error) {
	if n < 0 || b.pos+n > len(b.data) {
		return "", formatError("invalid string length %d at position %d", n, b.pos)
	}
	raw := b.data[b.pos : b.pos+n]
	b.pos += n
	if !utf8.Valid(raw) {
		return strings.ToValidUTF8(string(raw), "\uFFFD"), nil
	}
	return string(raw), nil
}

// ReadUTF8StringAt reads a length-prefixed string at pos and restores the cursor
func (b *ReadBuffer) ReadUTF8StringAt(pos int) (string, error) {
	saved := b.pos
	if err := b.SetPosition(pos); err != nil {
		return "", err
	}
	s, err := b.ReadUTF8String()
	b.pos = saved
	return s, err
}

// ReadTags decodes n tag ids and appends the resolved tags to dst[:0]
func (b *ReadBuffer) ReadTags(dst osm.Tags, table TagTable, n int) (osm.Tags, error) {
	dst = dst[:0]
	for i := 0; i < n; i++ {
		id, err := b.ReadUnsignedVarint()
		if err != nil {
			return dst, err
		}
		tag, ok := table.Resolve(id)
		if !ok {
			return dst, formatError("invalid tag id %d (table has %d tags)", id, len(table))
		}
		dst = append(dst, tag)
	}
	return dst, nil
}

// ScanWays skips ways whose 16-bit tile bitmask does not intersect bitmask.
// On a match the cursor is left on the special byte of the matching way.
// signatureLength is the size of the debug signature in front of every way
// after the first one, zero for regular files.
func (b *ReadBuffer) ScanWays(bitmask uint16, remaining int, signatureLength int) (WayMatch, error) {
	match := WayMatch{TagPosition: -1}
	pos := b.pos
	first := true

	for remaining > 0 {
		if !first {
			pos += signatureLength
		}
		first = false

		size, n, err := b.uvarintAt(pos)
		if err != nil {
			return WayMatch{Remaining: -1, TagPosition: -1}, err
		}
		if size < 0 {
			return WayMatch{Remaining: -1, TagPosition: -1}, formatError("invalid way data size %d", size)
		}
		pos += n
		if pos+3 > len(b.data) {
			return WayMatch{Remaining: -1, TagPosition: -1}, formatError("way header truncated at position %d", pos)
		}

		wayMask := uint16(b.data[pos])<<8 | uint16(b.data[pos+1])
		if wayMask&bitmask != 0 {
			pos += 2
			b.pos = pos
			match.Remaining = remaining
			return match, nil
		}

		if b.data[pos+2]&wayTagCountMask != 0 {
			match.TagPosition = pos + 2
		}
		pos += size
		remaining--
	}

	if pos > len(b.data) {
		pos = len(b.data)
	}
	b.pos = pos
	match.Remaining = 0
	return match, nil
}
