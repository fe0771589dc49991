package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/rpcpool/docbuf/vtable"
)

// FieldOffsetSizeBytes is the serialized size of a single FieldOffset
// record: item_index:u8 | field_index:u8 | start:u64_le | end:u64_le
// (spec §6).
const FieldOffsetSizeBytes = 18

// FieldOffset locates one field's payload bytes within an encoded buffer.
// Start/End exclude any length prefix that was written for the field
// (spec §3).
type FieldOffset struct {
	Index vtable.FieldOffsetIndex
	Start int
	End   int
}

// Len returns the byte length of the field's payload.
func (o FieldOffset) Len() int { return o.End - o.Start }

// offsetPrefixLen returns the number of framing bytes that precede a field's
// payload on the wire and must NOT be counted as part of its FieldOffset
// (spec §3: "length prefixes, if any, are excluded"). Fixed-width scalars,
// Bool, Uuid and Struct carry no such prefix.
func offsetPrefixLen(kind vtable.FieldKind) int {
	switch kind {
	case vtable.KindString, vtable.KindStr, vtable.KindBytes, vtable.KindVec, vtable.KindHashMap:
		return 4
	default:
		return 0
	}
}

// Range returns the [start, end) pair as a pair of ints, convenient for
// slicing a buffer.
func (o FieldOffset) Range() (int, int) { return o.Start, o.End }

func (o FieldOffset) bytes() [FieldOffsetSizeBytes]byte {
	var b [FieldOffsetSizeBytes]byte
	b[0] = o.Index.ItemIndex
	b[1] = o.Index.FieldIndex
	binary.LittleEndian.PutUint64(b[2:10], uint64(o.Start))
	binary.LittleEndian.PutUint64(b[10:18], uint64(o.End))
	return b
}

func fieldOffsetFromBytes(b []byte) FieldOffset {
	return FieldOffset{
		Index: vtable.FieldOffsetIndex{ItemIndex: b[0], FieldIndex: b[1]},
		Start: int(binary.LittleEndian.Uint64(b[2:10])),
		End:   int(binary.LittleEndian.Uint64(b[10:18])),
	}
}

// OffsetDiff is the signed byte delta produced by replacing a field's value
// with one of a different encoded length (spec §4.4).
type OffsetDiff struct {
	kind     offsetDiffKind
	distance int
}

type offsetDiffKind int

const (
	diffNone offsetDiffKind = iota
	diffIncrease
	diffDecrease
)

// NewOffsetDiff computes the diff between an old and new encoded length.
func NewOffsetDiff(oldLen, newLen int) OffsetDiff {
	switch {
	case newLen == oldLen:
		return OffsetDiff{kind: diffNone}
	case newLen > oldLen:
		return OffsetDiff{kind: diffIncrease, distance: newLen - oldLen}
	default:
		return OffsetDiff{kind: diffDecrease, distance: oldLen - newLen}
	}
}

// FieldOffsets is an ordered, append-only list of FieldOffset records. The
// only non-push mutation is Resize.
type FieldOffsets struct {
	offsets []FieldOffset
}

// NewFieldOffsets returns an empty FieldOffsets with room for size entries.
func NewFieldOffsets(size int) *FieldOffsets {
	return &FieldOffsets{offsets: make([]FieldOffset, 0, size)}
}

// Len returns the number of offsets.
func (o *FieldOffsets) Len() int { return len(o.offsets) }

// All returns the offsets in emission order. Callers must not mutate the
// returned slice.
func (o *FieldOffsets) All() []FieldOffset { return o.offsets }

// Get returns the offset for a given field index, if present.
func (o *FieldOffsets) Get(idx vtable.FieldOffsetIndex) (FieldOffset, bool) {
	for _, existing := range o.offsets {
		if existing.Index == idx {
			return existing, true
		}
	}
	return FieldOffset{}, false
}

// Push appends an offset. If an offset for the same field index already
// exists (can happen when a field's bytes are written in more than one
// call, e.g. struct descent that returns to the same field), its end is
// extended to the new offset's end instead of creating a duplicate entry.
func (o *FieldOffsets) Push(next FieldOffset) {
	for i := range o.offsets {
		if o.offsets[i].Index == next.Index {
			o.offsets[i].End = next.End
			return
		}
	}
	o.offsets = append(o.offsets, next)
}

// Resize shifts every offset whose start is >= fromIndex by diff. The
// offset whose start equals fromIndex (the one just replaced) keeps its
// start unchanged; only its end moves. Every later offset's start and end
// both move (spec Invariant 3, §4.4).
func (o *FieldOffsets) Resize(fromIndex int, diff OffsetDiff) {
	for i := range o.offsets {
		if o.offsets[i].Start < fromIndex {
			continue
		}
		switch diff.kind {
		case diffIncrease:
			if o.offsets[i].Start != fromIndex {
				o.offsets[i].Start += diff.distance
			}
			o.offsets[i].End += diff.distance
		case diffDecrease:
			if o.offsets[i].Start != fromIndex {
				o.offsets[i].Start -= diff.distance
			}
			o.offsets[i].End -= diff.distance
		case diffNone:
		}
	}
}

// Bytes serializes the offsets list for storage alongside a partition
// record (spec §4.6 "Offsets blob").
func (o *FieldOffsets) Bytes() []byte {
	out := make([]byte, 0, len(o.offsets)*FieldOffsetSizeBytes)
	for _, off := range o.offsets {
		b := off.bytes()
		out = append(out, b[:]...)
	}
	return out
}

// FieldOffsetsFromBytes deserializes an offsets blob.
func FieldOffsetsFromBytes(data []byte) (*FieldOffsets, error) {
	if len(data)%FieldOffsetSizeBytes != 0 {
		return nil, fmt.Errorf("docbuf/wire: offsets blob length %d is not a multiple of %d", len(data), FieldOffsetSizeBytes)
	}
	count := len(data) / FieldOffsetSizeBytes
	offsets := &FieldOffsets{offsets: make([]FieldOffset, 0, count)}
	for i := 0; i < count; i++ {
		chunk := data[i*FieldOffsetSizeBytes : (i+1)*FieldOffsetSizeBytes]
		offsets.offsets = append(offsets.offsets, fieldOffsetFromBytes(chunk))
	}
	return offsets, nil
}
