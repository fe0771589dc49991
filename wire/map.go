package wire

import (
	"encoding/binary"
	"math"

	"github.com/rpcpool/docbuf/vtable"
)

// FixedWidth is implemented by the Go types Map/MapReplace can decode and
// encode directly against a field's raw bytes, without walking the whole
// document (spec §4.4 "Offset Map"). The numeric/bool/float kinds decode
// straight from their fixed-width raw bytes; string and []byte decode the
// field's recorded payload range directly, since FieldOffset excludes the
// field's length prefix (spec §3; spec.md:114 — Map/MapReplace must also
// cover String and Bytes fields).
type FixedWidth interface {
	~uint8 | ~uint16 | ~uint32 | ~uint64 | ~int8 | ~int16 | ~int32 | ~int64 | ~float32 | ~float64 | string | []byte
}

// Map reads the field located at idx directly out of an already-encoded
// buffer, using its FieldOffsets entry, without touching any other field.
// For scalar T, T's width must match the field's declared fixed width; for
// string/[]byte, off.Start:off.End already spans exactly the payload bytes.
func Map[T FixedWidth](vt *vtable.VTable, buf []byte, offsets *FieldOffsets, idx vtable.FieldOffsetIndex) (T, error) {
	var zero T

	f, err := vt.FieldByOffsetIndex(idx)
	if err != nil {
		return zero, err
	}
	off, ok := offsets.Get(idx)
	if !ok {
		return zero, ErrMapFieldNotOffsetIndexed
	}
	raw := buf[off.Start:off.End]

	switch any(zero).(type) {
	case string:
		if f.Type.Kind != vtable.KindString && f.Type.Kind != vtable.KindStr {
			return zero, DocBufMapKindMismatch{Field: f.Name, Kind: f.Type.Kind.String()}
		}
		// off already excludes the field's length prefix (spec §3), so raw
		// is exactly the payload.
		return any(string(raw)).(T), nil
	case []byte:
		if f.Type.Kind != vtable.KindBytes {
			return zero, DocBufMapKindMismatch{Field: f.Name, Kind: f.Type.Kind.String()}
		}
		out := make([]byte, len(raw))
		copy(out, raw)
		return any(out).(T), nil
	default:
		width := f.Type.Kind.FixedWidth()
		if width != sizeOfFixedWidth(zero) {
			return zero, DocBufMapInvalidFieldType{Field: f.Name, Want: width, Got: sizeOfFixedWidth(zero)}
		}
		if off.Len() != width {
			return zero, DocBufMapInvalidFieldType{Field: f.Name, Want: width, Got: off.Len()}
		}
		return decodeFixedWidth[T](f.Type.Kind, raw), nil
	}
}

// MapReplace overwrites the field located at idx in buf with value's
// encoding, shrinking or growing buf and shifting every later FieldOffset
// in place via FieldOffsets.Resize — no other field is re-encoded (spec
// §4.4, Invariant 3). string/[]byte values carry a 4-byte length prefix
// that sits just before off.Start; MapReplace rewrites that prefix in
// place alongside the payload splice.
func MapReplace[T FixedWidth](vt *vtable.VTable, buf []byte, offsets *FieldOffsets, idx vtable.FieldOffsetIndex, value T) ([]byte, error) {
	f, err := vt.FieldByOffsetIndex(idx)
	if err != nil {
		return nil, err
	}
	off, ok := offsets.Get(idx)
	if !ok {
		return nil, ErrMapFieldNotOffsetIndexed
	}

	// off already excludes the field's length prefix (spec §3): for
	// string/[]byte values, the prefix itself lives in buf just before
	// off.Start and must be rewritten in place alongside the payload splice.
	var payload []byte
	hasLengthPrefix := false
	switch v := any(value).(type) {
	case string:
		if f.Type.Kind != vtable.KindString && f.Type.Kind != vtable.KindStr {
			return nil, DocBufMapKindMismatch{Field: f.Name, Kind: f.Type.Kind.String()}
		}
		if err := f.Rules.ValidateLength(uint64(len(v))); err != nil {
			return nil, err
		}
		if err := f.Rules.ValidateRegex(v); err != nil {
			return nil, err
		}
		payload = []byte(v)
		hasLengthPrefix = true
	case []byte:
		if f.Type.Kind != vtable.KindBytes {
			return nil, DocBufMapKindMismatch{Field: f.Name, Kind: f.Type.Kind.String()}
		}
		if err := f.Rules.ValidateLength(uint64(len(v))); err != nil {
			return nil, err
		}
		payload = v
		hasLengthPrefix = true
	default:
		width := f.Type.Kind.FixedWidth()
		if width != sizeOfFixedWidth(value) {
			return nil, DocBufMapInvalidFieldType{Field: f.Name, Want: width, Got: sizeOfFixedWidth(value)}
		}
		payload = encodeFixedWidth(f.Type.Kind, value)
	}

	diff := NewOffsetDiff(off.Len(), len(payload))

	var newBuf []byte
	if hasLengthPrefix {
		var prefix [4]byte
		binary.LittleEndian.PutUint32(prefix[:], uint32(len(payload)))
		newBuf = make([]byte, 0, len(buf)-off.Len()+len(payload))
		newBuf = append(newBuf, buf[:off.Start-4]...)
		newBuf = append(newBuf, prefix[:]...)
		newBuf = append(newBuf, payload...)
		newBuf = append(newBuf, buf[off.End:]...)
	} else {
		newBuf = make([]byte, 0, len(buf)-off.Len()+len(payload))
		newBuf = append(newBuf, buf[:off.Start]...)
		newBuf = append(newBuf, payload...)
		newBuf = append(newBuf, buf[off.End:]...)
	}

	offsets.Resize(off.Start, diff)

	return newBuf, nil
}

func sizeOfFixedWidth[T FixedWidth](_ T) int {
	var v T
	switch any(v).(type) {
	case uint8, int8:
		return 1
	case uint16, int16:
		return 2
	case uint32, int32, float32:
		return 4
	case uint64, int64, float64:
		return 8
	default:
		return 0
	}
}

func decodeFixedWidth[T FixedWidth](kind vtable.FieldKind, raw []byte) T {
	var out T
	switch kind {
	case vtable.KindF32:
		bits := binary.LittleEndian.Uint32(raw)
		out = any(math.Float32frombits(bits)).(T)
	case vtable.KindF64:
		bits := binary.LittleEndian.Uint64(raw)
		out = any(math.Float64frombits(bits)).(T)
	default:
		out = decodeFixedWidthInt[T](raw)
	}
	return out
}

func decodeFixedWidthInt[T FixedWidth](raw []byte) T {
	var zero T
	switch len(raw) {
	case 1:
		return reinterpretUint8[T](raw[0])
	case 2:
		return reinterpretUint16[T](binary.LittleEndian.Uint16(raw))
	case 4:
		return reinterpretUint32[T](binary.LittleEndian.Uint32(raw))
	case 8:
		return reinterpretUint64[T](binary.LittleEndian.Uint64(raw))
	default:
		return zero
	}
}

func reinterpretUint8[T FixedWidth](v uint8) T {
	var zero T
	switch any(zero).(type) {
	case int8:
		return any(int8(v)).(T)
	default:
		return any(v).(T)
	}
}

func reinterpretUint16[T FixedWidth](v uint16) T {
	var zero T
	switch any(zero).(type) {
	case int16:
		return any(int16(v)).(T)
	default:
		return any(v).(T)
	}
}

func reinterpretUint32[T FixedWidth](v uint32) T {
	var zero T
	switch any(zero).(type) {
	case int32:
		return any(int32(v)).(T)
	default:
		return any(v).(T)
	}
}

func reinterpretUint64[T FixedWidth](v uint64) T {
	var zero T
	switch any(zero).(type) {
	case int64:
		return any(int64(v)).(T)
	default:
		return any(v).(T)
	}
}

func encodeFixedWidth[T FixedWidth](kind vtable.FieldKind, value T) []byte {
	switch kind {
	case vtable.KindF32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], math.Float32bits(float32(any(value).(float32))))
		return b[:]
	case vtable.KindF64:
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], math.Float64bits(float64(any(value).(float64))))
		return b[:]
	default:
		return encodeFixedWidthInt(value)
	}
}

func encodeFixedWidthInt[T FixedWidth](value T) []byte {
	switch v := any(value).(type) {
	case uint8:
		return []byte{v}
	case int8:
		return []byte{byte(v)}
	case uint16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, v)
		return b
	case int16:
		b := make([]byte, 2)
		binary.LittleEndian.PutUint16(b, uint16(v))
		return b
	case uint32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, v)
		return b
	case int32:
		b := make([]byte, 4)
		binary.LittleEndian.PutUint32(b, uint32(v))
		return b
	case uint64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, v)
		return b
	case int64:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v))
		return b
	default:
		return nil
	}
}
