package wire

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
	"reflect"

	"github.com/google/uuid"

	"github.com/rpcpool/docbuf/vtable"
)

// frame tracks the in-progress encode of one Document against one Struct
// item, plus the chain of ancestor frames a field name can fall back to
// when a Document's DocBufFieldValue doesn't resolve it directly (spec
// §4.2.5: nested structs may reuse a parent's field name).
type frame struct {
	doc Document
	s   *vtable.Struct
}

// Encoder walks a Document against a vtable.VTable and produces both the
// wire-format bytes and the FieldOffsets index describing where each
// field's payload landed (spec §4.1, §4.2).
type Encoder struct {
	vt    *vtable.VTable
	buf   []byte
	stack []frame
}

// NewEncoder creates an Encoder for the given vtable, pre-sizing its output
// buffer per vtable.VTable.AllocBuf.
func NewEncoder(vt *vtable.VTable) *Encoder {
	return &Encoder{vt: vt, buf: vt.AllocBuf()}
}

// Encode serializes root (which must describe the vtable's root struct) and
// returns the encoded bytes and the FieldOffsets index.
func Encode(vt *vtable.VTable, root Document) ([]byte, *FieldOffsets, error) {
	e := NewEncoder(vt)
	offsets := NewFieldOffsets(int(vt.NumFields))

	s, err := vt.StructByName(root.DocBufStructName())
	if err != nil {
		return nil, nil, err
	}

	if err := e.encodeStruct(s, root, offsets); err != nil {
		return nil, nil, err
	}

	return e.buf, offsets, nil
}

func (e *Encoder) encodeStruct(s *vtable.Struct, doc Document, offsets *FieldOffsets) error {
	e.stack = append(e.stack, frame{doc: doc, s: s})
	defer func() { e.stack = e.stack[:len(e.stack)-1] }()

	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Rules.Ignore {
			continue
		}

		value, ok := e.resolveField(f.Name)
		if !ok {
			return ErrFieldNotFound
		}

		start := len(e.buf)
		if err := e.encodeValue(f, f.Type, value, offsets); err != nil {
			return err
		}
		if f.Type.Kind != vtable.KindStruct {
			offsets.Push(FieldOffset{Index: f.OffsetIndex(), Start: start + offsetPrefixLen(f.Type.Kind), End: len(e.buf)})
		}
	}

	return nil
}

// resolveField looks up a field's value on the current document, falling
// back to ancestor frames when the current document doesn't carry it
// directly (spec §4.2.5).
func (e *Encoder) resolveField(name string) (any, bool) {
	for i := len(e.stack) - 1; i >= 0; i-- {
		if v, ok := e.stack[i].doc.DocBufFieldValue(name); ok {
			return v, true
		}
	}
	return nil, false
}

func (e *Encoder) encodeValue(f *vtable.Field, ft vtable.FieldType, value any, offsets *FieldOffsets) error {
	switch ft.Kind {
	case vtable.KindStruct:
		return e.encodeNestedStruct(f, ft, value, offsets)
	case vtable.KindOption:
		return e.encodeOption(f, ft, value, offsets)
	case vtable.KindVec:
		return e.encodeVec(f, ft, value, offsets)
	case vtable.KindHashMap:
		return e.encodeHashMap(f, ft, value, offsets)
	case vtable.KindString, vtable.KindStr:
		return e.encodeString(f, value)
	case vtable.KindBytes:
		return e.encodeBytes(f, value)
	case vtable.KindUuid:
		return e.encodeUuid(f, value)
	case vtable.KindBool:
		return e.encodeBool(f, value)
	default:
		return e.encodeNumeric(f, ft, value)
	}
}

func (e *Encoder) encodeNestedStruct(f *vtable.Field, ft vtable.FieldType, value any, offsets *FieldOffsets) error {
	doc, ok := value.(Document)
	if !ok {
		return DocBufEncodeFieldType{Field: f.Name, Kind: "struct", Value: value}
	}
	s, err := e.vt.StructByName(ft.Name)
	if err != nil {
		return err
	}
	return e.encodeStruct(s, doc, offsets)
}

func (e *Encoder) encodeOption(f *vtable.Field, ft vtable.FieldType, value any, offsets *FieldOffsets) error {
	if rv := reflect.ValueOf(value); value == nil || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		e.buf = append(e.buf, 0)
		return nil
	}
	e.buf = append(e.buf, 1)
	return e.encodeValue(f, *ft.Elem, derefOption(value), offsets)
}

// derefOption unwraps the common Go "pointer means optional" convention: a
// nil pointer is handled by the caller before this is reached, a non-nil
// pointer is dereferenced, anything else is passed through untouched.
func derefOption(value any) any {
	switch v := value.(type) {
	case *string:
		return *v
	case *int64:
		return *v
	case *uint64:
		return *v
	case *bool:
		return *v
	case *float64:
		return *v
	case **big.Int:
		return *v
	default:
		return value
	}
}

func (e *Encoder) encodeVec(f *vtable.Field, ft vtable.FieldType, value any, offsets *FieldOffsets) error {
	items, ok := value.([]any)
	if !ok {
		return DocBufEncodeFieldType{Field: f.Name, Kind: "vec", Value: value}
	}
	if len(items) >= vtable.MaxFieldSize {
		return ArrayElementsExceedsMax{Field: f.Name, Count: len(items), Max: vtable.MaxFieldSize}
	}
	e.writeU32(uint32(len(items)))
	for _, item := range items {
		if err := e.encodeValue(f, *ft.Elem, item, offsets); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeHashMap(f *vtable.Field, ft vtable.FieldType, value any, offsets *FieldOffsets) error {
	entries, ok := value.(map[string]any)
	if !ok {
		return DocBufEncodeFieldType{Field: f.Name, Kind: "hashmap", Value: value}
	}
	if len(entries) >= vtable.MaxMapEntries {
		return MapEntriesExceedsMax{Field: f.Name, Count: len(entries), Max: vtable.MaxMapEntries}
	}
	e.writeU32(uint32(len(entries)))
	for k, v := range entries {
		if err := e.encodeValue(f, *ft.Key, k, offsets); err != nil {
			return err
		}
		if err := e.encodeValue(f, *ft.Value, v, offsets); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) encodeString(f *vtable.Field, value any) error {
	s, ok := value.(string)
	if !ok {
		return DocBufEncodeFieldType{Field: f.Name, Kind: "string", Value: value}
	}
	if err := f.Rules.ValidateLength(uint64(len(s))); err != nil {
		return err
	}
	if err := f.Rules.ValidateRegex(s); err != nil {
		return err
	}
	e.writeU32(uint32(len(s)))
	e.buf = append(e.buf, s...)
	return nil
}

func (e *Encoder) encodeBytes(f *vtable.Field, value any) error {
	b, ok := value.([]byte)
	if !ok {
		return DocBufEncodeFieldType{Field: f.Name, Kind: "bytes", Value: value}
	}
	if err := f.Rules.ValidateLength(uint64(len(b))); err != nil {
		return err
	}
	e.writeU32(uint32(len(b)))
	e.buf = append(e.buf, b...)
	return nil
}

func (e *Encoder) encodeUuid(f *vtable.Field, value any) error {
	switch v := value.(type) {
	case uuid.UUID:
		e.buf = append(e.buf, v[:]...)
		return nil
	case [16]byte:
		e.buf = append(e.buf, v[:]...)
		return nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return DocBufEncodeFieldType{Field: f.Name, Kind: "uuid", Value: value}
		}
		e.buf = append(e.buf, id[:]...)
		return nil
	default:
		return DocBufEncodeFieldType{Field: f.Name, Kind: "uuid", Value: value}
	}
}

func (e *Encoder) encodeBool(f *vtable.Field, value any) error {
	b, ok := value.(bool)
	if !ok {
		return DocBufEncodeFieldType{Field: f.Name, Kind: "bool", Value: value}
	}
	if b {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
	return nil
}

func (e *Encoder) encodeNumeric(f *vtable.Field, ft vtable.FieldType, value any) error {
	nv, err := coerceNumeric(ft.Kind, value)
	if err != nil {
		return DocBufEncodeFieldType{Field: f.Name, Kind: ft.Kind.String(), Value: value}
	}
	if err := f.Rules.ValidateValue(nv); err != nil {
		return err
	}

	switch ft.Kind {
	case vtable.KindF32:
		e.writeU32(math.Float32bits(float32(nv.Float)))
	case vtable.KindF64:
		e.writeU64(math.Float64bits(nv.Float))
	default:
		w := ft.Kind.FixedWidth()
		buf := make([]byte, w)
		vtable.IntToLE(nv.Int, buf, ft.Kind.IsSigned())
		e.buf = append(e.buf, buf...)
	}
	return nil
}

func (e *Encoder) writeU32(v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

func (e *Encoder) writeU64(v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}

// coerceNumeric converts a Go value of one of the usual numeric kinds into
// the NumericValue tagged union matching kind.
func coerceNumeric(kind vtable.FieldKind, value any) (vtable.NumericValue, error) {
	switch kind {
	case vtable.KindF32, vtable.KindF64:
		f, ok := toFloat(value)
		if !ok {
			return vtable.NumericValue{}, fmt.Errorf("not a float")
		}
		return vtable.NumericValue{Kind: kind, Float: f}, nil
	default:
		i, ok := toBigInt(value)
		if !ok {
			return vtable.NumericValue{}, fmt.Errorf("not an integer")
		}
		return vtable.NumericValue{Kind: kind, Int: i}, nil
	}
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func toBigInt(value any) (*big.Int, bool) {
	switch v := value.(type) {
	case int:
		return big.NewInt(int64(v)), true
	case int8:
		return big.NewInt(int64(v)), true
	case int16:
		return big.NewInt(int64(v)), true
	case int32:
		return big.NewInt(int64(v)), true
	case int64:
		return big.NewInt(v), true
	case uint:
		return new(big.Int).SetUint64(uint64(v)), true
	case uint8:
		return big.NewInt(int64(v)), true
	case uint16:
		return big.NewInt(int64(v)), true
	case uint32:
		return big.NewInt(int64(v)), true
	case uint64:
		return new(big.Int).SetUint64(v), true
	case *big.Int:
		return v, true
	case vtable.Uint128:
		return v.Big(), true
	case vtable.Int128:
		return v.Big(), true
	default:
		return nil, false
	}
}
