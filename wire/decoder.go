package wire

import (
	"encoding/binary"
	"io"
	"math"
	"math/big"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rpcpool/docbuf/vtable"
)

// Decoder walks an encoded buffer against a vtable.VTable, rebuilding a
// Document tree and the FieldOffsets index in one recursive-descent pass.
// This is a from-scratch design rather than a literal port of a cursor +
// has_visited/has_descended state machine: a plain recursive walk is the
// natural shape in Go, and the call stack already carries the (item_index,
// position) frame the original needed explicit fields for (spec §9).
type Decoder struct {
	vt  *vtable.VTable
	buf []byte
	pos int
}

// NewDocument is called by Decode once per struct encountered (root and
// nested) to obtain the Document that decoded field values are written
// onto.
type NewDocument func(structName string) (Document, error)

// Decode parses buf against vt's root struct, returning the populated root
// Document and the FieldOffsets index recorded during the walk.
func Decode(vt *vtable.VTable, buf []byte, newDoc NewDocument) (Document, *FieldOffsets, error) {
	d := &Decoder{vt: vt, buf: buf}

	s, err := vt.StructByName(vt.Root)
	if err != nil {
		return nil, nil, err
	}

	offsets := NewFieldOffsets(int(vt.NumFields))
	doc, err := d.decodeStruct(s, newDoc, offsets)
	if err != nil {
		return nil, nil, err
	}

	if d.pos != len(d.buf) {
		return nil, nil, ErrUnhandledTrailingBytes
	}

	return doc, offsets, nil
}

func (d *Decoder) decodeStruct(s *vtable.Struct, newDoc NewDocument, offsets *FieldOffsets) (Document, error) {
	doc, err := newDoc(s.Name)
	if err != nil {
		return nil, err
	}

	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Rules.Ignore {
			continue
		}

		start := d.pos
		value, err := d.decodeValue(f, f.Type, newDoc, offsets)
		if err != nil {
			return nil, err
		}
		if f.Type.Kind != vtable.KindStruct {
			offsets.Push(FieldOffset{Index: f.OffsetIndex(), Start: start + offsetPrefixLen(f.Type.Kind), End: d.pos})
		}

		if err := doc.DocBufSetField(f.Name, value); err != nil {
			return nil, err
		}
	}

	return doc, nil
}

func (d *Decoder) decodeValue(f *vtable.Field, ft vtable.FieldType, newDoc NewDocument, offsets *FieldOffsets) (any, error) {
	switch ft.Kind {
	case vtable.KindStruct:
		s, err := d.vt.StructByName(ft.Name)
		if err != nil {
			return nil, err
		}
		return d.decodeStruct(s, newDoc, offsets)
	case vtable.KindOption:
		return d.decodeOption(f, ft, newDoc, offsets)
	case vtable.KindVec:
		return d.decodeVec(f, ft, newDoc, offsets)
	case vtable.KindHashMap:
		return d.decodeHashMap(f, ft, newDoc, offsets)
	case vtable.KindString, vtable.KindStr:
		return d.decodeString(f)
	case vtable.KindBytes:
		return d.decodeBytes(f)
	case vtable.KindUuid:
		return d.decodeUuid(f)
	case vtable.KindBool:
		return d.decodeBool(f)
	default:
		return d.decodeNumeric(f, ft)
	}
}

func (d *Decoder) decodeOption(f *vtable.Field, ft vtable.FieldType, newDoc NewDocument, offsets *FieldOffsets) (any, error) {
	discByte, err := d.takeByte(f)
	if err != nil {
		return nil, err
	}
	switch discByte {
	case 0:
		return nil, nil
	case 1:
		return d.decodeValue(f, *ft.Elem, newDoc, offsets)
	default:
		return nil, ErrInvalidOptionDiscriminator
	}
}

func (d *Decoder) decodeVec(f *vtable.Field, ft vtable.FieldType, newDoc NewDocument, offsets *FieldOffsets) (any, error) {
	count, err := d.takeU32(f)
	if err != nil {
		return nil, err
	}
	if int(count) >= vtable.MaxFieldSize {
		return nil, ArrayElementsExceedsMax{Field: f.Name, Count: int(count), Max: vtable.MaxFieldSize}
	}
	out := make([]any, 0, count)
	for i := uint32(0); i < count; i++ {
		v, err := d.decodeValue(f, *ft.Elem, newDoc, offsets)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *Decoder) decodeHashMap(f *vtable.Field, ft vtable.FieldType, newDoc NewDocument, offsets *FieldOffsets) (any, error) {
	count, err := d.takeU32(f)
	if err != nil {
		return nil, err
	}
	if int(count) >= vtable.MaxMapEntries {
		return nil, MapEntriesExceedsMax{Field: f.Name, Count: int(count), Max: vtable.MaxMapEntries}
	}
	out := make(map[string]any, count)
	for i := uint32(0); i < count; i++ {
		k, err := d.decodeValue(f, *ft.Key, newDoc, offsets)
		if err != nil {
			return nil, err
		}
		v, err := d.decodeValue(f, *ft.Value, newDoc, offsets)
		if err != nil {
			return nil, err
		}
		ks, ok := k.(string)
		if !ok {
			ks = ""
		}
		out[ks] = v
	}
	return out, nil
}

func (d *Decoder) decodeString(f *vtable.Field) (any, error) {
	n, err := d.takeU32(f)
	if err != nil {
		return nil, err
	}
	if err := f.Rules.ValidateLength(uint64(n)); err != nil {
		return nil, err
	}
	b, err := d.take(f, int(n))
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, FromUtf8{Field: f.Name}
	}
	s := string(b)
	if err := f.Rules.ValidateRegex(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (d *Decoder) decodeBytes(f *vtable.Field) (any, error) {
	n, err := d.takeU32(f)
	if err != nil {
		return nil, err
	}
	if err := f.Rules.ValidateLength(uint64(n)); err != nil {
		return nil, err
	}
	b, err := d.take(f, int(n))
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

func (d *Decoder) decodeUuid(f *vtable.Field) (any, error) {
	b, err := d.take(f, 16)
	if err != nil {
		return nil, err
	}
	var id uuid.UUID
	copy(id[:], b)
	return id, nil
}

func (d *Decoder) decodeBool(f *vtable.Field) (any, error) {
	b, err := d.takeByte(f)
	if err != nil {
		return nil, err
	}
	return b != 0, nil
}

func (d *Decoder) decodeNumeric(f *vtable.Field, ft vtable.FieldType) (any, error) {
	switch ft.Kind {
	case vtable.KindF32:
		b, err := d.take(f, 4)
		if err != nil {
			return nil, err
		}
		v := float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		if err := f.Rules.ValidateValue(vtable.NumericValue{Kind: ft.Kind, Float: v}); err != nil {
			return nil, err
		}
		return v, nil
	case vtable.KindF64:
		b, err := d.take(f, 8)
		if err != nil {
			return nil, err
		}
		v := math.Float64frombits(binary.LittleEndian.Uint64(b))
		if err := f.Rules.ValidateValue(vtable.NumericValue{Kind: ft.Kind, Float: v}); err != nil {
			return nil, err
		}
		return v, nil
	default:
		w := ft.Kind.FixedWidth()
		b, err := d.take(f, w)
		if err != nil {
			return nil, err
		}
		i := vtable.IntFromLE(b, ft.Kind.IsSigned())
		if err := f.Rules.ValidateValue(vtable.NumericValue{Kind: ft.Kind, Int: i}); err != nil {
			return nil, err
		}
		return bigIntToGo(ft.Kind, i), nil
	}
}

// bigIntToGo narrows a decoded big.Int down to the natural Go type for its
// kind, except for the 128-bit kinds which have no native Go type.
func bigIntToGo(kind vtable.FieldKind, v *big.Int) any {
	switch kind {
	case vtable.KindU128:
		return vtable.Uint128FromBig(v)
	case vtable.KindI128:
		return vtable.Int128FromBig(v)
	case vtable.KindI8, vtable.KindI16, vtable.KindI32, vtable.KindI64, vtable.KindISIZE:
		return v.Int64()
	default:
		return v.Uint64()
	}
}

func (d *Decoder) take(f *vtable.Field, n int) ([]byte, error) {
	if d.pos+n > len(d.buf) {
		return nil, DocBufDecodeFieldType{Field: f.Name, Kind: f.Type.Kind.String(), Err: io.ErrUnexpectedEOF}
	}
	b := d.buf[d.pos : d.pos+n]
	d.pos += n
	return b, nil
}

func (d *Decoder) takeByte(f *vtable.Field) (byte, error) {
	b, err := d.take(f, 1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *Decoder) takeU32(f *vtable.Field) (uint32, error) {
	b, err := d.take(f, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}
