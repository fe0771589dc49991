package vtable

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/big"
)

// ToBytes serializes the vtable itself to its stable, round-trippable
// binary form (spec §4.1 "Self-serialization byte layout").
func (v *VTable) ToBytes() ([]byte, error) {
	var buf bytes.Buffer

	if len(v.Namespace) > 255 {
		return nil, fmt.Errorf("docbuf/vtable: namespace too long to serialize")
	}
	buf.WriteByte(byte(len(v.Namespace)))
	buf.WriteString(v.Namespace)

	if len(v.Root) > 255 {
		return nil, fmt.Errorf("docbuf/vtable: root name too long to serialize")
	}
	buf.WriteByte(byte(len(v.Root)))
	buf.WriteString(v.Root)

	buf.WriteByte(v.NumItems)

	for _, item := range v.Items {
		switch item.Kind {
		case ItemKindStruct:
			buf.WriteByte(byte(ItemKindStruct))
			if err := encodeStruct(&buf, item.Struct); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("docbuf/vtable: unsupported item kind %d", item.Kind)
		}
	}

	return buf.Bytes(), nil
}

func encodeStruct(buf *bytes.Buffer, s *Struct) error {
	buf.WriteByte(s.ItemIndex)
	if len(s.Name) > 255 {
		return fmt.Errorf("docbuf/vtable: struct name too long to serialize")
	}
	buf.WriteByte(byte(len(s.Name)))
	buf.WriteString(s.Name)
	buf.WriteByte(s.NumFields)

	for i := range s.Fields {
		if err := encodeField(buf, &s.Fields[i]); err != nil {
			return err
		}
	}
	return nil
}

func encodeField(buf *bytes.Buffer, f *Field) error {
	buf.WriteByte(f.ItemIndex)
	if err := encodeFieldType(buf, f.Type); err != nil {
		return err
	}
	buf.WriteByte(f.Index)
	if len(f.Name) > 255 {
		return fmt.Errorf("docbuf/vtable: field name too long to serialize")
	}
	buf.WriteByte(byte(len(f.Name)))
	buf.WriteString(f.Name)
	encodeRules(buf, &f.Rules)
	return nil
}

func encodeFieldType(buf *bytes.Buffer, ft FieldType) error {
	buf.WriteByte(ft.Kind.tag())
	switch ft.Kind {
	case KindStruct:
		if len(ft.Name) > 255 {
			return fmt.Errorf("docbuf/vtable: struct type name too long to serialize")
		}
		buf.WriteByte(byte(len(ft.Name)))
		buf.WriteString(ft.Name)
	case KindOption, KindVec:
		if ft.Elem == nil {
			return fmt.Errorf("docbuf/vtable: %s field type missing element type", ft.Kind)
		}
		return encodeFieldType(buf, *ft.Elem)
	case KindHashMap:
		if ft.Key == nil || ft.Value == nil {
			return fmt.Errorf("docbuf/vtable: hashmap field type missing key/value type")
		}
		if err := encodeFieldType(buf, *ft.Key); err != nil {
			return err
		}
		return encodeFieldType(buf, *ft.Value)
	}
	return nil
}

func encodeOpt(buf *bytes.Buffer, present bool, write func()) {
	if present {
		buf.WriteByte(1)
		write()
	} else {
		buf.WriteByte(0)
	}
}

func encodeNumericValue(buf *bytes.Buffer, n NumericValue) {
	buf.WriteByte(n.Kind.tag())
	switch n.Kind {
	case KindF32:
		var bits [4]byte
		binary.LittleEndian.PutUint32(bits[:], math.Float32bits(float32(n.Float)))
		buf.Write(bits[:])
	case KindF64:
		var bits [8]byte
		binary.LittleEndian.PutUint64(bits[:], math.Float64bits(n.Float))
		buf.Write(bits[:])
	default:
		width := n.Kind.FixedWidth()
		b := make([]byte, width)
		IntToLE(n.Int, b, n.Kind.IsSigned())
		buf.Write(b)
	}
}

func encodeRules(buf *bytes.Buffer, r *FieldRules) {
	buf.WriteByte(boolByte(r.Ignore))
	buf.WriteByte(boolByte(r.Sign))
	buf.WriteByte(boolByte(r.PartitionKey))

	encodeOpt(buf, r.MaxValue != nil, func() { encodeNumericValue(buf, *r.MaxValue) })
	encodeOpt(buf, r.MinValue != nil, func() { encodeNumericValue(buf, *r.MinValue) })
	encodeOpt(buf, r.MaxLength != nil, func() { writeU64(buf, *r.MaxLength) })
	encodeOpt(buf, r.MinLength != nil, func() { writeU64(buf, *r.MinLength) })
	encodeOpt(buf, r.Length != nil, func() { writeU64(buf, *r.Length) })
	encodeOpt(buf, r.Regex != nil, func() {
		re := *r.Regex
		var lenBuf [2]byte
		binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(re)))
		buf.Write(lenBuf[:])
		buf.WriteString(re)
	})
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeU64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

// FromBytes deserializes a vtable from its ToBytes form.
func FromBytes(data []byte) (*VTable, error) {
	r := &byteReader{data: data}

	nsLen, err := r.byte()
	if err != nil {
		return nil, err
	}
	namespace, err := r.take(int(nsLen))
	if err != nil {
		return nil, err
	}

	rootLen, err := r.byte()
	if err != nil {
		return nil, err
	}
	root, err := r.take(int(rootLen))
	if err != nil {
		return nil, err
	}

	numItems, err := r.byte()
	if err != nil {
		return nil, err
	}

	v := New(string(namespace), string(root))

	for i := 0; i < int(numItems); i++ {
		tag, err := r.byte()
		if err != nil {
			return nil, err
		}
		switch ItemKind(tag) {
		case ItemKindStruct:
			s, err := decodeStruct(r)
			if err != nil {
				return nil, err
			}
			v.Items = append(v.Items, Item{Kind: ItemKindStruct, Struct: s})
			v.NumItems++
			v.NumFields += uint16(s.NumFields)
		default:
			return nil, fmt.Errorf("docbuf/vtable: unsupported item tag %d", tag)
		}
	}
	v.sortItems()

	return v, nil
}

func decodeStruct(r *byteReader) (*Struct, error) {
	itemIndex, err := r.byte()
	if err != nil {
		return nil, err
	}
	nameLen, err := r.byte()
	if err != nil {
		return nil, err
	}
	name, err := r.take(int(nameLen))
	if err != nil {
		return nil, err
	}
	numFields, err := r.byte()
	if err != nil {
		return nil, err
	}

	s := &Struct{ItemIndex: itemIndex, Name: string(name), NumFields: numFields}
	for i := 0; i < int(numFields); i++ {
		f, err := decodeField(r)
		if err != nil {
			return nil, err
		}
		s.Fields = append(s.Fields, *f)
	}
	return s, nil
}

func decodeField(r *byteReader) (*Field, error) {
	itemIndex, err := r.byte()
	if err != nil {
		return nil, err
	}
	ft, err := decodeFieldType(r)
	if err != nil {
		return nil, err
	}
	fieldIndex, err := r.byte()
	if err != nil {
		return nil, err
	}
	nameLen, err := r.byte()
	if err != nil {
		return nil, err
	}
	name, err := r.take(int(nameLen))
	if err != nil {
		return nil, err
	}
	rules, err := decodeRules(r)
	if err != nil {
		return nil, err
	}

	return &Field{
		ItemIndex: itemIndex,
		Index:     fieldIndex,
		Name:      string(name),
		Type:      ft,
		Rules:     *rules,
	}, nil
}

func decodeFieldType(r *byteReader) (FieldType, error) {
	tag, err := r.byte()
	if err != nil {
		return FieldType{}, err
	}
	kind, err := kindFromTag(tag)
	if err != nil {
		return FieldType{}, err
	}

	ft := FieldType{Kind: kind}
	switch kind {
	case KindStruct:
		nameLen, err := r.byte()
		if err != nil {
			return FieldType{}, err
		}
		name, err := r.take(int(nameLen))
		if err != nil {
			return FieldType{}, err
		}
		ft.Name = string(name)
	case KindOption, KindVec:
		elem, err := decodeFieldType(r)
		if err != nil {
			return FieldType{}, err
		}
		ft.Elem = &elem
	case KindHashMap:
		key, err := decodeFieldType(r)
		if err != nil {
			return FieldType{}, err
		}
		val, err := decodeFieldType(r)
		if err != nil {
			return FieldType{}, err
		}
		ft.Key = &key
		ft.Value = &val
	}
	return ft, nil
}

func decodeNumericValue(r *byteReader) (NumericValue, error) {
	tag, err := r.byte()
	if err != nil {
		return NumericValue{}, err
	}
	kind, err := kindFromTag(tag)
	if err != nil {
		return NumericValue{}, err
	}

	switch kind {
	case KindF32:
		b, err := r.take(4)
		if err != nil {
			return NumericValue{}, err
		}
		return NumericValue{Kind: kind, Float: float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))}, nil
	case KindF64:
		b, err := r.take(8)
		if err != nil {
			return NumericValue{}, err
		}
		return NumericValue{Kind: kind, Float: math.Float64frombits(binary.LittleEndian.Uint64(b))}, nil
	default:
		width := kind.FixedWidth()
		b, err := r.take(width)
		if err != nil {
			return NumericValue{}, err
		}
		return NumericValue{Kind: kind, Int: IntFromLE(b, kind.IsSigned())}, nil
	}
}

func decodeRules(r *byteReader) (*FieldRules, error) {
	rules := &FieldRules{}

	ignore, err := r.byte()
	if err != nil {
		return nil, err
	}
	rules.Ignore = ignore != 0

	sign, err := r.byte()
	if err != nil {
		return nil, err
	}
	rules.Sign = sign != 0

	pk, err := r.byte()
	if err != nil {
		return nil, err
	}
	rules.PartitionKey = pk != 0

	if present, err := r.byte(); err != nil {
		return nil, err
	} else if present != 0 {
		nv, err := decodeNumericValue(r)
		if err != nil {
			return nil, err
		}
		rules.MaxValue = &nv
	}
	if present, err := r.byte(); err != nil {
		return nil, err
	} else if present != 0 {
		nv, err := decodeNumericValue(r)
		if err != nil {
			return nil, err
		}
		rules.MinValue = &nv
	}
	if present, err := r.byte(); err != nil {
		return nil, err
	} else if present != 0 {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		rules.MaxLength = &v
	}
	if present, err := r.byte(); err != nil {
		return nil, err
	} else if present != 0 {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		rules.MinLength = &v
	}
	if present, err := r.byte(); err != nil {
		return nil, err
	} else if present != 0 {
		v, err := r.u64()
		if err != nil {
			return nil, err
		}
		rules.Length = &v
	}
	if present, err := r.byte(); err != nil {
		return nil, err
	} else if present != 0 {
		lenBytes, err := r.take(2)
		if err != nil {
			return nil, err
		}
		n := binary.LittleEndian.Uint16(lenBytes)
		reBytes, err := r.take(int(n))
		if err != nil {
			return nil, err
		}
		re := string(reBytes)
		rules.Regex = &re
	}

	return rules, nil
}

// byteReader is a minimal cursor over a byte slice, used instead of
// bytes.Reader so every read site can report precise "unexpected end of
// vtable bytes" errors.
type byteReader struct {
	data []byte
	pos  int
}

func (r *byteReader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("docbuf/vtable: unexpected end of vtable bytes")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *byteReader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("docbuf/vtable: unexpected end of vtable bytes")
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *byteReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// IntToLE writes v's little-endian two's-complement representation into
// out, whose length determines the integer width (used for both the
// vtable's own fixed-width numeric literals and, via the wire package, for
// encoding numeric field payloads).
func IntToLE(v *big.Int, out []byte, signed bool) {
	var u *big.Int
	if signed && v.Sign() < 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(len(out)*8))
		u = new(big.Int).Add(v, mod)
	} else {
		u = v
	}
	be := u.Bytes()
	for i := 0; i < len(be) && i < len(out); i++ {
		out[i] = be[len(be)-1-i]
	}
}

// IntFromLE is the inverse of IntToLE.
func IntFromLE(b []byte, signed bool) *big.Int {
	be := make([]byte, len(b))
	for i := range b {
		be[i] = b[len(b)-1-i]
	}
	v := new(big.Int).SetBytes(be)
	if signed && len(b) > 0 && b[len(b)-1]&0x80 != 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(len(b)*8))
		v.Sub(v, mod)
	}
	return v
}
