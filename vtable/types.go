// Package vtable implements the DocBuf virtual table: the schema description
// attached to a document root, its items and fields, and the deterministic,
// byte-serializable identity derived from them.
package vtable

import (
	"fmt"
	"math/big"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("docbuf/vtable")

// FieldKind is the closed enumeration of field types a vtable can describe.
type FieldKind uint8

const (
	KindU8 FieldKind = iota
	KindU16
	KindU32
	KindU64
	KindU128
	KindUSIZE
	KindI8
	KindI16
	KindI32
	KindI64
	KindI128
	KindISIZE
	KindF32
	KindF64
	KindBool
	KindString
	KindStr
	KindBytes
	KindUuid
	KindStruct
	KindOption
	KindVec
	KindHashMap
)

var kindNames = map[FieldKind]string{
	KindU8: "u8", KindU16: "u16", KindU32: "u32", KindU64: "u64",
	KindU128: "u128", KindUSIZE: "usize",
	KindI8: "i8", KindI16: "i16", KindI32: "i32", KindI64: "i64",
	KindI128: "i128", KindISIZE: "isize",
	KindF32: "f32", KindF64: "f64", KindBool: "bool",
	KindString: "string", KindStr: "str", KindBytes: "bytes",
	KindUuid: "uuid", KindStruct: "struct", KindOption: "option",
	KindVec: "vec", KindHashMap: "hashmap",
}

func (k FieldKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("FieldKind(%d)", uint8(k))
}

// IsFixedWidth reports whether a value of this kind is encoded as raw
// little-endian bytes with no length prefix.
func (k FieldKind) IsFixedWidth() bool {
	switch k {
	case KindU8, KindU16, KindU32, KindU64, KindU128, KindUSIZE,
		KindI8, KindI16, KindI32, KindI64, KindI128, KindISIZE,
		KindF32, KindF64, KindBool, KindUuid:
		return true
	default:
		return false
	}
}

// FixedWidth returns the number of bytes a fixed-width kind occupies.
func (k FieldKind) FixedWidth() int {
	switch k {
	case KindU8, KindI8, KindBool:
		return 1
	case KindU16, KindI16:
		return 2
	case KindU32, KindI32:
		return 4
	case KindU64, KindI64, KindUSIZE, KindISIZE:
		return 8
	case KindU128, KindI128:
		return 16
	case KindF32:
		return 4
	case KindF64:
		return 8
	case KindUuid:
		return 16
	default:
		return 0
	}
}

// IsSigned reports whether the kind is a signed integer kind.
func (k FieldKind) IsSigned() bool {
	switch k {
	case KindI8, KindI16, KindI32, KindI64, KindI128, KindISIZE:
		return true
	default:
		return false
	}
}

// FieldType is a (possibly nested) type descriptor for a field. Only Struct,
// Option, Vec and HashMap kinds carry extra data.
type FieldType struct {
	Kind FieldKind
	// Name is the referenced struct's name, set only when Kind == KindStruct.
	Name string
	// Elem is the element type, set only when Kind == KindOption or KindVec.
	Elem *FieldType
	// Key/Value are the map key/value types, set only when Kind == KindHashMap.
	Key   *FieldType
	Value *FieldType
}

// tags mirror the single-byte type tags used to serialize the vtable itself
// (spec §4.1). Nested type chains (Option/Vec/HashMap/Struct) append
// additional tag bytes after the leading one.
const (
	tagU8 byte = iota
	tagU16
	tagU32
	tagU64
	tagU128
	tagUSIZE
	tagI8
	tagI16
	tagI32
	tagI64
	tagI128
	tagISIZE
	tagF32
	tagF64
	tagBool
	tagString
	tagStr
	tagBytes
	tagUuid
	tagStruct
	tagOption
	tagVec
	tagHashMap
)

func (k FieldKind) tag() byte {
	switch k {
	case KindU8:
		return tagU8
	case KindU16:
		return tagU16
	case KindU32:
		return tagU32
	case KindU64:
		return tagU64
	case KindU128:
		return tagU128
	case KindUSIZE:
		return tagUSIZE
	case KindI8:
		return tagI8
	case KindI16:
		return tagI16
	case KindI32:
		return tagI32
	case KindI64:
		return tagI64
	case KindI128:
		return tagI128
	case KindISIZE:
		return tagISIZE
	case KindF32:
		return tagF32
	case KindF64:
		return tagF64
	case KindBool:
		return tagBool
	case KindString:
		return tagString
	case KindStr:
		return tagStr
	case KindBytes:
		return tagBytes
	case KindUuid:
		return tagUuid
	case KindStruct:
		return tagStruct
	case KindOption:
		return tagOption
	case KindVec:
		return tagVec
	case KindHashMap:
		return tagHashMap
	default:
		return 0xFF
	}
}

func kindFromTag(tag byte) (FieldKind, error) {
	switch tag {
	case tagU8:
		return KindU8, nil
	case tagU16:
		return KindU16, nil
	case tagU32:
		return KindU32, nil
	case tagU64:
		return KindU64, nil
	case tagU128:
		return KindU128, nil
	case tagUSIZE:
		return KindUSIZE, nil
	case tagI8:
		return KindI8, nil
	case tagI16:
		return KindI16, nil
	case tagI32:
		return KindI32, nil
	case tagI64:
		return KindI64, nil
	case tagI128:
		return KindI128, nil
	case tagISIZE:
		return KindISIZE, nil
	case tagF32:
		return KindF32, nil
	case tagF64:
		return KindF64, nil
	case tagBool:
		return KindBool, nil
	case tagString:
		return KindString, nil
	case tagStr:
		return KindStr, nil
	case tagBytes:
		return KindBytes, nil
	case tagUuid:
		return KindUuid, nil
	case tagStruct:
		return KindStruct, nil
	case tagOption:
		return KindOption, nil
	case tagVec:
		return KindVec, nil
	case tagHashMap:
		return KindHashMap, nil
	default:
		return 0, UnknownFieldType(tag)
	}
}

// Uint128 is a 128-bit unsigned value stored little-endian, used for the
// U128 field kind since Go has no native 128-bit integer.
type Uint128 [16]byte

// Int128 is a 128-bit signed value stored little-endian two's complement.
type Int128 [16]byte

// Big returns the big.Int representation of u.
func (u Uint128) Big() *big.Int {
	be := make([]byte, 16)
	for i := 0; i < 16; i++ {
		be[i] = u[15-i]
	}
	return new(big.Int).SetBytes(be)
}

// Uint128FromBig converts a non-negative big.Int into a Uint128.
func Uint128FromBig(v *big.Int) Uint128 {
	be := v.Bytes()
	var out Uint128
	for i := 0; i < len(be) && i < 16; i++ {
		out[i] = be[len(be)-1-i]
	}
	return out
}

// Big returns the big.Int representation of i, respecting the sign bit.
func (i Int128) Big() *big.Int {
	be := make([]byte, 16)
	for j := 0; j < 16; j++ {
		be[j] = i[15-j]
	}
	v := new(big.Int).SetBytes(be)
	if i[15]&0x80 != 0 {
		max := new(big.Int).Lsh(big.NewInt(1), 128)
		v.Sub(v, max)
	}
	return v
}

// Int128FromBig converts a big.Int into an Int128 two's complement value.
func Int128FromBig(v *big.Int) Int128 {
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), 128)
		u.Add(u, mod)
	}
	be := u.Bytes()
	var out Int128
	for i := 0; i < len(be) && i < 16; i++ {
		out[i] = be[len(be)-1-i]
	}
	return out
}

// NumericValue is a tagged numeric used for range rules (min_value/
// max_value) and for ordered predicate comparisons. Cross-kind comparisons
// never pass (spec §4.5).
type NumericValue struct {
	Kind  FieldKind
	Int   *big.Int // valid for all integer kinds
	Float float64  // valid for KindF32/KindF64
}

// Cmp compares two NumericValues of the same Kind. Cross-kind comparisons
// always return false from the caller's perspective; Cmp itself panics if
// misused, so callers must check Kind equality first (see
// FieldRules.ValidateValue).
func (n NumericValue) Cmp(other NumericValue) int {
	switch n.Kind {
	case KindF32, KindF64:
		switch {
		case n.Float < other.Float:
			return -1
		case n.Float > other.Float:
			return 1
		default:
			return 0
		}
	default:
		return n.Int.Cmp(other.Int)
	}
}
