package docbufdb

import (
	"bytes"
	"math"

	"github.com/rpcpool/docbuf/vtable"
	"github.com/rpcpool/docbuf/wire"
)

// Ordering mirrors the three-way comparison spec.md's predicate engine
// evaluates against (spec §4.7).
type Ordering int

const (
	OrderingLess Ordering = iota
	OrderingEqual
	OrderingGreater
)

// Predicate is a single per-field comparison evaluated against an encoded
// buffer plus its FieldOffsets (spec §4.7).
type Predicate struct {
	Offset vtable.FieldOffsetIndex
	Value  []byte
	Order  Ordering
}

// Eval evaluates p against buf using offsets to locate the field and vt to
// resolve its declared type for ordered comparisons.
func (p Predicate) Eval(vt *vtable.VTable, buf []byte, offsets *wire.FieldOffsets) bool {
	off, ok := offsets.Get(p.Offset)
	if !ok {
		return false
	}
	actual := buf[off.Start:off.End]

	if p.Order == OrderingEqual {
		return bytes.Equal(actual, p.Value)
	}

	f, err := vt.FieldByOffsetIndex(p.Offset)
	if err != nil {
		return false
	}

	// Comparisons run predicate value → field value, matching
	// database/src/predicate.rs's `value.cmp(&field_value)`, not the other
	// way around.
	if hasNaturalOrder(f.Type.Kind) {
		cmp, ok := compareNatural(f.Type.Kind, p.Value, actual)
		if !ok {
			return false
		}
		return orderingMatches(cmp, p.Order)
	}

	cmp := bytes.Compare(p.Value, actual)
	return orderingMatches(cmp, p.Order)
}

func orderingMatches(cmp int, want Ordering) bool {
	switch want {
	case OrderingLess:
		return cmp < 0
	case OrderingGreater:
		return cmp > 0
	default:
		return cmp == 0
	}
}

// hasNaturalOrder reports whether a field kind compares numerically rather
// than lexicographically (spec §4.7: "types lacking a natural order...use
// lexicographic byte comparison").
func hasNaturalOrder(kind vtable.FieldKind) bool {
	switch kind {
	case vtable.KindU8, vtable.KindU16, vtable.KindU32, vtable.KindU64, vtable.KindU128, vtable.KindUSIZE,
		vtable.KindI8, vtable.KindI16, vtable.KindI32, vtable.KindI64, vtable.KindI128, vtable.KindISIZE,
		vtable.KindF32, vtable.KindF64:
		return true
	default:
		return false
	}
}

// compareNatural decodes both byte slices per kind and compares them
// natively. NaN never matches any ordering (spec §4.7).
func compareNatural(kind vtable.FieldKind, a, b []byte) (int, bool) {
	switch kind {
	case vtable.KindF32:
		fa := decodeF32(a)
		fb := decodeF32(b)
		if math.IsNaN(float64(fa)) || math.IsNaN(float64(fb)) {
			return 0, false
		}
		return cmpFloat(float64(fa), float64(fb)), true
	case vtable.KindF64:
		fa := decodeF64(a)
		fb := decodeF64(b)
		if math.IsNaN(fa) || math.IsNaN(fb) {
			return 0, false
		}
		return cmpFloat(fa, fb), true
	default:
		ia := vtable.IntFromLE(a, kind.IsSigned())
		ib := vtable.IntFromLE(b, kind.IsSigned())
		return ia.Cmp(ib), true
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Predicates is a conjunction of `And` predicates, disjoined with `Or`
// predicates: `(all(and)) OR (any(or))` (spec §4.7).
type Predicates struct {
	And []Predicate
	Or  []Predicate
}

// Eval evaluates the combined predicate set as `all(And) OR any(Or)`. An
// empty `And` is vacuously true, so a set with no `And` predicates matches
// every document whatever its `Or` predicates; otherwise evaluation
// short-circuits to true as soon as any `Or` predicate matches.
func (ps Predicates) Eval(vt *vtable.VTable, buf []byte, offsets *wire.FieldOffsets) bool {
	allAnd := true
	for _, p := range ps.And {
		if !p.Eval(vt, buf, offsets) {
			allAnd = false
			break
		}
	}
	if allAnd {
		return true
	}

	for _, p := range ps.Or {
		if p.Eval(vt, buf, offsets) {
			return true
		}
	}
	return false
}

func decodeF32(b []byte) float32 {
	if len(b) < 4 {
		return 0
	}
	bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
	return math.Float32frombits(bits)
}

func decodeF64(b []byte) float64 {
	if len(b) < 8 {
		return 0
	}
	var bits uint64
	for i := 0; i < 8; i++ {
		bits |= uint64(b[i]) << (8 * i)
	}
	return math.Float64frombits(bits)
}
