// Package wire implements the DocBuf encoder/decoder: a length-prefixed
// binary wire form driven by a vtable.VTable, an offset-preserving codec
// that emits a FieldOffsets index, and random-access map/map_replace
// operations over an already-encoded buffer.
package wire

import (
	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("docbuf/wire")

// Document is the minimal interface the encoder/decoder drive. It stands in
// for the derive-macro glue that reflects a source type into a vtable,
// which is explicitly out of scope for the core (spec §1); DocBuf only
// needs something that can enumerate and accept named field values.
//
// Nested Struct-typed fields are represented by values that are themselves
// Documents. Vec<T> fields are represented by []any. HashMap<K,V> fields are
// represented by map[string]any. Option<T> fields are represented by the
// inner Go value, nil meaning None; the encoder also accepts a pointer to
// the inner value, a nil pointer meaning None.
type Document interface {
	// DocBufStructName returns the vtable struct name this document maps to.
	DocBufStructName() string
	// DocBufFieldValue returns the raw value for a named field, and whether
	// the document has that field at all.
	DocBufFieldValue(name string) (any, bool)
	// DocBufSetField assigns a decoded value onto the document.
	DocBufSetField(name string, value any) error
}

// GenericDocument is a map-backed Document, convenient for tests and for
// callers that don't have a generated type for a given struct.
type GenericDocument struct {
	StructName string
	Values     map[string]any
}

// NewGenericDocument creates an empty GenericDocument for the named struct.
func NewGenericDocument(structName string) *GenericDocument {
	return &GenericDocument{StructName: structName, Values: map[string]any{}}
}

func (d *GenericDocument) DocBufStructName() string { return d.StructName }

func (d *GenericDocument) DocBufFieldValue(name string) (any, bool) {
	v, ok := d.Values[name]
	return v, ok
}

func (d *GenericDocument) DocBufSetField(name string, value any) error {
	if d.Values == nil {
		d.Values = map[string]any{}
	}
	d.Values[name] = value
	return nil
}
