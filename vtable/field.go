package vtable

// FieldOffsetIndex locates a field within its owning item: (item_index,
// field_index). It is the key used to look up a field's declared type when
// interpreting an already-encoded FieldOffset.
type FieldOffsetIndex struct {
	ItemIndex  uint8
	FieldIndex uint8
}

// Field describes one named, typed, rule-constrained member of a Struct
// item.
type Field struct {
	// ItemIndex is the index of the owning item.
	ItemIndex uint8
	// Index is this field's dense index within its owning item's fields.
	Index uint8
	Name  string
	Type  FieldType
	Rules FieldRules
}

// OffsetIndex returns the (item_index, field_index) pair used to locate this
// field's payload within an encoded buffer's FieldOffsets.
func (f *Field) OffsetIndex() FieldOffsetIndex {
	return FieldOffsetIndex{ItemIndex: f.ItemIndex, FieldIndex: f.Index}
}
