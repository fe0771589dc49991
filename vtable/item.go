package vtable

// ItemKind is the item tag. Today only Struct exists; the discriminator is
// encoded explicitly in the vtable's self-serialization so future variants
// (e.g. Enum) can be added without breaking id stability for existing
// schemas (spec §9).
type ItemKind uint8

const (
	ItemKindStruct ItemKind = iota
)

// Struct is a named, ordered collection of Fields. Field indexes are dense
// from 0.
type Struct struct {
	ItemIndex uint8
	Name      string
	Fields    []Field
	NumFields uint8
}

// FieldByIndex returns the field with the given dense index.
func (s *Struct) FieldByIndex(index uint8) (*Field, error) {
	for i := range s.Fields {
		if s.Fields[i].Index == index {
			return &s.Fields[i], nil
		}
	}
	return nil, ErrFieldNotFound
}

// FieldByName returns the field with the given name, supporting the
// encoder's parent-stack name-resolution fallback (spec §4.2.5).
func (s *Struct) FieldByName(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// PartitionKeyField returns the field flagged as the partition-key source,
// if this struct declares one.
func (s *Struct) PartitionKeyField() (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Rules.PartitionKey {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// Item is a tagged variant over the item kinds a vtable can hold. Only
// Struct exists today.
type Item struct {
	Kind   ItemKind
	Struct *Struct
}

// ItemIndex returns the dense index of the underlying item regardless of
// kind.
func (it *Item) ItemIndex() uint8 {
	switch it.Kind {
	case ItemKindStruct:
		return it.Struct.ItemIndex
	default:
		return 0
	}
}

// Name returns the underlying item's name regardless of kind.
func (it *Item) Name() string {
	switch it.Kind {
	case ItemKindStruct:
		return it.Struct.Name
	default:
		return ""
	}
}
