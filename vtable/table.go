package vtable

import (
	"sort"
	"sync"
)

// AvgFieldSizeInBytes is used to pre-size encode buffers (spec §4.1).
const AvgFieldSizeInBytes = 255

// Id is the vtable's stable 8-byte identity, derived deterministically from
// (root_item_tag[5], num_items, num_fields_le[2]) (spec §3).
type Id [8]byte

// VTable is the schema description attached to a document root: an ordered
// collection of named Structs and their Fields, plus the cached counts used
// to derive the vtable's id. VTables are immutable after construction and
// safe to share across goroutines; the id is memoised once per value.
type VTable struct {
	Namespace string
	Root      string
	Items     []Item
	NumItems  uint8
	NumFields uint16

	idOnce sync.Once
	id     Id
}

// New creates an empty VTable for the given namespace and root item name.
func New(namespace, root string) *VTable {
	return &VTable{Namespace: namespace, Root: root}
}

// AddStruct appends a struct item, assigning its item_index and folding its
// field count into the vtable's running totals (spec §4.1).
func (v *VTable) AddStruct(s Struct) {
	s.ItemIndex = v.NumItems
	for i := range s.Fields {
		s.Fields[i].ItemIndex = s.ItemIndex
	}
	v.NumFields += uint16(s.NumFields)
	v.Items = append(v.Items, Item{Kind: ItemKindStruct, Struct: &s})
	v.NumItems++
	v.sortItems()
}

// MergeVTable appends all items of other onto v, renumbering their item
// indexes to continue from v's current item count.
func (v *VTable) MergeVTable(other *VTable) {
	for _, item := range other.Items {
		switch item.Kind {
		case ItemKindStruct:
			cp := *item.Struct
			cp.Fields = append([]Field(nil), cp.Fields...)
			v.AddStruct(cp)
		}
	}
}

// sortItems orders items by (name, item_index) for deterministic id
// derivation (spec §3: "Items are sorted by (name, item_index)").
func (v *VTable) sortItems() {
	sort.SliceStable(v.Items, func(i, j int) bool {
		ni, nj := v.Items[i].Name(), v.Items[j].Name()
		if ni != nj {
			return ni < nj
		}
		return v.Items[i].ItemIndex() < v.Items[j].ItemIndex()
	})
}

// ItemByIndex returns the item with the given dense item_index.
func (v *VTable) ItemByIndex(index uint8) (*Item, error) {
	if int(index) >= len(v.Items) {
		return nil, ErrItemNotFound
	}
	for i := range v.Items {
		if v.Items[i].ItemIndex() == index {
			return &v.Items[i], nil
		}
	}
	return nil, ErrItemNotFound
}

// StructByIndex returns the struct item with the given item_index.
func (v *VTable) StructByIndex(index uint8) (*Struct, error) {
	if int(index) >= len(v.Items) {
		return nil, ErrStructNotFound
	}
	for i := range v.Items {
		if v.Items[i].Kind == ItemKindStruct && v.Items[i].Struct.ItemIndex == index {
			return v.Items[i].Struct, nil
		}
	}
	return nil, ErrStructNotFound
}

// StructByName returns the struct item with the given name.
func (v *VTable) StructByName(name string) (*Struct, error) {
	for i := range v.Items {
		if v.Items[i].Kind == ItemKindStruct && v.Items[i].Struct.Name == name {
			return v.Items[i].Struct, nil
		}
	}
	return nil, ErrStructNotFound
}

// FieldByOffsetIndex resolves the field referenced by a FieldOffsetIndex
// (spec Invariant 1).
func (v *VTable) FieldByOffsetIndex(idx FieldOffsetIndex) (*Field, error) {
	s, err := v.StructByIndex(idx.ItemIndex)
	if err != nil {
		return nil, err
	}
	return s.FieldByIndex(idx.FieldIndex)
}

// rootTag folds the root item name into 5 bytes: first two, middle, last
// two; shorter names zero-padded (spec §3).
func (v *VTable) rootTag() [5]byte {
	var tag [5]byte
	rb := []byte(v.Root)
	rlen := len(rb)

	if rlen <= 5 {
		copy(tag[:], rb)
		return tag
	}

	tag[0] = rb[0]
	tag[1] = rb[1]
	if rlen%2 == 0 {
		tag[2] = rb[rlen/2]
	} else {
		tag[2] = rb[rlen/2+1]
	}
	tag[3] = rb[rlen-2]
	tag[4] = rb[rlen-1]
	return tag
}

// Id returns the vtable's deterministic 8-byte identity, memoised once per
// VTable value (spec §3, §4.1, §5 "VTable memoisation").
func (v *VTable) Id() Id {
	v.idOnce.Do(func() {
		tag := v.rootTag()
		copy(v.id[0:5], tag[:])
		v.id[5] = v.NumItems
		numFieldsLE := [2]byte{byte(v.NumFields), byte(v.NumFields >> 8)}
		v.id[6] = numFieldsLE[0]
		v.id[7] = numFieldsLE[1]
	})
	return v.id
}

// AllocBuf returns a pre-sized byte buffer suitable for encoding a document
// of this vtable, using avg_size = num_fields * AVG_FIELD_SIZE_IN_BYTES
// (spec §4.1).
func (v *VTable) AllocBuf() []byte {
	return make([]byte, 0, int(v.NumFields)*AvgFieldSizeInBytes)
}

// PartitionKeyField returns the field across all struct items that is
// flagged as the partition-key source, if any.
func (v *VTable) PartitionKeyField() (*Field, bool) {
	for i := range v.Items {
		if v.Items[i].Kind != ItemKindStruct {
			continue
		}
		if f, ok := v.Items[i].Struct.PartitionKeyField(); ok {
			return f, true
		}
	}
	return nil, false
}
