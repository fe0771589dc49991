package docbufdb

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/docbuf/vtable"
	"github.com/rpcpool/docbuf/wire"
)

func authorVTable() *vtable.VTable {
	v := vtable.New("docbuf.test", "Note")
	v.AddStruct(vtable.Struct{
		Name:      "Note",
		NumFields: 2,
		Fields: []vtable.Field{
			{Index: 0, Name: "author", Type: vtable.FieldType{Kind: vtable.KindString}, Rules: vtable.FieldRules{PartitionKey: true}},
			{Index: 1, Name: "body", Type: vtable.FieldType{Kind: vtable.KindString}},
		},
	})
	return v
}

func newDocFn(name string) (wire.Document, error) {
	return wire.NewGenericDocument(name), nil
}

func TestPartitionRoundTrip(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	m, err := Open(root, DefaultConfig())
	require.NoError(t, err)

	vt := authorVTable()
	require.NoError(t, m.Register(vt))

	docID := uuid.New()
	doc := wire.NewGenericDocument("Note")
	doc.Values["author"] = "Alice"
	doc.Values["body"] = "hello world"

	_, err = m.Put(vt, docID, doc)
	require.NoError(t, err)

	got, err := m.Get(vt, docID, newDocFn)
	require.NoError(t, err)
	body, _ := got.DocBufFieldValue("body")
	require.Equal(t, "hello world", body)

	countBefore, err := m.Count(vt, nil, nil, newDocFn)
	require.NoError(t, err)
	require.Equal(t, 1, countBefore)
}

func TestUpdateMigratesAcrossPartitions(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	m, err := Open(root, DefaultConfig())
	require.NoError(t, err)

	vt := authorVTable()
	require.NoError(t, m.Register(vt))

	docID := uuid.New()
	doc := wire.NewGenericDocument("Note")
	doc.Values["author"] = "Alice"
	doc.Values["body"] = "hello"

	_, err = m.Put(vt, docID, doc)
	require.NoError(t, err)

	oldKey, err := PartitionKeyFromValue("Alice")
	require.NoError(t, err)
	oldPartition := oldKey.Bucket(m.config.NumPartitions)

	doc.Values["author"] = "Bob"
	require.NoError(t, m.Update(vt, docID, doc))

	newKey, err := PartitionKeyFromValue("Bob")
	require.NoError(t, err)
	newPartition := newKey.Bucket(m.config.NumPartitions)

	require.NotEqual(t, oldPartition, newPartition, "test fixture expects Alice/Bob to hash to different buckets")

	oldP, ok, err := m.existingPartition(m.vtables[vt.Id()], vt.Id(), oldPartition)
	require.NoError(t, err)
	require.True(t, ok)
	require.False(t, oldP.Has(docID))

	newP, ok, err := m.existingPartition(m.vtables[vt.Id()], vt.Id(), newPartition)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, newP.Has(docID))

	count, err := m.Count(vt, nil, nil, newDocFn)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestDeleteRemovesDocument(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	m, err := Open(root, DefaultConfig())
	require.NoError(t, err)

	vt := authorVTable()
	require.NoError(t, m.Register(vt))

	docID := uuid.New()
	doc := wire.NewGenericDocument("Note")
	doc.Values["author"] = "Alice"
	doc.Values["body"] = "hello"
	_, err = m.Put(vt, docID, doc)
	require.NoError(t, err)

	deleted, err := m.Delete(vt, docID)
	require.NoError(t, err)
	require.NotEmpty(t, deleted)

	_, err = m.Get(vt, docID, newDocFn)
	require.ErrorIs(t, err, ErrDocBufNotFound)
}

func TestDeleteTombstonePersistsAcrossReopen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	cfg := DefaultConfig()
	cfg.Tombstone = true

	m, err := Open(root, cfg)
	require.NoError(t, err)

	vt := authorVTable()
	require.NoError(t, m.Register(vt))

	docID := uuid.New()
	doc := wire.NewGenericDocument("Note")
	doc.Values["author"] = "Alice"
	doc.Values["body"] = "hello"
	_, err = m.Put(vt, docID, doc)
	require.NoError(t, err)

	deleted, err := m.Delete(vt, docID)
	require.NoError(t, err)
	require.NotEmpty(t, deleted)

	_, err = m.Get(vt, docID, newDocFn)
	require.ErrorIs(t, err, ErrDocBufNotFound)

	require.NoError(t, m.Close())

	m2, err := Open(root, cfg)
	require.NoError(t, err)
	defer m2.Close()
	require.NoError(t, m2.Register(vt))

	_, err = m2.Get(vt, docID, newDocFn)
	require.ErrorIs(t, err, ErrDocBufNotFound, "tombstone must stay dead after a fresh scan on open")

	count, err := m2.Count(vt, nil, nil, newDocFn)
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestSearchPredicates(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	m, err := Open(root, DefaultConfig())
	require.NoError(t, err)

	vt := authorVTable()
	require.NoError(t, m.Register(vt))

	for _, author := range []string{"Alice", "Bob", "Carol"} {
		doc := wire.NewGenericDocument("Note")
		doc.Values["author"] = author
		doc.Values["body"] = author + "'s note"
		_, err := m.Put(vt, uuid.New(), doc)
		require.NoError(t, err)
	}

	s, err := vt.StructByName("Note")
	require.NoError(t, err)
	authorField, err := s.FieldByIndex(0)
	require.NoError(t, err)

	predicates := Predicates{
		And: []Predicate{
			{Offset: authorField.OffsetIndex(), Value: []byte("Bob"), Order: OrderingEqual},
		},
	}

	var matched []string
	err = m.Search(vt, nil, predicates, newDocFn, func(doc wire.Document) error {
		body, _ := doc.DocBufFieldValue("body")
		matched = append(matched, body.(string))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"Bob's note"}, matched)
}

func scoreVTable() *vtable.VTable {
	v := vtable.New("docbuf.test", "Score")
	v.AddStruct(vtable.Struct{
		Name:      "Score",
		NumFields: 2,
		Fields: []vtable.Field{
			{Index: 0, Name: "name", Type: vtable.FieldType{Kind: vtable.KindString}, Rules: vtable.FieldRules{PartitionKey: true}},
			{Index: 1, Name: "value", Type: vtable.FieldType{Kind: vtable.KindU32}},
		},
	})
	return v
}

func TestSearchPredicatesNumericOrdering(t *testing.T) {
	root := filepath.Join(t.TempDir(), "db")
	m, err := Open(root, DefaultConfig())
	require.NoError(t, err)
	defer m.Close()

	vt := scoreVTable()
	require.NoError(t, m.Register(vt))

	for name, value := range map[string]uint32{"low": 10, "mid": 30, "high": 50} {
		doc := wire.NewGenericDocument("Score")
		doc.Values["name"] = name
		doc.Values["value"] = uint64(value)
		_, err := m.Put(vt, uuid.New(), doc)
		require.NoError(t, err)
	}

	s, err := vt.StructByName("Score")
	require.NoError(t, err)
	valueField, err := s.FieldByIndex(1)
	require.NoError(t, err)

	// Order compares the predicate value to the field value: "30 is greater
	// than the field" selects fields below 30.
	lessThan30 := Predicates{
		And: []Predicate{
			{Offset: valueField.OffsetIndex(), Value: encodeU32(30), Order: OrderingGreater},
		},
	}
	var lessMatches []string
	err = m.Search(vt, nil, lessThan30, newDocFn, func(doc wire.Document) error {
		name, _ := doc.DocBufFieldValue("name")
		lessMatches = append(lessMatches, name.(string))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"low"}, lessMatches, "value < 30 must match only the 10 row")

	greaterThan30 := Predicates{
		And: []Predicate{
			{Offset: valueField.OffsetIndex(), Value: encodeU32(30), Order: OrderingLess},
		},
	}
	var greaterMatches []string
	err = m.Search(vt, nil, greaterThan30, newDocFn, func(doc wire.Document) error {
		name, _ := doc.DocBufFieldValue("name")
		greaterMatches = append(greaterMatches, name.(string))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"high"}, greaterMatches, "value > 30 must match only the 50 row")
}

func encodeU32(v uint32) []byte {
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

func TestPartitionKeyBucketBounded(t *testing.T) {
	const numPartitions = 16384
	for _, s := range []string{"a", "b", "alpha", "beta", "gamma delta epsilon"} {
		key, err := PartitionKeyFromValue(s)
		require.NoError(t, err)
		b1 := key.Bucket(numPartitions)
		require.Less(t, uint32(b1), uint32(numPartitions))

		key2, err := PartitionKeyFromValue(s)
		require.NoError(t, err)
		require.Equal(t, b1, key2.Bucket(numPartitions), "equal keys must route to the same bucket")
	}
}
