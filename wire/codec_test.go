package wire

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/rpcpool/docbuf/vtable"
)

func personVTable() *vtable.VTable {
	v := vtable.New("docbuf.test", "Person")
	v.AddStruct(vtable.Struct{
		Name:      "Person",
		NumFields: 5,
		Fields: []vtable.Field{
			{Index: 0, Name: "id", Type: vtable.FieldType{Kind: vtable.KindUuid}},
			{Index: 1, Name: "name", Type: vtable.FieldType{Kind: vtable.KindString}},
			{Index: 2, Name: "age", Type: vtable.FieldType{Kind: vtable.KindU32}},
			{Index: 3, Name: "nickname", Type: vtable.FieldType{Kind: vtable.KindOption, Elem: &vtable.FieldType{Kind: vtable.KindString}}},
			{Index: 4, Name: "tags", Type: vtable.FieldType{Kind: vtable.KindVec, Elem: &vtable.FieldType{Kind: vtable.KindString}}},
		},
	})
	return v
}

// noteWithSignatureVTable builds a schema with a nested struct (Note.signature ->
// Signature{bytes: Bytes[32]}), matching the spec's S4 scenario: a leaf
// field inside a nested struct must still get its own FieldOffset so it can
// be Map/MapReplace'd directly.
func noteWithSignatureVTable() *vtable.VTable {
	v := vtable.New("docbuf.test", "Note")
	v.AddStruct(vtable.Struct{
		Name:      "Signature",
		NumFields: 1,
		Fields: []vtable.Field{
			{Index: 0, Name: "bytes", Type: vtable.FieldType{Kind: vtable.KindBytes}},
		},
	})
	v.AddStruct(vtable.Struct{
		Name:      "Note",
		NumFields: 2,
		Fields: []vtable.Field{
			{Index: 0, Name: "body", Type: vtable.FieldType{Kind: vtable.KindString}},
			{Index: 1, Name: "signature", Type: vtable.FieldType{Kind: vtable.KindStruct, Name: "Signature"}},
		},
	})
	return v
}

func TestEncodeDecodeNestedStruct(t *testing.T) {
	vt := noteWithSignatureVTable()

	sig := NewGenericDocument("Signature")
	sigBytes := make([]byte, 32)
	for i := range sigBytes {
		sigBytes[i] = byte(i)
	}
	sig.Values["bytes"] = sigBytes

	note := NewGenericDocument("Note")
	note.Values["body"] = "hello"
	note.Values["signature"] = sig

	buf, offsets, err := Encode(vt, note)
	require.NoError(t, err)

	// Exactly two leaf fields ever push an offset: Note.body and
	// Signature.bytes. The Note.signature container field must not push a
	// spurious entry keyed by its own (item_index, field_index).
	require.Equal(t, 2, offsets.Len())

	signatureStruct, err := vt.StructByName("Signature")
	require.NoError(t, err)
	bytesField, err := signatureStruct.FieldByIndex(0)
	require.NoError(t, err)

	off, ok := offsets.Get(bytesField.OffsetIndex())
	require.True(t, ok)
	require.Equal(t, 32, off.Len())

	decoded, decOffsets, err := Decode(vt, buf, func(name string) (Document, error) {
		return NewGenericDocument(name), nil
	})
	require.NoError(t, err)
	require.Equal(t, offsets.Len(), decOffsets.Len())

	out := decoded.(*GenericDocument)
	body, _ := out.DocBufFieldValue("body")
	require.Equal(t, "hello", body)

	sigValue, _ := out.DocBufFieldValue("signature")
	sigDoc, ok := sigValue.(*GenericDocument)
	require.True(t, ok)
	gotBytes, _ := sigDoc.DocBufFieldValue("bytes")
	require.Equal(t, sigBytes, gotBytes)

	// The nested leaf field is directly Map'able by its own offset index,
	// without decoding the whole document.
	mapped, err := Map[[]byte](vt, buf, offsets, bytesField.OffsetIndex())
	require.NoError(t, err)
	require.Equal(t, sigBytes, mapped)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	vt := personVTable()

	id := uuid.New()
	doc := NewGenericDocument("Person")
	doc.Values["id"] = id
	doc.Values["name"] = "Ada Lovelace"
	doc.Values["age"] = uint32(36)
	doc.Values["nickname"] = nil
	doc.Values["tags"] = []any{"mathematician", "writer"}

	buf, offsets, err := Encode(vt, doc)
	require.NoError(t, err)
	require.Equal(t, 5, offsets.Len())

	decoded, decOffsets, err := Decode(vt, buf, func(name string) (Document, error) {
		return NewGenericDocument(name), nil
	})
	require.NoError(t, err)
	require.Equal(t, offsets.Len(), decOffsets.Len())

	out := decoded.(*GenericDocument)
	gotID, _ := out.DocBufFieldValue("id")
	require.Equal(t, id, gotID)

	name, _ := out.DocBufFieldValue("name")
	require.Equal(t, "Ada Lovelace", name)

	age, _ := out.DocBufFieldValue("age")
	require.Equal(t, uint64(36), age)

	nickname, _ := out.DocBufFieldValue("nickname")
	require.Nil(t, nickname)

	tags, _ := out.DocBufFieldValue("tags")
	require.Equal(t, []any{"mathematician", "writer"}, tags)
}

func TestEncodeDecodeOptionSome(t *testing.T) {
	vt := personVTable()

	doc := NewGenericDocument("Person")
	doc.Values["id"] = uuid.New()
	doc.Values["name"] = "Grace Hopper"
	doc.Values["age"] = uint32(85)
	doc.Values["nickname"] = "Amazing Grace"
	doc.Values["tags"] = []any{}

	buf, _, err := Encode(vt, doc)
	require.NoError(t, err)

	decoded, _, err := Decode(vt, buf, func(name string) (Document, error) {
		return NewGenericDocument(name), nil
	})
	require.NoError(t, err)

	nickname, _ := decoded.(*GenericDocument).DocBufFieldValue("nickname")
	require.Equal(t, "Amazing Grace", nickname)
}

func TestDecodeTrailingBytesRejected(t *testing.T) {
	vt := personVTable()
	doc := NewGenericDocument("Person")
	doc.Values["id"] = uuid.New()
	doc.Values["name"] = "X"
	doc.Values["age"] = uint32(1)
	doc.Values["nickname"] = nil
	doc.Values["tags"] = []any{}

	buf, _, err := Encode(vt, doc)
	require.NoError(t, err)

	_, _, err = Decode(vt, append(buf, 0xFF), func(name string) (Document, error) {
		return NewGenericDocument(name), nil
	})
	require.ErrorIs(t, err, ErrUnhandledTrailingBytes)
}

func TestMapStringFieldReadAndReplace(t *testing.T) {
	vt := personVTable()
	doc := NewGenericDocument("Person")
	doc.Values["id"] = uuid.New()
	doc.Values["name"] = "Margaret Hamilton"
	doc.Values["age"] = uint32(44)
	doc.Values["nickname"] = nil
	doc.Values["tags"] = []any{"apollo"}

	buf, offsets, err := Encode(vt, doc)
	require.NoError(t, err)

	s, err := vt.StructByName("Person")
	require.NoError(t, err)
	nameF, err := s.FieldByIndex(1)
	require.NoError(t, err)

	name, err := Map[string](vt, buf, offsets, nameF.OffsetIndex())
	require.NoError(t, err)
	require.Equal(t, "Margaret Hamilton", name)

	tagsOffBefore, ok := offsets.Get(vtable.FieldOffsetIndex{ItemIndex: 0, FieldIndex: 4})
	require.True(t, ok)

	// Shorter replacement shrinks the field and shifts every later offset.
	newBuf, err := MapReplace[string](vt, buf, offsets, nameF.OffsetIndex(), "Grace")
	require.NoError(t, err)

	tagsOffAfter, ok := offsets.Get(vtable.FieldOffsetIndex{ItemIndex: 0, FieldIndex: 4})
	require.True(t, ok)
	require.Equal(t, tagsOffBefore.Len(), tagsOffAfter.Len())
	require.NotEqual(t, tagsOffBefore.Start, tagsOffAfter.Start)

	decoded, _, err := Decode(vt, newBuf, func(name string) (Document, error) {
		return NewGenericDocument(name), nil
	})
	require.NoError(t, err)
	gotName, _ := decoded.(*GenericDocument).DocBufFieldValue("name")
	require.Equal(t, "Grace", gotName)
}

func TestMapReadsFieldWithoutFullDecode(t *testing.T) {
	vt := personVTable()
	doc := NewGenericDocument("Person")
	doc.Values["id"] = uuid.New()
	doc.Values["name"] = "Margaret Hamilton"
	doc.Values["age"] = uint32(44)
	doc.Values["nickname"] = nil
	doc.Values["tags"] = []any{}

	buf, offsets, err := Encode(vt, doc)
	require.NoError(t, err)

	ageField, err := vt.StructByName("Person")
	require.NoError(t, err)
	f, err := ageField.FieldByIndex(2)
	require.NoError(t, err)

	age, err := Map[uint32](vt, buf, offsets, f.OffsetIndex())
	require.NoError(t, err)
	require.Equal(t, uint32(44), age)
}

func TestMapReplaceShiftsLaterOffsets(t *testing.T) {
	vt := personVTable()
	doc := NewGenericDocument("Person")
	doc.Values["id"] = uuid.New()
	doc.Values["name"] = "Margaret Hamilton"
	doc.Values["age"] = uint32(44)
	doc.Values["nickname"] = nil
	doc.Values["tags"] = []any{"apollo"}

	buf, offsets, err := Encode(vt, doc)
	require.NoError(t, err)

	s, err := vt.StructByName("Person")
	require.NoError(t, err)
	ageF, err := s.FieldByIndex(2)
	require.NoError(t, err)

	tagsOffBefore, ok := offsets.Get(vtable.FieldOffsetIndex{ItemIndex: 0, FieldIndex: 4})
	require.True(t, ok)

	newBuf, err := MapReplace[uint32](vt, buf, offsets, ageF.OffsetIndex(), uint32(45))
	require.NoError(t, err)

	// fixed-width replace of equal size never moves anything.
	tagsOffAfter, ok := offsets.Get(vtable.FieldOffsetIndex{ItemIndex: 0, FieldIndex: 4})
	require.True(t, ok)
	require.Equal(t, tagsOffBefore, tagsOffAfter)

	decoded, _, err := Decode(vt, newBuf, func(name string) (Document, error) {
		return NewGenericDocument(name), nil
	})
	require.NoError(t, err)
	age, _ := decoded.(*GenericDocument).DocBufFieldValue("age")
	require.Equal(t, uint64(45), age)
}
