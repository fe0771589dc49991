package vtable

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleVTable() *VTable {
	v := New("docbuf.test", "Signed")
	maxVal := NumericValue{Kind: KindU8, Int: big.NewInt(255)}
	minVal := NumericValue{Kind: KindU8, Int: big.NewInt(200)}
	re := "^[a-f0-9-]{36}$"
	length := uint64(5)

	v.AddStruct(Struct{
		Name:      "Signed",
		NumFields: 3,
		Fields: []Field{
			{Index: 0, Name: "u8_value", Type: FieldType{Kind: KindU8}, Rules: FieldRules{MinValue: &minVal, MaxValue: &maxVal}},
			{Index: 1, Name: "s", Type: FieldType{Kind: KindString}, Rules: FieldRules{Length: &length}},
			{Index: 2, Name: "id", Type: FieldType{Kind: KindString}, Rules: FieldRules{Regex: &re}},
		},
	})
	return v
}

func TestVTableRoundTrip(t *testing.T) {
	v := sampleVTable()

	encoded, err := v.ToBytes()
	require.NoError(t, err)

	decoded, err := FromBytes(encoded)
	require.NoError(t, err)

	require.Equal(t, v.Namespace, decoded.Namespace)
	require.Equal(t, v.Root, decoded.Root)
	require.Equal(t, v.NumItems, decoded.NumItems)
	require.Equal(t, v.NumFields, decoded.NumFields)
	require.Equal(t, v.Id(), decoded.Id())

	s, err := decoded.StructByName("Signed")
	require.NoError(t, err)
	require.Len(t, s.Fields, 3)

	f, err := s.FieldByIndex(0)
	require.NoError(t, err)
	require.Equal(t, "u8_value", f.Name)
	require.NotNil(t, f.Rules.MinValue)
	require.Equal(t, int64(200), f.Rules.MinValue.Int.Int64())
	require.NotNil(t, f.Rules.MaxValue)
	require.Equal(t, int64(255), f.Rules.MaxValue.Int.Int64())
}

func TestVTableIdStability(t *testing.T) {
	v1 := sampleVTable()
	v2 := sampleVTable()

	require.Equal(t, v1.Id(), v2.Id())
}

func TestVTableIdDiffersByRoot(t *testing.T) {
	v1 := New("ns", "Alpha")
	v1.AddStruct(Struct{Name: "Alpha", NumFields: 0})

	v2 := New("ns", "Beta")
	v2.AddStruct(Struct{Name: "Beta", NumFields: 0})

	require.NotEqual(t, v1.Id(), v2.Id())
}

func TestFieldRulesValidateLength(t *testing.T) {
	length := uint64(5)
	rules := FieldRules{Length: &length}

	require.NoError(t, rules.ValidateLength(5))
	require.Error(t, rules.ValidateLength(2))
}

func TestFieldRulesValidateValue(t *testing.T) {
	minVal := NumericValue{Kind: KindU8, Int: big.NewInt(200)}
	maxVal := NumericValue{Kind: KindU8, Int: big.NewInt(255)}
	rules := FieldRules{MinValue: &minVal, MaxValue: &maxVal}

	require.NoError(t, rules.ValidateValue(NumericValue{Kind: KindU8, Int: big.NewInt(255)}))
	require.Error(t, rules.ValidateValue(NumericValue{Kind: KindU8, Int: big.NewInt(199)}))
}

func TestFieldRulesValidateRegex(t *testing.T) {
	re := "^[a-f0-9]{8}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{4}-[a-f0-9]{12}$"
	rules := FieldRules{Regex: &re}

	require.NoError(t, rules.ValidateRegex("0f9a72d4-cc66-11ee-885c-6b81f58bbf63"))
	require.Error(t, rules.ValidateRegex("hello"))
}
