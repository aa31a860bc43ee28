package schema

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func testDescriptor(t *testing.T) *Descriptor {
	t.Helper()
	d, err := NewDescriptor(
		Field{Alias: "id", Type: TypeInt, PK: true, Table: "customers", Name: "id"},
		Field{Alias: "name", Type: TypeChar, Table: "customers", Name: "name"},
		Field{Alias: "balance", Type: TypeNumeric, Table: "customers", Name: "balance", Scale: 2},
	)
	require.NoError(t, err)
	return d
}

func TestNewDescriptor_RejectsDuplicateAlias(t *testing.T) {
	_, err := NewDescriptor(
		Field{Alias: "id", Type: TypeInt},
		Field{Alias: "id", Type: TypeChar},
	)
	assert.ErrorContains(t, err, "duplicate field alias")
}

func TestNewDescriptor_RejectsUnknownType(t *testing.T) {
	_, err := NewDescriptor(Field{Alias: "x", Type: "Q"})
	assert.ErrorContains(t, err, "unknown type code")
}

func TestNewDescriptor_DefaultsNameToAlias(t *testing.T) {
	d := MustDescriptor(Field{Alias: "x", Type: TypeChar})
	f, ok := d.Field("x")
	require.True(t, ok)
	assert.Equal(t, "x", f.Name)
}

func TestDescriptor_KeyFields(t *testing.T) {
	d := testDescriptor(t)
	keys := d.KeyFields()
	require.Len(t, keys, 1)
	assert.Equal(t, "id", keys[0].Alias)

	compound, err := d.WithKey([]string{"id", "name"})
	require.NoError(t, err)
	assert.Len(t, compound.KeyFields(), 2)

	_, err = d.WithKey([]string{"missing"})
	assert.Error(t, err)
}

func TestParseTypeCode(t *testing.T) {
	code, err := ParseTypeCode("n")
	require.NoError(t, err)
	assert.Equal(t, TypeNumeric, code)

	code, err = ParseTypeCode("datetime")
	require.NoError(t, err)
	assert.Equal(t, TypeDateTime, code)

	_, err = ParseTypeCode("float")
	assert.Error(t, err)
}

func TestDescriptor_YAMLRoundTrip(t *testing.T) {
	d := testDescriptor(t)
	out, err := yaml.Marshal(d)
	require.NoError(t, err)

	var back Descriptor
	require.NoError(t, yaml.Unmarshal(out, &back))
	assert.Equal(t, d.Fields(), back.Fields())
}

func TestDescriptor_JSONWireShape(t *testing.T) {
	d := testDescriptor(t)
	out, err := json.Marshal(d)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		["id","I",true,"customers","id",0],
		["name","C",false,"customers","name",0],
		["balance","N",false,"customers","balance",2]
	]`, string(out))

	var back Descriptor
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, d.Fields(), back.Fields())
}

func TestFieldFromTuple_Errors(t *testing.T) {
	_, err := FieldFromTuple([]any{"id", "I", true})
	assert.ErrorContains(t, err, "6")

	_, err = FieldFromTuple([]any{"id", "I", "yes", "t", "id", 0})
	assert.ErrorContains(t, err, "pk flag")
}

func TestFromColumns(t *testing.T) {
	d, err := FromColumns(
		[]string{"id", "name", "price", "born", "seen", "flag", "big", "data"},
		[]string{"INTEGER", "VARCHAR(40)", "DECIMAL(10,2)", "DATE", "TIMESTAMP", "BOOLEAN", "BIGINT", "BLOB"},
		"items", []string{"id"},
	)
	require.NoError(t, err)
	want := []TypeCode{TypeInt, TypeChar, TypeNumeric, TypeDate, TypeDateTime, TypeBool, TypeLong, TypeMemo}
	for i, f := range d.Fields() {
		assert.Equal(t, want[i], f.Type, f.Alias)
	}
	price, _ := d.Field("price")
	assert.Equal(t, 2, price.Scale)
	id, _ := d.Field("id")
	assert.True(t, id.PK)
}

func TestZero(t *testing.T) {
	assert.Equal(t, "0.00", Zero(Field{Type: TypeNumeric, Scale: 2}).(*apd.Decimal).String())
	assert.Equal(t, int64(0), Zero(Field{Type: TypeInt}))
	assert.Equal(t, false, Zero(Field{Type: TypeBool}))
	assert.Equal(t, time.Time{}, Zero(Field{Type: TypeDate}))
	assert.Equal(t, "", Zero(Field{Type: TypeChar}))
}

func TestCoerce(t *testing.T) {
	v, err := Coerce(Field{Type: TypeNumeric, Scale: 2}, 12.5)
	require.NoError(t, err)
	assert.Equal(t, "12.50", v.(*apd.Decimal).String())

	v, err = Coerce(Field{Type: TypeInt}, "42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)

	v, err = Coerce(Field{Type: TypeBool}, int64(1))
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Coerce(Field{Type: TypeDate}, "2024-03-15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), v)

	v, err = Coerce(Field{Type: TypeDateTime}, "2024-03-15 10:30:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 10, 30, 0, 0, time.UTC), v)

	v, err = Coerce(Field{Type: TypeChar}, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)

	v, err = Coerce(Field{Type: TypeInt}, nil)
	require.NoError(t, err)
	assert.Nil(t, v)

	_, err = Coerce(Field{Type: TypeInt}, "abc")
	assert.Error(t, err)
}

func TestMatches(t *testing.T) {
	assert.True(t, Matches(TypeChar, "x"))
	assert.True(t, Matches(TypeInt, nil))
	assert.True(t, Matches(TypeNumeric, apd.New(1, 0)))
	assert.False(t, Matches(TypeInt, 1.5))
	assert.False(t, Matches(TypeChar, int64(1)))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, nil))
	assert.False(t, Equal(nil, ""))
	assert.True(t, Equal(apd.New(150, -2), apd.New(15, -1)))
	assert.True(t, Equal(int64(3), 3))
	assert.True(t, Equal("a", "a"))
	assert.False(t, Equal("a", "A"))
	assert.True(t, Equal([]byte("ab"), []byte("ab")))
	assert.False(t, Equal("1", int64(1)))
}

func TestCompare(t *testing.T) {
	assert.Equal(t, -1, Compare(nil, int64(1), true))
	assert.Equal(t, 0, Compare("abc", "ABC", false))
	assert.Equal(t, 1, Compare("abc", "ABC", true))
	assert.Equal(t, -1, Compare(int64(2), 3.5, true))
	assert.Equal(t, 1, Compare(true, false, true))
	assert.Equal(t, -1, Compare(time.Unix(1, 0), time.Unix(2, 0), true))
}

func TestEqualCompare_LargeIntegers(t *testing.T) {
	const big = int64(1) << 53

	assert.False(t, Equal(big, big+1))
	assert.True(t, Equal(big+1, big+1))
	assert.True(t, Equal(int(big), big))
	assert.Equal(t, -1, Compare(big, big+1, true))
	assert.Equal(t, 1, Compare(big+1, big, true))
	assert.Equal(t, 0, Compare(big+1, big+1, true))

	assert.True(t, Equal(apd.New(big+1, 0), big+1))
	assert.False(t, Equal(apd.New(big, 0), big+1))
	assert.Equal(t, -1, Compare(big, apd.New(big+1, 0), true))
}
