package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueID_RoundTrip(t *testing.T) {
	id := NewUniqueID("testng").
		Append(KindClass, "com.example.CalcTest").
		Append(KindMethod, MethodKey("divides", []string{"int", "java.lang.String"}, 1)).
		Append(KindInvocation, "3")

	s := id.String()
	assert.Equal(t, "[engine:testng]/[class:com.example.CalcTest]/[method:divides(int,java.lang.String)@1]/[invoc:3]", s)

	parsed, err := ParseUniqueID(s)
	require.NoError(t, err)
	assert.True(t, id.Equal(parsed))
	assert.True(t, id.Parent().Equal(parsed.Parent()))
	assert.Equal(t, Segment{Kind: KindInvocation, Value: "3"}, parsed.Last())

	text, err := id.MarshalText()
	require.NoError(t, err)
	var decoded UniqueID
	require.NoError(t, decoded.UnmarshalText(text))
	assert.True(t, id.Equal(decoded))
}

func TestUniqueID_AppendDoesNotAlias(t *testing.T) {
	base := NewUniqueID("e").Append(KindClass, "C")
	a := base.Append(KindMethod, "a()")
	b := base.Append(KindMethod, "b()")
	assert.Equal(t, "a()", a.Last().Value)
	assert.Equal(t, "b()", b.Last().Value)
	assert.Len(t, base, 2)
}

func TestParseUniqueID_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty", input: ""},
		{name: "no brackets", input: "engine:x"},
		{name: "missing kind", input: "[engine:x]/[C]"},
		{name: "empty value", input: "[engine:]"},
		{name: "not rooted at engine", input: "[class:C]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseUniqueID(tt.input)
			assert.ErrorIs(t, err, ErrInvalidUniqueID)
		})
	}
}

func TestSelectorFromID(t *testing.T) {
	tests := []struct {
		name string
		id   string
		want Selector
	}{
		{
			name: "class",
			id:   "[engine:testng]/[class:com.example.A]",
			want: Selector{ClassName: "com.example.A", InstanceIndex: -1, InvocationIndex: -1},
		},
		{
			name: "method without parameters",
			id:   "[engine:testng]/[class:com.example.A]/[method:run()]",
			want: Selector{ClassName: "com.example.A", MethodName: "run", InstanceIndex: -1, InvocationIndex: -1},
		},
		{
			name: "factory instance invocation",
			id:   "[engine:testng]/[class:com.example.A]/[method:run(int,long)@2]/[invoc:5]",
			want: Selector{
				ClassName:       "com.example.A",
				MethodName:      "run",
				ParameterTypes:  []string{"int", "long"},
				InstanceIndex:   2,
				InvocationIndex: 5,
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := ParseUniqueID(tt.id)
			require.NoError(t, err)
			sel, err := SelectorFromID(id)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sel)
		})
	}

	t.Run("invocation index must be numeric", func(t *testing.T) {
		id, err := ParseUniqueID("[engine:e]/[class:A]/[method:m()]/[invoc:x]")
		require.NoError(t, err)
		_, err = SelectorFromID(id)
		assert.ErrorIs(t, err, ErrInvalidUniqueID)
	})

	t.Run("class is required", func(t *testing.T) {
		_, err := SelectorFromID(NewUniqueID("e"))
		assert.ErrorIs(t, err, ErrInvalidUniqueID)
	})
}

func TestSelector_String(t *testing.T) {
	sel := Selector{ClassName: "A", MethodName: "m", ParameterTypes: []string{"int"}, InstanceIndex: 1, InvocationIndex: 2}
	assert.Equal(t, "A#m(int)@1[2]", sel.String())
	assert.Equal(t, "A", Selector{ClassName: "A", InstanceIndex: -1, InvocationIndex: -1}.String())
}

func TestMethodKey(t *testing.T) {
	assert.Equal(t, "m()", MethodKey("m", nil, -1))
	assert.Equal(t, "m(int,long)", MethodKey("m", []string{"int", "long"}, -1))
	assert.Equal(t, "m(int)@0", MethodKey("m", []string{"int"}, 0))

	name, params, instance, err := ParseMethodKey("m(int[],java.util.Map)@12")
	require.NoError(t, err)
	assert.Equal(t, "m", name)
	assert.Equal(t, []string{"int[]", "java.util.Map"}, params)
	assert.Equal(t, 12, instance)

	_, _, _, err = ParseMethodKey("noparens")
	assert.ErrorIs(t, err, ErrInvalidUniqueID)
}
