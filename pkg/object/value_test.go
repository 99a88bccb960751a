package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutationSet(t *testing.T) {
	v := String("new")
	m := &Mutation{Kind: MutationKindSet, Value: &v}

	existing := String("old")
	result, err := m.Apply(&existing)
	assert.NoError(t, err)
	assert.Equal(t, "new", result.Str)
}

func TestMutationUnset(t *testing.T) {
	m := &Mutation{Kind: MutationKindUnset}
	existing := String("old")
	result, err := m.Apply(&existing)
	assert.NoError(t, err)
	assert.Nil(t, result)
}

func TestMutationSetIfUnset(t *testing.T) {
	v := String("fallback")
	m := &Mutation{Kind: MutationKindSetIfUnset, Value: &v}

	result, err := m.Apply(nil)
	assert.NoError(t, err)
	assert.Equal(t, "fallback", result.Str)

	existing := String("already set")
	result, err = m.Apply(&existing)
	assert.NoError(t, err)
	assert.Equal(t, "already set", result.Str)
}

func TestMutationPrependAppend(t *testing.T) {
	existing := Array(String("b"), String("c"))

	prepend := &Mutation{Kind: MutationKindPrepend, Value: valuePtr(String("a"))}
	result, err := prepend.Apply(&existing)
	assert.NoError(t, err)
	assert.Len(t, result.Array, 3)
	assert.Equal(t, "a", result.Array[0].Str)

	appendVal := &Mutation{Kind: MutationKindAppend, Value: valuePtr(String("d"))}
	result, err = appendVal.Apply(&existing)
	assert.NoError(t, err)
	assert.Equal(t, "d", result.Array[len(result.Array)-1].Str)
}

func TestMutationPrefixSuffix(t *testing.T) {
	existing := String("/usr/bin")
	prefix := &Mutation{
		Kind:      MutationKindPrefix,
		Template:  &Template{Components: []Value{String("/opt/bin")}},
		Separator: ":",
	}
	result, err := prefix.Apply(&existing)
	assert.NoError(t, err)
	assert.Equal(t, ValueKindTemplate, result.Kind)
	assert.Len(t, result.Template.Components, 3)
	assert.Equal(t, "/opt/bin", result.Template.Components[0].Str)
	assert.Equal(t, ":", result.Template.Components[1].Str)
	assert.Equal(t, "/usr/bin", result.Template.Components[2].Str)
}

func TestMutationMerge(t *testing.T) {
	existing := Map(map[string]Value{"a": Number(1)})
	merge := &Mutation{Kind: MutationKindMerge, Values: []Value{
		Map(map[string]Value{"b": Number(2)}),
	}}
	result, err := merge.Apply(&existing)
	assert.NoError(t, err)
	assert.Equal(t, float64(1), result.Map["a"].Number)
	assert.Equal(t, float64(2), result.Map["b"].Number)
}

func TestMutationMergeRejectsNonMap(t *testing.T) {
	existing := String("not a map")
	merge := &Mutation{Kind: MutationKindMerge, Values: []Value{Map(nil)}}
	_, err := merge.Apply(&existing)
	assert.Error(t, err)
}

func TestValueChildrenCollectsNestedObjectIDs(t *testing.T) {
	a := NewID(KindFile, []byte("a"))
	b := NewID(KindFile, []byte("b"))

	v := Array(
		Object(a),
		Map(map[string]Value{"nested": Object(b)}),
		String("literal"),
	)
	children := v.Children()
	assert.ElementsMatch(t, []ID{a, b}, children)
}

func valuePtr(v Value) *Value { return &v }
