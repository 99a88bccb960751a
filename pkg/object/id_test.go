package object

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tangramdotdev/tangram/pkg/tgerror"
)

func TestNewIDDeterministic(t *testing.T) {
	data := []byte("hello world")
	a := NewID(KindLeaf, data)
	b := NewID(KindLeaf, data)
	assert.Equal(t, a, b)
	assert.Equal(t, KindLeaf, a.Kind)
	assert.NotEmpty(t, a.Body)
}

func TestNewIDDistinguishesKind(t *testing.T) {
	data := []byte("same bytes")
	leaf := NewID(KindLeaf, data)
	branch := NewID(KindBranch, data)
	assert.Equal(t, leaf.Body, branch.Body)
	assert.NotEqual(t, leaf.String(), branch.String())
}

func TestParseIDRoundTrip(t *testing.T) {
	id := NewID(KindFile, []byte("contents"))
	parsed, err := ParseID(id.String())
	assert.NoError(t, err)
	assert.Equal(t, id, parsed)
}

func TestParseIDRejectsUnknownKind(t *testing.T) {
	_, err := ParseID("bogus_abc123")
	assert.Error(t, err)
	assert.Equal(t, tgerror.CodeInvalidKind, tgerror.CodeOf(err))
}

func TestParseIDRejectsMissingSeparator(t *testing.T) {
	_, err := ParseID("notanid")
	assert.Error(t, err)
	assert.Equal(t, tgerror.CodeInvalidKind, tgerror.CodeOf(err))
}

func TestVerifyID(t *testing.T) {
	data := []byte("artifact bytes")
	id := NewID(KindDirectory, data)
	assert.True(t, VerifyID(id, KindDirectory, data))
	assert.False(t, VerifyID(id, KindFile, data))
	assert.False(t, VerifyID(id, KindDirectory, []byte("tampered")))
}
