package ctype_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dpk/c4go/internal/ctype"
)

func TestPtrAndDerefRoundTrip(t *testing.T) {
	base := ctype.CHAR
	p := base.Ptr()
	assert.True(t, p.IsPtr())
	assert.Equal(t, 1, p.Levels())
	assert.Equal(t, base, p.Deref())
	assert.Equal(t, base, p.Base())
}

func TestMultiLevelPointers(t *testing.T) {
	pp := ctype.INT.Ptr().Ptr()
	assert.Equal(t, 2, pp.Levels())
	assert.Equal(t, ctype.INT, pp.Base())
	assert.Equal(t, ctype.INT.Ptr(), pp.Deref())
	assert.Equal(t, "int**", pp.String())
}

func TestSize(t *testing.T) {
	assert.Equal(t, 1, ctype.CHAR.Size())
	assert.Equal(t, ctype.WordSize, ctype.INT.Size())
	assert.Equal(t, ctype.WordSize, ctype.CHAR.Ptr().Size())
	assert.Equal(t, ctype.WordSize, ctype.INT.Ptr().Size())
}

func TestString(t *testing.T) {
	assert.Equal(t, "char", ctype.CHAR.String())
	assert.Equal(t, "int", ctype.INT.String())
	assert.Equal(t, "void", ctype.VOID.String())
	assert.Equal(t, "char*", ctype.CHAR.Ptr().String())
}

func TestIsPtrFalseForBaseTypes(t *testing.T) {
	assert.False(t, ctype.CHAR.IsPtr())
	assert.False(t, ctype.INT.IsPtr())
	assert.False(t, ctype.VOID.IsPtr())
}
