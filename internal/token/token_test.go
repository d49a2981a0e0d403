package token_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dpk/c4go/internal/token"
)

func TestKindString(t *testing.T) {
	assert.Equal(t, "+", token.Add.String())
	assert.Equal(t, "while", token.While.String())
	assert.Contains(t, token.Kind(9999).String(), "Kind(")
}

func TestTokenString(t *testing.T) {
	assert.Equal(t, "ident(foo)", token.Token{Kind: token.Ident, Name: "foo"}.String())
	assert.Equal(t, "number(7)", token.Token{Kind: token.Num, Value: 7}.String())
	assert.Equal(t, "str(@3)", token.Token{Kind: token.Str, Value: 3}.String())
	assert.Equal(t, ";", token.Token{Kind: token.Semi}.String())
}

func TestKeywordTablesAgree(t *testing.T) {
	assert.Len(t, token.KeywordKinds, len(token.KeywordSpellings))
	for _, k := range token.KeywordKinds {
		spelling, ok := token.KeywordSpellings[k]
		assert.True(t, ok, "missing spelling for %v", k)
		assert.NotEmpty(t, spelling)
	}
}
