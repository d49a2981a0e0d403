package lexer_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dpk/c4go/internal/arena"
	"github.com/dpk/c4go/internal/lexer"
	"github.com/dpk/c4go/internal/symtab"
	"github.com/dpk/c4go/internal/token"
)

func newLexer(t *testing.T, src string) *lexer.Lexer {
	t.Helper()
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	data := arena.NewBytes("data", 256)
	return lexer.New([]byte(src), syms, data)
}

func tokenize(t *testing.T, src string) []token.Token {
	t.Helper()
	lx := newLexer(t, src)
	var toks []token.Token
	for {
		tok, err := lx.Next()
		require.NoError(t, err)
		toks = append(toks, tok)
		if tok.Kind == token.EOF {
			return toks
		}
	}
}

func TestKeywordsRecognized(t *testing.T) {
	toks := tokenize(t, "int char void while for if else return enum sizeof")
	kinds := make([]token.Kind, 0, len(toks))
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []token.Kind{
		token.Int, token.Char_, token.Void, token.While, token.For,
		token.If, token.Else, token.Return, token.Enum, token.Sizeof,
		token.EOF,
	}, kinds)
}

func TestIdentifierInterning(t *testing.T) {
	lx := newLexer(t, "foo foo bar")
	first, err := lx.Next()
	require.NoError(t, err)
	second, err := lx.Next()
	require.NoError(t, err)
	third, err := lx.Next()
	require.NoError(t, err)

	assert.Equal(t, token.Ident, first.Kind)
	assert.Equal(t, first.Value, second.Value, "two sightings of the same name share one symbol id")
	assert.NotEqual(t, first.Value, third.Value)
}

func TestNumberLiterals(t *testing.T) {
	lx := newLexer(t, "0 42 0x2A 052")
	want := []int64{0, 42, 42, 42}
	for _, w := range want {
		tok, err := lx.Next()
		require.NoError(t, err)
		assert.Equal(t, token.Num, tok.Kind)
		assert.Equal(t, w, tok.Value)
	}
}

func TestMalformedOctalLiteral(t *testing.T) {
	lx := newLexer(t, "089")
	_, err := lx.Next()
	assert.Error(t, err)
}

func TestCharLiteralAndEscapes(t *testing.T) {
	lx := newLexer(t, `'a' '\n' '\0'`)
	want := []int64{'a', 10, 0}
	for _, w := range want {
		tok, err := lx.Next()
		require.NoError(t, err)
		assert.Equal(t, token.Char, tok.Kind)
		assert.Equal(t, w, tok.Value)
	}
}

func TestUnterminatedCharLiteral(t *testing.T) {
	lx := newLexer(t, "'a")
	_, err := lx.Next()
	assert.Error(t, err)
}

func TestStringLiteralAppendsToDataArena(t *testing.T) {
	syms := symtab.New()
	lexer.PrimeKeywords(syms)
	data := arena.NewBytes("data", 256)
	lx := lexer.New([]byte(`"hi"`), syms, data)

	tok, err := lx.Next()
	require.NoError(t, err)
	assert.Equal(t, token.Str, tok.Kind)
	assert.Equal(t, byte('h'), data.Slice()[tok.Value])
	assert.Equal(t, byte('i'), data.Slice()[tok.Value+1])
	assert.Equal(t, byte(0), data.Slice()[tok.Value+2], "string literal is null-terminated")
}

func TestUnterminatedString(t *testing.T) {
	lx := newLexer(t, `"unterminated`)
	_, err := lx.Next()
	assert.Error(t, err)
}

func TestMultiCharOperators(t *testing.T) {
	toks := tokenize(t, "<= >= == != << >> && || -> ++ --")
	kinds := make([]token.Kind, 0, len(toks)-1)
	for _, tok := range toks[:len(toks)-1] {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []token.Kind{
		token.Le, token.Ge, token.Eq, token.Ne, token.Shl, token.Shr,
		token.Lan, token.Lor, token.Arrow, token.Inc, token.Dec,
	}, kinds)
}

func TestCommentsAndPreprocessorLinesAreSkipped(t *testing.T) {
	toks := tokenize(t, "#include <stdio.h>\nint // trailing comment\nx;")
	var kinds []token.Kind
	for _, tok := range toks {
		kinds = append(kinds, tok.Kind)
	}
	assert.Equal(t, []token.Kind{token.Int, token.Ident, token.Semi, token.EOF}, kinds)
}

func TestUnrecognizedByte(t *testing.T) {
	lx := newLexer(t, "@")
	_, err := lx.Next()
	assert.Error(t, err)
	var lexErr lexer.Error
	assert.ErrorAs(t, err, &lexErr)
}

func TestLineTracking(t *testing.T) {
	lx := newLexer(t, "int\nx\n=\n1")
	var lastLine int
	for {
		tok, err := lx.Next()
		require.NoError(t, err)
		if tok.Kind == token.EOF {
			break
		}
		lastLine = tok.Line
	}
	assert.Equal(t, 4, lastLine)
}
