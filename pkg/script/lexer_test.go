package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tokenKinds(tokens []Token) []TokenKind {
	kinds := make([]TokenKind, len(tokens))
	for i, t := range tokens {
		kinds[i] = t.Kind
	}
	return kinds
}

func TestLexer_SimpleAssignment(t *testing.T) {
	tokens, err := NewLexer(`trigger = yes`).Tokenize()
	require.NoError(t, err)

	assert.Equal(t, []TokenKind{TokenIdentifier, TokenEquals, TokenBool, TokenEOF}, tokenKinds(tokens))
	assert.Equal(t, "yes", tokens[2].Value)
}

func TestLexer_Block(t *testing.T) {
	tokens, err := NewLexer("limit = {\n\talways = yes\n}").Tokenize()
	require.NoError(t, err)

	assert.Equal(t, []TokenKind{
		TokenIdentifier, TokenEquals, TokenLBrace, TokenNewline,
		TokenIdentifier, TokenEquals, TokenBool, TokenNewline,
		TokenRBrace, TokenEOF,
	}, tokenKinds(tokens))
}

func TestLexer_String(t *testing.T) {
	tokens, err := NewLexer(`name = "John \"the Black\" Doe"`).Tokenize()
	require.NoError(t, err)

	require.Len(t, tokens, 4)
	assert.Equal(t, TokenString, tokens[2].Kind)
	assert.Equal(t, `John "the Black" Doe`, tokens[2].Value)
}

func TestLexer_UnterminatedString(t *testing.T) {
	_, err := NewLexer(`name = "unterminated`).Tokenize()
	require.Error(t, err)

	var lexErr *LexerError
	require.ErrorAs(t, err, &lexErr)
}

func TestLexer_Comment(t *testing.T) {
	tokens, err := NewLexer("a = b # trailing comment\nc = d").Tokenize()
	require.NoError(t, err)

	// Comments are discarded entirely, not surfaced as tokens.
	for _, tok := range tokens {
		assert.NotEqual(t, TokenComment, tok.Kind)
	}
	assert.Equal(t, []TokenKind{
		TokenIdentifier, TokenEquals, TokenIdentifier, TokenNewline,
		TokenIdentifier, TokenEquals, TokenIdentifier, TokenEOF,
	}, tokenKinds(tokens))
}

func TestLexer_Operators(t *testing.T) {
	cases := []struct {
		src  string
		kind TokenKind
	}{
		{"=", TokenEquals},
		{"==", TokenCompareEqual},
		{"?=", TokenQuestionEquals},
		{"!=", TokenNotEqual},
		{"<", TokenLT},
		{"<=", TokenLE},
		{">", TokenGT},
		{">=", TokenGE},
	}
	for _, c := range cases {
		t.Run(c.src, func(t *testing.T) {
			tokens, err := NewLexer("a " + c.src + " b").Tokenize()
			require.NoError(t, err)
			require.Len(t, tokens, 4)
			assert.Equal(t, c.kind, tokens[1].Kind)
		})
	}
}

func TestLexer_NumberVsDate(t *testing.T) {
	tokens, err := NewLexer("1066.1.1").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenDate, tokens[0].Kind)
	assert.Equal(t, "1066.1.1", tokens[0].Value)
}

func TestLexer_NegativeNumber(t *testing.T) {
	tokens, err := NewLexer("value = -5.5").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 4)
	assert.Equal(t, TokenNumber, tokens[2].Kind)
	assert.Equal(t, "-5.5", tokens[2].Value)
}

func TestLexer_Param(t *testing.T) {
	tokens, err := NewLexer("$NAME$").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenParam, tokens[0].Kind)
	assert.Equal(t, "$NAME$", tokens[0].Value)
}

func TestLexer_UnterminatedParam(t *testing.T) {
	_, err := NewLexer("$NAME").Tokenize()
	require.Error(t, err)
}

func TestLexer_ScriptedRef(t *testing.T) {
	tokens, err := NewLexer("@my_scripted_value").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenIdentifier, tokens[0].Kind)
	assert.Equal(t, "@my_scripted_value", tokens[0].Value)
}

func TestLexer_InlineExpression(t *testing.T) {
	tokens, err := NewLexer("@[1 + 2]").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, TokenIdentifier, tokens[0].Kind)
	assert.Equal(t, "@[1 + 2]", tokens[0].Value)
}

func TestLexer_NestedInlineExpressionBrackets(t *testing.T) {
	tokens, err := NewLexer("@[ (1 + 2) * 3 ]").Tokenize()
	require.NoError(t, err)
	require.Len(t, tokens, 2)
	assert.Equal(t, "@[ (1 + 2) * 3 ]", tokens[0].Value)
}

func TestLexer_BoolLiterals(t *testing.T) {
	tokens, err := NewLexer("a = yes\nb = no").Tokenize()
	require.NoError(t, err)

	var bools []Token
	for _, tok := range tokens {
		if tok.Kind == TokenBool {
			bools = append(bools, tok)
		}
	}
	require.Len(t, bools, 2)
	assert.Equal(t, "yes", bools[0].Value)
	assert.Equal(t, "no", bools[1].Value)
}

func TestLexer_BOMStripped(t *testing.T) {
	src := "\xEF\xBB\xBFa = b"
	tokens, err := NewLexer(src).Tokenize()
	require.NoError(t, err)
	require.NotEmpty(t, tokens)
	assert.Equal(t, "a", tokens[0].Value)
	assert.Equal(t, 0, tokens[0].Column)
}

func TestLexer_LineColumnTracking(t *testing.T) {
	tokens, err := NewLexer("a = b\nc = d").Tokenize()
	require.NoError(t, err)

	// Find the second identifier's line number.
	var cTok Token
	for _, tok := range tokens {
		if tok.Kind == TokenIdentifier && tok.Value == "c" {
			cTok = tok
		}
	}
	assert.Equal(t, 2, cTok.Line)
	assert.Equal(t, 0, cTok.Column)
}
