package script

import (
	"fmt"

	"github.com/ck3user75233/ck3raven/pkg/ck3err"
)

// ParseError is an alias for the shared strict-mode error type; the parser
// never constructs its own error kind since callers classify failures with
// errors.As(err, *ck3err.ParseError) regardless of which package raised them.
type ParseError = ck3err.ParseError

// Severity of a recovering-mode diagnostic.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is one recovering-mode parse problem.
type Diagnostic struct {
	Line    int      `json:"line"`
	Col     int      `json:"col"`
	EndLine int      `json:"end_line"`
	EndCol  int      `json:"end_col"`
	Sev     Severity `json:"severity"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
}

// ParseResult is the outcome of a recovering-mode parse.
type ParseResult struct {
	AST         *Root
	Diagnostics []Diagnostic
	Success     bool
}

const (
	maxRecursionDepth = 100
	maxDiagnostics    = 100
)

// opKinds is the set of token kinds that can serve as a binding Op between a
// Key and either "{" (Block) or an RHS (Assignment).
var opKinds = map[TokenKind]bool{
	TokenEquals:         true,
	TokenCompareEqual:   true,
	TokenQuestionEquals: true,
	TokenLT:             true,
	TokenGT:             true,
	TokenLE:             true,
	TokenGE:             true,
	TokenNotEqual:       true,
}

var keyKinds = map[TokenKind]bool{
	TokenIdentifier: true,
	TokenString:     true,
	TokenNumber:     true,
	TokenDate:       true,
	TokenBool:       true,
	TokenParam:      true,
}

// parser holds shared state for both strict and recovering modes; only the
// error-handling path differs (abort vs. collect-and-recover).
type parser struct {
	tokens      []Token
	pos         int
	filename    string
	recovering  bool
	depth       int
	diagnostics []Diagnostic
}

// Parse runs strict mode: the first unexpected token aborts with a
// *ParseError and no AST.
func Parse(filename, src string) (*Root, error) {
	lx := NewLexer(src)
	tokens, err := lx.Tokenize()
	if err != nil {
		if le, ok := err.(*LexerError); ok {
			return nil, &ParseError{Line: le.Line, Column: le.Column, Message: le.Message}
		}
		return nil, err
	}
	p := &parser{tokens: tokens, filename: filename, recovering: false}
	children, perr := p.parseContentStrict(false)
	if perr != nil {
		return nil, perr
	}
	return &Root{Filename: filename, Children: children}, nil
}

// ParseRecovering runs recovering mode: it never aborts. It collects
// diagnostics and always returns a (possibly partial) AST.
func ParseRecovering(filename, src string) *ParseResult {
	lx := NewLexer(src)
	tokens, err := lx.Tokenize()
	if err != nil {
		le, _ := err.(*LexerError)
		diag := Diagnostic{Sev: SeverityError, Code: "lexer_error", Message: "unterminated construct"}
		if le != nil {
			diag.Line, diag.Col, diag.EndLine, diag.EndCol = le.Line, le.Column, le.Line, le.Column
			diag.Message = le.Message
		}
		return &ParseResult{AST: &Root{Filename: filename}, Diagnostics: []Diagnostic{diag}, Success: false}
	}
	p := &parser{tokens: tokens, filename: filename, recovering: true}
	children := p.parseContentRecovering(false)
	return &ParseResult{
		AST:         &Root{Filename: filename, Children: children},
		Diagnostics: p.diagnostics,
		Success:     len(p.diagnostics) == 0,
	}
}

func (p *parser) cur() Token {
	if p.pos >= len(p.tokens) {
		return Token{Kind: TokenEOF}
	}
	return p.tokens[p.pos]
}

func (p *parser) peekAt(n int) Token {
	idx := p.pos + n
	if idx >= len(p.tokens) {
		return Token{Kind: TokenEOF}
	}
	return p.tokens[idx]
}

func (p *parser) advance() Token {
	t := p.cur()
	if p.pos < len(p.tokens) {
		p.pos++
	}
	return t
}

// skipSeparators consumes NEWLINE and COMMA tokens, which carry no grammar
// meaning outside of recovery heuristics and inline lists.
func (p *parser) skipSeparators() {
	for {
		k := p.cur().Kind
		if k == TokenNewline || k == TokenComma {
			p.advance()
			continue
		}
		break
	}
}

// --- strict mode -------------------------------------------------------

func (p *parser) parseContentStrict(inBlock bool) ([]Node, error) {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxRecursionDepth {
		t := p.cur()
		return nil, &ParseError{Line: t.Line, Column: t.Column, Message: "maximum nesting depth exceeded"}
	}

	var nodes []Node
	for {
		p.skipSeparators()
		t := p.cur()
		if t.Kind == TokenEOF {
			if inBlock {
				return nil, &ParseError{Line: t.Line, Column: t.Column, Message: "unexpected end of file, expected '}'"}
			}
			return nodes, nil
		}
		if t.Kind == TokenRBrace {
			if inBlock {
				return nodes, nil
			}
			return nil, &ParseError{Line: t.Line, Column: t.Column, Message: "unexpected '}'"}
		}
		node, err := p.parseStatementStrict()
		if err != nil {
			return nil, err
		}
		if node != nil {
			nodes = append(nodes, node)
		}
	}
}

func (p *parser) parseStatementStrict() (Node, error) {
	t := p.cur()

	if t.Kind == TokenLBracket {
		return p.parseListStrict()
	}

	if t.Kind == TokenMinus {
		return p.parseNegatedValue(), nil
	}

	if isOperatorLiteralKind(t.Kind) {
		p.advance()
		return &Value{Raw: t.Value, ValueType: ValueOperator, Line: t.Line, Column: t.Column}, nil
	}

	if keyKinds[t.Kind] {
		// Lookahead past the key to decide Block/Assignment/bare Value.
		next := p.peekAt(1)
		if opKinds[next.Kind] {
			p.advance() // key
			opTok := p.advance()
			if p.cur().Kind == TokenLBrace {
				return p.parseBlockStrict(t, opTok)
			}
			return p.parseAssignmentStrict(t, opTok)
		}
		p.advance()
		return makeValue(t), nil
	}

	return nil, &ParseError{Line: t.Line, Column: t.Column, Message: fmt.Sprintf("unexpected token %s", t.Kind)}
}

func (p *parser) parseBlockStrict(keyTok, opTok Token) (Node, error) {
	p.advance() // consume '{'
	children, err := p.parseContentStrict(true)
	if err != nil {
		return nil, err
	}
	if p.cur().Kind != TokenRBrace {
		t := p.cur()
		return nil, &ParseError{Line: t.Line, Column: t.Column, Message: "expected '}'"}
	}
	p.advance() // consume '}'
	return &Block{Name: keyTok.Value, Op: opTok.Value, Children: children, Line: keyTok.Line, Column: keyTok.Column}, nil
}

func (p *parser) parseAssignmentStrict(keyTok, opTok Token) (Node, error) {
	rhs, err := p.parseRHSStrict()
	if err != nil {
		return nil, err
	}
	return &Assignment{Key: keyTok.Value, Op: opTok.Value, Value: rhs, Line: keyTok.Line, Column: keyTok.Column}, nil
}

func (p *parser) parseRHSStrict() (Node, error) {
	t := p.cur()
	if t.Kind == TokenLBrace {
		// RHS ::= Block (anonymous, used as a value rather than a keyed
		// Assignment/Block pair — rare but grammatically allowed).
		p.advance()
		children, err := p.parseContentStrict(true)
		if err != nil {
			return nil, err
		}
		if p.cur().Kind != TokenRBrace {
			et := p.cur()
			return nil, &ParseError{Line: et.Line, Column: et.Column, Message: "expected '}'"}
		}
		p.advance()
		return &Block{Name: "", Op: "=", Children: children, Line: t.Line, Column: t.Column}, nil
	}
	if t.Kind == TokenMinus {
		return p.parseNegatedValue(), nil
	}
	if isOperatorLiteralKind(t.Kind) {
		p.advance()
		return &Value{Raw: t.Value, ValueType: ValueOperator, Line: t.Line, Column: t.Column}, nil
	}
	if keyKinds[t.Kind] {
		p.advance()
		return makeValue(t), nil
	}
	return nil, &ParseError{Line: t.Line, Column: t.Column, Message: fmt.Sprintf("unexpected token %s in value position", t.Kind)}
}

func (p *parser) parseListStrict() (Node, error) {
	open := p.advance() // '['
	var items []Node
	for {
		p.skipSeparators()
		t := p.cur()
		if t.Kind == TokenRBracket {
			p.advance()
			return &List{Items: items, Line: open.Line, Column: open.Column}, nil
		}
		if t.Kind == TokenEOF {
			return nil, &ParseError{Line: t.Line, Column: t.Column, Message: "unexpected end of file, expected ']'"}
		}
		node, err := p.parseStatementStrict()
		if err != nil {
			return nil, err
		}
		if node != nil {
			items = append(items, node)
		}
	}
}

// parseNegatedValue handles "-PARAM" and "-@IDENTIFIER" value forms.
func (p *parser) parseNegatedValue() Node {
	minus := p.advance() // '-'
	t := p.cur()
	switch {
	case t.Kind == TokenParam:
		p.advance()
		return &Value{Raw: "-" + t.Value, ValueType: ValueParam, Line: minus.Line, Column: minus.Column}
	case t.Kind == TokenIdentifier && len(t.Value) > 0 && t.Value[0] == '@':
		p.advance()
		return &Value{Raw: "-" + t.Value, ValueType: ValueScriptedValue, Line: minus.Line, Column: minus.Column}
	case t.Kind == TokenNumber:
		p.advance()
		return &Value{Raw: "-" + t.Value, ValueType: ValueNumber, Line: minus.Line, Column: minus.Column}
	default:
		return &Value{Raw: "-", ValueType: ValueOperator, Line: minus.Line, Column: minus.Column}
	}
}

func isOperatorLiteralKind(k TokenKind) bool {
	switch k {
	case TokenEquals, TokenCompareEqual, TokenQuestionEquals, TokenLT, TokenGT, TokenLE, TokenGE, TokenNotEqual:
		return true
	default:
		return false
	}
}

// makeValue classifies a key-shaped token into a Value leaf node.
func makeValue(t Token) *Value {
	switch t.Kind {
	case TokenString:
		return &Value{Raw: t.Value, ValueType: ValueString, Line: t.Line, Column: t.Column}
	case TokenNumber:
		return &Value{Raw: t.Value, ValueType: ValueNumber, Line: t.Line, Column: t.Column}
	case TokenDate:
		return &Value{Raw: t.Value, ValueType: ValueDate, Line: t.Line, Column: t.Column}
	case TokenBool:
		return &Value{Raw: t.Value, ValueType: ValueBool, Line: t.Line, Column: t.Column}
	case TokenParam:
		return &Value{Raw: t.Value, ValueType: ValueParam, Line: t.Line, Column: t.Column}
	case TokenIdentifier:
		if len(t.Value) > 1 && t.Value[0] == '@' && t.Value[1] == '[' {
			return &Value{Raw: t.Value, ValueType: ValueInlineExpr, Line: t.Line, Column: t.Column}
		}
		if len(t.Value) > 0 && t.Value[0] == '@' {
			return &Value{Raw: t.Value, ValueType: ValueScriptedValue, Line: t.Line, Column: t.Column}
		}
		return &Value{Raw: t.Value, ValueType: ValueIdentifier, Line: t.Line, Column: t.Column}
	default:
		return &Value{Raw: t.Value, ValueType: ValueIdentifier, Line: t.Line, Column: t.Column}
	}
}

// --- recovering mode -----------------------------------------------------
//
// Recovering mode never returns an error: every malformed construct becomes
// a Diagnostic. An unexpected token (including a stray top-level '}') is
// reported and skipped, and parsing continues with the token right after
// it; an unterminated block or list ends at EOF. It does not resynchronise
// to the next line start or to a matching closing brace; only exceeding the
// nesting limit discards tokens up to the brace that closes the current
// level (skipToBlockEnd). The build worker parses with strict Parse, not
// with this mode.

func (p *parser) addDiagnostic(sev Severity, code string, t Token, format string, args ...any) {
	if len(p.diagnostics) >= maxDiagnostics {
		return
	}
	p.diagnostics = append(p.diagnostics, Diagnostic{
		Line: t.Line, Col: t.Column, EndLine: t.Line, EndCol: t.Column,
		Sev: sev, Code: code, Message: fmt.Sprintf(format, args...),
	})
}

func (p *parser) parseContentRecovering(inBlock bool) []Node {
	p.depth++
	defer func() { p.depth-- }()
	if p.depth > maxRecursionDepth {
		p.addDiagnostic(SeverityError, "max_depth", p.cur(), "maximum nesting depth exceeded")
		p.skipToBlockEnd()
		return nil
	}

	var nodes []Node
	for {
		p.skipSeparators()
		t := p.cur()
		if t.Kind == TokenEOF {
			if inBlock {
				p.addDiagnostic(SeverityError, "unterminated_block", t, "unexpected end of file, expected '}'")
			}
			return nodes
		}
		if t.Kind == TokenRBrace {
			if inBlock {
				return nodes
			}
			p.addDiagnostic(SeverityError, "unmatched_rbrace", t, "unexpected '}'")
			p.advance()
			continue
		}
		node := p.parseStatementRecovering()
		if node != nil {
			nodes = append(nodes, node)
		}
	}
}

func (p *parser) parseStatementRecovering() Node {
	t := p.cur()

	if t.Kind == TokenLBracket {
		return p.parseListRecovering()
	}

	if t.Kind == TokenMinus {
		return p.parseNegatedValue()
	}

	if isOperatorLiteralKind(t.Kind) {
		p.advance()
		return &Value{Raw: t.Value, ValueType: ValueOperator, Line: t.Line, Column: t.Column}
	}

	if keyKinds[t.Kind] {
		next := p.peekAt(1)
		if opKinds[next.Kind] {
			p.advance() // key
			opTok := p.advance()
			if p.cur().Kind == TokenLBrace {
				return p.parseBlockRecovering(t, opTok)
			}
			return p.parseAssignmentRecovering(t, opTok)
		}
		p.advance()
		return makeValue(t)
	}

	p.addDiagnostic(SeverityError, "unexpected_token", t, "unexpected token %s", t.Kind)
	p.advance() // skip the offending token and keep going
	return nil
}

func (p *parser) parseBlockRecovering(keyTok, opTok Token) Node {
	p.advance() // consume '{'
	children := p.parseContentRecovering(true)
	if p.cur().Kind == TokenRBrace {
		p.advance()
	}
	return &Block{Name: keyTok.Value, Op: opTok.Value, Children: children, Line: keyTok.Line, Column: keyTok.Column}
}

func (p *parser) parseAssignmentRecovering(keyTok, opTok Token) Node {
	rhs := p.parseRHSRecovering()
	return &Assignment{Key: keyTok.Value, Op: opTok.Value, Value: rhs, Line: keyTok.Line, Column: keyTok.Column}
}

func (p *parser) parseRHSRecovering() Node {
	t := p.cur()
	if t.Kind == TokenLBrace {
		p.advance()
		children := p.parseContentRecovering(true)
		if p.cur().Kind == TokenRBrace {
			p.advance()
		}
		return &Block{Name: "", Op: "=", Children: children, Line: t.Line, Column: t.Column}
	}
	if t.Kind == TokenMinus {
		return p.parseNegatedValue()
	}
	if isOperatorLiteralKind(t.Kind) {
		p.advance()
		return &Value{Raw: t.Value, ValueType: ValueOperator, Line: t.Line, Column: t.Column}
	}
	if keyKinds[t.Kind] {
		p.advance()
		return makeValue(t)
	}
	p.addDiagnostic(SeverityError, "missing_value", t, "expected a value, found %s", t.Kind)
	return &Value{Raw: "", ValueType: ValueIdentifier, Line: t.Line, Column: t.Column}
}

func (p *parser) parseListRecovering() Node {
	open := p.advance() // '['
	var items []Node
	for {
		p.skipSeparators()
		t := p.cur()
		if t.Kind == TokenRBracket {
			p.advance()
			return &List{Items: items, Line: open.Line, Column: open.Column}
		}
		if t.Kind == TokenEOF {
			p.addDiagnostic(SeverityError, "unterminated_list", t, "unexpected end of file, expected ']'")
			return &List{Items: items, Line: open.Line, Column: open.Column}
		}
		node := p.parseStatementRecovering()
		if node != nil {
			items = append(items, node)
		}
	}
}

// skipToBlockEnd discards tokens until it finds a brace that plausibly
// closes the current nesting level, used only when depth-limiting aborts a
// subtree early.
func (p *parser) skipToBlockEnd() {
	depth := 0
	for {
		t := p.cur()
		if t.Kind == TokenEOF {
			return
		}
		if t.Kind == TokenLBrace {
			depth++
		}
		if t.Kind == TokenRBrace {
			if depth == 0 {
				return
			}
			depth--
		}
		p.advance()
	}
}
