// Package parser turns FHIRPath text into an ast.Node tree.
//
// It is a hand-written Pratt parser following the FHIRPath operator
// precedence table (implies binds loosest, path invocation tightest).
package parser

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
)

// Operator precedence levels (higher binds tighter).
const (
	precLowest = iota
	precImplies
	precOr // or, xor
	precAnd
	precMembership // in, contains
	precEquality   // = ~ != !~
	precInequality // < > <= >=
	precUnion      // |
	precType       // is, as
	precAdditive   // + - &
	precMultiplicative
	precUnary
)

var keywordOps = map[string]int{
	"implies":  precImplies,
	"or":       precOr,
	"xor":      precOr,
	"and":      precAnd,
	"in":       precMembership,
	"contains": precMembership,
	"is":       precType,
	"as":       precType,
	"div":      precMultiplicative,
	"mod":      precMultiplicative,
}

var symbolOps = map[TokenType]int{
	TokenEq:       precEquality,
	TokenNe:       precEquality,
	TokenEquiv:    precEquality,
	TokenNotEquiv: precEquality,
	TokenLt:       precInequality,
	TokenGt:       precInequality,
	TokenLe:       precInequality,
	TokenGe:       precInequality,
	TokenPipe:     precUnion,
	TokenPlus:     precAdditive,
	TokenMinus:    precAdditive,
	TokenAmp:      precAdditive,
	TokenStar:     precMultiplicative,
	TokenSlash:    precMultiplicative,
}

var calendarUnits = map[string]bool{
	"year": true, "years": true, "month": true, "months": true,
	"week": true, "weeks": true, "day": true, "days": true,
	"hour": true, "hours": true, "minute": true, "minutes": true,
	"second": true, "seconds": true, "millisecond": true, "milliseconds": true,
}

// Parser parses FHIRPath expressions.
type Parser struct {
	lexer  *Lexer
	token  Token // current token
	peek   Token // next token
	errors []error
}

// NewParser creates a parser over input.
func NewParser(input string) *Parser {
	p := &Parser{lexer: NewLexer(input)}
	p.nextToken()
	p.nextToken()
	return p
}

// Parse parses a complete FHIRPath expression.
func Parse(input string) (ast.Node, error) {
	return NewParser(input).Parse()
}

// MustParse is Parse that panics on error. Intended for tests and fixed
// expressions compiled at startup.
func MustParse(input string) ast.Node {
	n, err := Parse(input)
	if err != nil {
		panic(err)
	}
	return n
}

// Parse parses the whole input and returns the first error encountered.
func (p *Parser) Parse() (ast.Node, error) {
	n := p.parseExpressionWithPrecedence(precLowest)
	if p.token.Type != TokenEOF && len(p.errors) == 0 {
		p.addError(p.token.Pos, fmt.Sprintf(ErrTrailingInput, p.token.Type, p.token.Literal))
	}
	if errs := p.lexer.Errors(); len(errs) > 0 {
		return nil, errs[0]
	}
	if len(p.errors) > 0 {
		return nil, p.errors[0]
	}
	return n, nil
}

func (p *Parser) nextToken() {
	p.token = p.peek
	p.peek = p.lexer.NextToken()
}

func (p *Parser) addError(pos ast.Position, msg string) {
	p.errors = append(p.errors, &ParseError{Pos: pos, Message: msg})
}

func (p *Parser) expect(t TokenType) bool {
	if p.token.Type != t {
		p.addError(p.token.Pos, fmt.Sprintf(ErrUnexpectedToken, p.token.Type, p.token.Literal, t))
		return false
	}
	p.nextToken()
	return true
}

// infixPrecedence returns the binding power of the current token as an
// infix operator, or precLowest if it is not one.
func (p *Parser) infixPrecedence() (int, string) {
	if p.token.Type == TokenIdent {
		if prec, ok := keywordOps[p.token.Literal]; ok {
			return prec, p.token.Literal
		}
		return precLowest, ""
	}
	if prec, ok := symbolOps[p.token.Type]; ok {
		return prec, p.token.Literal
	}
	return precLowest, ""
}

func (p *Parser) parseExpressionWithPrecedence(minPrecedence int) ast.Node {
	left := p.parsePrefixExpr()
	if left == nil {
		return nil
	}

	for {
		prec, op := p.infixPrecedence()
		if prec == precLowest || prec <= minPrecedence {
			return left
		}
		pos := p.token.Pos
		p.nextToken()

		if op == "is" || op == "as" {
			typeName := p.parseTypeSpecifier()
			left = &ast.TypeOperation{Op: op, Operand: left, TypeName: typeName, Position: pos}
			continue
		}

		right := p.parseExpressionWithPrecedence(prec)
		if right == nil {
			return nil
		}
		left = &ast.Operator{
			Kind:     ast.ClassifyBinary(op),
			Op:       op,
			Operands: []ast.Node{left, right},
			Position: pos,
		}
	}
}

// parseTypeSpecifier reads a possibly qualified type name (System.String).
func (p *Parser) parseTypeSpecifier() string {
	if p.token.Type != TokenIdent && p.token.Type != TokenDelimitedIdent {
		p.addError(p.token.Pos, fmt.Sprintf(ErrUnexpectedToken, p.token.Type, p.token.Literal, "type name"))
		return ""
	}
	name := p.token.Literal
	p.nextToken()
	for p.token.Type == TokenDot && (p.peek.Type == TokenIdent || p.peek.Type == TokenDelimitedIdent) {
		p.nextToken()
		name += "." + p.token.Literal
		p.nextToken()
	}
	return name
}

func (p *Parser) parsePrefixExpr() ast.Node {
	if p.token.Type == TokenPlus || p.token.Type == TokenMinus {
		pos := p.token.Pos
		op := p.token.Literal
		p.nextToken()
		operand := p.parseExpressionWithPrecedence(precUnary)
		if operand == nil {
			return nil
		}
		return &ast.Operator{Kind: ast.OpUnary, Op: op, Operands: []ast.Node{operand}, Position: pos}
	}
	term := p.parseTerm()
	if term == nil {
		return nil
	}
	return p.parsePostfix(term)
}

func (p *Parser) parsePostfix(n ast.Node) ast.Node {
	for {
		switch p.token.Type {
		case TokenDot:
			pos := p.token.Pos
			p.nextToken()
			member := p.parseMember()
			if member == nil {
				return nil
			}
			n = &ast.Invocation{Target: n, Member: member, Position: pos}
		case TokenLBracket:
			pos := p.token.Pos
			p.nextToken()
			index := p.parseExpressionWithPrecedence(precLowest)
			if index == nil || !p.expect(TokenRBracket) {
				return nil
			}
			n = &ast.Indexer{Target: n, Index: index, Position: pos}
		default:
			return n
		}
	}
}

// parseMember parses an identifier or function call after '.'. Keywords are
// valid member names here (x.contains('a'), x.as(Quantity)).
func (p *Parser) parseMember() ast.Node {
	switch p.token.Type {
	case TokenIdent, TokenDelimitedIdent:
		return p.parseIdentifierOrCall()
	}
	p.addError(p.token.Pos, fmt.Sprintf(ErrUnexpectedToken, p.token.Type, p.token.Literal, "identifier or function"))
	return nil
}

func (p *Parser) parseIdentifierOrCall() ast.Node {
	tok := p.token
	p.nextToken()
	if tok.Type == TokenIdent && p.token.Type == TokenLParen {
		p.nextToken()
		args := p.parseArguments()
		if args == nil && len(p.errors) > 0 {
			return nil
		}
		return &ast.FunctionCall{Name: tok.Literal, Args: args, Position: tok.Pos}
	}
	return &ast.Identifier{Name: tok.Literal, Position: tok.Pos}
}

func (p *Parser) parseArguments() []ast.Node {
	var args []ast.Node
	if p.token.Type == TokenRParen {
		p.nextToken()
		return args
	}
	for {
		arg := p.parseExpressionWithPrecedence(precLowest)
		if arg == nil {
			return nil
		}
		args = append(args, arg)
		if p.token.Type == TokenComma {
			p.nextToken()
			continue
		}
		if !p.expect(TokenRParen) {
			return nil
		}
		return args
	}
}

func (p *Parser) parseTerm() ast.Node {
	tok := p.token
	switch tok.Type {
	case TokenString:
		p.nextToken()
		return &ast.Literal{Kind: ast.LiteralString, Value: tok.Literal, Position: tok.Pos}
	case TokenNumber:
		p.nextToken()
		return p.parseNumber(tok)
	case TokenDate:
		p.nextToken()
		return &ast.Literal{Kind: ast.LiteralDate, Value: tok.Literal, Position: tok.Pos}
	case TokenDateTime:
		p.nextToken()
		return &ast.Literal{Kind: ast.LiteralDateTime, Value: tok.Literal, Position: tok.Pos}
	case TokenTime:
		p.nextToken()
		return &ast.Literal{Kind: ast.LiteralTime, Value: tok.Literal, Position: tok.Pos}
	case TokenVariable:
		p.nextToken()
		return &ast.Variable{Name: tok.Literal, Position: tok.Pos}
	case TokenLBrace:
		p.nextToken()
		if !p.expect(TokenRBrace) {
			return nil
		}
		return &ast.Literal{Kind: ast.LiteralEmpty, Position: tok.Pos}
	case TokenLParen:
		p.nextToken()
		inner := p.parseExpressionWithPrecedence(precLowest)
		if inner == nil || !p.expect(TokenRParen) {
			return nil
		}
		return inner
	case TokenIdent:
		if tok.Literal == "true" || tok.Literal == "false" {
			p.nextToken()
			return &ast.Literal{Kind: ast.LiteralBoolean, Value: tok.Literal, Position: tok.Pos}
		}
		return p.parseIdentifierOrCall()
	case TokenDelimitedIdent:
		return p.parseIdentifierOrCall()
	}
	p.addError(tok.Pos, fmt.Sprintf(ErrUnexpectedToken, tok.Type, tok.Literal, "expression"))
	return nil
}

// parseNumber builds an integer, decimal, or quantity literal. A number
// followed by a string or a calendar unit keyword is a quantity.
func (p *Parser) parseNumber(tok Token) ast.Node {
	kind := ast.LiteralInteger
	for i := 0; i < len(tok.Literal); i++ {
		if tok.Literal[i] == '.' {
			kind = ast.LiteralDecimal
			break
		}
	}
	switch {
	case p.token.Type == TokenString:
		unit := p.token.Literal
		p.nextToken()
		return &ast.Literal{Kind: ast.LiteralQuantity, Value: tok.Literal, Unit: unit, Position: tok.Pos}
	case p.token.Type == TokenIdent && calendarUnits[p.token.Literal]:
		unit := p.token.Literal
		p.nextToken()
		return &ast.Literal{Kind: ast.LiteralQuantity, Value: tok.Literal, Unit: unit, Position: tok.Pos}
	}
	return &ast.Literal{Kind: kind, Value: tok.Literal, Position: tok.Pos}
}
