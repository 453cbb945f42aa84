package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
)

// Lexer tokenizes FHIRPath input.
type Lexer struct {
	input   string
	pos     int  // current position in input
	readPos int  // reading position (after current char)
	ch      byte // current char under examination
	line    int  // current line number (1-based)
	col     int  // current column number (1-based)

	errors []error
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	l := &Lexer{
		input: input,
		line:  1,
		col:   0,
	}
	l.readChar()
	return l
}

// Errors returns lexical errors found so far.
func (l *Lexer) Errors() []error {
	return l.errors
}

// readChar advances to the next character.
func (l *Lexer) readChar() {
	if l.readPos >= len(l.input) {
		l.ch = 0 // ASCII NUL = EOF
	} else {
		l.ch = l.input[l.readPos]
	}
	l.pos = l.readPos
	l.readPos++

	if l.ch == '\n' {
		l.line++
		l.col = 0
	} else {
		l.col++
	}
}

// peekChar returns the next character without advancing.
func (l *Lexer) peekChar() byte {
	if l.readPos >= len(l.input) {
		return 0
	}
	return l.input[l.readPos]
}

func (l *Lexer) currentPos() ast.Position {
	return ast.Position{
		Line:   l.line,
		Column: l.col,
		Offset: l.pos,
	}
}

func (l *Lexer) errorf(pos ast.Position, msg string) {
	l.errors = append(l.errors, &LexError{Pos: pos, Message: msg})
}

// NextToken returns the next token.
func (l *Lexer) NextToken() Token {
	l.skipWhitespaceAndComments()

	pos := l.currentPos()
	single := func(t TokenType) Token {
		tok := Token{Type: t, Literal: string(l.ch), Pos: pos}
		l.readChar()
		return tok
	}
	double := func(t TokenType) Token {
		lit := l.input[l.pos : l.pos+2]
		l.readChar()
		l.readChar()
		return Token{Type: t, Literal: lit, Pos: pos}
	}

	switch l.ch {
	case 0:
		return Token{Type: TokenEOF, Pos: pos}
	case '.':
		return single(TokenDot)
	case ',':
		return single(TokenComma)
	case '(':
		return single(TokenLParen)
	case ')':
		return single(TokenRParen)
	case '[':
		return single(TokenLBracket)
	case ']':
		return single(TokenRBracket)
	case '{':
		return single(TokenLBrace)
	case '}':
		return single(TokenRBrace)
	case '+':
		return single(TokenPlus)
	case '-':
		return single(TokenMinus)
	case '*':
		return single(TokenStar)
	case '/':
		return single(TokenSlash)
	case '&':
		return single(TokenAmp)
	case '|':
		return single(TokenPipe)
	case '=':
		return single(TokenEq)
	case '~':
		return single(TokenEquiv)
	case '!':
		switch l.peekChar() {
		case '=':
			return double(TokenNe)
		case '~':
			return double(TokenNotEquiv)
		}
		return single(TokenIllegal)
	case '<':
		if l.peekChar() == '=' {
			return double(TokenLe)
		}
		return single(TokenLt)
	case '>':
		if l.peekChar() == '=' {
			return double(TokenGe)
		}
		return single(TokenGt)
	case '\'':
		s, ok := l.readQuoted('\'')
		if !ok {
			l.errorf(pos, ErrUnterminatedString)
			return Token{Type: TokenIllegal, Literal: s, Pos: pos}
		}
		return Token{Type: TokenString, Literal: s, Pos: pos}
	case '`':
		s, ok := l.readQuoted('`')
		if !ok {
			l.errorf(pos, ErrUnterminatedIdent)
			return Token{Type: TokenIllegal, Literal: s, Pos: pos}
		}
		return Token{Type: TokenDelimitedIdent, Literal: s, Pos: pos}
	case '@':
		return l.readDateTime(pos)
	case '$':
		l.readChar()
		name := l.readIdentifier()
		return Token{Type: TokenVariable, Literal: "$" + name, Pos: pos}
	case '%':
		l.readChar()
		var name string
		switch l.ch {
		case '`', '\'':
			quote := l.ch
			s, ok := l.readQuoted(quote)
			if !ok {
				l.errorf(pos, ErrUnterminatedIdent)
			}
			name = s
		default:
			name = l.readIdentifier()
		}
		return Token{Type: TokenVariable, Literal: "%" + name, Pos: pos}
	}

	if isLetter(l.ch) {
		return Token{Type: TokenIdent, Literal: l.readIdentifier(), Pos: pos}
	}
	if isDigit(l.ch) {
		return Token{Type: TokenNumber, Literal: l.readNumber(), Pos: pos}
	}
	return single(TokenIllegal)
}

func (l *Lexer) skipWhitespaceAndComments() {
	for {
		switch {
		case l.ch == ' ' || l.ch == '\t' || l.ch == '\n' || l.ch == '\r':
			l.readChar()
		case l.ch == '/' && l.peekChar() == '/':
			for l.ch != '\n' && l.ch != 0 {
				l.readChar()
			}
		case l.ch == '/' && l.peekChar() == '*':
			l.readChar()
			l.readChar()
			for l.ch != 0 && !(l.ch == '*' && l.peekChar() == '/') {
				l.readChar()
			}
			if l.ch != 0 {
				l.readChar()
				l.readChar()
			}
		default:
			return
		}
	}
}

func (l *Lexer) readIdentifier() string {
	start := l.pos
	for isLetter(l.ch) || isDigit(l.ch) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

// readNumber reads an integer or decimal. A '.' is only part of the number
// when a digit follows it, so 1.toString() still lexes as an invocation.
func (l *Lexer) readNumber() string {
	start := l.pos
	for isDigit(l.ch) {
		l.readChar()
	}
	if l.ch == '.' && isDigit(l.peekChar()) {
		l.readChar()
		for isDigit(l.ch) {
			l.readChar()
		}
	}
	return l.input[start:l.pos]
}

// readQuoted reads a quoted string or delimited identifier, resolving
// escape sequences. The opening quote is the current character.
func (l *Lexer) readQuoted(quote byte) (string, bool) {
	var sb strings.Builder
	l.readChar()
	for {
		switch l.ch {
		case 0:
			return sb.String(), false
		case quote:
			l.readChar()
			return sb.String(), true
		case '\\':
			pos := l.currentPos()
			l.readChar()
			switch l.ch {
			case '\'', '"', '`', '\\', '/':
				sb.WriteByte(l.ch)
			case 'n':
				sb.WriteByte('\n')
			case 'r':
				sb.WriteByte('\r')
			case 't':
				sb.WriteByte('\t')
			case 'f':
				sb.WriteByte('\f')
			case 'u':
				hex := ""
				for i := 0; i < 4; i++ {
					l.readChar()
					hex += string(l.ch)
				}
				r, err := strconv.ParseUint(hex, 16, 32)
				if err != nil {
					l.errorf(pos, "invalid unicode escape \\u"+hex)
				} else {
					sb.WriteRune(rune(r))
				}
			default:
				l.errorf(pos, fmt.Sprintf(ErrInvalidEscape, l.ch))
			}
			l.readChar()
		default:
			sb.WriteByte(l.ch)
			l.readChar()
		}
	}
}

// readDateTime reads a literal starting with '@': @2020, @2020-01-02T10:00Z,
// @T14:30.
func (l *Lexer) readDateTime(pos ast.Position) Token {
	l.readChar() // '@'
	if l.ch == 'T' {
		l.readChar()
		return Token{Type: TokenTime, Literal: l.readTimePart(), Pos: pos}
	}

	start := l.pos
	for isDigit(l.ch) || (l.ch == '-' && isDigit(l.peekChar())) {
		l.readChar()
	}
	date := l.input[start:l.pos]
	if len(date) < 4 {
		l.errorf(pos, fmt.Sprintf(ErrInvalidDate, "@"+date))
		return Token{Type: TokenIllegal, Literal: date, Pos: pos}
	}
	if l.ch != 'T' {
		return Token{Type: TokenDate, Literal: date, Pos: pos}
	}
	l.readChar()
	timePart := l.readTimePart()
	tz := ""
	switch {
	case l.ch == 'Z':
		tz = "Z"
		l.readChar()
	case (l.ch == '+' || l.ch == '-') && isDigit(l.peekChar()) && timePart != "":
		tzStart := l.pos
		l.readChar()
		for isDigit(l.ch) || l.ch == ':' {
			l.readChar()
		}
		tz = l.input[tzStart:l.pos]
	}
	return Token{Type: TokenDateTime, Literal: date + "T" + timePart + tz, Pos: pos}
}

func (l *Lexer) readTimePart() string {
	start := l.pos
	for isDigit(l.ch) || l.ch == ':' || (l.ch == '.' && isDigit(l.peekChar())) {
		l.readChar()
	}
	return l.input[start:l.pos]
}

func isLetter(ch byte) bool {
	return ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch == '_'
}

func isDigit(ch byte) bool {
	return ch >= '0' && ch <= '9'
}
