package parser

import (
	"fmt"

	"github.com/leapstack-labs/fhirsql/pkg/fhirpath/ast"
)

// TokenType identifies the kind of a lexical token.
type TokenType int

// Token types.
const (
	TokenEOF TokenType = iota
	TokenIllegal
	TokenIdent
	TokenDelimitedIdent // `name`
	TokenString
	TokenNumber
	TokenDate
	TokenDateTime
	TokenTime
	TokenVariable // $this, %name

	TokenDot
	TokenComma
	TokenLParen
	TokenRParen
	TokenLBracket
	TokenRBracket
	TokenLBrace
	TokenRBrace
	TokenPlus
	TokenMinus
	TokenStar
	TokenSlash
	TokenAmp
	TokenPipe
	TokenEq
	TokenNe
	TokenEquiv
	TokenNotEquiv
	TokenLt
	TokenGt
	TokenLe
	TokenGe
)

var tokenNames = map[TokenType]string{
	TokenEOF:            "end of input",
	TokenIllegal:        "illegal character",
	TokenIdent:          "identifier",
	TokenDelimitedIdent: "delimited identifier",
	TokenString:         "string",
	TokenNumber:         "number",
	TokenDate:           "date",
	TokenDateTime:       "dateTime",
	TokenTime:           "time",
	TokenVariable:       "variable",
	TokenDot:            "'.'",
	TokenComma:          "','",
	TokenLParen:         "'('",
	TokenRParen:         "')'",
	TokenLBracket:       "'['",
	TokenRBracket:       "']'",
	TokenLBrace:         "'{'",
	TokenRBrace:         "'}'",
	TokenPlus:           "'+'",
	TokenMinus:          "'-'",
	TokenStar:           "'*'",
	TokenSlash:          "'/'",
	TokenAmp:            "'&'",
	TokenPipe:           "'|'",
	TokenEq:             "'='",
	TokenNe:             "'!='",
	TokenEquiv:          "'~'",
	TokenNotEquiv:       "'!~'",
	TokenLt:             "'<'",
	TokenGt:             "'>'",
	TokenLe:             "'<='",
	TokenGe:             "'>='",
}

func (t TokenType) String() string {
	if s, ok := tokenNames[t]; ok {
		return s
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is a lexical token with its source position.
type Token struct {
	Type    TokenType
	Literal string
	Pos     ast.Position
}
