package lexer

import (
	"errors"
	"testing"
)

func TestLexBasic(t *testing.T) {
	tokens, err := Lex(`cache=users | head 10`)
	if err != nil {
		t.Fatal(err)
	}
	expected := []TokenType{TokenIdent, TokenEquals, TokenIdent, TokenPipe, TokenIdent, TokenInt, TokenEOF}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, tt := range expected {
		if tokens[i].Type != tt {
			t.Errorf("token %d: expected %s, got %s (%q)", i, tt, tokens[i].Type, tokens[i].Val)
		}
	}
}

func TestLexFilter(t *testing.T) {
	tokens, err := Lex(`filter age > 20 and city == "NY"`)
	if err != nil {
		t.Fatal(err)
	}
	expected := []TokenType{
		TokenIdent, TokenIdent, TokenGt, TokenInt,
		TokenAnd, TokenIdent, TokenEq, TokenString, TokenEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, tt := range expected {
		if tokens[i].Type != tt {
			t.Errorf("token %d: expected %s, got %s (%q)", i, tt, tokens[i].Type, tokens[i].Val)
		}
	}
	// Check string value
	if tokens[7].Val != "NY" {
		t.Errorf("string token value: expected 'NY', got %q", tokens[7].Val)
	}
}

func TestLexDottedIdent(t *testing.T) {
	tokens, err := Lex("users.csv | head 3")
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Type != TokenIdent {
		t.Errorf("expected IDENT, got %s", tokens[0].Type)
	}
	if tokens[0].Val != "users.csv" {
		t.Errorf("expected 'users.csv', got %q", tokens[0].Val)
	}
}

func TestLexSubSearch(t *testing.T) {
	tokens, err := Lex(`join key [cache=b | head 5]`)
	if err != nil {
		t.Fatal(err)
	}
	expected := []TokenType{
		TokenIdent, TokenIdent, TokenLBracket, TokenIdent, TokenEquals, TokenIdent,
		TokenPipe, TokenIdent, TokenInt, TokenRBracket, TokenEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, tt := range expected {
		if tokens[i].Type != tt {
			t.Errorf("token %d: expected %s, got %s (%q)", i, tt, tokens[i].Type, tokens[i].Val)
		}
	}
}

func TestLexFloats(t *testing.T) {
	tokens, err := Lex("3.14")
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Type != TokenFloat {
		t.Errorf("expected FLOAT, got %s", tokens[0].Type)
	}
	if tokens[0].Val != "3.14" {
		t.Errorf("expected '3.14', got %q", tokens[0].Val)
	}
}

func TestLexNegativeNumber(t *testing.T) {
	tokens, err := Lex("age > -5")
	if err != nil {
		t.Fatal(err)
	}
	expected := []TokenType{TokenIdent, TokenGt, TokenInt, TokenEOF}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	if tokens[2].Val != "-5" {
		t.Errorf("expected '-5', got %q", tokens[2].Val)
	}
}

func TestLexSortPrefix(t *testing.T) {
	// The minus before a field name is an operator, not a sign.
	tokens, err := Lex("sort -total")
	if err != nil {
		t.Fatal(err)
	}
	expected := []TokenType{TokenIdent, TokenMinus, TokenIdent, TokenEOF}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
}

func TestLexOperators(t *testing.T) {
	tokens, err := Lex("== != <= >= < > + - * /")
	if err != nil {
		t.Fatal(err)
	}
	expected := []TokenType{
		TokenEq, TokenNeq, TokenLte, TokenGte, TokenLt, TokenGt,
		TokenPlus, TokenMinus, TokenStar, TokenSlash, TokenEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, tt := range expected {
		if tokens[i].Type != tt {
			t.Errorf("token %d: expected %s, got %s", i, tt, tokens[i].Type)
		}
	}
}

func TestLexKeywords(t *testing.T) {
	tokens, err := Lex("stats sum(amount) as total by department")
	if err != nil {
		t.Fatal(err)
	}
	expected := []TokenType{
		TokenIdent, TokenIdent, TokenLParen, TokenIdent, TokenRParen,
		TokenAs, TokenIdent, TokenBy, TokenIdent, TokenEOF,
	}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
	for i, tt := range expected {
		if tokens[i].Type != tt {
			t.Errorf("token %d: expected %s, got %s (%q)", i, tt, tokens[i].Type, tokens[i].Val)
		}
	}
}

func TestLexStringEscape(t *testing.T) {
	tokens, err := Lex(`"hello \"world\""`)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[0].Val != `hello "world"` {
		t.Errorf("expected 'hello \"world\"', got %q", tokens[0].Val)
	}
}

func TestLexSingleQuoted(t *testing.T) {
	tokens, err := Lex(`filter name == 'Alice'`)
	if err != nil {
		t.Fatal(err)
	}
	if tokens[3].Type != TokenString || tokens[3].Val != "Alice" {
		t.Errorf("expected STRING 'Alice', got %s %q", tokens[3].Type, tokens[3].Val)
	}
}

func TestLexPipeInsideString(t *testing.T) {
	tokens, err := Lex(`filter name == "a|b" | head 1`)
	if err != nil {
		t.Fatal(err)
	}
	pipes := 0
	for _, tok := range tokens {
		if tok.Type == TokenPipe {
			pipes++
		}
	}
	if pipes != 1 {
		t.Errorf("expected 1 pipe token, got %d", pipes)
	}
	if tokens[3].Type != TokenString || tokens[3].Val != "a|b" {
		t.Errorf("expected STRING 'a|b', got %s %q", tokens[3].Type, tokens[3].Val)
	}
}

func TestLexRegexEscapesPreserved(t *testing.T) {
	// Unknown escapes keep their backslash so patterns reach rex intact.
	tokens, err := Lex(`rex field=msg "(?<code>\d+)"`)
	if err != nil {
		t.Fatal(err)
	}
	last := tokens[len(tokens)-2]
	if last.Type != TokenString {
		t.Fatalf("expected STRING, got %s", last.Type)
	}
	if last.Val != `(?<code>\d+)` {
		t.Errorf("expected pattern preserved, got %q", last.Val)
	}
}

func TestLexUnterminatedString(t *testing.T) {
	_, err := Lex(`filter name == "Ali`)
	if err == nil {
		t.Fatal("expected error for unterminated string")
	}
	var lexErr *LexError
	if !errors.As(err, &lexErr) {
		t.Fatalf("expected LexError, got %T", err)
	}
	if lexErr.Pos != 15 {
		t.Errorf("expected error position 15, got %d", lexErr.Pos)
	}
}

func TestLexUnbalancedBracket(t *testing.T) {
	_, err := Lex(`join key [cache=b | head 5`)
	var lexErr *LexError
	if !errors.As(err, &lexErr) {
		t.Fatalf("expected LexError, got %v", err)
	}

	_, err = Lex(`head 5]`)
	if !errors.As(err, &lexErr) {
		t.Fatalf("expected LexError, got %v", err)
	}
}

func TestLexComment(t *testing.T) {
	tokens, err := Lex("age // this is a comment\n+ 5")
	if err != nil {
		t.Fatal(err)
	}
	expected := []TokenType{TokenIdent, TokenPlus, TokenInt, TokenEOF}
	if len(tokens) != len(expected) {
		t.Fatalf("expected %d tokens, got %d", len(expected), len(tokens))
	}
}
