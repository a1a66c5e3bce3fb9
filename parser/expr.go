package parser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pipelang/pipeq/ast"
	"github.com/pipelang/pipeq/lexer"
)

// Expression parsing (precedence climbing). Comparison is
// non-associative: "a < b < c" is rejected rather than silently
// grouped.

// Precedence levels
const (
	precOr    = 1
	precAnd   = 2
	precComp  = 3
	precAdd   = 4
	precMul   = 5
	precUnary = 6
)

func exprErr(tok lexer.Token, format string, args ...any) *ParseError {
	return &ParseError{Pos: tok.Pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *Parser) parseExpr() (ast.Expr, error) {
	return p.parseExprPrec(precOr)
}

func (p *Parser) parseExprPrec(minPrec int) (ast.Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}

	for {
		op, prec, ok := p.peekBinaryOp()
		if !ok || prec < minPrec {
			break
		}
		p.advance() // consume the operator token

		right, err := p.parseExprPrec(prec + 1) // left-associative
		if err != nil {
			return nil, err
		}
		left = &ast.BinaryExpr{Op: op, Left: left, Right: right}

		if prec == precComp {
			if next, nextPrec, nok := p.peekBinaryOp(); nok && nextPrec == precComp {
				return nil, exprErr(p.peek(), "chained comparison (%s ... %s) is not allowed", op, next)
			}
		}
	}

	return left, nil
}

func (p *Parser) peekBinaryOp() (string, int, bool) {
	tok := p.peek()
	switch tok.Type {
	case lexer.TokenOr:
		return "or", precOr, true
	case lexer.TokenAnd:
		return "and", precAnd, true
	case lexer.TokenEq:
		return "==", precComp, true
	case lexer.TokenNeq:
		return "!=", precComp, true
	case lexer.TokenLt:
		return "<", precComp, true
	case lexer.TokenGt:
		return ">", precComp, true
	case lexer.TokenLte:
		return "<=", precComp, true
	case lexer.TokenGte:
		return ">=", precComp, true
	case lexer.TokenPlus:
		return "+", precAdd, true
	case lexer.TokenMinus:
		return "-", precAdd, true
	case lexer.TokenStar:
		return "*", precMul, true
	case lexer.TokenSlash:
		return "/", precMul, true
	}
	return "", 0, false
}

func (p *Parser) parseUnary() (ast.Expr, error) {
	if p.peek().Type == lexer.TokenNot {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "not", Operand: operand}, nil
	}
	if p.peek().Type == lexer.TokenMinus {
		p.advance()
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &ast.UnaryExpr{Op: "-", Operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *Parser) parsePrimary() (ast.Expr, error) {
	tok := p.peek()

	switch tok.Type {
	case lexer.TokenInt:
		p.advance()
		v, err := strconv.ParseInt(tok.Val, 10, 64)
		if err != nil {
			return nil, exprErr(tok, "invalid integer %q", tok.Val)
		}
		return &ast.LiteralExpr{Kind: "int", Int: v}, nil

	case lexer.TokenFloat:
		p.advance()
		v, err := strconv.ParseFloat(tok.Val, 64)
		if err != nil {
			return nil, exprErr(tok, "invalid float %q", tok.Val)
		}
		return &ast.LiteralExpr{Kind: "float", Float: v}, nil

	case lexer.TokenString:
		p.advance()
		return &ast.LiteralExpr{Kind: "string", Str: tok.Val}, nil

	case lexer.TokenTrue:
		p.advance()
		return &ast.LiteralExpr{Kind: "bool", Bool: true}, nil

	case lexer.TokenFalse:
		p.advance()
		return &ast.LiteralExpr{Kind: "bool", Bool: false}, nil

	case lexer.TokenNull:
		p.advance()
		return &ast.LiteralExpr{Kind: "null"}, nil

	case lexer.TokenIdent:
		p.advance()
		// A name directly followed by ( is a function call
		if p.peek().Type == lexer.TokenLParen {
			return p.parseFuncCall(tok.Val)
		}
		return &ast.FieldExpr{Name: tok.Val}, nil

	case lexer.TokenLParen:
		p.advance() // consume (
		expr, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		if p.peek().Type != lexer.TokenRParen {
			return nil, exprErr(p.peek(), "expected ')', got %s (%q)", p.peek().Type, p.peek().Val)
		}
		p.advance()
		return expr, nil

	default:
		return nil, exprErr(tok, "unexpected token %s (%q) in expression", tok.Type, tok.Val)
	}
}

func (p *Parser) parseFuncCall(name string) (ast.Expr, error) {
	p.advance() // consume (
	name = strings.ToLower(name)

	var args []ast.Expr
	if p.peek().Type != lexer.TokenRParen {
		for {
			arg, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if p.peek().Type != lexer.TokenComma {
				break
			}
			p.advance() // consume comma
			if p.peek().Type == lexer.TokenRParen {
				return nil, exprErr(p.peek(), "empty argument in call to %s", name)
			}
		}
	}

	if p.peek().Type != lexer.TokenRParen {
		return nil, exprErr(p.peek(), "expected ')' in call to %s, got %s (%q)", name, p.peek().Type, p.peek().Val)
	}
	p.advance()

	return &ast.FuncCallExpr{Name: name, Args: args}, nil
}
