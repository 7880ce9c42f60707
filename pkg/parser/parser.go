// Package parser implements a recursive-descent parser that turns a token
// stream from pkg/lexer into the pkg/ast tree the compiler consumes.
package parser

import (
	"fmt"

	"github.com/kcosby/furlow/pkg/ast"
	"github.com/kcosby/furlow/pkg/lexer"
)

// Parser holds parsing state: the lexer, a one-token lookahead buffer, and
// any errors accumulated while trying to recover from a bad statement.
type Parser struct {
	l    *lexer.Lexer
	cur  lexer.Token
	peek lexer.Token
	errs []string
}

// New returns a Parser ready to parse input.
func New(input string) *Parser {
	p := &Parser{l: lexer.New(input)}
	p.advance()
	p.advance()
	return p
}

// Errors returns every error message accumulated during Parse.
func (p *Parser) Errors() []string { return p.errs }

func (p *Parser) advance() {
	p.cur = p.peek
	p.peek = p.l.NextToken()
}

func (p *Parser) errorf(format string, args ...interface{}) {
	p.errs = append(p.errs, fmt.Sprintf("line %d: %s", p.cur.Line, fmt.Sprintf(format, args...)))
}

func (p *Parser) expect(tt lexer.TokenType) lexer.Token {
	tok := p.cur
	if p.cur.Type != tt {
		p.errorf("expected %s, got %s (%q)", tt, p.cur.Type, p.cur.Literal)
	}
	p.advance()
	return tok
}

// Parse parses the whole input into a chain of top-level statements,
// returning the head of the Next-linked list.
func (p *Parser) Parse() (*ast.Node, error) {
	var head *ast.Node
	for p.cur.Type != lexer.TokenEOF {
		stmt := p.parseStatement()
		head = ast.Append(head, stmt)
	}
	if len(p.errs) > 0 {
		return head, fmt.Errorf("%d parse error(s): %s", len(p.errs), p.errs[0])
	}
	return head, nil
}

func (p *Parser) parseStatement() *ast.Node {
	switch p.cur.Type {
	case lexer.TokenNum, lexer.TokenScope:
		return p.parseDeclOrFuncDef()
	case lexer.TokenIf:
		return p.parseIf()
	case lexer.TokenWhile:
		return p.parseWhile()
	case lexer.TokenFor:
		return p.parseFor()
	case lexer.TokenReturn:
		return p.parseReturn()
	case lexer.TokenDel:
		return p.parseDel()
	case lexer.TokenThread:
		return p.parseThread()
	case lexer.TokenLBrace:
		return p.parseBlock()
	default:
		n := p.parseExpr()
		p.expect(lexer.TokenSemi)
		return n
	}
}

func declKindMarker(tt lexer.TokenType) *ast.Node {
	if tt == lexer.TokenNum {
		return ast.NumMarker()
	}
	return ast.ScopeMarker()
}

// parseDeclOrFuncDef handles every statement beginning with 'num'/'scope':
// a plain declaration, a declaration with dimensions, a declaration with
// an initializer, a declaration scoped with 'in', or a function
// definition bound to the declared identifier.
func (p *Parser) parseDeclOrFuncDef() *ast.Node {
	kindTok := p.cur.Type
	line := p.cur.Line
	p.advance()
	name := p.expect(lexer.TokenIdent).Literal

	if p.cur.Type == lexer.TokenLParen {
		return p.parseFuncDef(kindTok, name, line)
	}

	decl := &ast.Node{Kind: ast.VarDecl, Lexeme: name, Line: line}
	decl.Children[0] = declKindMarker(kindTok)

	var dims *ast.Node
	for p.cur.Type == lexer.TokenLBracket {
		p.advance()
		dims = ast.Append(dims, p.parseExpr())
		p.expect(lexer.TokenRBracket)
	}
	decl.Children[1] = dims

	switch p.cur.Type {
	case lexer.TokenIn:
		p.advance()
		scopeExpr := p.parseUnary()
		p.expect(lexer.TokenSemi)
		return &ast.Node{Kind: ast.In, Line: line, Children: [4]*ast.Node{scopeExpr, decl}}
	case lexer.TokenAssign:
		p.advance()
		value := p.parseExpr()
		p.expect(lexer.TokenSemi)
		assign := &ast.Node{Kind: ast.Assign, Line: line,
			Children: [4]*ast.Node{{Kind: ast.Ref, Lexeme: name, Line: line}, value}}
		return ast.Append(decl, assign)
	default:
		p.expect(lexer.TokenSemi)
		return decl
	}
}

func (p *Parser) parseFuncDef(kindTok lexer.TokenType, name string, line int) *ast.Node {
	p.expect(lexer.TokenLParen)
	var params *ast.Node
	for p.cur.Type != lexer.TokenRParen {
		pk := p.cur.Type
		if pk != lexer.TokenNum && pk != lexer.TokenScope {
			p.errorf("expected parameter type, got %s", p.cur.Type)
			break
		}
		p.advance()
		pname := p.expect(lexer.TokenIdent).Literal
		param := &ast.Node{Kind: ast.Param, Lexeme: pname, Line: p.cur.Line}
		param.Children[0] = declKindMarker(pk)
		params = ast.Append(params, param)
		if p.cur.Type == lexer.TokenComma {
			p.advance()
		} else {
			break
		}
	}
	p.expect(lexer.TokenRParen)
	body := p.parseBlock()

	lex := "num"
	if kindTok == lexer.TokenScope {
		lex = "scope"
	}
	return &ast.Node{
		Kind:   ast.FuncDef,
		Lexeme: lex,
		Line:   line,
		Children: [4]*ast.Node{
			{Kind: ast.Ref, Lexeme: name, Line: line},
			params,
			body,
		},
	}
}

func (p *Parser) parseIf() *ast.Node {
	line := p.cur.Line
	p.advance()
	p.expect(lexer.TokenLParen)
	cond := p.parseExpr()
	p.expect(lexer.TokenRParen)
	then := p.parseStatement()
	var els *ast.Node
	if p.cur.Type == lexer.TokenElse {
		p.advance()
		els = p.parseStatement()
	}
	return &ast.Node{Kind: ast.If, Line: line, Children: [4]*ast.Node{cond, then, els}}
}

func (p *Parser) parseWhile() *ast.Node {
	line := p.cur.Line
	p.advance()
	p.expect(lexer.TokenLParen)
	cond := p.parseExpr()
	p.expect(lexer.TokenRParen)
	body := p.parseStatement()
	return &ast.Node{Kind: ast.While, Line: line, Children: [4]*ast.Node{cond, body}}
}

func (p *Parser) parseFor() *ast.Node {
	line := p.cur.Line
	p.advance()
	p.expect(lexer.TokenLParen)
	var init *ast.Node
	if p.cur.Type != lexer.TokenSemi {
		if p.cur.Type == lexer.TokenNum || p.cur.Type == lexer.TokenScope {
			init = p.parseDeclOrFuncDef()
		} else {
			init = p.parseExpr()
			p.expect(lexer.TokenSemi)
		}
	} else {
		p.advance()
	}
	cond := p.parseExpr()
	p.expect(lexer.TokenSemi)
	step := p.parseExpr()
	p.expect(lexer.TokenRParen)
	body := p.parseStatement()
	return &ast.Node{Kind: ast.For, Line: line, Children: [4]*ast.Node{init, cond, step, body}}
}

func (p *Parser) parseReturn() *ast.Node {
	line := p.cur.Line
	p.advance()
	var val *ast.Node
	if p.cur.Type != lexer.TokenSemi {
		val = p.parseExpr()
	}
	p.expect(lexer.TokenSemi)
	return &ast.Node{Kind: ast.Return, Line: line, Children: [4]*ast.Node{val}}
}

func (p *Parser) parseDel() *ast.Node {
	line := p.cur.Line
	p.advance()
	name := p.expect(lexer.TokenIdent).Literal
	p.expect(lexer.TokenSemi)
	return &ast.Node{Kind: ast.Del, Lexeme: name, Line: line}
}

func (p *Parser) parseThread() *ast.Node {
	line := p.cur.Line
	p.advance()
	body := p.parseStatement()
	return &ast.Node{Kind: ast.Thread, Line: line, Children: [4]*ast.Node{body}}
}

func (p *Parser) parseBlock() *ast.Node {
	line := p.cur.Line
	p.expect(lexer.TokenLBrace)
	var stmts *ast.Node
	for p.cur.Type != lexer.TokenRBrace && p.cur.Type != lexer.TokenEOF {
		stmts = ast.Append(stmts, p.parseStatement())
	}
	p.expect(lexer.TokenRBrace)
	return &ast.Node{Kind: ast.Block, Line: line, Children: [4]*ast.Node{stmts}}
}

// --- expressions, precedence climbing, lowest to highest ---

func (p *Parser) parseExpr() *ast.Node { return p.parseAssign() }

var compoundOps = map[lexer.TokenType]string{
	lexer.TokenPlusEq: "+", lexer.TokenMinusEq: "-", lexer.TokenStarEq: "*",
	lexer.TokenSlashEq: "/", lexer.TokenPercentEq: "%",
}

func (p *Parser) parseAssign() *ast.Node {
	left := p.parseOr()
	switch p.cur.Type {
	case lexer.TokenAssign:
		line := p.cur.Line
		p.advance()
		right := p.parseAssign()
		return &ast.Node{Kind: ast.Assign, Line: line, Children: [4]*ast.Node{left, right}}
	default:
		if op, ok := compoundOps[p.cur.Type]; ok {
			line := p.cur.Line
			p.advance()
			right := p.parseAssign()
			return &ast.Node{Kind: ast.CompoundAssign, Lexeme: op, Line: line, Children: [4]*ast.Node{left, right}}
		}
	}
	return left
}

func (p *Parser) parseOr() *ast.Node {
	left := p.parseAnd()
	for p.cur.Type == lexer.TokenOr {
		line := p.cur.Line
		p.advance()
		right := p.parseAnd()
		left = &ast.Node{Kind: ast.Or, Line: line, Children: [4]*ast.Node{left, right}}
	}
	return left
}

func (p *Parser) parseAnd() *ast.Node {
	left := p.parseEquality()
	for p.cur.Type == lexer.TokenAnd {
		line := p.cur.Line
		p.advance()
		right := p.parseEquality()
		left = &ast.Node{Kind: ast.And, Line: line, Children: [4]*ast.Node{left, right}}
	}
	return left
}

var equalityOps = map[lexer.TokenType]string{lexer.TokenEq: "==", lexer.TokenNe: "!="}
var relOps = map[lexer.TokenType]string{
	lexer.TokenLt: "<", lexer.TokenLe: "<=", lexer.TokenGt: ">", lexer.TokenGe: ">=",
}
var addOps = map[lexer.TokenType]string{lexer.TokenPlus: "+", lexer.TokenMinus: "-"}
var mulOps = map[lexer.TokenType]string{lexer.TokenStar: "*", lexer.TokenSlash: "/", lexer.TokenPercent: "%"}

func (p *Parser) binOpLevel(next func() *ast.Node, ops map[lexer.TokenType]string) *ast.Node {
	left := next()
	for {
		op, ok := ops[p.cur.Type]
		if !ok {
			return left
		}
		line := p.cur.Line
		p.advance()
		right := next()
		left = &ast.Node{Kind: ast.BinOp, Lexeme: op, Line: line, Children: [4]*ast.Node{left, right}}
	}
}

func (p *Parser) parseEquality() *ast.Node      { return p.binOpLevel(p.parseRelational, equalityOps) }
func (p *Parser) parseRelational() *ast.Node    { return p.binOpLevel(p.parseAdditive, relOps) }
func (p *Parser) parseAdditive() *ast.Node      { return p.binOpLevel(p.parseMultiplicative, addOps) }
func (p *Parser) parseMultiplicative() *ast.Node { return p.binOpLevel(p.parseUnary, mulOps) }

func (p *Parser) parseUnary() *ast.Node {
	if p.cur.Type == lexer.TokenMinus {
		line := p.cur.Line
		p.advance()
		return &ast.Node{Kind: ast.Neg, Line: line, Children: [4]*ast.Node{p.parseUnary()}}
	}
	if p.cur.Type == lexer.TokenPlus {
		p.advance()
		return p.parseUnary()
	}
	return p.parsePostfix()
}

// parsePostfix implements the array-index / call / scope-access suffix
// loop, grounded on the original FACT parser's opt_pb production: any of
// '[', '(' or 'in' may chain after a primary expression.
func (p *Parser) parsePostfix() *ast.Node {
	n := p.parsePrimary()
	for {
		switch p.cur.Type {
		case lexer.TokenLBracket:
			line := p.cur.Line
			p.advance()
			idx := p.parseExpr()
			p.expect(lexer.TokenRBracket)
			n = &ast.Node{Kind: ast.Index, Line: line, Children: [4]*ast.Node{n, idx}}
		case lexer.TokenLParen:
			line := p.cur.Line
			p.advance()
			var args *ast.Node
			for p.cur.Type != lexer.TokenRParen {
				args = ast.Append(args, p.parseAssign())
				if p.cur.Type == lexer.TokenComma {
					p.advance()
				} else {
					break
				}
			}
			p.expect(lexer.TokenRParen)
			n = &ast.Node{Kind: ast.Call, Line: line, Children: [4]*ast.Node{n, args}}
		case lexer.TokenIn:
			line := p.cur.Line
			p.advance()
			scopeExpr := p.parseUnary()
			// The scope operand, lexically written after "in", is
			// evaluated and USE'd first; see DESIGN.md for why this
			// node's children are scope-first even though the scope
			// token comes second in source text.
			n = &ast.Node{Kind: ast.In, Line: line, Children: [4]*ast.Node{scopeExpr, n}}
		default:
			return n
		}
	}
}

func (p *Parser) parsePrimary() *ast.Node {
	switch p.cur.Type {
	case lexer.TokenNumber:
		n := &ast.Node{Kind: ast.Ref, Lexeme: p.cur.Literal, Line: p.cur.Line}
		p.advance()
		return n
	case lexer.TokenIdent:
		n := &ast.Node{Kind: ast.Ref, Lexeme: p.cur.Literal, Line: p.cur.Line}
		p.advance()
		return n
	case lexer.TokenThis:
		n := &ast.Node{Kind: ast.This, Line: p.cur.Line}
		p.advance()
		return n
	case lexer.TokenLParen:
		p.advance()
		n := p.parseExpr()
		p.expect(lexer.TokenRParen)
		return n
	case lexer.TokenLBrace:
		return p.parseBlock()
	default:
		p.errorf("unexpected token %s (%q)", p.cur.Type, p.cur.Literal)
		tok := p.cur
		p.advance()
		return &ast.Node{Kind: ast.Ref, Lexeme: tok.Literal, Line: tok.Line}
	}
}
