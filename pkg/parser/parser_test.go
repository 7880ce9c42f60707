package parser

import (
	"testing"

	"github.com/kcosby/furlow/pkg/ast"
)

func mustParse(t *testing.T, src string) *ast.Node {
	t.Helper()
	p := New(src)
	head, err := p.Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	return head
}

func TestParseVarDeclPlain(t *testing.T) {
	head := mustParse(t, "num x;")
	if head == nil || head.Kind != ast.VarDecl || head.Lexeme != "x" {
		t.Fatalf("got %+v", head)
	}
	if head.Children[0].Kind != ast.DeclNum {
		t.Fatalf("expected DeclNum marker, got %+v", head.Children[0])
	}
}

func TestParseVarDeclWithDims(t *testing.T) {
	head := mustParse(t, "num grid[2][3];")
	dims := ast.Statements(head.Children[1])
	if len(dims) != 2 {
		t.Fatalf("expected 2 dimensions, got %d", len(dims))
	}
}

func TestParseVarDeclWithInitializer(t *testing.T) {
	head := mustParse(t, "num x = 1 + 2;")
	stmts := ast.Statements(head)
	if len(stmts) != 2 {
		t.Fatalf("expected decl + assign, got %d statements", len(stmts))
	}
	if stmts[0].Kind != ast.VarDecl {
		t.Fatalf("expected VarDecl first, got %v", stmts[0].Kind)
	}
	assign := stmts[1]
	if assign.Kind != ast.Assign {
		t.Fatalf("expected Assign second, got %v", assign.Kind)
	}
	if assign.Children[1].Kind != ast.BinOp || assign.Children[1].Lexeme != "+" {
		t.Fatalf("expected binop value, got %+v", assign.Children[1])
	}
}

func TestParseDeclInScope(t *testing.T) {
	head := mustParse(t, "num x in outer;")
	if head.Kind != ast.In {
		t.Fatalf("expected In node, got %v", head.Kind)
	}
	if head.Children[0].Lexeme != "outer" {
		t.Fatalf("expected scope child to be 'outer', got %+v", head.Children[0])
	}
	if head.Children[1].Kind != ast.VarDecl || head.Children[1].Lexeme != "x" {
		t.Fatalf("expected decl child to be VarDecl x, got %+v", head.Children[1])
	}
}

func TestParseFuncDef(t *testing.T) {
	head := mustParse(t, "num add(num a, num b) { return a + b; }")
	if head.Kind != ast.FuncDef || head.Lexeme != "num" {
		t.Fatalf("got %+v", head)
	}
	if head.Children[0].Lexeme != "add" {
		t.Fatalf("expected target ident add, got %+v", head.Children[0])
	}
	params := ast.Statements(head.Children[1])
	if len(params) != 2 || params[0].Lexeme != "a" || params[1].Lexeme != "b" {
		t.Fatalf("unexpected params: %+v", params)
	}
	if head.Children[2].Kind != ast.Block {
		t.Fatalf("expected block body, got %+v", head.Children[2])
	}
}

func TestParseIfElse(t *testing.T) {
	head := mustParse(t, "if (x < 1) { return 1; } else { return 2; }")
	if head.Kind != ast.If {
		t.Fatalf("got %v", head.Kind)
	}
	if head.Children[0].Kind != ast.BinOp || head.Children[0].Lexeme != "<" {
		t.Fatalf("unexpected cond: %+v", head.Children[0])
	}
	if head.Children[1] == nil || head.Children[2] == nil {
		t.Fatalf("expected both branches present")
	}
}

func TestParseWhile(t *testing.T) {
	head := mustParse(t, "while (x < 10) { x += 1; }")
	if head.Kind != ast.While {
		t.Fatalf("got %v", head.Kind)
	}
}

func TestParseFor(t *testing.T) {
	head := mustParse(t, "for (num i = 0; i < 10; i += 1) { x = x + i; }")
	if head.Kind != ast.For {
		t.Fatalf("got %v", head.Kind)
	}
	if head.Children[0] == nil || head.Children[0].Kind != ast.VarDecl {
		t.Fatalf("expected init to be decl chain, got %+v", head.Children[0])
	}
}

func TestParseCallAndIndex(t *testing.T) {
	head := mustParse(t, "f(a, b)[0];")
	if head.Kind != ast.Index {
		t.Fatalf("expected outer Index, got %v", head.Kind)
	}
	call := head.Children[0]
	if call.Kind != ast.Call {
		t.Fatalf("expected Call, got %v", call.Kind)
	}
	args := ast.Statements(call.Children[1])
	if len(args) != 2 {
		t.Fatalf("expected 2 args, got %d", len(args))
	}
}

func TestParseInExpression(t *testing.T) {
	head := mustParse(t, "x in outerscope;")
	if head.Kind != ast.In {
		t.Fatalf("expected In, got %v", head.Kind)
	}
	if head.Children[0].Lexeme != "outerscope" {
		t.Fatalf("expected scope child first, got %+v", head.Children[0])
	}
	if head.Children[1].Lexeme != "x" {
		t.Fatalf("expected body child second, got %+v", head.Children[1])
	}
}

func TestParseShortCircuitPrecedence(t *testing.T) {
	head := mustParse(t, "a || b && c;")
	if head.Kind != ast.Or {
		t.Fatalf("expected Or at top, got %v", head.Kind)
	}
	if head.Children[1].Kind != ast.And {
		t.Fatalf("expected And nested on the right, got %v", head.Children[1].Kind)
	}
}

func TestParseArithmeticPrecedence(t *testing.T) {
	head := mustParse(t, "1 + 2 * 3;")
	if head.Kind != ast.BinOp || head.Lexeme != "+" {
		t.Fatalf("expected top-level +, got %+v", head)
	}
	right := head.Children[1]
	if right.Kind != ast.BinOp || right.Lexeme != "*" {
		t.Fatalf("expected nested *, got %+v", right)
	}
}

func TestParseDelAndThread(t *testing.T) {
	head := mustParse(t, "del x; thread f();")
	stmts := ast.Statements(head)
	if len(stmts) != 2 {
		t.Fatalf("expected 2 statements, got %d", len(stmts))
	}
	if stmts[0].Kind != ast.Del || stmts[0].Lexeme != "x" {
		t.Fatalf("expected Del x, got %+v", stmts[0])
	}
	if stmts[1].Kind != ast.Thread {
		t.Fatalf("expected Thread, got %+v", stmts[1])
	}
}
