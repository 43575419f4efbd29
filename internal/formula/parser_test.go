package formula

import (
	"slices"
	"strings"
	"testing"
)

func mustParse(t *testing.T, input string) Node {
	t.Helper()
	node, err := Parse(input)
	if err != nil {
		t.Fatalf("Parse(%q) failed: %v", input, err)
	}
	return node
}

func expectParseError(t *testing.T, input, wantSubstr string) {
	t.Helper()
	_, err := Parse(input)
	if err == nil {
		t.Fatalf("Parse(%q): expected error containing %q, got nil", input, wantSubstr)
	}
	if !strings.Contains(err.Error(), wantSubstr) {
		t.Fatalf("Parse(%q): expected error containing %q, got %q", input, wantSubstr, err.Error())
	}
}

func TestParsePrecedence(t *testing.T) {
	node := mustParse(t, "{a} + {b} * 2")
	add, ok := node.(*BinaryOp)
	if !ok || add.Op != "+" {
		t.Fatalf("expected + at root, got %#v", node)
	}
	mul, ok := add.Right.(*BinaryOp)
	if !ok || mul.Op != "*" {
		t.Fatalf("expected * on the right, got %#v", add.Right)
	}
}

func TestParseConcatBindsLooserThanArithmetic(t *testing.T) {
	node := mustParse(t, `{a} & "-" & {b} + 1`)
	root, ok := node.(*BinaryOp)
	if !ok || root.Op != "&" {
		t.Fatalf("expected & at root, got %#v", node)
	}
	if right, ok := root.Right.(*BinaryOp); !ok || right.Op != "+" {
		t.Fatalf("expected + under &, got %#v", root.Right)
	}
}

func TestParseComparisonNormalizesNotEqual(t *testing.T) {
	node := mustParse(t, "{a} <> 3")
	cmp, ok := node.(*BinaryOp)
	if !ok || cmp.Op != "!=" {
		t.Fatalf("expected != comparison, got %#v", node)
	}
}

func TestParseFunctionCall(t *testing.T) {
	node := mustParse(t, `if({done}, "yes", "no")`)
	call, ok := node.(*FuncCall)
	if !ok {
		t.Fatalf("expected *FuncCall, got %T", node)
	}
	if call.Name != "IF" || len(call.Args) != 3 {
		t.Fatalf("unexpected call %#v", call)
	}
}

func TestParseZeroArgFunctionWithoutParens(t *testing.T) {
	node := mustParse(t, "TODAY")
	if call, ok := node.(*FuncCall); !ok || call.Name != "TODAY" {
		t.Fatalf("expected TODAY call, got %#v", node)
	}
}

func TestParseUnaryMinus(t *testing.T) {
	node := mustParse(t, "-{a}")
	if _, ok := node.(*UnaryMinus); !ok {
		t.Fatalf("expected *UnaryMinus, got %T", node)
	}
}

func TestParseErrors(t *testing.T) {
	expectParseError(t, "FOO(1)", `unknown function "FOO"`)
	expectParseError(t, "NOT(1, 2)", "requires exactly 1 argument(s), got 2")
	expectParseError(t, "IF(1)", "requires 2 to 3 arguments, got 1")
	expectParseError(t, "AND()", "requires at least 1 argument(s), got 0")
	expectParseError(t, "UPPER", "requires arguments")
	expectParseError(t, "(1 + 2", "expected )")
	expectParseError(t, "1 2", "expected end of expression")
	expectParseError(t, "", "expected expression")
}

func TestRefs(t *testing.T) {
	node := mustParse(t, `IF({a} > {b}, {a} & {c}, BLANK())`)
	got := Refs(node)
	want := []string{"a", "b", "c"}
	if !slices.Equal(got, want) {
		t.Fatalf("Refs = %v, want %v", got, want)
	}
}
