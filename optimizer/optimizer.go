// Package optimizer rewrites a parsed template into an equivalent but
// cheaper tree: constant subexpressions are folded to literals, branches
// of an if/elif/else chain whose condition is now known are collapsed,
// and runs of adjacent literal text are merged into a single node.
//
// Every pass here must preserve render output exactly; only allocation
// counts and tree shape may change.
package optimizer

import (
	"fmt"
	"math"
	"strings"

	"github.com/arlenforge/ginseng/parser"
)

// Optimize returns tmpl with its body rewritten to a fixed point of the
// constant-folding, dead-branch, and output-merging passes. tmpl is
// mutated in place; the returned pointer is always tmpl itself.
func Optimize(tmpl *parser.TemplateNode) *parser.TemplateNode {
	if tmpl == nil {
		return tmpl
	}
	tmpl.Children = optimizeStatements(tmpl.Children)
	return tmpl
}

func optimizeStatements(nodes []parser.Node) []parser.Node {
	out := make([]parser.Node, 0, len(nodes))
	for _, n := range nodes {
		rewritten := optimizeStatement(n)
		out = append(out, rewritten...)
	}
	return mergeText(out)
}

// optimizeStatement rewrites a single statement, returning zero or more
// replacement statements (an eliminated `if` branch may vanish entirely,
// while a folded one splices its body in place).
func optimizeStatement(n parser.Node) []parser.Node {
	switch node := n.(type) {
	case *parser.VariableNode:
		if expr, ok := node.Expression.(parser.ExpressionNode); ok {
			node.Expression = foldExpr(expr)
		}
		return []parser.Node{node}

	case *parser.IfNode:
		return optimizeIf(node)

	case *parser.ForNode:
		node.Iterable = foldExpr(node.Iterable)
		if node.Condition != nil {
			node.Condition = foldExpr(node.Condition)
		}
		node.Body = optimizeStatements(node.Body)
		node.Else = optimizeStatements(node.Else)
		return []parser.Node{node}

	case *parser.BlockNode:
		node.Body = optimizeStatements(node.Body)
		return []parser.Node{node}

	case *parser.WithNode:
		for k, v := range node.Assignments {
			node.Assignments[k] = foldExpr(v)
		}
		node.Body = optimizeStatements(node.Body)
		return []parser.Node{node}

	case *parser.FilterBlockNode:
		node.Body = optimizeStatements(node.Body)
		return []parser.Node{node}

	case *parser.CallBlockNode:
		node.Call = foldExpr(node.Call)
		node.Body = optimizeStatements(node.Body)
		return []parser.Node{node}

	case *parser.MacroNode:
		for k, v := range node.Defaults {
			node.Defaults[k] = foldExpr(v)
		}
		node.Body = optimizeStatements(node.Body)
		return []parser.Node{node}

	case *parser.AutoescapeNode:
		node.Body = optimizeStatements(node.Body)
		return []parser.Node{node}

	case *parser.BlockSetNode:
		node.Body = optimizeStatements(node.Body)
		return []parser.Node{node}

	case *parser.SetNode:
		node.Value = foldExpr(node.Value)
		return []parser.Node{node}

	default:
		return []parser.Node{n}
	}
}

// optimizeIf folds an if/elif/else chain: leading branches whose
// condition is now a constant false are dropped, and a branch whose
// condition is constant true short-circuits the rest of the chain.
func optimizeIf(node *parser.IfNode) []parser.Node {
	type branch struct {
		cond parser.ExpressionNode
		body []parser.Node
	}

	branches := []branch{{cond: foldExpr(node.Condition), body: node.Body}}
	for _, elif := range node.ElseIfs {
		branches = append(branches, branch{cond: foldExpr(elif.Condition), body: elif.Body})
	}
	elseBody := node.Else

	i := 0
	for ; i < len(branches); i++ {
		lit, ok := asConstBool(branches[i].cond)
		if !ok {
			break
		}
		if lit {
			return optimizeStatements(branches[i].body)
		}
		// constant false: drop this branch, keep scanning
	}

	if i == len(branches) {
		return optimizeStatements(elseBody)
	}

	result := parser.NewIfNode(branches[i].cond, node.Line(), node.Column())
	result.Body = optimizeStatements(branches[i].body)
	for _, b := range branches[i+1:] {
		elif := parser.NewIfNode(b.cond, node.Line(), node.Column())
		elif.Body = optimizeStatements(b.body)
		result.ElseIfs = append(result.ElseIfs, elif)
	}
	result.Else = optimizeStatements(elseBody)
	return []parser.Node{result}
}

func asConstBool(expr parser.ExpressionNode) (bool, bool) {
	lit, ok := expr.(*parser.LiteralNode)
	if !ok {
		return false, false
	}
	return truthy(lit.Value), true
}

// mergeText merges consecutive TextNodes and drops empty ones, preserving
// the invariant that a text run never splits across an evaluated
// expression.
func mergeText(nodes []parser.Node) []parser.Node {
	out := make([]parser.Node, 0, len(nodes))
	for _, n := range nodes {
		if t, ok := n.(*parser.TextNode); ok {
			if t.Content == "" {
				continue
			}
			if len(out) > 0 {
				if prev, ok := out[len(out)-1].(*parser.TextNode); ok {
					prev.Content += t.Content
					continue
				}
			}
		}
		out = append(out, n)
	}
	return out
}

// foldExpr recursively folds an expression tree, replacing any
// subexpression whose operands are all literals with its computed
// literal value.
func foldExpr(expr parser.ExpressionNode) parser.ExpressionNode {
	switch e := expr.(type) {
	case nil:
		return nil

	case *parser.LiteralNode:
		return e

	case *parser.UnaryOpNode:
		e.Operand = foldExpr(e.Operand)
		if lit, ok := e.Operand.(*parser.LiteralNode); ok {
			if v, ok := foldUnary(e.Operator, lit.Value); ok {
				return parser.NewLiteralNode(v, fmt.Sprint(v), e.Line(), e.Column())
			}
		}
		return e

	case *parser.BinaryOpNode:
		e.Left = foldExpr(e.Left)
		e.Right = foldExpr(e.Right)
		lLit, lok := e.Left.(*parser.LiteralNode)
		rLit, rok := e.Right.(*parser.LiteralNode)
		if lok && rok {
			if v, ok := foldBinary(e.Operator, lLit.Value, rLit.Value); ok {
				return parser.NewLiteralNode(v, fmt.Sprint(v), e.Line(), e.Column())
			}
		}
		return e

	case *parser.ConditionalNode:
		e.Condition = foldExpr(e.Condition)
		e.TrueExpr = foldExpr(e.TrueExpr)
		e.FalseExpr = foldExpr(e.FalseExpr)
		if lit, ok := e.Condition.(*parser.LiteralNode); ok {
			if truthy(lit.Value) {
				return e.TrueExpr
			}
			return e.FalseExpr
		}
		return e

	case *parser.FilterNode:
		e.Expression = foldExpr(e.Expression)
		for i, a := range e.Arguments {
			e.Arguments[i] = foldExpr(a)
		}
		for k, a := range e.NamedArgs {
			e.NamedArgs[k] = foldExpr(a)
		}
		return e

	case *parser.TestNode:
		e.Expression = foldExpr(e.Expression)
		for i, a := range e.Arguments {
			e.Arguments[i] = foldExpr(a)
		}
		return e

	case *parser.AttributeNode:
		e.Object = foldExpr(e.Object)
		return e

	case *parser.GetItemNode:
		e.Object = foldExpr(e.Object)
		e.Key = foldExpr(e.Key)
		return e

	case *parser.ListNode:
		for i, el := range e.Elements {
			e.Elements[i] = foldExpr(el)
		}
		return e

	case *parser.CallNode:
		e.Function = foldExpr(e.Function)
		for i, a := range e.Arguments {
			e.Arguments[i] = foldExpr(a)
		}
		for k, a := range e.Keywords {
			e.Keywords[k] = foldExpr(a)
		}
		return e

	default:
		return expr
	}
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	}
	return true
}

func foldUnary(op string, v interface{}) (interface{}, bool) {
	switch op {
	case "not":
		return !truthy(v), true
	case "-":
		switch x := v.(type) {
		case int:
			return -x, true
		case float64:
			return -x, true
		}
	case "+":
		switch v.(type) {
		case int, float64:
			return v, true
		}
	}
	return nil, false
}

// foldBinary evaluates a binary operator over two literal values. It
// returns ok=false whenever the combination isn't one the optimizer
// folds (e.g. mixed operand types it doesn't recognize); the caller
// leaves the node for the evaluator to handle at render time.
func foldBinary(op string, a, b interface{}) (interface{}, bool) {
	switch op {
	case "+":
		if as, aok := a.(string); aok {
			if bs, bok := b.(string); bok {
				return as + bs, true
			}
			return nil, false
		}
		return arith(op, a, b)
	case "-", "*":
		return arith(op, a, b)
	case "/":
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return nil, false
		}
		if bf == 0 {
			return nil, true // division by zero folds to null at compile time
		}
		return af / bf, true
	case "//":
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return nil, false
		}
		if bf == 0 {
			return nil, true
		}
		result := math.Floor(af / bf)
		if _, aInt := a.(int); aInt {
			if _, bInt := b.(int); bInt {
				return int(result), true
			}
		}
		return result, true
	case "%":
		af, aok := toFloat(a)
		bf, bok := toFloat(b)
		if !aok || !bok {
			return nil, false
		}
		if bf == 0 {
			return nil, true
		}
		if ai, aiok := a.(int); aiok {
			if bi, biok := b.(int); biok {
				return ai % bi, true
			}
		}
		return math.Mod(af, bf), true
	case "**":
		return power(a, b)
	case "~":
		return toStr(a) + toStr(b), true
	case "==":
		return equalLiterals(a, b), true
	case "!=":
		return !equalLiterals(a, b), true
	case "<", "<=", ">", ">=":
		return compareLiterals(op, a, b)
	case "and":
		return truthy(a) && truthy(b), true
	case "or":
		return truthy(a) || truthy(b), true
	}
	return nil, false
}

func arith(op string, a, b interface{}) (interface{}, bool) {
	ai, aInt := a.(int)
	bi, bInt := b.(int)
	if aInt && bInt {
		switch op {
		case "+":
			sum := ai + bi
			if (bi > 0 && sum < ai) || (bi < 0 && sum > ai) {
				return nil, false // overflow: leave unfolded so the runtime path reports it
			}
			return sum, true
		case "-":
			diff := ai - bi
			if (bi < 0 && diff < ai) || (bi > 0 && diff > ai) {
				return nil, false
			}
			return diff, true
		case "*":
			if ai == 0 || bi == 0 {
				return 0, true
			}
			product := ai * bi
			if product/bi != ai {
				return nil, false
			}
			return product, true
		}
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, false
	}
	switch op {
	case "+":
		return af + bf, true
	case "-":
		return af - bf, true
	case "*":
		return af * bf, true
	}
	return nil, false
}

func power(a, b interface{}) (interface{}, bool) {
	ai, aInt := a.(int)
	bi, bInt := b.(int)
	if aInt && bInt && bi >= 0 {
		result := 1
		for i := 0; i < bi; i++ {
			result *= ai
		}
		return result, true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return nil, false
	}
	return math.Pow(af, bf), true
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

func toStr(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

func equalLiterals(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return math.Abs(af-bf) < 1e-10
		}
	}
	return a == b
}

func compareLiterals(op string, a, b interface{}) (interface{}, bool) {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		switch op {
		case "<":
			return af < bf, true
		case "<=":
			return af <= bf, true
		case ">":
			return af > bf, true
		case ">=":
			return af >= bf, true
		}
	}
	as, aSok := a.(string)
	bs, bSok := b.(string)
	if aSok && bSok {
		switch op {
		case "<":
			return strings.Compare(as, bs) < 0, true
		case "<=":
			return strings.Compare(as, bs) <= 0, true
		case ">":
			return strings.Compare(as, bs) > 0, true
		case ">=":
			return strings.Compare(as, bs) >= 0, true
		}
	}
	return nil, false
}
