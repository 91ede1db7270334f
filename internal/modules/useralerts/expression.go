package useralerts

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"math"
	"strconv"

	"github.com/heraldlabs/herald/internal/domain"
)

// EvaluateExpression evaluates a custom condition's arithmetic expression
// against the snapshot context. The context exposes only price, volume,
// change, changePercent, and marketCap; the grammar allows numeric literals,
// + - * /, parentheses, unary minus, and the functions abs, min, max, sqrt.
// Everything else is rejected, so expressions cannot reach I/O or any state
// outside the snapshot.
func EvaluateExpression(expr string, env map[string]float64) (float64, error) {
	node, err := parser.ParseExpr(expr)
	if err != nil {
		return 0, domain.NewValidationError(fmt.Sprintf("invalid expression: %v", err), "conditions.expression")
	}
	return evalNode(node, env)
}

func evalNode(node ast.Expr, env map[string]float64) (float64, error) {
	switch n := node.(type) {
	case *ast.BasicLit:
		if n.Kind != token.INT && n.Kind != token.FLOAT {
			return 0, domain.NewValidationError(
				fmt.Sprintf("unsupported literal %s", n.Value), "conditions.expression")
		}
		v, err := strconv.ParseFloat(n.Value, 64)
		if err != nil {
			return 0, domain.NewValidationError(
				fmt.Sprintf("invalid number %s", n.Value), "conditions.expression")
		}
		return v, nil

	case *ast.Ident:
		v, ok := env[n.Name]
		if !ok {
			return 0, domain.NewValidationError(
				fmt.Sprintf("unknown identifier %q", n.Name), "conditions.expression")
		}
		return v, nil

	case *ast.ParenExpr:
		return evalNode(n.X, env)

	case *ast.UnaryExpr:
		v, err := evalNode(n.X, env)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.SUB:
			return -v, nil
		case token.ADD:
			return v, nil
		}
		return 0, domain.NewValidationError(
			fmt.Sprintf("unsupported operator %s", n.Op), "conditions.expression")

	case *ast.BinaryExpr:
		left, err := evalNode(n.X, env)
		if err != nil {
			return 0, err
		}
		right, err := evalNode(n.Y, env)
		if err != nil {
			return 0, err
		}
		switch n.Op {
		case token.ADD:
			return left + right, nil
		case token.SUB:
			return left - right, nil
		case token.MUL:
			return left * right, nil
		case token.QUO:
			if right == 0 {
				return 0, domain.NewValidationError("division by zero", "conditions.expression")
			}
			return left / right, nil
		}
		return 0, domain.NewValidationError(
			fmt.Sprintf("unsupported operator %s", n.Op), "conditions.expression")

	case *ast.CallExpr:
		return evalCall(n, env)
	}

	return 0, domain.NewValidationError("unsupported expression syntax", "conditions.expression")
}

func evalCall(call *ast.CallExpr, env map[string]float64) (float64, error) {
	ident, ok := call.Fun.(*ast.Ident)
	if !ok {
		return 0, domain.NewValidationError("unsupported function call", "conditions.expression")
	}

	args := make([]float64, len(call.Args))
	for i, arg := range call.Args {
		v, err := evalNode(arg, env)
		if err != nil {
			return 0, err
		}
		args[i] = v
	}

	switch ident.Name {
	case "abs":
		if len(args) != 1 {
			return 0, domain.NewValidationError("abs takes one argument", "conditions.expression")
		}
		return math.Abs(args[0]), nil
	case "sqrt":
		if len(args) != 1 {
			return 0, domain.NewValidationError("sqrt takes one argument", "conditions.expression")
		}
		if args[0] < 0 {
			return 0, domain.NewValidationError("sqrt of negative value", "conditions.expression")
		}
		return math.Sqrt(args[0]), nil
	case "min":
		if len(args) != 2 {
			return 0, domain.NewValidationError("min takes two arguments", "conditions.expression")
		}
		return math.Min(args[0], args[1]), nil
	case "max":
		if len(args) != 2 {
			return 0, domain.NewValidationError("max takes two arguments", "conditions.expression")
		}
		return math.Max(args[0], args[1]), nil
	}

	return 0, domain.NewValidationError(
		fmt.Sprintf("unknown function %q", ident.Name), "conditions.expression")
}

// snapshotEnv builds the restricted identifier context from a snapshot.
// marketCap is only visible when the feed supplies it.
func snapshotEnv(snap *domain.MarketSnapshot) map[string]float64 {
	env := map[string]float64{
		"price":         snap.Price,
		"volume":        snap.Volume,
		"change":        snap.Change,
		"changePercent": snap.ChangePercent,
	}
	if snap.MarketCap != nil {
		env["marketCap"] = *snap.MarketCap
	}
	return env
}
