package metastore

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
)

// AssetFilter is a caller-supplied predicate over the queryable asset
// columns, compiled from a CEL expression. Compilation happens once per
// browse call, so filters from unrelated calls cannot leak into each other.
//
// Only the allow-listed columns are visible to the expression; anything else
// fails to compile. The same compiled filter evaluates rows in memory and
// renders a parameterized SQL fragment, never concatenating caller input
// into the query text.
type AssetFilter struct {
	expr string
	ast  *cel.Ast
	prog cel.Program
}

// Queryable asset columns exposed to filter expressions. The CEL variable
// name doubles as the SQL column name.
var filterColumns = map[string]*cel.Type{
	"path": cel.StringType,
	"kind": cel.StringType,
}

var filterEnv = mustFilterEnv()

func mustFilterEnv() *cel.Env {
	opts := make([]cel.EnvOption, 0, len(filterColumns))
	for name, t := range filterColumns {
		opts = append(opts, cel.Variable(name, t))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		panic(fmt.Sprintf("metastore: filter environment: %v", err))
	}
	return env
}

// CompileAssetFilter compiles a CEL expression such as
//
//	path.startsWith("/org/example/") && kind != "signature"
//
// into an AssetFilter. The expression must evaluate to a boolean.
func CompileAssetFilter(expr string) (*AssetFilter, error) {
	ast, issues := filterEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("invalid filter expression: result is %s, want bool", ast.OutputType())
	}
	// Validate SQL translatability up front so browse calls fail fast.
	if _, _, err := translateFilter(ast.NativeRep().Expr(), 1); err != nil {
		return nil, err
	}
	prog, err := filterEnv.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("invalid filter expression: %w", err)
	}
	return &AssetFilter{expr: expr, ast: ast, prog: prog}, nil
}

// Expression returns the original expression text.
func (f *AssetFilter) Expression() string {
	return f.expr
}

// Match evaluates the filter against a single asset row.
func (f *AssetFilter) Match(asset *Asset) (bool, error) {
	out, _, err := f.prog.Eval(map[string]any{
		"path": asset.Path,
		"kind": asset.Kind,
	})
	if err != nil {
		return false, fmt.Errorf("filter evaluation: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter did not return boolean, got %T", out.Value())
	}
	return b, nil
}

// SQL renders the filter as a parameterized SQL fragment whose placeholders
// start at $startArg. The fragment references only allow-listed columns.
func (f *AssetFilter) SQL(startArg int) (string, []any, error) {
	return translateFilter(f.ast.NativeRep().Expr(), startArg)
}

func translateFilter(e celast.Expr, argIndex int) (string, []any, error) {
	switch e.Kind() {
	case celast.CallKind:
		return translateFilterCall(e.AsCall(), argIndex)
	default:
		return "", nil, fmt.Errorf("unsupported filter construct (kind %v)", e.Kind())
	}
}

func translateFilterCall(call celast.CallExpr, argIndex int) (string, []any, error) {
	switch call.FunctionName() {
	case operators.LogicalAnd, operators.LogicalOr:
		op := " AND "
		if call.FunctionName() == operators.LogicalOr {
			op = " OR "
		}
		parts := make([]string, 0, len(call.Args()))
		var args []any
		for _, sub := range call.Args() {
			sql, subArgs, err := translateFilter(sub, argIndex)
			if err != nil {
				return "", nil, err
			}
			argIndex += len(subArgs)
			parts = append(parts, sql)
			args = append(args, subArgs...)
		}
		return "(" + strings.Join(parts, op) + ")", args, nil

	case operators.LogicalNot:
		sql, args, err := translateFilter(call.Args()[0], argIndex)
		if err != nil {
			return "", nil, err
		}
		return "NOT " + sql, args, nil

	case operators.Equals, operators.NotEquals,
		operators.Less, operators.LessEquals,
		operators.Greater, operators.GreaterEquals:
		col, val, swapped, err := columnAndLiteral(call.Args()[0], call.Args()[1])
		if err != nil {
			return "", nil, err
		}
		op := sqlComparison(call.FunctionName())
		if swapped {
			// `"b" < path` is `path > "b"` with the column on the left.
			op = mirrorComparison(op)
		}
		return fmt.Sprintf("(%s %s $%d)", col, op, argIndex), []any{val}, nil

	case "contains", "startsWith", "endsWith":
		if !call.IsMemberFunction() {
			return "", nil, fmt.Errorf("unsupported filter function %q", call.FunctionName())
		}
		col, err := columnName(call.Target())
		if err != nil {
			return "", nil, err
		}
		val, err := literalString(call.Args()[0])
		if err != nil {
			return "", nil, err
		}
		switch call.FunctionName() {
		case "contains":
			return fmt.Sprintf("(position($%d in %s) > 0)", argIndex, col), []any{val}, nil
		case "startsWith":
			return fmt.Sprintf("starts_with(%s, $%d)", col, argIndex), []any{val}, nil
		default: // endsWith
			return fmt.Sprintf("(right(%s, length($%d)) = $%d)", col, argIndex, argIndex), []any{val}, nil
		}

	default:
		return "", nil, fmt.Errorf("unsupported filter function %q", call.FunctionName())
	}
}

func sqlComparison(fn string) string {
	switch fn {
	case operators.Equals:
		return "="
	case operators.NotEquals:
		return "<>"
	case operators.Less:
		return "<"
	case operators.LessEquals:
		return "<="
	case operators.Greater:
		return ">"
	default:
		return ">="
	}
}

func mirrorComparison(op string) string {
	switch op {
	case "<":
		return ">"
	case "<=":
		return ">="
	case ">":
		return "<"
	case ">=":
		return "<="
	default: // = and <> are symmetric
		return op
	}
}

// columnAndLiteral accepts "column op literal" in either order. swapped
// reports the literal-first order, where ordered comparisons must mirror.
func columnAndLiteral(a, b celast.Expr) (string, string, bool, error) {
	if a.Kind() == celast.IdentKind {
		col, err := columnName(a)
		if err != nil {
			return "", "", false, err
		}
		val, err := literalString(b)
		return col, val, false, err
	}
	col, err := columnName(b)
	if err != nil {
		return "", "", false, err
	}
	val, err := literalString(a)
	return col, val, true, err
}

func columnName(e celast.Expr) (string, error) {
	if e.Kind() != celast.IdentKind {
		return "", fmt.Errorf("filter comparison must name a column")
	}
	name := e.AsIdent()
	if _, ok := filterColumns[name]; !ok {
		return "", fmt.Errorf("column %q is not queryable", name)
	}
	return name, nil
}

func literalString(e celast.Expr) (string, error) {
	if e.Kind() != celast.LiteralKind {
		return "", fmt.Errorf("filter comparison must use a literal value")
	}
	s, ok := e.AsLiteral().Value().(string)
	if !ok {
		return "", fmt.Errorf("filter literal must be a string, got %T", e.AsLiteral().Value())
	}
	return s, nil
}
