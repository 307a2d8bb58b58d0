// Package expr compiles and evaluates the HCL expressions used as edge
// predicates. An expression sees the producing node's output as the variable
// "output".
package expr

import (
	"fmt"
	"math/big"
	"reflect"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"
)

// OutputVar is the only variable a predicate may reference.
const OutputVar = "output"

// Predicate is a compiled boolean expression. It is safe for concurrent use.
type Predicate struct {
	src  string
	expr hclsyntax.Expression
}

// Compile parses src and checks that it only references the output variable.
func Compile(src string) (*Predicate, error) {
	expr, diags := hclsyntax.ParseExpression([]byte(src), "predicate.hcl", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %q: %s", src, diags.Error())
	}
	for _, traversal := range expr.Variables() {
		if root := traversal.RootName(); root != OutputVar {
			return nil, fmt.Errorf("parse %q: unknown variable %q", src, root)
		}
	}
	return &Predicate{src: src, expr: expr}, nil
}

func (p *Predicate) String() string {
	return p.src
}

// Eval evaluates the predicate against output.
func (p *Predicate) Eval(output map[string]any) (bool, error) {
	val, err := ToCty(output)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", p.src, err)
	}
	evalCtx := &hcl.EvalContext{
		Variables: map[string]cty.Value{OutputVar: val},
	}

	result, diags := p.expr.Value(evalCtx)
	if diags.HasErrors() {
		return false, fmt.Errorf("evaluate %q: %s", p.src, diags.Error())
	}
	if result.IsNull() || !result.IsKnown() {
		return false, nil
	}
	if !result.Type().Equals(cty.Bool) {
		return false, fmt.Errorf("evaluate %q: expected bool, got %s", p.src, result.Type().FriendlyName())
	}
	return result.True(), nil
}

// ToCty converts a Go value to a cty.Value. Maps become objects and slices
// become tuples so heterogeneous values survive. Types without a direct mapping
// fall back to gocty's implied type.
func ToCty(data any) (cty.Value, error) {
	if data == nil {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}

	switch v := data.(type) {
	case cty.Value:
		return v, nil
	case string:
		return cty.StringVal(v), nil
	case bool:
		return cty.BoolVal(v), nil
	case float64:
		return cty.NumberFloatVal(v), nil
	case float32:
		return cty.NumberFloatVal(float64(v)), nil
	case int:
		return cty.NumberIntVal(int64(v)), nil
	case int32:
		return cty.NumberIntVal(int64(v)), nil
	case int64:
		return cty.NumberIntVal(v), nil
	case uint:
		return cty.NumberUIntVal(uint64(v)), nil
	case uint64:
		return cty.NumberUIntVal(v), nil
	case *big.Float:
		return cty.NumberVal(v), nil
	case map[string]any:
		attrs := make(map[string]cty.Value, len(v))
		for key, val := range v {
			ctyVal, err := ToCty(val)
			if err != nil {
				return cty.NilVal, fmt.Errorf("attribute %q: %w", key, err)
			}
			attrs[key] = ctyVal
		}
		return cty.ObjectVal(attrs), nil
	case []any:
		elems := make([]cty.Value, 0, len(v))
		for i, val := range v {
			ctyVal, err := ToCty(val)
			if err != nil {
				return cty.NilVal, fmt.Errorf("element %d: %w", i, err)
			}
			elems = append(elems, ctyVal)
		}
		return cty.TupleVal(elems), nil
	case []string:
		elems := make([]cty.Value, 0, len(v))
		for _, s := range v {
			elems = append(elems, cty.StringVal(s))
		}
		return cty.TupleVal(elems), nil
	}

	rv := reflect.ValueOf(data)
	if rv.Kind() == reflect.Ptr && rv.IsNil() {
		return cty.NullVal(cty.DynamicPseudoType), nil
	}
	ty, err := gocty.ImpliedType(data)
	if err != nil {
		return cty.NilVal, fmt.Errorf("unsupported type for conversion to cty.Value: %T", data)
	}
	return gocty.ToCtyValue(data, ty)
}
