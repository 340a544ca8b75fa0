package config

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// Vars are the values a template may reference, e.g. spectra, database,
// enzyme, output.
type Vars map[string]string

// Command is a rendered template.
type Command struct {
	Program string
	Args    []string
	// Stdout is empty unless the template redirects standard output.
	Stdout string
}

var templateFuncs = map[string]function.Function{
	"format": stdlib.FormatFunc,
	"join":   stdlib.JoinFunc,
	"lower":  stdlib.LowerFunc,
	"upper":  stdlib.UpperFunc,
}

// Render evaluates the template's expressions against vars.
func (t *Template) Render(vars Vars) (Command, error) {
	evalCtx := vars.evalContext()
	cmd := Command{Program: t.Program}

	if isExprDefined(t.Args) {
		val, diags := t.Args.Value(evalCtx)
		if diags.HasErrors() {
			return Command{}, fmt.Errorf("rendering args of %s: %w", t.Name, diags)
		}
		args, err := toStrings(val)
		if err != nil {
			return Command{}, fmt.Errorf("rendering args of %s: %w", t.Name, err)
		}
		cmd.Args = args
	}

	if isExprDefined(t.Stdout) {
		val, diags := t.Stdout.Value(evalCtx)
		if diags.HasErrors() {
			return Command{}, fmt.Errorf("rendering stdout of %s: %w", t.Name, diags)
		}
		val, err := convert.Convert(val, cty.String)
		if err != nil || val.IsNull() || !val.IsKnown() {
			return Command{}, fmt.Errorf("rendering stdout of %s: expected a string", t.Name)
		}
		cmd.Stdout = val.AsString()
	}
	return cmd, nil
}

func (v Vars) evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value, len(v))
	for k, s := range v {
		vars[k] = cty.StringVal(s)
	}
	return &hcl.EvalContext{Variables: vars, Functions: templateFuncs}
}

func toStrings(val cty.Value) ([]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	list, err := convert.Convert(val, cty.List(cty.String))
	if err != nil {
		return nil, fmt.Errorf("expected a list of strings: %w", err)
	}
	if !list.IsWhollyKnown() {
		return nil, fmt.Errorf("arguments are not fully known")
	}
	out := make([]string, 0, list.LengthInt())
	for it := list.ElementIterator(); it.Next(); {
		_, el := it.Element()
		if el.IsNull() {
			return nil, fmt.Errorf("argument %d is null", len(out))
		}
		out = append(out, el.AsString())
	}
	return out, nil
}

// isExprDefined reports whether an optional attribute was actually written.
// The decoder fills omitted attributes with zero-width placeholder
// expressions, so a nil check is not enough.
func isExprDefined(expr hcl.Expression) bool {
	if expr == nil {
		return false
	}
	r := expr.Range()
	return r.End.Byte > r.Start.Byte
}
