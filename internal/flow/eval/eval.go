// Package eval compiles and runs the boolean rules attached to policy nodes
// when they are evaluated in process.
package eval

import (
	"fmt"
	"sort"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
)

// Compiled is a validated rule ready to run against many payloads.
type Compiled struct {
	Source  string
	Vars    []string
	program *vm.Program
}

// MissingVariablesError lists the top-level payload keys a rule reads but
// the payload does not carry.
type MissingVariablesError struct {
	Vars []string
}

func (e *MissingVariablesError) Error() string {
	return fmt.Sprintf("missing input vars [%s]", strings.Join(e.Vars, ", "))
}

func Compile(rule string) (*Compiled, error) {
	rule = strings.TrimSpace(rule)
	if rule == "" {
		return &Compiled{}, nil
	}

	if err := Validate(rule); err != nil {
		return nil, err
	}

	tree, err := parser.Parse(rule)
	if err != nil {
		return nil, err
	}
	collector := &identCollector{seen: map[string]struct{}{}}
	ast.Walk(&tree.Node, collector)

	program, err := expr.Compile(rule)
	if err != nil {
		return nil, err
	}

	return &Compiled{Source: rule, Vars: collector.sorted(), program: program}, nil
}

// Eval runs the rule against vars. An empty rule is true.
func (c *Compiled) Eval(vars map[string]any) (bool, error) {
	if c.program == nil {
		return true, nil
	}

	var missing []string
	for _, name := range c.Vars {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return false, &MissingVariablesError{Vars: missing}
	}

	out, err := expr.Run(c.program, vars)
	if err != nil {
		return false, err
	}

	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("rule must evaluate to bool (got %T)", out)
	}
	return b, nil
}

// Eval compiles and runs rule in one go.
func Eval(rule string, vars map[string]any) (bool, error) {
	c, err := Compile(rule)
	if err != nil {
		return false, err
	}
	return c.Eval(vars)
}

type identCollector struct {
	seen map[string]struct{}
}

func (v *identCollector) Visit(node *ast.Node) {
	if id, ok := (*node).(*ast.IdentifierNode); ok {
		v.seen[id.Value] = struct{}{}
	}
}

func (v *identCollector) sorted() []string {
	out := make([]string, 0, len(v.seen))
	for name := range v.seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
