package renewal

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// Condition evaluates action "when" expressions against license attributes.
// Compiled programs are cached by expression text.
type Condition struct {
	env      *cel.Env
	programs sync.Map
}

func NewCondition() (*Condition, error) {
	env, err := cel.NewEnv(
		cel.Variable("tenant_id", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("auto_renew", cel.BoolType),
		cel.Variable("price_paid", cel.DoubleType),
		cel.Variable("days_until_expiry", cel.IntType),
		cel.Variable("days_before", cel.IntType),
		cel.CrossTypeNumericComparisons(true),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Condition{env: env}, nil
}

func (c *Condition) program(expression string) (cel.Program, error) {
	if p, ok := c.programs.Load(expression); ok {
		return p.(cel.Program), nil
	}

	ast, issues := c.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("expression must return a boolean, got %s", ast.OutputType())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	c.programs.Store(expression, program)
	return program, nil
}

// Check compiles expression without evaluating it.
func (c *Condition) Check(expression string) error {
	_, err := c.program(expression)
	return err
}

// Evaluate returns true for an empty expression.
func (c *Condition) Evaluate(expression string, vars map[string]any) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := c.program(expression)
	if err != nil {
		return false, err
	}

	result, _, err := program.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	boolean, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return a boolean, got %T", result.Value())
	}
	return boolean, nil
}
