package antifraud

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// The expression rule kind evaluates an advertiser-authored CEL predicate
// against the click signal map. The environment declares the full signal
// vocabulary up front so expressions are checked at compile time.
var celEnvOnce sync.Once
var celEnv *cel.Env
var celEnvErr error

func signalEnv() (*cel.Env, error) {
	celEnvOnce.Do(func() {
		celEnv, celEnvErr = cel.NewEnv(
			cel.Variable("fraud_score", cel.IntType),
			cel.Variable("is_proxy", cel.BoolType),
			cel.Variable("is_vpn", cel.BoolType),
			cel.Variable("is_tor", cel.BoolType),
			cel.Variable("is_datacenter", cel.BoolType),
			cel.Variable("is_bot", cel.BoolType),
			cel.Variable("is_unique", cel.BoolType),
			cel.Variable("is_geo_match", cel.BoolType),
			cel.Variable("country", cel.StringType),
			cel.Variable("fingerprint_confidence", cel.DoubleType),
			cel.Variable("velocity_ip_minute", cel.IntType),
			cel.Variable("velocity_ip_hour", cel.IntType),
			cel.Variable("velocity_ip_day", cel.IntType),
			cel.Variable("velocity_fingerprint_hour", cel.IntType),
			cel.Variable("velocity_publisher_hour", cel.IntType),
		)
	})
	return celEnv, celEnvErr
}

type compiledExpression struct {
	program cel.Program
}

// programCache caches compiled programs keyed by rule id and expression text,
// so an updated expression recompiles while unchanged rules evaluate hot.
var programCache sync.Map

func compileExpression(rule Rule) (*compiledExpression, error) {
	if rule.Expression == "" {
		return nil, fmt.Errorf("rule %s has empty expression", rule.RuleID)
	}

	key := rule.RuleID + "|" + rule.Expression
	if v, ok := programCache.Load(key); ok {
		return v.(*compiledExpression), nil
	}

	env, err := signalEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}

	ast, issues := env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL program: %w", err)
	}

	compiled := &compiledExpression{program: program}
	programCache.Store(key, compiled)
	return compiled, nil
}

func (e *compiledExpression) evaluate(attrs map[string]any) (bool, error) {
	if e.program == nil {
		return false, fmt.Errorf("compiled program is nil")
	}

	result, _, err := e.program.Eval(attrs)
	if err != nil {
		return false, fmt.Errorf("failed to evaluate expression: %w", err)
	}

	matched, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression must return a boolean, got %T", result.Value())
	}

	return matched, nil
}
