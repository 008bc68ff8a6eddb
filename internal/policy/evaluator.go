package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/dogcatcher/authgw/internal/auth"
	"github.com/dogcatcher/authgw/internal/observability"
)

// Evaluator holds the compiled policy programs keyed by route name.
type Evaluator struct {
	env      *cel.Env
	programs map[string]cel.Program
	logger   observability.Logger
}

// Option is a functional option for the evaluator.
type Option func(*Evaluator)

// WithLogger sets the logger.
func WithLogger(logger observability.Logger) Option {
	return func(e *Evaluator) {
		e.logger = logger
	}
}

// NewEvaluator creates an evaluator and compiles every expression in
// expressions, keyed by route name. Compilation failures are reported at
// load time so a bad policy never reaches request handling.
func NewEvaluator(expressions map[string]string, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		programs: make(map[string]cel.Program, len(expressions)),
		logger:   observability.NopLogger(),
	}

	for _, opt := range opts {
		opt(e)
	}

	env, err := newEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	e.env = env

	for route, expr := range expressions {
		program, err := e.compile(expr)
		if err != nil {
			return nil, fmt.Errorf("route %s: %w", route, err)
		}
		e.programs[route] = program
	}

	return e, nil
}

// newEnvironment declares the variables a claims policy may reference.
func newEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		// Verified claims of the identity.
		cel.Variable("claims", cel.MapType(cel.StringType, cel.DynType)),

		// Principal the verifier established.
		cel.Variable("principal", cel.StringType),

		// Authentication mode of the matched route.
		cel.Variable("mode", cel.StringType),

		cel.Variable("now", cel.TimestampType),
	)
}

func (e *Evaluator) compile(expr string) (cel.Program, error) {
	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("expression must evaluate to bool, got %s", ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program: %w", err)
	}
	return program, nil
}

// HasPolicy reports whether a policy is registered for the route.
func (e *Evaluator) HasPolicy(route string) bool {
	_, ok := e.programs[route]
	return ok
}

// Evaluate runs the route's policy against the verified identity. A
// missing policy allows. A false result, a non-bool result, or an
// evaluation error all deny: the policy gate fails closed.
func (e *Evaluator) Evaluate(ctx context.Context, route string, identity *auth.Identity) error {
	program, ok := e.programs[route]
	if !ok {
		return nil
	}

	claims := identity.Claims
	if claims == nil {
		claims = map[string]any{}
	}

	result, _, err := program.ContextEval(ctx, map[string]any{
		"claims":    claims,
		"principal": identity.Principal,
		"mode":      identity.Mode.String(),
		"now":       time.Now(),
	})
	if err != nil {
		e.logger.Warn("claims policy evaluation error",
			observability.String("route", route),
			observability.Error(err),
		)
		return auth.WrapError(auth.ErrorTypePolicyDenied,
			"policy_denied", "access denied by claims policy", err)
	}

	allowed, ok := result.Value().(bool)
	if !ok || !allowed {
		e.logger.Debug("claims policy denied",
			observability.String("route", route),
			observability.String("principal", identity.Principal),
		)
		return auth.WrapError(auth.ErrorTypePolicyDenied,
			"policy_denied", "access denied by claims policy", auth.ErrPolicyDenied)
	}

	return nil
}
