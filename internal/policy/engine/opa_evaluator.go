package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
)

const allowQuery = "data.bridge.inbound.allow"

// DefaultPolicy admits replies from the configured operator chat, or from any chat
// when no operator chat is configured.
const DefaultPolicy = `package bridge.inbound

default allow := false

allow if {
	data.operator_chat == ""
}

allow if {
	input.address == data.operator_chat
}
`

// OPAEvaluator evaluates inbound admission with an in-process Rego policy.
type OPAEvaluator struct {
	query        rego.PreparedEvalQuery
	operatorChat string
	logger       *slog.Logger
}

// NewOPAEvaluator compiles policy (DefaultPolicy when empty) against the operator chat id.
func NewOPAEvaluator(ctx context.Context, policy, operatorChat string, logger *slog.Logger) (*OPAEvaluator, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	if logger == nil {
		logger = slog.Default()
	}
	compiler, err := ast.CompileModules(map[string]string{"inbound.rego": policy})
	if err != nil {
		return nil, fmt.Errorf("compile inbound policy: %w", err)
	}
	store := inmem.NewFromObject(map[string]any{"operator_chat": operatorChat})
	q, err := rego.New(
		rego.Query(allowQuery),
		rego.Compiler(compiler),
		rego.Store(store),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("prepare inbound policy: %w", err)
	}
	return &OPAEvaluator{query: q, operatorChat: operatorChat, logger: logger.With("component", "policy")}, nil
}

// NewOPAEvaluatorFromFile reads a Rego policy from path. An empty path uses DefaultPolicy.
func NewOPAEvaluatorFromFile(ctx context.Context, path, operatorChat string, logger *slog.Logger) (*OPAEvaluator, error) {
	if path == "" {
		return NewOPAEvaluator(ctx, "", operatorChat, logger)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inbound policy: %w", err)
	}
	return NewOPAEvaluator(ctx, string(raw), operatorChat, logger)
}

func inputFor(in operator.Inbound) map[string]any {
	return map[string]any{
		"address":   in.Address.Chat,
		"thread":    in.Address.Thread,
		"sender":    in.Sender,
		"text":      in.Text,
		"update_id": in.UpdateID,
	}
}

// AllowInbound evaluates the policy for in. Undefined or non-boolean results deny.
func (e *OPAEvaluator) AllowInbound(ctx context.Context, in operator.Inbound) (bool, error) {
	rs, err := e.query.Eval(ctx, rego.EvalInput(inputFor(in)))
	if err != nil {
		e.logger.WarnContext(ctx, "inbound policy evaluation failed; denying", "address", in.Address.String(), "error", err)
		return false, fmt.Errorf("eval inbound policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	allow, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, errors.New("inbound policy: allow is not a boolean")
	}
	return allow, nil
}

// HealthCheck evaluates the prepared policy against a synthetic reply from the operator chat.
func (e *OPAEvaluator) HealthCheck(ctx context.Context) error {
	probe := operator.Inbound{Text: "health"}
	probe.Address.Chat = e.operatorChat
	rs, err := e.query.Eval(ctx, rego.EvalInput(inputFor(probe)))
	if err != nil {
		return fmt.Errorf("eval inbound policy: %w", err)
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return errors.New("policy query returned no result")
	}
	return nil
}
