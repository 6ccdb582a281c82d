package engine

import (
	"context"

	"github.com/rouyesh1998/rouyeshno-bridge/internal/operator"
)

// Evaluator decides whether an inbound operator reply may be relayed to a client.
type Evaluator interface {
	// AllowInbound reports whether in may be delivered. An error means the decision
	// could not be made; callers treat it as a denial.
	AllowInbound(ctx context.Context, in operator.Inbound) (bool, error)
}
