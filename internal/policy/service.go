// Package policy evaluates an optional Rego module before side-effecting
// payment events.
package policy

import (
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// Input is what the policy sees as `input`.
type Input struct {
	Type       string `json:"type"`
	LocationID string `json:"locationId"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Mode       string `json:"mode"`
}

type Decision struct {
	Allow  bool
	Reason string
}

// Guard evaluates `data.policy.decide`, which must produce
// {"allow": bool, "reason": string}. A nil Guard allows everything.
type Guard struct {
	query rego.PreparedEvalQuery
	log   *zap.SugaredLogger
}

// New compiles module once. An empty module returns a nil Guard.
func New(ctx context.Context, module string, log *zap.SugaredLogger) (*Guard, error) {
	if module == "" {
		return nil, nil
	}
	pq, err := rego.New(
		rego.Query("data.policy.decide"),
		rego.Module("events.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile event policy: %w", err)
	}
	return &Guard{query: pq, log: log}, nil
}

// Load reads the Rego module at path; an empty path disables the guard.
func Load(ctx context.Context, path string, log *zap.SugaredLogger) (*Guard, error) {
	if path == "" {
		return nil, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event policy: %w", err)
	}
	return New(ctx, string(b), log)
}

// Decide blocks on evaluation errors and undefined results.
func (g *Guard) Decide(ctx context.Context, in Input) Decision {
	if g == nil {
		return Decision{Allow: true}
	}
	rs, err := g.query.Eval(ctx, rego.EvalInput(map[string]any{
		"type":       in.Type,
		"locationId": in.LocationID,
		"amount":     in.Amount,
		"currency":   in.Currency,
		"mode":       in.Mode,
	}))
	if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
		if err != nil {
			g.log.Errorw("event policy eval", "event_type", in.Type, "location_id", in.LocationID, "err", err)
		}
		return Decision{Reason: "policy_error"}
	}
	switch out := rs[0].Expressions[0].Value.(type) {
	case map[string]any:
		allow, _ := out["allow"].(bool)
		reason, _ := out["reason"].(string)
		if !allow && reason == "" {
			reason = "denied"
		}
		return Decision{Allow: allow, Reason: reason}
	case bool:
		if !out {
			return Decision{Reason: "denied"}
		}
	}
	return Decision{Allow: true}
}
