// Package policy evaluates who may drive a session's lifecycle.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Actions checked by the policy.
const (
	ActionCancel       = "cancel"
	ActionComplete     = "complete"
	ActionManageRoster = "manage_roster"
)

// Decisions returned by the policy.
const (
	DecisionAllow            = "allow"
	DecisionDeny             = "deny"
	DecisionFeedNotExhausted = "feed_not_exhausted"
)

// Input describes one lifecycle request.
type Input struct {
	Action           string
	ActorID          string
	ActorRole        string
	SessionCreatedBy string
	FeedExhausted    bool
	RosterEmpty      bool
}

func (in Input) toMap() map[string]interface{} {
	return map[string]interface{}{
		"action":         in.Action,
		"actor_id":       in.ActorID,
		"actor_role":     in.ActorRole,
		"feed_exhausted": in.FeedExhausted,
		"roster_empty":   in.RosterEmpty,
		"session": map[string]interface{}{
			"created_by": in.SessionCreatedBy,
		},
	}
}

// Engine is the OPA policy engine.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.session_policy.decision"),
		rego.Module("session_policy.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// Evaluate returns the policy decision for in.
func (e *Engine) Evaluate(ctx context.Context, in Input) (string, error) {
	results, err := e.query.Eval(ctx, rego.EvalInput(in.toMap()))
	if err != nil {
		return "", fmt.Errorf("failed to evaluate policy: %w", err)
	}

	// The policy defines a default, so an empty result set means the module is broken.
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return DecisionDeny, nil
	}

	if s, ok := results[0].Expressions[0].Value.(string); ok {
		return s, nil
	}
	return DecisionDeny, nil
}

// DefaultPolicy is the default policy content.
const DefaultPolicy = `
package session_policy

import rego.v1

default decision := "deny"

privileged if input.actor_id == input.session.created_by

privileged if input.actor_role == "admin"

decision := "allow" if {
	input.action == "cancel"
	privileged
}

# Completing before the feed runs dry would cut off members still swiping.
decision := "allow" if {
	input.action == "complete"
	privileged
	input.feed_exhausted
}

decision := "feed_not_exhausted" if {
	input.action == "complete"
	privileged
	not input.feed_exhausted
}

decision := "allow" if {
	input.action == "manage_roster"
	input.actor_role == "admin"
}

decision := "allow" if {
	input.action == "manage_roster"
	input.roster_empty
}
`
