package policy

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/open-policy-agent/opa/v1/rego"
)

const (
	// Package is the Rego package a login policy must declare.
	Package = "pdfhub.login"

	allowQuery = "data.pdfhub.login.allow"
)

// DefaultRego admits active identities only.
const DefaultRego = `package pdfhub.login

default allow := false

allow if {
	input.identity.status == "active"
}
`

// Request is the login attempt presented to the policy after the password check passed.
type Request struct {
	IdentityID string
	Username   string
	Email      string
	Status     string
	IP         string
	UserAgent  string
}

func (r Request) input() map[string]interface{} {
	return map[string]interface{}{
		"identity": map[string]interface{}{
			"id":       r.IdentityID,
			"username": r.Username,
			"email":    r.Email,
			"status":   r.Status,
		},
		"origin": map[string]interface{}{
			"ip":         r.IP,
			"user_agent": r.UserAgent,
		},
	}
}

// Evaluator decides whether a verified identity may open a session.
type Evaluator interface {
	Allow(ctx context.Context, req Request) (bool, error)
}

// Admission evaluates a compiled Rego login policy in-process.
type Admission struct {
	query rego.PreparedEvalQuery
}

var _ Evaluator = (*Admission)(nil)

// NewAdmission compiles module, or DefaultRego when module is blank.
func NewAdmission(ctx context.Context, module string) (*Admission, error) {
	if strings.TrimSpace(module) == "" {
		module = DefaultRego
	}
	pq, err := rego.New(
		rego.Query(allowQuery),
		rego.Module("login.rego", module),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile login policy: %w", err)
	}
	return &Admission{query: pq}, nil
}

// LoadAdmission reads the Rego module at path. An empty path selects DefaultRego.
func LoadAdmission(ctx context.Context, path string) (*Admission, error) {
	if path == "" {
		return NewAdmission(ctx, "")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read login policy: %w", err)
	}
	return NewAdmission(ctx, string(b))
}

// Allow reports whether req is admitted. An undefined allow rule counts as a deny.
func (a *Admission) Allow(ctx context.Context, req Request) (bool, error) {
	rs, err := a.query.Eval(ctx, rego.EvalInput(req.input()))
	if err != nil {
		return false, fmt.Errorf("eval login policy: %w", err)
	}
	return rs.Allowed(), nil
}

// HealthCheck evaluates the policy against an active identity and fails if evaluation errors.
func (a *Admission) HealthCheck(ctx context.Context) error {
	_, err := a.Allow(ctx, Request{IdentityID: "healthcheck", Status: "active"})
	return err
}

// AllowAll admits every request. Used when no policy engine is configured.
type AllowAll struct{}

func (AllowAll) Allow(context.Context, Request) (bool, error) { return true, nil }
