// Package oracle implements the completion-verification protocol (§4.G):
// no task, component, or module may be marked complete until a short-lived
// sub-agent certifies it against collected evidence.
//
// Grounded on the teacher's BuildVerifier pipeline
// (internal/agents/autonomous/verifier.go), which already runs a
// multi-step verification (build, test, AI review) before a delivery is
// considered passing; this package narrows that to a single structured
// verdict call appropriate for gating one task/component/module at a time,
// and drives it through internal/llmtransport instead of the teacher's
// embedded AIProvider interface.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/DigiBanks99/lopen/internal/audit"
	"github.com/DigiBanks99/lopen/internal/llmtransport"
)

// Scope is the kind of thing being verified.
type Scope string

const (
	ScopeTask      Scope = "task"
	ScopeComponent Scope = "component"
	ScopeModule    Scope = "module"
)

// Evidence is everything collected in support of one verification call.
type Evidence struct {
	ScopeKind     Scope
	ScopeID       string
	DiffSinceGood string
	TestOutput    string
	SpecSection   string
	ChangedFiles  []string
}

// Confidence is the oracle's self-reported confidence in a verdict.
type Confidence string

const (
	ConfidenceLow    Confidence = "Low"
	ConfidenceMedium Confidence = "Medium"
	ConfidenceHigh   Confidence = "High"
)

// Finding is one specific observation backing a verdict.
type Finding struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	Location string `json:"location,omitempty"`
}

// Verdict is the structured answer the sub-agent must return (§3 "Oracle
// verdict on the wire").
type Verdict struct {
	Passed     bool       `json:"passed"`
	Confidence Confidence `json:"confidence"`
	Findings   []Finding  `json:"findings"`
	Summary    string     `json:"summary"`
}

const systemPrompt = `You are a strict completion verifier. You will be given evidence about one unit of work: a diff, test output, the relevant specification section, and a list of changed files. Reply with a single JSON object of the shape {"passed": bool, "confidence": "Low"|"Medium"|"High", "findings": [{"severity": string, "message": string, "location": string}], "summary": string} and nothing else. Set passed=true only if the evidence fully satisfies the specification section. List every concrete defect found as a finding, even when passed=true. Do not perform any action other than emitting this verdict.`

// Oracle drives verification sub-sessions and enforces the gate.
type Oracle struct {
	transport llmtransport.Transport
	log       *audit.Log
	timeout   time.Duration
}

// New creates an Oracle. timeout bounds every verification call (default
// <=30s per §4.K).
func New(transport llmtransport.Transport, log *audit.Log, timeout time.Duration) *Oracle {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Oracle{transport: transport, log: log, timeout: timeout}
}

func renderEvidence(ev Evidence) string {
	return fmt.Sprintf(
		"scope: %s %s\n\n--- diff since last known-good ---\n%s\n\n--- test output ---\n%s\n\n--- spec section ---\n%s\n\n--- changed files ---\n%v\n",
		ev.ScopeKind, ev.ScopeID, ev.DiffSinceGood, ev.TestOutput, ev.SpecSection, ev.ChangedFiles,
	)
}

// Verify runs one verification sub-session and appends its outcome to the
// audit log under iterationID. The tool name recorded is
// verify_{scope}_completion, matching the dispatch contract in §4.G.
func (o *Oracle) Verify(ctx context.Context, iterationID string, ev Evidence) (Verdict, error) {
	toolName := fmt.Sprintf("verify_%s_completion", ev.ScopeKind)
	start := time.Now()

	result, err := o.transport.Invoke(ctx, systemPrompt, renderEvidence(ev), nil, nil, o.timeout)
	duration := time.Since(start)

	args := map[string]string{"scope_id": ev.ScopeID}

	if err != nil {
		o.log.Append(iterationID, toolName, args, start, duration, audit.Timeout, err.Error())
		return Verdict{}, fmt.Errorf("oracle: invoke: %w", err)
	}

	var v Verdict
	if perr := json.Unmarshal([]byte(result.FinalText), &v); perr != nil {
		o.log.Append(iterationID, toolName, args, start, duration, audit.Failure, "unparseable verdict: "+perr.Error())
		return Verdict{}, fmt.Errorf("oracle: parse verdict: %w", perr)
	}

	outcome := audit.Failure
	if v.Passed {
		outcome = audit.Success
	}
	o.log.Append(iterationID, toolName, args, start, duration, outcome, v.Summary)

	return v, nil
}

// Satisfied reports whether a scope has a verified-passing verify_*
// completion call in iterationID's audit log — the enforcement check
// behind update_task_status(complete) and the oracle-verification
// guardrail.
func (o *Oracle) Satisfied(iterationID string, scopeKind Scope, scopeID string) bool {
	toolName := fmt.Sprintf("verify_%s_completion", scopeKind)
	return o.log.HasSuccess(iterationID, toolName, "scope_id", scopeID)
}
