package policy

import (
	"context"
	"embed"
	"fmt"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	prigotel "github.com/techs-targe/PromptRig-sub001/internal/otel"
)

var tracer = prigotel.Tracer("github.com/techs-targe/PromptRig-sub001/internal/policy")

//go:embed rego/*.rego
var embeddedPolicies embed.FS

const toolAccessPolicy = "rego/tool_access.rego"
const toolAccessQuery = "data.promptrig.policy.tool_access.deny"

// Outcome is the result class of a policy evaluation.
type Outcome string

const (
	Allow             Outcome = "ALLOW"
	Deny              Outcome = "DENY"
	NeedsConfirmation Outcome = "NEEDS_CONFIRMATION"
)

// Decision is the result of evaluating one tool call.
type Decision struct {
	Outcome       Outcome                `json:"outcome"`
	Reason        string                 `json:"reason"`
	Tier          Tier                   `json:"tier"`
	Tool          string                 `json:"tool"`
	Args          map[string]interface{} `json:"args"`
	ConfirmPrompt string                 `json:"confirm_prompt,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
}

// PendingConfirmation is the single per-session slot holding the last
// DESTRUCTIVE call awaiting user approval.
type PendingConfirmation struct {
	Tool      string
	Args      map[string]interface{}
	Hash      string
	CreatedAt time.Time
}

// AuditSink receives every policy decision, in evaluation order, keyed by
// session. The durable store implements this; tests use an in-memory sink.
type AuditSink interface {
	AppendAudit(ctx context.Context, sessionID string, d *Decision) error
}

// Options tune engine behavior left open by the platform design.
type Options struct {
	// UnknownToolDeny hard-fails tool names missing from the permission
	// table instead of treating them as READ_ONLY with a warning.
	UnknownToolDeny bool
	// BlockedTools is the operator's deny list fed to the OPA layer.
	BlockedTools []string
}

// sessionState is the per-session confirmation memory.
type sessionState struct {
	confirmed map[string]time.Time // call hash -> confirmation time
	pending   *PendingConfirmation
}

// Engine composes the argument validator, the static permission table,
// the OPA deny layer, and per-session confirmation memory into
// ALLOW / DENY / NEEDS_CONFIRMATION decisions.
//
// All cross-session state lives in the engine keyed by session id, so
// unrelated sessions never observe each other's confirmations. The engine
// is safe for concurrent use.
type Engine struct {
	validator *Validator
	audit     AuditSink
	opts      Options
	prepared  *rego.PreparedEvalQuery

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewEngine creates a policy engine. audit may be nil (decisions are then
// only logged).
func NewEngine(ctx context.Context, validator *Validator, audit AuditSink, opts Options) (*Engine, error) {
	e := &Engine{
		validator: validator,
		audit:     audit,
		opts:      opts,
		sessions:  make(map[string]*sessionState),
	}

	content, err := embeddedPolicies.ReadFile(toolAccessPolicy)
	if err != nil {
		return nil, fmt.Errorf("reading embedded policy %s: %w", toolAccessPolicy, err)
	}
	blocked := opts.BlockedTools
	if blocked == nil {
		blocked = []string{}
	}
	r := rego.New(
		rego.Query(toolAccessQuery),
		rego.Module(toolAccessPolicy, string(content)),
		rego.Store(inmem.NewFromObject(map[string]interface{}{
			"policy": map[string]interface{}{
				"blocked_tools":   toInterfaceSlice(blocked),
				"argument_denies": []interface{}{},
			},
		})),
	)
	pq, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("preparing Rego policy %s: %w", toolAccessPolicy, err)
	}
	e.prepared = &pq
	return e, nil
}

// Evaluate classifies one tool call for a session.
//
//  1. Unknown tool → DENY when UnknownToolDeny, else anomaly-logged READ_ONLY.
//  2. Failed validation → DENY with the validator reason.
//  3. OPA deny layer → DENY with the rule reason.
//  4. READ_ONLY → ALLOW.
//  5. DESTRUCTIVE → ALLOW only when the call hash is in the session's
//     confirmed set or confirmed is true; otherwise NEEDS_CONFIRMATION
//     with a masked prompt, and the pending slot is filled.
//
// Every decision is appended to the audit sink.
func (e *Engine) Evaluate(ctx context.Context, toolName string, args map[string]interface{}, sessionID string, confirmed bool) *Decision {
	ctx, span := tracer.Start(ctx, "policy.evaluate",
		trace.WithAttributes(
			attribute.String("tool.name", toolName),
			attribute.String("session_id", sessionID),
		))
	defer span.End()

	tree := FromArgs(args)
	d := &Decision{
		Tool:      toolName,
		Args:      args,
		Timestamp: time.Now().UTC(),
	}

	tier, known := ClassifyTool(toolName)
	d.Tier = tier
	if !known && e.opts.UnknownToolDeny {
		d.Outcome = Deny
		d.Reason = fmt.Sprintf("unknown tool %q", toolName)
		return e.finish(ctx, span, sessionID, d)
	}

	if err := e.validator.Validate(tree); err != nil {
		d.Outcome = Deny
		d.Reason = err.Error()
		return e.finish(ctx, span, sessionID, d)
	}

	if reason, denied := e.evaluateDenyRules(ctx, toolName, args); denied {
		d.Outcome = Deny
		d.Reason = reason
		return e.finish(ctx, span, sessionID, d)
	}

	if tier == TierReadOnly {
		d.Outcome = Allow
		d.Reason = "read-only tool"
		return e.finish(ctx, span, sessionID, d)
	}

	hash := CallHash(toolName, tree)
	e.mu.Lock()
	st := e.state(sessionID)
	_, wasConfirmed := st.confirmed[hash]
	if confirmed || wasConfirmed {
		st.confirmed[hash] = time.Now().UTC()
		e.mu.Unlock()
		d.Outcome = Allow
		d.Reason = "destructive tool, confirmed"
		return e.finish(ctx, span, sessionID, d)
	}
	st.pending = &PendingConfirmation{
		Tool:      toolName,
		Args:      args,
		Hash:      hash,
		CreatedAt: time.Now().UTC(),
	}
	e.mu.Unlock()

	d.Outcome = NeedsConfirmation
	d.Reason = "destructive tool requires explicit confirmation"
	d.ConfirmPrompt = confirmPrompt(toolName)
	return e.finish(ctx, span, sessionID, d)
}

// confirmPrompt builds the user-facing confirmation question. It uses the
// public label only; the literal tool name must not appear.
func confirmPrompt(toolName string) string {
	return fmt.Sprintf("⚠️ 「%s」は取り消せない操作です。実行してよろしいですか?(はい/いいえ)", PublicLabel(toolName))
}

// Pending returns the session's pending confirmation, if any.
func (e *Engine) Pending(sessionID string) (*PendingConfirmation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	if !ok || st.pending == nil {
		return nil, false
	}
	p := *st.pending
	return &p, true
}

// Resolve consumes the pending slot. When approve is true the call hash
// is recorded as confirmed, so a re-evaluation of the identical call
// returns ALLOW. Returns the consumed pending call.
func (e *Engine) Resolve(sessionID string, approve bool) (*PendingConfirmation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.sessions[sessionID]
	if !ok || st.pending == nil {
		return nil, false
	}
	p := st.pending
	st.pending = nil
	if approve {
		st.confirmed[p.Hash] = time.Now().UTC()
	}
	return p, true
}

// ClearSession drops all confirmation state for a session.
func (e *Engine) ClearSession(sessionID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sessions, sessionID)
}

// state returns the per-session state, creating it if needed.
// Caller must hold e.mu.
func (e *Engine) state(sessionID string) *sessionState {
	st, ok := e.sessions[sessionID]
	if !ok {
		st = &sessionState{confirmed: make(map[string]time.Time)}
		e.sessions[sessionID] = st
	}
	return st
}

// evaluateDenyRules runs the embedded OPA tool_access policy and returns
// the first deny reason, if any. OPA errors fail open with a logged
// warning: the static table and validator remain the authoritative gate.
func (e *Engine) evaluateDenyRules(ctx context.Context, toolName string, args map[string]interface{}) (string, bool) {
	if e.prepared == nil {
		return "", false
	}
	input := map[string]interface{}{
		"tool_name": toolName,
		"args":      args,
	}
	results, err := e.prepared.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		log.Warn().Err(err).Str("tool", toolName).Msg("opa_eval_failed")
		return "", false
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return "", false
	}
	if reasons, ok := results[0].Expressions[0].Value.([]interface{}); ok {
		for _, r := range reasons {
			if msg, ok := r.(string); ok {
				return msg, true
			}
		}
	}
	return "", false
}

// finish records the decision in the audit sink and span, then returns it.
func (e *Engine) finish(ctx context.Context, span trace.Span, sessionID string, d *Decision) *Decision {
	span.SetAttributes(
		attribute.String("policy.outcome", string(d.Outcome)),
		attribute.String("policy.tier", string(d.Tier)),
	)
	if e.audit != nil {
		if err := e.audit.AppendAudit(ctx, sessionID, d); err != nil {
			log.Error().Err(err).Str("session_id", sessionID).Msg("audit_append_failed")
		}
	}
	log.Debug().
		Str("session_id", sessionID).
		Str("tool", d.Tool).
		Str("outcome", string(d.Outcome)).
		Str("reason", d.Reason).
		Msg("policy_decision")
	return d
}

func toInterfaceSlice(s []string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
