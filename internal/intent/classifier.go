package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/techs-targe/PromptRig-sub001/internal/llm"
	prigotel "github.com/techs-targe/PromptRig-sub001/internal/otel"
	"github.com/techs-targe/PromptRig-sub001/internal/security"
)

var tracer = prigotel.Tracer("github.com/techs-targe/PromptRig-sub001/internal/intent")

// historyWindow bounds how many recent user messages the model-assisted
// layer sees.
const historyWindow = 4

// Classifier resolves user text to an Intent. Layers run in order and the
// first decisive one wins:
//
//  1. security pre-filter → out_of_scope, method "security", confidence 1.0
//  2. model-assisted (feature-flagged) → tolerant JSON parse; schema
//     violations map to out_of_scope, provider failures fall through
//  3. rule-based keyword tables
type Classifier struct {
	prefilter *security.PreFilter
	provider  llm.Provider // nil disables the model-assisted layer
	model     string
}

// NewClassifier creates a classifier. provider may be nil to disable the
// model-assisted layer.
func NewClassifier(prefilter *security.PreFilter, provider llm.Provider, model string) *Classifier {
	return &Classifier{prefilter: prefilter, provider: provider, model: model}
}

// Extract resolves text to an Intent. recentUserTexts is the user side of
// recent history, oldest first.
func (c *Classifier) Extract(ctx context.Context, text string, recentUserTexts []string) *Intent {
	ctx, span := tracer.Start(ctx, "intent.extract")
	defer span.End()

	if res := c.prefilter.Check(text); res.Threat {
		it := &Intent{
			Domain:     DomainOutOfScope,
			Action:     ActionUnknown,
			Confidence: 1.0,
			Method:     MethodSecurity,
		}
		deriveExec(it)
		span.SetAttributes(attribute.String("intent.method", it.Method))
		return it
	}

	if c.provider != nil {
		if it, ok := c.extractByModel(ctx, text, recentUserTexts); ok {
			span.SetAttributes(
				attribute.String("intent.method", it.Method),
				attribute.String("intent.domain", string(it.Domain)),
			)
			return it
		}
	}

	it := classifyByRules(text)
	span.SetAttributes(
		attribute.String("intent.method", it.Method),
		attribute.String("intent.domain", string(it.Domain)),
	)
	return it
}

// modelIntent is the JSON shape the model-assisted layer expects back.
type modelIntent struct {
	Domain     string  `json:"domain"`
	Action     string  `json:"action"`
	Confidence float64 `json:"confidence"`
	TargetID   *int64  `json:"target_id"`
	TargetName string  `json:"target_name"`
	Reasoning  string  `json:"reasoning"`
}

const classifyPromptFormat = `You classify a user request for a prompt-management platform.
Respond with ONLY a JSON object, no prose:
{"domain": "...", "action": "...", "confidence": 0.0-1.0, "target_id": null or number, "target_name": null or string}

domain must be one of: project, prompt, workflow, dataset, tag, settings, task, out_of_scope
action must be one of: list, get, create, update, delete, run, cancel, unknown

Recent user messages:
%s

Current message:
%s`

// extractByModel runs the model-assisted layer. The second return value
// is false only when the provider call itself failed, in which case the
// rule-based layer takes over. Unverifiable model output never escapes
// as an error: any parse or schema failure deterministically maps to
// out_of_scope.
func (c *Classifier) extractByModel(ctx context.Context, text string, recentUserTexts []string) (*Intent, bool) {
	start := 0
	if len(recentUserTexts) > historyWindow {
		start = len(recentUserTexts) - historyWindow
	}
	history := strings.Join(recentUserTexts[start:], "\n")

	resp, err := c.provider.Generate(ctx, &llm.Request{
		Model:       c.model,
		Messages:    []llm.Message{{Role: "user", Content: fmt.Sprintf(classifyPromptFormat, history, text)}},
		Temperature: 0,
		MaxTokens:   256,
	})
	if err != nil {
		log.Warn().Err(err).Msg("intent_model_call_failed")
		return nil, false
	}

	outOfScope := func() *Intent {
		it := &Intent{
			Domain:     DomainOutOfScope,
			Action:     ActionUnknown,
			Confidence: 0.5,
			Method:     MethodModel,
		}
		deriveExec(it)
		return it
	}

	var mi modelIntent
	if err := parseLooseJSON(resp.Content, &mi); err != nil {
		log.Debug().Err(err).Msg("intent_model_parse_failed")
		return outOfScope(), true
	}
	domain := Domain(mi.Domain)
	action := Action(mi.Action)
	if !knownDomains[domain] || !knownActions[action] {
		return outOfScope(), true
	}
	if mi.Confidence < 0 || mi.Confidence > 1 {
		mi.Confidence = 0.5
	}

	it := &Intent{
		Domain:     domain,
		Action:     action,
		Confidence: mi.Confidence,
		TargetName: mi.TargetName,
		Method:     MethodModel,
	}
	if mi.TargetID != nil {
		it.TargetID = *mi.TargetID
	}
	deriveExec(it)
	return it, true
}

// parseLooseJSON unmarshals fenced-or-bare JSON: it strips a markdown
// code fence if present, then takes the outermost {...} slice.
func parseLooseJSON(text string, v interface{}) error {
	s := strings.TrimSpace(text)
	if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
		s = strings.TrimPrefix(s, "json")
		if j := strings.Index(s, "```"); j >= 0 {
			s = s[:j]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("no JSON object in model output")
	}
	return json.Unmarshal([]byte(s[start:end+1]), v)
}
