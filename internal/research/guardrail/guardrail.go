// Package guardrail implements the pre-loop classifier (C9): decides whether
// a user request should be admitted into the research loop at all. Fails
// open — a classifier error allows the request through rather than blocking
// legitimate research on an infrastructure hiccup.
package guardrail

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"deepresearch/internal/llm"
	"deepresearch/internal/research/types"
)

const toolName = "emit_verdict"

const systemPrompt = `You screen requests to a web-research assistant for clearly disallowed
intent (e.g. building weapons, generating malware, defeating safety systems).
Legitimate research, even on sensitive or controversial topics, should be
allowed. Call emit_verdict with classification "allow" or "refuse" and a
short reason.`

var tool = llm.ToolSchema{
	Name:        toolName,
	Description: "Emit the guardrail's allow/refuse classification.",
	Parameters: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"classification": map[string]any{"type": "string", "enum": []string{"allow", "refuse"}},
			"reason":         map[string]any{"type": "string"},
		},
		"required": []string{"classification"},
	},
}

// Guardrail classifies a request as allowed or refused before the loop runs.
type Guardrail struct {
	provider llm.Provider
	model    string
}

// New builds a Guardrail.
func New(provider llm.Provider, model string) *Guardrail {
	return &Guardrail{provider: provider, model: model}
}

// Classify returns the guardrail's verdict for the latest user message in
// context of the conversation. Any classifier failure fails open (allow),
// with the error logged for observability.
func (g *Guardrail) Classify(ctx context.Context, messageHistory, lastUserMessage string) types.GuardrailVerdict {
	msgs := []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Conversation:\n%s\n\nLatest request: %s", messageHistory, lastUserMessage)},
	}
	resp, err := g.provider.Chat(ctx, msgs, []llm.ToolSchema{tool}, g.model)
	if err != nil {
		log.Warn().Err(err).Msg("guardrail_llm_failed_fail_open")
		return types.GuardrailVerdict{Classification: types.GuardrailAllow}
	}

	for _, tc := range resp.ToolCalls {
		if tc.Name != toolName {
			continue
		}
		var decoded struct {
			Classification string `json:"classification"`
			Reason         string `json:"reason"`
		}
		if err := json.Unmarshal(tc.Args, &decoded); err != nil {
			log.Warn().Err(err).Msg("guardrail_decode_failed_fail_open")
			return types.GuardrailVerdict{Classification: types.GuardrailAllow}
		}
		verdict := types.GuardrailVerdict{
			Classification: types.GuardrailClassification(decoded.Classification),
			Reason:         decoded.Reason,
		}
		if verdict.Classification != types.GuardrailAllow && verdict.Classification != types.GuardrailRefuse {
			return types.GuardrailVerdict{Classification: types.GuardrailAllow}
		}
		return verdict
	}
	log.Warn().Msg("guardrail_no_tool_call_fail_open")
	return types.GuardrailVerdict{Classification: types.GuardrailAllow}
}
