package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/avi3tal/graphengine/pkg/types"
)

const (
	// PromptKey is the input read as the user prompt.
	PromptKey = "prompt"
	// MessagesKey holds a conversation as []llms.MessageContent, in both
	// inputs and outputs.
	MessagesKey = "messages"
	// TextKey is the output holding the model's reply.
	TextKey = "text"
)

var ErrEmptyPrompt = errors.New("no prompt or messages in inputs")

// LLMHandler sends the conversation in its inputs to a language model and
// appends the reply.
type LLMHandler struct {
	model        llms.Model
	systemPrompt string
	options      []llms.CallOption
}

type LLMOption func(*LLMHandler)

func WithSystemPrompt(prompt string) LLMOption {
	return func(h *LLMHandler) {
		h.systemPrompt = prompt
	}
}

// WithCallOptions passes options such as llms.WithTemperature to every call.
func WithCallOptions(opts ...llms.CallOption) LLMOption {
	return func(h *LLMHandler) {
		h.options = append(h.options, opts...)
	}
}

func NewLLMHandler(model llms.Model, opts ...LLMOption) *LLMHandler {
	h := &LLMHandler{model: model}
	for _, o := range opts {
		o(h)
	}
	return h
}

// messages builds the request from a typed conversation, a prompt, or both.
func (h *LLMHandler) messages(in types.Inputs) ([]llms.MessageContent, error) {
	var msgs []llms.MessageContent
	if h.systemPrompt != "" {
		msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeSystem, h.systemPrompt))
	}
	if v, ok := in.Get(MessagesKey); ok && v != nil {
		history, err := decodeHistory(v)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, history...)
	}
	if v, ok := in.Get(PromptKey); ok {
		if prompt := strings.TrimSpace(fmt.Sprint(v)); prompt != "" {
			msgs = append(msgs, llms.TextParts(llms.ChatMessageTypeHuman, prompt))
		}
	}
	return msgs, nil
}

// decodeHistory accepts a typed conversation, or the generic JSON form it
// takes after a checkpoint round trip.
func decodeHistory(v any) ([]llms.MessageContent, error) {
	if history, ok := v.([]llms.MessageContent); ok {
		return history, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", MessagesKey, err)
	}
	var history []llms.MessageContent
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, fmt.Errorf("invalid %s input: %w", MessagesKey, err)
	}
	return history, nil
}

func (h *LLMHandler) Execute(ctx context.Context, ec *types.ExecutionContext, in types.Inputs) types.NodeExecutionResult {
	msgs, err := h.messages(in)
	if err != nil {
		return types.FatalFailure(err)
	}
	conversation := len(msgs)
	if h.systemPrompt != "" {
		conversation--
	}
	if conversation == 0 {
		return types.FatalFailure(ErrEmptyPrompt)
	}

	resp, err := h.model.GenerateContent(ctx, msgs, h.options...)
	if err != nil {
		if ctx.Err() != nil {
			return types.FatalFailure(fmt.Errorf("llm call cancelled: %w", err))
		}
		// Provider errors are mostly rate limits and outages.
		return types.TransientFailure(fmt.Errorf("llm call failed: %w", err))
	}
	if resp == nil || len(resp.Choices) == 0 {
		return types.TransientFailure(errors.New("llm returned no choices"))
	}

	choice := resp.Choices[0]
	if ec != nil && ec.Logger != nil {
		ec.Logger.Debug("llm replied", "stop_reason", choice.StopReason, "chars", len(choice.Content))
	}

	history := msgs
	if h.systemPrompt != "" {
		history = msgs[1:]
	}
	history = append(append([]llms.MessageContent{}, history...), llms.TextParts(llms.ChatMessageTypeAI, choice.Content))

	return types.Success(map[string]any{
		TextKey:     choice.Content,
		MessagesKey: history,
	}).WithMetadata("stop_reason", choice.StopReason)
}
