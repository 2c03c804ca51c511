package proxy

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Message is the shared LLM wire-message shape.
type Message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// NativeRequest is the primary (Anthropic-style) request format.
type NativeRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	TopK        *int      `json:"top_k,omitempty"`
}

// NativeResponse is the primary response format.
type NativeResponse struct {
	ID         string          `json:"id"`
	Model      string          `json:"model"`
	Content    []ContentBlock  `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      Usage           `json:"usage"`
}

type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AlternateRequest is the alternate (OpenAI-style) request format.
type AlternateRequest struct {
	Messages         []Message `json:"messages"`
	MaxTokens        int       `json:"max_tokens"`
	Temperature      *float64  `json:"temperature,omitempty"`
	TopP             *float64  `json:"top_p,omitempty"`
	FrequencyPenalty *float64  `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64  `json:"presence_penalty,omitempty"`
	Model            string    `json:"model,omitempty"`
}

// AlternateResponse is the alternate response format.
type AlternateResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

var stopReasonToFinishReason = map[string]string{
	"end_turn":   "stop",
	"max_tokens": "length",
}

var finishReasonToStopReason = map[string]string{
	"stop":   "end_turn",
	"length": "max_tokens",
}

// ForwardRequest translates a NativeRequest into an AlternateRequest. If
// the native request carries a top-level system prompt, it is prepended
// as the first message with role "system".
func ForwardRequest(req NativeRequest) AlternateRequest {
	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		sysContent, _ := json.Marshal(req.System)
		messages = append(messages, Message{Role: "system", Content: sysContent})
	}
	messages = append(messages, req.Messages...)

	return AlternateRequest{
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
	}
}

// ReverseResponse translates an AlternateResponse back into a
// NativeResponse.
func ReverseResponse(resp AlternateResponse) (NativeResponse, error) {
	if len(resp.Choices) == 0 {
		return NativeResponse{}, fmt.Errorf("proxy: translator: alternate response has no choices")
	}
	choice := resp.Choices[0]

	var text string
	if err := json.Unmarshal(choice.Message.Content, &text); err != nil {
		text = string(choice.Message.Content)
	}

	stopReason := choice.FinishReason
	if mapped, ok := finishReasonToStopReason[choice.FinishReason]; ok {
		stopReason = mapped
	}

	return NativeResponse{
		ID:         resp.ID,
		Model:      resp.Model,
		Content:    []ContentBlock{{Type: "text", Text: text}},
		StopReason: stopReason,
		Usage:      resp.Usage,
	}, nil
}

// ResolveModel maps a native model tier (detected by substring) to a
// configured alternate deployment name. Unknown tiers fall back to def.
func ResolveModel(nativeModel string, tierMap map[string]string, def string) string {
	lower := strings.ToLower(nativeModel)
	for _, tier := range []string{"opus", "sonnet", "haiku"} {
		if strings.Contains(lower, tier) {
			if name, ok := tierMap[tier]; ok {
				return name
			}
		}
	}
	return def
}
