// Package llm adapts the OpenAI chat completions API to the analysis
// Reasoner contract.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"post-sentinel/internal/analysis"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrModelUnavailable is returned when the service rejects the model id.
var ErrModelUnavailable = analysis.ErrModelUnavailable

// ChatClient abstracts the OpenAI chat completions API for testability.
type ChatClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// Location is an approximate user location passed to web search.
type Location struct {
	Country  string
	City     string
	Region   string
	Timezone string
}

func (l Location) empty() bool {
	return l.Country == "" && l.City == "" && l.Region == "" && l.Timezone == ""
}

type Client struct {
	tracer   trace.Tracer
	chat     ChatClient
	location Location
}

func NewClient(tracer trace.Tracer, chat ChatClient, location Location) *Client {
	return &Client{tracer: tracer, chat: chat, location: location}
}

// Complete implements analysis.Reasoner.
func (c *Client) Complete(ctx context.Context, req analysis.Request) (*analysis.Response, error) {
	ctx, span := c.tracer.Start(ctx, "llm.complete")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.model", req.Model),
		attribute.Bool("llm.web_search", req.WebSearch),
		attribute.Int("llm.message_count", len(req.Messages)),
	)

	params := openai.ChatCompletionNewParams{
		Model:    req.Model,
		Messages: buildMessages(req),
	}
	if req.MaxOutput > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutput))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	var opts []option.RequestOption
	if req.WebSearch {
		opts = append(opts, option.WithJSONSet("web_search_options", c.searchOptions()))
	}

	completion, err := c.chat.CreateChatCompletion(ctx, params, opts...)
	if err != nil {
		span.RecordError(err)
		return nil, classify(err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices in LLM response")
	}

	msg := completion.Choices[0].Message
	resp := &analysis.Response{
		Text:        msg.Content,
		UsedSearch:  usedSearch(msg),
		Model:       completion.Model,
		TotalTokens: completion.Usage.TotalTokens,
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	span.SetAttributes(
		attribute.Int("llm.reply_length", len(resp.Text)),
		attribute.Bool("llm.used_search", resp.UsedSearch),
		attribute.Int64("llm.total_tokens", resp.TotalTokens),
	)
	return resp, nil
}

func buildMessages(req analysis.Request) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		switch m.Role {
		case "assistant":
			messages = append(messages, openai.AssistantMessage(m.Content))
		case "system":
			messages = append(messages, openai.SystemMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return messages
}

func (c *Client) searchOptions() map[string]any {
	opts := map[string]any{}
	if c.location.empty() {
		return opts
	}
	approx := map[string]any{}
	if c.location.Country != "" {
		approx["country"] = c.location.Country
	}
	if c.location.City != "" {
		approx["city"] = c.location.City
	}
	if c.location.Region != "" {
		approx["region"] = c.location.Region
	}
	if c.location.Timezone != "" {
		approx["timezone"] = c.location.Timezone
	}
	opts["user_location"] = map[string]any{
		"type":        "approximate",
		"approximate": approx,
	}
	return opts
}

// usedSearch reports whether the answer cites web results.
func usedSearch(msg openai.ChatCompletionMessage) bool {
	for _, a := range msg.Annotations {
		if string(a.Type) == "url_citation" {
			return true
		}
	}
	return false
}

// classify maps rejected-model responses to ErrModelUnavailable and leaves
// every other error untouched.
func classify(err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	msg := strings.ToLower(apiErr.Message)
	switch {
	case apiErr.StatusCode == http.StatusNotFound,
		apiErr.Code == "model_not_found",
		apiErr.StatusCode == http.StatusBadRequest && strings.Contains(msg, "model") &&
			(strings.Contains(msg, "does not exist") || strings.Contains(msg, "not supported") || strings.Contains(msg, "invalid")):
		return fmt.Errorf("%w: %s", ErrModelUnavailable, apiErr.Message)
	}
	return err
}

// openaiClient wraps the official SDK's chat completions service.
type openaiClient struct {
	client openai.Client
}

func NewOpenAIClient(apiKey string) ChatClient {
	client := openai.NewClient(option.WithAPIKey(apiKey))
	return &openaiClient{client: client}
}

func (c *openaiClient) CreateChatCompletion(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	opts ...option.RequestOption,
) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params, opts...)
}
