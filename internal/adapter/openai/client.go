// Package openai implements the llm.Model port against any OpenAI-compatible
// chat completions endpoint (OpenAI, OpenRouter, a LiteLLM proxy).
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	oai "github.com/sashabaranov/go-openai"

	"github.com/Strob0t/ForgeBot/internal/config"
	"github.com/Strob0t/ForgeBot/internal/domain/conversation"
	"github.com/Strob0t/ForgeBot/internal/port/llm"
	"github.com/Strob0t/ForgeBot/internal/resilience"
)

// affordPattern extracts the affordable output budget from provider quota
// messages such as "You requested up to 4096 tokens, but can only afford 1600."
var affordPattern = regexp.MustCompile(`(?i)can only afford (\d+)`)

// Client is a chat-completion client with transport retries and an optional
// circuit breaker.
type Client struct {
	api            *oai.Client
	breaker        *resilience.Breaker
	timeout        time.Duration
	maxRetries     int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// New creates a client from the LLM configuration.
func New(cfg config.LLM) *Client {
	oc := oai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	oc.HTTPClient = &http.Client{}

	c := &Client{
		api:            oai.NewClientWithConfig(oc),
		timeout:        cfg.Timeout,
		maxRetries:     cfg.MaxRetries,
		initialBackoff: cfg.InitialBackoff,
		maxBackoff:     cfg.MaxBackoff,
	}
	if c.timeout <= 0 {
		c.timeout = 120 * time.Second
	}
	if c.maxRetries < 0 {
		c.maxRetries = 0
	}
	if c.initialBackoff <= 0 {
		c.initialBackoff = 500 * time.Millisecond
	}
	if c.maxBackoff <= 0 {
		c.maxBackoff = 10 * time.Second
	}
	return c
}

// SetBreaker attaches a circuit breaker to all completion calls. The breaker
// should count only transient failures (see llm.IsTransient).
func (c *Client) SetBreaker(b *resilience.Breaker) {
	c.breaker = b
}

// Complete sends one chat completion. Transient failures are retried with
// exponential backoff; quota and client errors return immediately.
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	creq, err := toRequest(req)
	if err != nil {
		return nil, &llm.Error{Category: llm.CategoryClient, Model: req.Model, Err: err}
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialBackoff
	eb.MaxInterval = c.maxBackoff

	attempt := 0
	op := func() (*llm.Response, error) {
		attempt++
		resp, err := c.call(ctx, req.Model, creq)
		if err == nil {
			return resp, nil
		}
		if !llm.IsTransient(err) || errors.Is(err, resilience.ErrCircuitOpen) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.WarnContext(ctx, "llm call failed, retrying",
				"model", req.Model, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	if err != nil {
		var le *llm.Error
		if !errors.As(err, &le) && ctx.Err() == nil {
			err = &llm.Error{Category: llm.CategoryTransient, Model: req.Model, Err: err}
		}
		return nil, err
	}
	return resp, nil
}

func (c *Client) call(ctx context.Context, model string, creq oai.ChatCompletionRequest) (*llm.Response, error) {
	var out oai.ChatCompletionResponse
	fn := func() error {
		cctx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()
		resp, err := c.api.CreateChatCompletion(cctx, creq)
		if err != nil {
			return classify(ctx, model, err)
		}
		if len(resp.Choices) == 0 {
			return &llm.Error{Category: llm.CategoryTransient, Model: model, Err: errors.New("response has no choices")}
		}
		out = resp
		return nil
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Execute(fn)
	} else {
		err = fn()
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, &llm.Error{Category: llm.CategoryTransient, Model: model, Err: err}
	}
	if err != nil {
		return nil, err
	}
	return fromResponse(model, out), nil
}

// classify maps a go-openai error onto the llm error taxonomy.
func classify(ctx context.Context, model string, err error) error {
	// Caller cancellation is not a provider failure.
	if ctx.Err() != nil {
		return ctx.Err()
	}

	status := 0
	msg := err.Error()
	var apiErr *oai.APIError
	var reqErr *oai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
		if len(reqErr.Body) > 0 {
			msg += " " + string(reqErr.Body)
		}
	}

	e := &llm.Error{Model: model, Err: err}
	switch {
	case status == http.StatusPaymentRequired, isQuotaMessage(msg):
		e.Category = llm.CategoryQuota
		e.AffordableTokens = affordableTokens(msg)
	case status == 0, status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		// No status means the request never got a response: network or timeout.
		e.Category = llm.CategoryTransient
	default:
		e.Category = llm.CategoryClient
	}
	return e
}

func isQuotaMessage(msg string) bool {
	m := strings.ToLower(msg)
	return affordPattern.MatchString(m) ||
		strings.Contains(m, "insufficient credits") ||
		strings.Contains(m, "insufficient_quota") ||
		strings.Contains(m, "requires more credits")
}

func affordableTokens(msg string) int {
	m := affordPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func toRequest(req llm.Request) (oai.ChatCompletionRequest, error) {
	if req.Model == "" {
		return oai.ChatCompletionRequest{}, errors.New("model is required")
	}
	creq := oai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    make([]oai.ChatCompletionMessage, 0, len(req.Messages)),
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	}
	if req.Private {
		// OpenRouter-style providers honor data_collection=deny; others ignore it.
		creq.Metadata = map[string]string{"data_collection": "deny"}
	}
	for _, m := range req.Messages {
		creq.Messages = append(creq.Messages, toMessage(m))
	}
	for _, s := range req.Tools {
		params := s.Parameters
		if len(params) == 0 {
			params = json.RawMessage(`{"type":"object","properties":{}}`)
		}
		if !json.Valid(params) {
			return oai.ChatCompletionRequest{}, fmt.Errorf("action %s: invalid parameter schema", s.Name)
		}
		creq.Tools = append(creq.Tools, oai.Tool{
			Type: oai.ToolTypeFunction,
			Function: &oai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  params,
			},
		})
	}
	return creq, nil
}

func toMessage(m conversation.Message) oai.ChatCompletionMessage {
	out := oai.ChatCompletionMessage{
		Role:       m.Role,
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
		Name:       m.Name,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, oai.ToolCall{
			ID:   tc.ID,
			Type: oai.ToolTypeFunction,
			Function: oai.FunctionCall{
				Name:      tc.Name,
				Arguments: tc.Arguments,
			},
		})
	}
	return out
}

func fromResponse(model string, resp oai.ChatCompletionResponse) *llm.Response {
	choice := resp.Choices[0]
	out := &llm.Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
		},
		Model: resp.Model,
	}
	if out.Model == "" {
		out.Model = model
	}
	for _, tc := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, conversation.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}
