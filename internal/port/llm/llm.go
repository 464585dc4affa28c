// Package llm defines the model invocation port: request, response and
// categorized errors.
package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/Strob0t/ForgeBot/internal/domain/action"
	"github.com/Strob0t/ForgeBot/internal/domain/conversation"
)

// Request is one model invocation.
type Request struct {
	Model       string
	Messages    []conversation.Message
	Tools       []action.Spec
	MaxTokens   int
	Temperature float64
	// Private asks the provider not to retain or train on the exchange.
	Private bool
}

// Usage is the provider's token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Response is a completed model turn.
type Response struct {
	Content      string
	ToolCalls    []conversation.ToolCall
	FinishReason string
	Usage        Usage
	// Model is the id the provider reported, often a dated snapshot of the
	// requested alias. It is for telemetry only.
	Model string
	// Served is the model id that was requested for the call that answered.
	// Set by the invoker; follow-up calls should use it, never Model.
	Served string
}

// Model is the port interface for a chat-completion provider.
type Model interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Category classifies a model error so callers can branch on it.
type Category string

const (
	CategoryQuota     Category = "quota_exceeded"
	CategoryTransient Category = "transient_server"
	CategoryClient    Category = "client_invalid"
)

// Error is a categorized model invocation failure.
type Error struct {
	Category Category
	Model    string
	// AffordableTokens is the output budget the provider says it can still
	// serve. Only meaningful for CategoryQuota; zero when unknown.
	AffordableTokens int
	Err              error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("llm %s", e.Category)
	if e.Model != "" {
		msg += " (" + e.Model + ")"
	}
	if e.AffordableTokens > 0 {
		msg += fmt.Sprintf(": can afford %d tokens", e.AffordableTokens)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient server failure.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Category == CategoryTransient
}

// AsQuota returns the quota error wrapped in err, if any.
func AsQuota(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) && e.Category == CategoryQuota {
		return e, true
	}
	return nil, false
}
