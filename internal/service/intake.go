package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/ForgeBot/internal/domain"
	"github.com/Strob0t/ForgeBot/internal/domain/conversation"
	"github.com/Strob0t/ForgeBot/internal/logger"
	"github.com/Strob0t/ForgeBot/internal/port/messagequeue"
)

// RequestServer serves one request end to end.
type RequestServer interface {
	Handle(ctx context.Context, req Request) (*Reply, error)
}

// IntakeLimiter throttles gateway senders.
type IntakeLimiter interface {
	Allow(key string) (remaining int, wait time.Duration, ok bool)
}

// GatewayIntake consumes chat-gateway messages from the queue and publishes
// one reply per message on requests.reply.{request_id}.
type GatewayIntake struct {
	server  RequestServer
	queue   messagequeue.Queue
	limiter IntakeLimiter
}

// NewGatewayIntake creates an intake. limiter may be nil.
func NewGatewayIntake(server RequestServer, queue messagequeue.Queue, limiter IntakeLimiter) *GatewayIntake {
	return &GatewayIntake{server: server, queue: queue, limiter: limiter}
}

// Start subscribes to requests.inbound.
func (g *GatewayIntake) Start(ctx context.Context) (cancel func(), err error) {
	return g.queue.Subscribe(ctx, messagequeue.SubjectRequestInbound, g.handle)
}

// handle serves one message. Request failures are answered, not retried:
// a redelivered request would be paid for twice. Only an undecodable
// message or a failed reply publish goes back to the queue.
func (g *GatewayIntake) handle(ctx context.Context, _ string, data []byte) error {
	var in messagequeue.RequestPayload
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("unmarshal request: %w", err)
	}
	if in.RequestID == "" {
		in.RequestID = logger.RequestID(ctx)
	}
	if in.RequestID == "" {
		return fmt.Errorf("request without id: %w", domain.ErrInvalidInput)
	}
	ctx = logger.WithRequestID(ctx, in.RequestID)

	out := messagequeue.ReplyPayload{RequestID: in.RequestID}
	if g.limiter != nil && in.Sender != "" {
		if _, wait, ok := g.limiter.Allow(in.Sender); !ok {
			slog.WarnContext(ctx, "gateway sender rate limited", "sender", in.Sender, "wait", wait)
			out.Error = fmt.Sprintf("rate limit exceeded, retry in %s", wait.Round(time.Second))
			return g.reply(ctx, out)
		}
	}

	reply, err := g.server.Handle(ctx, toRequest(in))
	if err != nil {
		slog.ErrorContext(ctx, "gateway request failed", "error", err)
		out.Error = replyError(err)
		return g.reply(ctx, out)
	}

	out.Text = reply.Text
	out.Intent = string(reply.Intent)
	out.ActionsUsed = reply.ActionsUsed
	out.Iterations = reply.Iterations
	out.TerminationReason = string(reply.TerminationReason)
	out.BuildID = reply.BuildID
	return g.reply(ctx, out)
}

func (g *GatewayIntake) reply(ctx context.Context, out messagequeue.ReplyPayload) error {
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal reply: %w", err)
	}
	return g.queue.Publish(ctx, messagequeue.SubjectRequestReply+"."+out.RequestID, data)
}

func toRequest(in messagequeue.RequestPayload) Request {
	req := Request{
		ID:          in.RequestID,
		Message:     in.Message,
		RecentFiles: in.RecentFiles,
		Model:       in.Model,
	}
	for _, m := range in.Prior {
		req.Prior = append(req.Prior, conversation.Message{Role: m.Role, Content: m.Content})
	}
	return req
}

// replyError is the user-facing text for a failed request. Internal details
// stay in the log.
func replyError(err error) string {
	var iterErr *IterationError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "the message was empty"
	case errors.As(err, &iterErr):
		return fmt.Sprintf("the model failed at step %d, please try again", iterErr.Iteration)
	case errors.Is(err, ErrBuildLog):
		return err.Error()
	default:
		return "the request could not be completed"
	}
}
