package ai

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/heartline/backend/pkg/retry"
)

// Request is one chat-completion call.
type Request struct {
	Model       string
	Messages    []*schema.Message
	Temperature float32
}

// ChatBackend performs a single completion attempt.
type ChatBackend interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// EmbeddingBackend performs a single embedding attempt.
type EmbeddingBackend interface {
	Embed(ctx context.Context, model, text string) ([]float32, error)
}

// Gateway wraps the chat and embedding backends with the retry policy.
// It holds no per-call state and is safe for concurrent use.
type Gateway struct {
	chat           ChatBackend
	embed          EmbeddingBackend
	policy         RetryPolicy
	defaultModel   string
	embeddingModel string
}

// GatewayOption customizes a Gateway.
type GatewayOption func(*Gateway)

// WithRetryPolicy replaces the default retry policy.
func WithRetryPolicy(p RetryPolicy) GatewayOption {
	return func(g *Gateway) { g.policy = p }
}

// WithDefaultModel sets the model used when a request leaves Model empty.
func WithDefaultModel(model string) GatewayOption {
	return func(g *Gateway) { g.defaultModel = model }
}

// WithEmbeddingModel sets the model passed to the embedding backend.
func WithEmbeddingModel(model string) GatewayOption {
	return func(g *Gateway) { g.embeddingModel = model }
}

// NewGateway builds a Gateway. embed may be nil when embeddings are unused.
func NewGateway(chat ChatBackend, embed EmbeddingBackend, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		chat:   chat,
		embed:  embed,
		policy: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Complete returns the completion text for req.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	if req.Model == "" {
		req.Model = g.defaultModel
	}

	var text string
	err := g.run(ctx, "complete", req.Model, func(ctx context.Context) error {
		out, err := g.chat.Complete(ctx, req)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(out)
		return nil
	})
	return text, err
}

// Embed returns the embedding vector of text.
func (g *Gateway) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.embed == nil {
		return nil, &ExternalServiceError{Op: "embed", Err: errors.New("embedding backend not configured")}
	}

	var vector []float32
	err := g.run(ctx, "embed", g.embeddingModel, func(ctx context.Context) error {
		out, err := g.embed.Embed(ctx, g.embeddingModel, text)
		if err != nil {
			return err
		}
		if len(out) == 0 {
			return errors.New("empty embedding")
		}
		vector = out
		return nil
	})
	return vector, err
}

func (g *Gateway) run(ctx context.Context, op, model string, call func(ctx context.Context) error) error {
	start := time.Now()
	onRetry := func(attempt int, delay time.Duration, err error) {
		slog.Warn("ai call failed, retrying", "op", op, "model", model, "attempt", attempt, "delay", delay, "error", err)
	}

	res, err := retry.Do(ctx, g.policy.config(onRetry), func(ctx context.Context) error {
		callCtx := ctx
		if g.policy.CallTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, g.policy.CallTimeout)
			defer cancel()
		}
		return call(callCtx)
	})
	if err != nil {
		slog.Error("ai call failed", "op", op, "model", model, "attempts", res.Attempts, "error", err)
		return &ExternalServiceError{Op: op, Attempts: res.Attempts, Err: err}
	}

	slog.Debug("ai call complete", "op", op, "model", model, "attempts", res.Attempts, "duration_ms", time.Since(start).Milliseconds())
	return nil
}
