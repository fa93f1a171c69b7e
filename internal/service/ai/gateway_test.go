package ai

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
)

type scriptedChat struct {
	errs  []error
	calls int
	reply string
	last  Request
}

func (s *scriptedChat) Complete(ctx context.Context, req Request) (string, error) {
	s.calls++
	s.last = req
	if s.calls <= len(s.errs) && s.errs[s.calls-1] != nil {
		return "", s.errs[s.calls-1]
	}
	return s.reply, nil
}

type blockingChat struct{ calls int }

func (b *blockingChat) Complete(ctx context.Context, _ Request) (string, error) {
	b.calls++
	<-ctx.Done()
	return "", ctx.Err()
}

type stubEmbedder struct {
	vector []float32
	err    error
	model  string
}

func (s *stubEmbedder) Embed(_ context.Context, model, _ string) ([]float32, error) {
	s.model = model
	return s.vector, s.err
}

func testPolicy(delays *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func userRequest(text string) Request {
	return Request{Messages: []*schema.Message{schema.UserMessage(text)}}
}

func TestCompleteRetriesRateLimit(t *testing.T) {
	var delays []time.Duration
	backend := &scriptedChat{
		errs:  []error{&StatusError{Code: 429}, &StatusError{Code: 429}},
		reply: "  (웃으며) 안녕!  ",
	}
	gw := NewGateway(backend, nil, WithRetryPolicy(testPolicy(&delays)), WithDefaultModel("base-model"))

	got, err := gw.Complete(context.Background(), userRequest("hi"))
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if got != "(웃으며) 안녕!" {
		t.Fatalf("unexpected reply %q", got)
	}
	if backend.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", backend.calls)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if !slices.Equal(delays, want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	if backend.last.Model != "base-model" {
		t.Fatalf("expected default model, got %q", backend.last.Model)
	}
}

func TestCompleteDoesNotRetryClientError(t *testing.T) {
	var delays []time.Duration
	backend := &scriptedChat{errs: []error{&StatusError{Code: 400}}}
	gw := NewGateway(backend, nil, WithRetryPolicy(testPolicy(&delays)))

	_, err := gw.Complete(context.Background(), userRequest("hi"))
	if !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if backend.calls != 1 || len(delays) != 0 {
		t.Fatalf("expected a single attempt, got %d calls and delays %v", backend.calls, delays)
	}
}

func TestCompleteExhaustsRetries(t *testing.T) {
	var delays []time.Duration
	backend := &scriptedChat{errs: []error{
		errors.New("upstream: status code: 503"),
		errors.New("upstream: status code: 503"),
		errors.New("upstream: status code: 502"),
		errors.New("upstream: status code: 500"),
	}}
	gw := NewGateway(backend, nil, WithRetryPolicy(testPolicy(&delays)))

	_, err := gw.Complete(context.Background(), userRequest("hi"))
	var extErr *ExternalServiceError
	if !errors.As(err, &extErr) {
		t.Fatalf("expected ExternalServiceError, got %v", err)
	}
	if extErr.Attempts != 4 || backend.calls != 4 {
		t.Fatalf("expected 4 attempts, got %d (calls %d)", extErr.Attempts, backend.calls)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second}
	if !slices.Equal(delays, want) {
		t.Fatalf("expected delays %v, got %v", want, delays)
	}
	if StatusOf(err) != 500 {
		t.Fatalf("expected last status 500, got %d", StatusOf(err))
	}
}

func TestCompleteTimeoutIsNotRetried(t *testing.T) {
	var delays []time.Duration
	policy := testPolicy(&delays)
	policy.CallTimeout = 10 * time.Millisecond
	backend := &blockingChat{}
	gw := NewGateway(backend, nil, WithRetryPolicy(policy))

	_, err := gw.Complete(context.Background(), userRequest("hi"))
	if !errors.Is(err, ErrExternalService) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected wrapped deadline error, got %v", err)
	}
	if backend.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", backend.calls)
	}
}

func TestEmbedUsesConfiguredModel(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{0.1, 0.2}}
	gw := NewGateway(&scriptedChat{}, embedder, WithEmbeddingModel("embed-v1"))

	got, err := gw.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(got) != 2 || embedder.model != "embed-v1" {
		t.Fatalf("unexpected embedding %v with model %q", got, embedder.model)
	}
}

func TestEmbedWithoutBackend(t *testing.T) {
	gw := NewGateway(&scriptedChat{}, nil)
	if _, err := gw.Embed(context.Background(), "hello"); !errors.Is(err, ErrExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
}

func TestRetryableClassification(t *testing.T) {
	p := DefaultRetryPolicy()
	cases := []struct {
		err  error
		want bool
	}{
		{&StatusError{Code: 401}, true},
		{&StatusError{Code: 429}, true},
		{&StatusError{Code: 503}, true},
		{&StatusError{Code: 400}, false},
		{&StatusError{Code: 404}, false},
		{errors.New("HTTP 502 bad gateway"), true},
		{errors.New("connection reset"), false},
		{context.DeadlineExceeded, false},
	}
	for _, tc := range cases {
		if got := p.Retryable(tc.err); got != tc.want {
			t.Fatalf("Retryable(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
