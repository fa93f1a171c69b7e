package ai

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/volcengine/volcengine-go-sdk/service/arkruntime"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"
)

// EinoBackend 通过 eino 编排链调用聊天模型。
type EinoBackend struct {
	chain compose.Runnable[[]*schema.Message, *schema.Message]
}

// NewEinoBackend 将聊天模型编译成单节点链。
func NewEinoBackend(ctx context.Context, chatModel model.ChatModel) (*EinoBackend, error) {
	if chatModel == nil {
		return nil, errors.New("chat model is nil")
	}

	chain := compose.NewChain[[]*schema.Message, *schema.Message]()
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}
	return &EinoBackend{chain: runnable}, nil
}

// Complete 执行一次模型调用。
func (b *EinoBackend) Complete(ctx context.Context, req Request) (string, error) {
	opts := []model.Option{model.WithTemperature(req.Temperature)}
	if req.Model != "" {
		opts = append(opts, model.WithModel(req.Model))
	}

	resp, err := b.chain.Invoke(ctx, req.Messages, compose.WithChatModelOption(opts...))
	if err != nil {
		return "", classifyArk(err)
	}
	if resp == nil {
		return "", errors.New("empty chat response")
	}
	return resp.Content, nil
}

// ArkEmbedder 使用 arkruntime 客户端生成向量。
type ArkEmbedder struct {
	client *arkruntime.Client
}

// ArkEmbedderConfig 描述向量接口所需的凭证。
type ArkEmbedderConfig struct {
	APIKey    string
	AccessKey string
	SecretKey string
	BaseURL   string
	Region    string
}

// NewArkEmbedder 根据凭证创建客户端，API Key 优先于 AK/SK。
func NewArkEmbedder(cfg ArkEmbedderConfig) (*ArkEmbedder, error) {
	opts := []arkruntime.ConfigOption{}
	if cfg.BaseURL != "" {
		opts = append(opts, arkruntime.WithBaseUrl(cfg.BaseURL))
	}
	if cfg.Region != "" {
		opts = append(opts, arkruntime.WithRegion(cfg.Region))
	}

	switch {
	case cfg.APIKey != "":
		return &ArkEmbedder{client: arkruntime.NewClientWithApiKey(cfg.APIKey, opts...)}, nil
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		return &ArkEmbedder{client: arkruntime.NewClientWithAkSk(cfg.AccessKey, cfg.SecretKey, opts...)}, nil
	default:
		return nil, errors.New("ark embedding credentials missing")
	}
}

// Embed 返回单条文本的向量。
func (e *ArkEmbedder) Embed(ctx context.Context, modelName, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, arkmodel.EmbeddingRequestStrings{
		Input: []string{text},
		Model: modelName,
	})
	if err != nil {
		return nil, classifyArk(err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("embedding response has no data")
	}
	return resp.Data[0].Embedding, nil
}

func classifyArk(err error) error {
	var apiErr *arkmodel.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%w: %v", &StatusError{Code: apiErr.HTTPStatusCode, Message: apiErr.Message}, err)
	}
	var reqErr *arkmodel.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return fmt.Errorf("%w: %v", &StatusError{Code: reqErr.HTTPStatusCode}, err)
	}
	return classify(err)
}
