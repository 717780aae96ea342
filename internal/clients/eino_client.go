package clients

import (
	"context"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/schema"
	"github.com/pkg/errors"
)

// EinoClient drives the oracle through an eino chat model.
type EinoClient struct {
	model *openai.ChatModel
}

// NewEinoClient builds an eino OpenAI chat model. baseURL is the API root, e.g. https://api.deepseek.com/v1.
func NewEinoClient(ctx context.Context, baseURL, apiKey, model string, maxTokens int) (*EinoClient, error) {
	if apiKey == "" {
		return nil, errors.New("LLM API key is empty")
	}
	if maxTokens <= 0 {
		maxTokens = defaultLLMMaxTokens
	}

	chatModel, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		Model:     model,
		MaxTokens: &maxTokens,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create eino chat model")
	}

	return &EinoClient{model: chatModel}, nil
}

func (c *EinoClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	msg, err := c.model.Generate(ctx, []*schema.Message{
		schema.SystemMessage(system),
		schema.UserMessage(prompt),
	})
	if err != nil {
		return "", errors.Wrap(err, "eino generate")
	}
	if msg == nil {
		return "", errors.New("eino returned no message")
	}

	return msg.Content, nil
}
