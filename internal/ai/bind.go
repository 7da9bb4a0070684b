package ai

import "context"

// ChatCaller binds a Client to one chat model configuration so callers do
// not carry provider settings around.
type ChatCaller struct {
	client *Client
	cfg    ChatConfig
}

func NewChatCaller(client *Client, cfg ChatConfig) *ChatCaller {
	return &ChatCaller{client: client, cfg: cfg}
}

func (c *ChatCaller) Complete(ctx context.Context, messages []Message) (string, error) {
	return c.client.Complete(ctx, c.cfg, messages)
}

func (c *ChatCaller) CompleteJSON(ctx context.Context, messages []Message, out interface{}) error {
	return c.client.CompleteJSON(ctx, c.cfg, messages, out)
}

// EmbeddingCaller binds a Client to one embedding model configuration.
type EmbeddingCaller struct {
	client *Client
	cfg    EmbeddingConfig
}

func NewEmbeddingCaller(client *Client, cfg EmbeddingConfig) *EmbeddingCaller {
	return &EmbeddingCaller{client: client, cfg: cfg}
}

func (c *EmbeddingCaller) Embed(ctx context.Context, text string) ([]float32, error) {
	return c.client.Embed(ctx, c.cfg, text)
}

func (c *EmbeddingCaller) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.client.EmbedBatch(ctx, c.cfg, texts)
}
