package extract

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const (
	DefaultOllamaBaseURL = "http://localhost:11434"
	DefaultOllamaModel   = "llama3.1"

	ollamaBackend = "ollama"
)

// OllamaConfig configures a local Ollama chat model.
type OllamaConfig struct {
	BaseURL    string
	Model      string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// ChatModel adapts an eino chat model to the Backend interface.
type ChatModel struct {
	name  string
	model model.BaseChatModel
}

// NewChatModel wraps any eino chat model; name is used in error messages.
func NewChatModel(name string, chatModel model.BaseChatModel) *ChatModel {
	return &ChatModel{name: name, model: chatModel}
}

// NewOllama builds a ChatModel backed by eino's Ollama component.
func NewOllama(ctx context.Context, cfg OllamaConfig) (*ChatModel, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultOllamaBaseURL
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = DefaultOllamaModel
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}

	chatModel, err := ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
		BaseURL:    baseURL,
		Model:      modelName,
		Timeout:    timeout,
		HTTPClient: cfg.HTTPClient,
	})
	if err != nil {
		return nil, &Error{Backend: ollamaBackend, Err: err}
	}

	return NewChatModel(ollamaBackend, chatModel), nil
}

// Complete runs one non-streaming generation and returns the reply content.
func (c *ChatModel) Complete(ctx context.Context, messages []Message) (string, error) {
	reply, err := c.model.Generate(ctx, toSchemaMessages(messages))
	if err != nil {
		return "", &Error{Backend: c.name, Err: err}
	}

	if reply == nil {
		return "", &Error{Backend: c.name, Err: errors.New("nil reply")}
	}

	return reply.Content, nil
}

func toSchemaMessages(messages []Message) []*schema.Message {
	converted := make([]*schema.Message, 0, len(messages))
	for _, message := range messages {
		switch message.Role {
		case RoleSystem:
			converted = append(converted, schema.SystemMessage(message.Content))
		case RoleAssistant:
			converted = append(converted, schema.AssistantMessage(message.Content, nil))
		default:
			converted = append(converted, schema.UserMessage(message.Content))
		}
	}

	return converted
}
