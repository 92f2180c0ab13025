package services

import (
	"context"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"github.com/Ishu-sri-001/neuro-nest/config"
	"github.com/Ishu-sri-001/neuro-nest/models"
)

// CompletionStream yields content deltas of one model reply.
// Recv returns io.EOF once the reply is complete.
type CompletionStream interface {
	Recv() (string, error)
	Close() error
}

// CompletionService opens streaming completions for an ordered message list.
type CompletionService interface {
	Stream(ctx context.Context, messages []models.Message) (CompletionStream, error)
}

const (
	// GeminiBaseURL is Google's OpenAI-compatible endpoint for Gemini models.
	GeminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultGeminiModel = "gemini-2.0-flash"
	geminiTemperature  = 0.7
)

// NewCompletionService builds the provider selected by cfg.Provider.
func NewCompletionService(cfg config.LLMConfig) (CompletionService, error) {
	if cfg.APIKey == "" {
		return nil, errors.Errorf("no API key configured for provider %q", cfg.Provider)
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		return NewOpenAICompletionService(cfg), nil
	case "anthropic":
		return NewAnthropicCompletionService(cfg), nil
	case "gemini":
		return NewGeminiCompletionService(cfg), nil
	default:
		return nil, errors.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

type openAICompletionService struct {
	client      *openai.Client
	model       string
	temperature float32
}

// NewOpenAICompletionService talks to any OpenAI-compatible chat completions endpoint.
func NewOpenAICompletionService(cfg config.LLMConfig) CompletionService {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	return &openAICompletionService{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}
}

// NewGeminiCompletionService reaches Gemini through its OpenAI-compatible API.
// llm.base_url overrides the endpoint.
func NewGeminiCompletionService(cfg config.LLMConfig) CompletionService {
	if cfg.BaseURL == "" {
		cfg.BaseURL = GeminiBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	svc := NewOpenAICompletionService(cfg).(*openAICompletionService)
	svc.temperature = geminiTemperature
	return svc
}

func (s *openAICompletionService) Stream(ctx context.Context, messages []models.Message) (CompletionStream, error) {
	llmMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		var role string
		switch msg.Role {
		case models.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case models.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		default:
			role = openai.ChatMessageRoleUser
		}
		llmMessages = append(llmMessages, openai.ChatCompletionMessage{Role: role, Content: msg.Content})
	}

	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Messages:    llmMessages,
		Temperature: s.temperature,
		Stream:      true,
	})
	if err != nil {
		log.Error().Err(err).Str("component", "CompletionService").Str("model", s.model).Msg("CreateChatCompletionStream failed")
		return nil, errors.Wrapf(err, "completion service unavailable (%s)", s.model)
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Recv() (string, error) {
	for {
		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", errors.Wrap(err, "failed to receive completion chunk")
		}
		if len(response.Choices) == 0 {
			continue
		}
		if content := response.Choices[0].Delta.Content; content != "" {
			return content, nil
		}
	}
}

func (s *openAIStream) Close() error {
	return s.stream.Close()
}

type unavailableCompletionService struct {
	err error
}

// NewUnavailableCompletionService fails every stream with err. It stands in
// when no provider is configured so that chat requests surface a retryable error.
func NewUnavailableCompletionService(err error) CompletionService {
	return unavailableCompletionService{err: err}
}

func (s unavailableCompletionService) Stream(context.Context, []models.Message) (CompletionStream, error) {
	return nil, s.err
}
