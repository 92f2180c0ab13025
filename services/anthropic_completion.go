package services

import (
	"context"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/pkg/errors"

	"github.com/Ishu-sri-001/neuro-nest/config"
	"github.com/Ishu-sri-001/neuro-nest/models"
)

const defaultAnthropicMaxTokens = 1024

type anthropicCompletionService struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicCompletionService streams replies from the Anthropic Messages API.
func NewAnthropicCompletionService(cfg config.LLMConfig) CompletionService {
	opts := []anthropicoption.RequestOption{anthropicoption.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}
	maxTokens := int64(cfg.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &anthropicCompletionService{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
	}
}

func (s *anthropicCompletionService) Stream(ctx context.Context, messages []models.Message) (CompletionStream, error) {
	var system []string
	var params []anthropic.MessageParam
	for _, msg := range messages {
		block := anthropic.NewTextBlock(msg.Content)
		switch msg.Role {
		case models.RoleSystem:
			// The Messages API takes the preamble out of band.
			system = append(system, msg.Content)
		case models.RoleAssistant:
			params = append(params, anthropic.NewAssistantMessage(block))
		default:
			params = append(params, anthropic.NewUserMessage(block))
		}
	}
	if len(params) == 0 {
		return nil, errors.New("anthropic completion needs at least one user message")
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		Messages:  params,
		MaxTokens: s.maxTokens,
	}
	if len(system) > 0 {
		req.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return &anthropicStream{stream: s.client.Messages.NewStreaming(ctx, req)}, nil
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (s *anthropicStream) Recv() (string, error) {
	for s.stream.Next() {
		event := s.stream.Current()
		variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		if text, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && text.Text != "" {
			return text.Text, nil
		}
	}
	if err := s.stream.Err(); err != nil {
		return "", errors.Wrap(err, "anthropic streaming error")
	}
	return "", io.EOF
}

func (s *anthropicStream) Close() error {
	return s.stream.Close()
}
