package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/saikaki/backend/internal/config"
	"github.com/saikaki/backend/internal/model/chat"
	"github.com/saikaki/backend/internal/service/fallback"
)

// Completer is the completion provider contract the handlers depend on.
type Completer interface {
	// Generate blocks until a full reply is available.
	Generate(ctx context.Context, history []chat.Message, userText, locality string) (string, error)
	// Stream opens a streaming completion; the caller drains the reader.
	Stream(ctx context.Context, history []chat.Message, userText, locality string) (*schema.StreamReader[*schema.Message], error)
	StreamingEnabled() bool
}

type chain struct {
	name     string
	runnable compose.Runnable[map[string]any, *schema.Message]
}

// Service proxies the upstream text-generation provider through an eino
// prompt+model chain. Blocking calls walk the configured chains in order;
// streaming uses the primary chain only.
type Service struct {
	cfg    config.AIConfig
	chains []chain
}

// NewService compiles one chain per configured model.
func NewService(ctx context.Context, cfg config.AIConfig) (*Service, error) {
	models, err := cfg.NewChatModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat models: %w", err)
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chains := make([]chain, 0, len(models))
	for _, m := range models {
		c := compose.NewChain[map[string]any, *schema.Message]()
		c.AppendChatTemplate(promptTemplate)
		c.AppendChatModel(m.Model)

		runnable, err := c.Compile(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to compile chat chain for %s: %w", m.Name, err)
		}
		chains = append(chains, chain{name: m.Name, runnable: runnable})
	}

	return &Service{cfg: cfg, chains: chains}, nil
}

// StreamingEnabled reports whether streaming output is configured.
func (s *Service) StreamingEnabled() bool {
	return s.cfg.StreamResponse
}

// Generate produces a full reply, trying the configured models in order and
// returning the first non-empty completion.
func (s *Service) Generate(ctx context.Context, history []chat.Message, userText, locality string) (string, error) {
	input := s.buildChainInput(history, userText, locality)

	providers := make([]fallback.Provider[string], 0, len(s.chains))
	for _, c := range s.chains {
		runnable := c.runnable
		providers = append(providers, fallback.Provider[string]{
			Name: c.name,
			Call: func(ctx context.Context) (string, error) {
				response, err := runnable.Invoke(ctx, input)
				if err != nil {
					return "", err
				}
				return response.Content, nil
			},
		})
	}

	result, err := fallback.TryInOrder(ctx, providers, func(content string) bool {
		return content != ""
	})
	if err != nil {
		return "", fmt.Errorf("failed to run AI chain: %w", err)
	}

	log.Printf("[ai] generated response via %s, length=%d", result.Provider, len(result.Value))
	return result.Value, nil
}

// Stream opens a streaming completion on the primary chain.
func (s *Service) Stream(ctx context.Context, history []chat.Message, userText, locality string) (*schema.StreamReader[*schema.Message], error) {
	if !s.StreamingEnabled() {
		return nil, fmt.Errorf("streaming disabled in configuration")
	}

	input := s.buildChainInput(history, userText, locality)
	stream, err := s.chains[0].runnable.Stream(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to stream AI chain output: %w", err)
	}
	return stream, nil
}

func (s *Service) buildChainInput(history []chat.Message, userText, locality string) map[string]any {
	return map[string]any{
		"system":  BuildSystemPrompt(locality),
		"history": buildHistoryMessages(history),
		"query":   userText,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	history := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
