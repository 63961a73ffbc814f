package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ollama/ollama/api"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"

	"github.com/querydeck/backend/internal/broker"
	"github.com/querydeck/backend/internal/config"
	"github.com/querydeck/backend/pkg/logger"
)

// AIService translates natural-language questions into engine queries.
// Provider selection comes from configuration; every call is bounded by
// the configured timeout.
type AIService struct {
	cfg *config.AIConfig
}

func NewAIService(cfg *config.AIConfig) *AIService {
	return &AIService{cfg: cfg}
}

const translatePromptTemplate = `You translate questions into database queries.

Target engine: %s
Schema:
%s

Question: %s

Respond with ONLY a JSON object, no prose:
{"query": "<the query>", "parameters": [], "confidence": <0.0-1.0>, "warnings": []}

For SQL engines produce one parameterized statement using ? placeholders
with values in "parameters". For mongodb produce a single command
document as the query string (e.g. {"find": "users", "filter": {...}})
with an empty parameters array. Add a warning for every assumption you
had to make.`

func renderSchema(schema []broker.TableSchema) string {
	var b strings.Builder
	for _, table := range schema {
		b.WriteString(table.Name)
		b.WriteString(" (")
		for i, col := range table.Columns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col.Name)
			b.WriteString(" ")
			b.WriteString(col.Type)
		}
		b.WriteString(")\n")
	}
	return b.String()
}

// Translate builds the prompt from the schema snapshot, dispatches to the
// configured provider and parses the structured reply.
func (s *AIService) Translate(ctx context.Context, req *TranslateRequest) (*TranslateResult, error) {
	prompt := fmt.Sprintf(translatePromptTemplate, req.DatabaseType, renderSchema(req.Schema), req.Question)

	timeout := 60 * time.Second
	if s.cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(s.cfg.TimeoutSeconds) * time.Second
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logger.Infof("[AI] translating question via provider %s model %s", s.cfg.Provider, s.cfg.Model)

	var (
		content string
		err     error
	)
	switch s.cfg.Provider {
	case "anthropic":
		content, err = s.callAnthropic(callCtx, prompt)
	case "ollama":
		content, err = s.callOllama(callCtx, prompt)
	case "gemini":
		content, err = s.callGemini(callCtx, prompt)
	default:
		// openai and OpenAI-compatible endpoints
		content, err = s.callOpenAI(callCtx, prompt)
	}
	if err != nil {
		return nil, err
	}

	result, err := parseTranslateReply(content)
	if err != nil {
		return nil, fmt.Errorf("unparseable model reply: %w", err)
	}
	return result, nil
}

// parseTranslateReply extracts the JSON object from the model output,
// tolerating markdown fences and surrounding prose.
func parseTranslateReply(content string) (*TranslateResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}

	var result TranslateResult
	if err := json.Unmarshal([]byte(content[start:end+1]), &result); err != nil {
		return nil, err
	}
	if strings.TrimSpace(result.Query) == "" {
		return nil, fmt.Errorf("reply contains no query")
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}

func (s *AIService) callOpenAI(ctx context.Context, prompt string) (string, error) {
	clientConfig := openai.DefaultConfig(s.cfg.APIKey)
	if s.cfg.BaseURL != "" {
		clientConfig.BaseURL = s.cfg.BaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.cfg.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}
	return resp.Choices[0].Message.Content, nil
}

func (s *AIService) callAnthropic(ctx context.Context, prompt string) (string, error) {
	client := anthropic.NewClient(
		option.WithAPIKey(s.cfg.APIKey),
	)

	model := s.cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}

	resp, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("Anthropic API error: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	return content, nil
}

func (s *AIService) callOllama(ctx context.Context, prompt string) (string, error) {
	baseURL := s.cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid Ollama base URL: %w", err)
	}
	client := api.NewClient(u, http.DefaultClient)

	model := s.cfg.Model
	if model == "" {
		model = "llama3"
	}

	stream := false
	var content strings.Builder
	err = client.Chat(ctx, &api.ChatRequest{
		Model:  model,
		Stream: &stream,
		Messages: []api.Message{
			{Role: "user", Content: prompt},
		},
		Options: map[string]interface{}{
			"temperature": 0.1,
		},
	}, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("Ollama API error: %w", err)
	}
	return content.String(), nil
}

func (s *AIService) callGemini(ctx context.Context, prompt string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: s.cfg.APIKey,
	})
	if err != nil {
		return "", fmt.Errorf("Gemini client error: %w", err)
	}

	model := s.cfg.Model
	if model == "" {
		model = "gemini-2.0-flash"
	}

	resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), nil)
	if err != nil {
		return "", fmt.Errorf("Gemini API error: %w", err)
	}
	return resp.Text(), nil
}
