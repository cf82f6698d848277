package eino

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	gemini "github.com/cloudwego/eino-ext/components/model/gemini"
	"google.golang.org/genai"
)

// Config represents the configuration for the Gemini-backed vision service.
type Config struct {
	APIKey string `json:"api_key"`
}

// Service owns the shared Gemini client from which per-model captioners are
// built. One captioner per fallback tier.
type Service struct {
	config Config
	client *genai.Client
}

// Captioner generates image descriptions with a single Gemini model.
type Captioner struct {
	model     string
	chatModel model.BaseChatModel
}

// CaptionRequest carries one image plus the prompt pair built by the prompts
// package.
type CaptionRequest struct {
	ImageData    []byte `json:"-"`
	MIMEType     string `json:"mime_type"`
	SystemPrompt string `json:"system_prompt"`
	UserPrompt   string `json:"user_prompt"`
}

// CaptionResult is a single model response with its measured token usage.
type CaptionResult struct {
	Text     string     `json:"text"`
	Model    string     `json:"model"`
	Usage    TokenUsage `json:"usage"`
	CarbonMg float64    `json:"carbon_mg"`
}

// TokenUsage represents token usage information
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Rough inference footprint per token, milligrams CO2e. Used only for the
// report's carbon estimate; not a billing quantity.
const carbonMgPerToken = 0.06

// NewService creates the shared Gemini client.
func NewService(config Config) (*Service, error) {
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: config.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &Service{config: config, client: client}, nil
}

// NewCaptioner builds a captioner bound to one Gemini model id using Eino's
// Gemini component.
func (s *Service) NewCaptioner(ctx context.Context, modelID string) (*Captioner, error) {
	chatModel, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client: s.client,
		Model:  modelID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini chat model %s: %w", modelID, err)
	}
	return &Captioner{model: modelID, chatModel: chatModel}, nil
}

// NewCaptionerWithModel wires a pre-configured chat model, used by tests.
func NewCaptionerWithModel(modelID string, chatModel model.BaseChatModel) *Captioner {
	return &Captioner{model: modelID, chatModel: chatModel}
}

// Model returns the model identifier recorded in findings.
func (c *Captioner) Model() string { return c.model }

// Caption sends the image and prompt to the model and returns the cleaned
// text with token usage.
func (c *Captioner) Caption(ctx context.Context, req CaptionRequest) (*CaptionResult, error) {
	if c.chatModel == nil {
		return nil, fmt.Errorf("chat model not initialized")
	}
	if len(req.ImageData) == 0 {
		return nil, fmt.Errorf("empty image payload")
	}

	mime := req.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	dataURI := fmt.Sprintf("data:%s;base64,%s", mime, base64.StdEncoding.EncodeToString(req.ImageData))

	messages := []*schema.Message{
		schema.SystemMessage(req.SystemPrompt),
		{
			Role: schema.User,
			MultiContent: []schema.ChatMessagePart{
				{Type: schema.ChatMessagePartTypeText, Text: req.UserPrompt},
				{
					Type: schema.ChatMessagePartTypeImageURL,
					ImageURL: &schema.ChatMessageImageURL{
						URL:      dataURI,
						MIMEType: mime,
					},
				},
			},
		},
	}

	response, err := c.chatModel.Generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("generation failed: %w", err)
	}

	text := cleanResponse(response.Content)
	if text == "" {
		return nil, fmt.Errorf("model returned empty description")
	}

	usage := extractUsage(response)
	if usage.TotalTokens == 0 {
		// Metadata missing; fall back to the documented ~4 chars/token ratio.
		usage.InputTokens = estimateTokens(req.SystemPrompt + req.UserPrompt)
		usage.OutputTokens = estimateTokens(text)
		usage.TotalTokens = usage.InputTokens + usage.OutputTokens
	}

	return &CaptionResult{
		Text:     text,
		Model:    c.model,
		Usage:    usage,
		CarbonMg: float64(usage.TotalTokens) * carbonMgPerToken,
	}, nil
}

func extractUsage(msg *schema.Message) TokenUsage {
	if msg == nil || msg.ResponseMeta == nil || msg.ResponseMeta.Usage == nil {
		return TokenUsage{}
	}
	u := msg.ResponseMeta.Usage
	return TokenUsage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
}

// cleanResponse strips markdown fences and surrounding quotes models
// occasionally wrap short answers in.
func cleanResponse(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)
	if len(content) >= 2 && content[0] == '"' && content[len(content)-1] == '"' {
		content = content[1 : len(content)-1]
	}
	return strings.TrimSpace(content)
}

func estimateTokens(text string) int {
	return len(text) / 4
}
