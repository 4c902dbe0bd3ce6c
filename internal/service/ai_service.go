package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"techquest_backend/internal/config"
	"techquest_backend/internal/util"
	"techquest_backend/pkg/logger"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// Grader 把评分提示词交给大模型，返回评语原文
type Grader interface {
	Grade(ctx context.Context, prompt string) (string, error)
}

// NewGrader 按 ai.provider 选择实现；未配置密钥时返回的 Grader 每次调用都报错
func NewGrader(ctx context.Context, cfg config.AIConfig) (Grader, func() error, error) {
	noop := func() error { return nil }
	if cfg.APIKey == "" {
		logger.Log.Warn("AI api key is not set, submissions will not be graded", zap.String("provider", cfg.Provider))
		return unavailableGrader{}, noop, nil
	}

	switch cfg.Provider {
	case "", "gemini":
		g, err := NewGeminiGrader(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, noop, err
		}
		return g, g.Close, nil
	case "openai":
		return NewChatGrader(cfg), noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
}

type unavailableGrader struct{}

func (unavailableGrader) Grade(context.Context, string) (string, error) {
	return "", util.ErrGraderUnavailable
}

// GeminiGrader 使用 Google Gemini
type GeminiGrader struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

func NewGeminiGrader(ctx context.Context, apiKey, modelName string) (*GeminiGrader, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	return &GeminiGrader{client: client, model: client.GenerativeModel(modelName)}, nil
}

func (g *GeminiGrader) Grade(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
		break
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("gemini returned no text")
	}
	return sb.String(), nil
}

func (g *GeminiGrader) Close() error {
	return g.client.Close()
}

type AIChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ChatCompletionRequest struct {
	Model    string          `json:"model"`
	Messages []AIChatMessage `json:"messages"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message AIChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// ChatGrader 兼容 OpenAI /chat/completions 的服务
type ChatGrader struct {
	config config.AIConfig
	client *http.Client
}

func NewChatGrader(cfg config.AIConfig) *ChatGrader {
	return &ChatGrader{config: cfg, client: &http.Client{Timeout: 2 * time.Minute}}
}

func (g *ChatGrader) Grade(ctx context.Context, prompt string) (string, error) {
	reqBody := ChatCompletionRequest{
		Model: g.config.Model,
		Messages: []AIChatMessage{
			{Role: "system", Content: "You are an expert programming instructor grading quiz submissions."},
			{Role: "user", Content: prompt},
		},
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(g.config.BaseURL, "/")+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+g.config.APIKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("AI API error: %s", result.Error.Message)
	}
	if len(result.Choices) > 0 {
		return result.Choices[0].Message.Content, nil
	}
	return "", fmt.Errorf("AI returned no choices")
}
