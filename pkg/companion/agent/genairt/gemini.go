package genairt

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// Turn is one prior conversation turn fed back as generation history.
type Turn struct {
	Role string // "user" or "model"
	Text string
}

// Generator produces one reply for a finalized user utterance given the
// rolling history and optional retrieved memory context.
type Generator interface {
	Generate(ctx context.Context, history []Turn, userText, memoryContext string) (string, error)
}

// GeminiConfig configures the Gemini generation backend.
type GeminiConfig struct {
	APIKey      string
	Model       string
	System      string
	Temperature float32
}

type geminiGenerator struct {
	client *genai.Client
	cfg    GeminiConfig
}

// NewGeminiGenerator creates a Generator backed by the Gemini API.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig) (Generator, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini api key must be set")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &geminiGenerator{client: client, cfg: cfg}, nil
}

func (g *geminiGenerator) Generate(ctx context.Context, history []Turn, userText, memoryContext string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := genai.Role(genai.RoleUser)
		if turn.Role == "model" {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, role))
	}

	prompt := userText
	if memoryContext != "" {
		prompt = "Relevant context from past conversations:\n" + memoryContext + "\n\nUser: " + userText
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	temp := g.cfg.Temperature
	genCfg := &genai.GenerateContentConfig{Temperature: &temp}
	if g.cfg.System != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(g.cfg.System, genai.RoleUser)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.cfg.Model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("generation returned no text")
	}
	return text, nil
}
