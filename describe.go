package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/exp/slog"
	"google.golang.org/genai"
)

const (
	DescriptionPrompt    = "Give me a short description of this image"
	FallbackDescription  = "No description available"
	DefaultDescribeLimit = 300
)

var errEmptyDescription = errors.New("model returned no description")

// Describer never fails: on any error it returns FallbackDescription.
type Describer interface {
	Describe(ctx context.Context, imageURL string) string
}

type OpenAIDescriber struct {
	client    *openai.Client
	model     string
	maxTokens int
}

func NewOpenAIDescriber(apiKey, baseURL, model string, maxTokens int) *OpenAIDescriber {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	if maxTokens <= 0 {
		maxTokens = DefaultDescribeLimit
	}

	return &OpenAIDescriber{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (d *OpenAIDescriber) Describe(ctx context.Context, imageURL string) string {
	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     d.model,
		MaxTokens: d.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: DescriptionPrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: imageURL}},
				},
			},
		},
	})
	if err != nil {
		return fallback("openai", err)
	}

	if len(resp.Choices) == 0 {
		return fallback("openai", errEmptyDescription)
	}

	return orFallback("openai", resp.Choices[0].Message.Content)
}

// GeminiDescriber downloads the image and sends it inline, since the Gemini API
// only resolves file URIs it hosts itself.
type GeminiDescriber struct {
	client     *genai.Client
	httpClient *http.Client
	model      string
	maxTokens  int32
}

func NewGeminiDescriber(ctx context.Context, apiKey, baseURL, model string, maxTokens int) (*GeminiDescriber, error) {
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}

	if maxTokens <= 0 {
		maxTokens = DefaultDescribeLimit
	}

	return &GeminiDescriber{
		client:     client,
		httpClient: http.DefaultClient,
		model:      model,
		maxTokens:  int32(maxTokens),
	}, nil
}

func (d *GeminiDescriber) Describe(ctx context.Context, imageURL string) string {
	data, mimeType, err := d.fetchImage(ctx, imageURL)
	if err != nil {
		return fallback("gemini", err)
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(DescriptionPrompt),
			genai.NewPartFromBytes(data, mimeType),
		}, genai.RoleUser),
	}

	result, err := d.client.Models.GenerateContent(ctx, d.model, contents, &genai.GenerateContentConfig{
		MaxOutputTokens: d.maxTokens,
	})
	if err != nil {
		return fallback("gemini", err)
	}

	return orFallback("gemini", result.Text())
}

func (d *GeminiDescriber) fetchImage(ctx context.Context, imageURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch image: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	if len(data) > MaxImageSize {
		return nil, "", errors.New("fetch image: image too large")
	}

	mimeType := imageMIMEType(imageURL)
	if ct, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type")); err == nil && strings.HasPrefix(ct, "image/") {
		mimeType = ct
	}

	return data, mimeType, nil
}

// StaticDescriber is used when no model provider is configured.
type StaticDescriber struct{}

func (StaticDescriber) Describe(context.Context, string) string {
	return FallbackDescription
}

func fallback(provider string, err error) string {
	slog.Warn("Image description degraded to fallback", "provider", provider, "error", err)
	return FallbackDescription
}

func orFallback(provider, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return fallback(provider, errEmptyDescription)
	}

	return text
}

func imageMIMEType(imageURL string) string {
	u, err := url.Parse(imageURL)
	if err == nil {
		if t := mime.TypeByExtension(strings.ToLower(path.Ext(u.Path))); strings.HasPrefix(t, "image/") {
			return t
		}
	}

	return "image/jpeg"
}
