// Package llm talks to an OpenAI compatible chat completions endpoint.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.9
	DefaultMaxTokens   = 2500
)

var ErrNoCompletion = errors.New("no completion returned")

// APIError is returned when the provider answers with a non 2xx status.
// StatusCode is the provider's status and is passed through to callers.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai request failed with status %d: %s", e.StatusCode, e.Message)
}

// ContentPart is one element of a multi-part user message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

// Message holds either plain Content or multi-part Parts.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

func SystemMessage(content string) Message {
	return Message{Role: "system", Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// UserParts builds a user message with a text part followed by one image
// part per URL.
func UserParts(text string, imageURLs ...string) Message {
	parts := []ContentPart{{Type: "text", Text: text}}
	for _, url := range imageURLs {
		parts = append(parts, ContentPart{Type: "image_url", ImageURL: &ImageURL{URL: url}})
	}

	return Message{Role: "user", Parts: parts}
}

type wireMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

type Client struct {
	http        *resty.Client
	model       string
	temperature float64
	maxTokens   int
}

func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &Client{
		http: resty.New().
			SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
			SetTimeout(cfg.Timeout).
			SetAuthToken(cfg.APIKey).
			SetHeader("Content-Type", "application/json"),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
}

// Complete sends the conversation and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	request := completionRequest{
		Model:       c.model,
		Messages:    make([]wireMessage, 0, len(messages)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for _, message := range messages {
		var content interface{} = message.Content
		if message.Parts != nil {
			content = message.Parts
		}
		request.Messages = append(request.Messages, wireMessage{Role: message.Role, Content: content})
	}

	var result completionResponse
	var failure errorResponse
	response, err := c.http.R().
		SetContext(ctx).
		SetBody(request).
		SetResult(&result).
		SetError(&failure).
		Post("/chat/completions")
	if err != nil {
		return "", fmt.Errorf("openai request: %w", err)
	}

	if response.IsError() {
		message := failure.Error.Message
		if message == "" {
			message = http.StatusText(response.StatusCode())
		}
		return "", &APIError{StatusCode: response.StatusCode(), Message: message}
	}

	if len(result.Choices) == 0 {
		return "", ErrNoCompletion
	}

	return result.Choices[0].Message.Content, nil
}
