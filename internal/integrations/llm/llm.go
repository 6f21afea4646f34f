// Package llm generates page HTML with the Anthropic Messages API.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cenkalti/backoff/v4"
	"github.com/pbn-studio/engine/pkg/logger"
	"go.uber.org/zap"
)

// outputContract is appended to every system prompt so the reply can be parsed.
const outputContract = `

Respond with a single JSON object of the form {"html": "<complete HTML document>"}. Return valid JSON only, no markdown fencing or explanation.`

// Generator produces the HTML of one page from a system and a user prompt.
type Generator interface {
	GenerateHTML(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	MaxRetries int
	RetryDelay time.Duration
	// Timeout bounds a single attempt.
	Timeout time.Duration
	// OnRetry, if set, is called before each retry.
	OnRetry func(attempt int, err error)
}

// Client wraps the Anthropic API for page generation.
type Client struct {
	api  *anthropic.Client
	opts Options
}

func NewClient(opts Options) *Client {
	// retries are handled here so that only the transient cases are retried
	reqOpts := []option.RequestOption{option.WithMaxRetries(0)}
	if opts.APIKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(strings.TrimRight(opts.BaseURL, "/")+"/"))
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 8192
	}
	client := anthropic.NewClient(reqOpts...)
	return &Client{api: &client, opts: opts}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.opts.Model }

// GenerateHTML asks the model for a page. Connection resets, 429 and 502 responses are
// retried up to MaxRetries times after RetryDelay; every other failure is returned at once.
func (c *Client) GenerateHTML(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	var html string
	attempt := 0
	op := func() error {
		attempt++
		out, err := c.generateOnce(ctx, systemPrompt, userPrompt)
		if err != nil {
			if !IsTransient(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		html = out
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(c.opts.RetryDelay), uint64(max(c.opts.MaxRetries, 0))),
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		logger.L().Warn("llm request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Int("status", StatusCode(err)),
			zap.Duration("wait", wait),
			zap.Error(err))
		if c.opts.OnRetry != nil {
			c.opts.OnRetry(attempt, err)
		}
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return "", err
	}
	return html, nil
}

func (c *Client) generateOnce(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.opts.Model),
		MaxTokens: c.opts.MaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt + outputContract},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", errors.New("no text content in API response")
	}
	return ParseHTML(text)
}

// ParseHTML extracts the html field from a model reply, tolerating markdown fences.
func ParseHTML(text string) (string, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var page struct {
		HTML string `json:"html"`
	}
	if err := json.Unmarshal([]byte(text), &page); err != nil {
		return "", fmt.Errorf("parse LLM response as JSON: %w", err)
	}
	if strings.TrimSpace(page.HTML) == "" {
		return "", errors.New("LLM response has no html")
	}
	return page.HTML, nil
}

// StatusCode returns the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	switch StatusCode(err) {
	case http.StatusTooManyRequests, http.StatusBadGateway:
		return true
	}
	return false
}
