package assist

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

// ErrNoAPIKey is returned when the assistant is used without an API key.
var ErrNoAPIKey = errors.New("assistant API key is not configured")

const (
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 1024
	defaultRateLimit = 1.0 // requests per second
	defaultBurst     = 3
	defaultTimeout   = 60 * time.Second
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a conversation.
type Turn struct {
	Role Role
	Text string
}

// Completer produces text from a system instruction and a conversation.
type Completer interface {
	Complete(ctx context.Context, system string, turns []Turn) (string, error)
}

// Config holds configuration for the API client.
type Config struct {
	APIKey    string
	Model     string
	MaxTokens int64
	RateLimit float64 // requests per second
	Burst     int
	Timeout   time.Duration
	BaseURL   string
	Logger    *log.Logger
}

// DefaultConfig returns sensible defaults. The API key comes from
// ANTHROPIC_API_KEY when set.
func DefaultConfig() *Config {
	return &Config{
		APIKey:    os.Getenv("ANTHROPIC_API_KEY"),
		Model:     defaultModel,
		MaxTokens: defaultMaxTokens,
		RateLimit: defaultRateLimit,
		Burst:     defaultBurst,
		Timeout:   defaultTimeout,
		Logger:    log.New(os.Stderr, "[assist] ", log.LstdFlags),
	}
}

// Client is a rate-limited Completer backed by the Anthropic Messages API.
type Client struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
	limiter   *rate.Limiter
	logger    *log.Logger
}

// NewClient creates a client. It fails with ErrNoAPIKey when no key is set.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoAPIKey
	}
	defaults := DefaultConfig()
	if cfg.Model == "" {
		cfg.Model = defaults.Model
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaults.MaxTokens
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = defaults.RateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = defaults.Burst
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(2),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Client{
		client:    anthropic.NewClient(opts...),
		model:     anthropic.Model(cfg.Model),
		maxTokens: cfg.MaxTokens,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:    cfg.Logger,
	}, nil
}

// Complete sends the conversation and returns the text of the reply.
func (c *Client) Complete(ctx context.Context, system string, turns []Turn) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("conversation is empty")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(t.Text)
		if t.Role == RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(block))
		} else {
			messages = append(messages, anthropic.NewUserMessage(block))
		}
	}

	params := anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	message, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("failed to call assistant: %w", err)
	}

	var b strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("assistant returned no text")
	}
	return b.String(), nil
}
