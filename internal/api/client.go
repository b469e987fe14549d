// Package api connects kbaudit to the Anthropic API for semantic review.
// The model is only ever asked for findings and replacement text; its
// output is decoded strictly and never trusted to edit entries itself.
package api

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
)

const (
	// DefaultModel reviews entries when none is configured.
	DefaultModel = anthropic.ModelClaudeSonnet4_5_20250929
	// DefaultMaxTokens bounds one review response.
	DefaultMaxTokens = 4096
)

var (
	// ErrNoCredentials means neither an API key nor Bedrock was configured.
	ErrNoCredentials = errors.New("no API key: set ANTHROPIC_API_KEY or reviewer.api_key, or enable reviewer.bedrock")
	// ErrTruncated means the reply hit the token limit, so its JSON is
	// incomplete.
	ErrTruncated = errors.New("review reply truncated at max tokens")
)

// Client sends review prompts. Requests run at temperature 0 so repeated
// reviews of the same entry stay as close as the model allows.
type Client struct {
	inner     anthropic.Client
	model     anthropic.Model
	maxTokens int64
	usage     *Usage
}

type ClientConfig struct {
	Model anthropic.Model
	// APIKey falls back to ANTHROPIC_API_KEY. Ignored with Bedrock.
	APIKey        string
	UseAWSBedrock bool
	AWSRegion     string
	AWSProfile    string
	// MaxTokens of zero uses DefaultMaxTokens.
	MaxTokens int64
}

func NewClient(cfg ClientConfig) (*Client, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	var opts []option.RequestOption
	if cfg.UseAWSBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
		model = bedrockModel(model, cfg.AWSRegion)
	} else {
		key := cfg.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, ErrNoCredentials
		}
		opts = append(opts, option.WithAPIKey(key))
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Client{
		inner:     anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		usage:     &Usage{},
	}, nil
}

// bedrockModel maps a model name to a cross-region inference profile,
// anthropic.<model>-v1:0 behind a geography prefix taken from the region.
// Names that already carry a provider segment are left alone.
func bedrockModel(model anthropic.Model, region string) anthropic.Model {
	name := string(model)
	if strings.Contains(name, "anthropic.") {
		return model
	}
	if !strings.HasPrefix(name, "claude-") {
		return model
	}
	geo := "us"
	switch {
	case strings.HasPrefix(region, "eu-"):
		geo = "eu"
	case strings.HasPrefix(region, "ap-"):
		geo = "apac"
	}
	return anthropic.Model(geo + ".anthropic." + name + "-v1:0")
}

func (c *Client) Model() anthropic.Model { return c.model }

// Usage is shared by every call made through the client.
func (c *Client) Usage() *Usage { return c.usage }

// Complete sends one system and user prompt and returns the reply text.
func (c *Client) Complete(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.inner.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: anthropic.Float(0),
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("review request: %w", err)
	}
	c.usage.add(resp.Usage.InputTokens, resp.Usage.OutputTokens)
	if string(resp.StopReason) == "max_tokens" {
		return "", ErrTruncated
	}
	return replyText(resp.Content), nil
}

func replyText(blocks []anthropic.ContentBlockUnion) string {
	var parts []string
	for _, block := range blocks {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, ""))
}

// Usage counts reviews and tokens.
type Usage struct {
	mu            sync.Mutex
	reviews       int
	input, output int64
}

func (u *Usage) add(input, output int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reviews++
	u.input += input
	u.output += output
}

// Totals returns the review count and the input and output tokens.
func (u *Usage) Totals() (reviews int, input, output int64) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.reviews, u.input, u.output
}

func (u *Usage) String() string {
	n, in, out := u.Totals()
	return fmt.Sprintf("%d reviews, %d input / %d output tokens", n, in, out)
}
